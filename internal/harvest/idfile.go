// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pmc-harvest/internal/fsutil"
)

// IDFile is the on-disk record of a search: the query that was run and
// the record IDs it returned. A saved file can be fed to collect without
// re-querying.
type IDFile struct {
	Query     string    `yaml:"query"`
	Database  string    `yaml:"database"`
	IDs       []string  `yaml:"ids"`
	Total     int       `yaml:"total"`
	Timestamp time.Time `yaml:"timestamp"`
}

// WriteIDFile saves f as YAML.
func WriteIDFile(path string, f IDFile) error {
	f.Total = len(f.IDs)
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now().UTC()
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("marshaling id file: %w", err)
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

// ReadIDFile loads a file written by WriteIDFile.
func ReadIDFile(path string) (*IDFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading id file: %w", err)
	}
	var f IDFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing id file %s: %w", path, err)
	}
	return &f, nil
}

// LoadIdentifiers reads identifiers from path. Files ending in .yaml or
// .yml are read as an IDFile; anything else is plain text with one
// identifier per line, blank lines and "#" comments ignored.
func LoadIdentifiers(path string) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := ReadIDFile(path)
		if err != nil {
			return nil, err
		}
		return f.IDs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading identifiers: %w", err)
	}
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading identifiers: %w", err)
	}
	return ids, nil
}
