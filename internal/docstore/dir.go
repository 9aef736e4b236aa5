// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package docstore persists harvested documents: one YAML record per
// document in a directory, and an optional SQLite full-text index over
// their sections.
package docstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pmc-harvest/internal/fsutil"
	"github.com/pdiddy/pmc-harvest/pkg/types"
)

const recordExt = ".yaml"

// ErrNotFound is returned by Dir.Get when no record exists for an ID.
var ErrNotFound = errors.New("document not found")

// unsafeChars matches characters that are not kept in a filename stem.
var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Slug returns a filesystem-safe filename stem for a canonical document ID.
// IDs made only of safe characters are used as is. Otherwise "/" and ":"
// map to "-", other unsafe runs to "_", and a short hash of the ID is
// appended so distinct IDs never share a file.
func Slug(id string) string {
	id = strings.TrimSpace(id)
	s := strings.NewReplacer("/", "-", ":", "-").Replace(id)
	s = unsafeChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s != "" && s == id {
		return s
	}
	h := sha256.Sum256([]byte(id))
	if s == "" {
		return fmt.Sprintf("doc-%x", h[:8])
	}
	return fmt.Sprintf("%s-%x", s, h[:4])
}

// Dir stores documents as YAML files under a directory.
type Dir struct {
	root string
}

// NewDir returns a Dir rooted at root. The directory is created on first Put.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the directory path.
func (d *Dir) Root() string { return d.root }

// Path returns the record path for id.
func (d *Dir) Path(id string) string {
	return filepath.Join(d.root, Slug(id)+recordExt)
}

// Put writes doc, replacing any previous record with the same ID.
func (d *Dir) Put(ctx context.Context, doc *types.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document %s: %w", doc.ID, err)
	}
	return fsutil.WriteFileAtomic(d.Path(doc.ID), data, 0o644)
}

// Get reads the record for id.
func (d *Dir) Get(id string) (*types.Document, error) {
	return readRecord(d.Path(id))
}

// List reads every record in the directory, ordered by document ID. A
// missing directory yields no documents.
func (d *Dir) List(ctx context.Context) ([]*types.Document, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading document directory %s: %w", d.root, err)
	}

	var docs []*types.Document
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := readRecord(filepath.Join(d.root, e.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func readRecord(path string) (*types.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc types.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &doc, nil
}
