// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package checkpoint persists harvest checkpoints and writes the final
// document collection.
//
// A checkpoint is always saved as a full snapshot that atomically replaces
// the previous one, so a crash during Save leaves the last good checkpoint
// readable.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pdiddy/pmc-harvest/internal/fsutil"
	"github.com/pdiddy/pmc-harvest/pkg/types"
)

var savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pmc_harvest_checkpoint_saves_total",
	Help: "Total number of checkpoint saves by backend and result",
}, []string{"backend", "result"})

// ErrNotFound is returned by Load when no checkpoint has been saved.
var ErrNotFound = errors.New("checkpoint not found")

// Store saves and loads checkpoints.
type Store interface {
	Save(ctx context.Context, cp *types.Checkpoint) error
	Load(ctx context.Context) (*types.Checkpoint, error)
}

// FileStore keeps the checkpoint in a single JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the checkpoint file path.
func (s *FileStore) Path() string { return s.path }

// Save serializes cp and atomically replaces the checkpoint file.
func (s *FileStore) Save(ctx context.Context, cp *types.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(cp)
	if err != nil {
		savesTotal.WithLabelValues("file", "error").Inc()
		return err
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		savesTotal.WithLabelValues("file", "error").Inc()
		return fmt.Errorf("saving checkpoint %s: %w", s.path, err)
	}
	savesTotal.WithLabelValues("file", "ok").Inc()
	return nil
}

// Load reads the checkpoint file. Fields missing from older files load as empty.
func (s *FileStore) Load(ctx context.Context) (*types.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading checkpoint %s: %w", s.path, err)
	}
	cp, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", s.path, err)
	}
	return cp, nil
}

func encode(cp *types.Checkpoint) ([]byte, error) {
	if cp == nil {
		return nil, errors.New("nil checkpoint")
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	cp.Normalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return &cp, nil
}
