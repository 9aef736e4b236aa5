// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"go.yaml.in/yaml/v3"
)

// CheckpointVersion is written into every new checkpoint.
const CheckpointVersion = 1

// IDSet is a set of identifiers. It serializes as a sorted list.
type IDSet map[string]struct{}

// Add inserts id.
func (s IDSet) Add(id string) { s[id] = struct{}{} }

// Has reports whether id is present.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s IDSet) MarshalJSON() ([]byte, error) { return json.Marshal(s.Sorted()) }

func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return nil
}

func (s IDSet) MarshalYAML() (any, error) { return s.Sorted(), nil }

func (s *IDSet) UnmarshalYAML(value *yaml.Node) error {
	var ids []string
	if err := value.Decode(&ids); err != nil {
		return err
	}
	*s = make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return nil
}

// Checkpoint is the durable, resumable state of a harvest run. Maps are keyed
// by the normalized input identifier; a key appears in at most one of
// Documents, FailedIDs and AmbiguousIDs, and every such key is in ProcessedIDs.
type Checkpoint struct {
	Version int `json:"version" yaml:"version"`

	// RunID identifies the run that first created the checkpoint.
	RunID string `json:"run_id,omitempty" yaml:"run_id,omitempty"`

	ProcessedIDs IDSet                `json:"processed_ids" yaml:"processed_ids"`
	Documents    map[string]*Document `json:"documents" yaml:"documents"`
	FailedIDs    map[string]string    `json:"failed_ids" yaml:"failed_ids"`
	AmbiguousIDs map[string][]string  `json:"ambiguous_ids" yaml:"ambiguous_ids"`

	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// ErrInvalidCheckpoint is returned by Checkpoint.Validate.
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// NewCheckpoint returns an empty checkpoint for the given run.
func NewCheckpoint(runID string) *Checkpoint {
	cp := &Checkpoint{Version: CheckpointVersion, RunID: runID}
	cp.Normalize()
	return cp
}

// Normalize replaces nil maps with empty ones. Checkpoints written by older
// versions may omit fields; they load as empty.
func (c *Checkpoint) Normalize() {
	if c.Version == 0 {
		c.Version = CheckpointVersion
	}
	if c.ProcessedIDs == nil {
		c.ProcessedIDs = IDSet{}
	}
	if c.Documents == nil {
		c.Documents = map[string]*Document{}
	}
	if c.FailedIDs == nil {
		c.FailedIDs = map[string]string{}
	}
	if c.AmbiguousIDs == nil {
		c.AmbiguousIDs = map[string][]string{}
	}
}

// Record folds one outcome into the checkpoint. AlreadyProcessed outcomes
// leave it unchanged. Recording an identifier that is already processed is
// a no-op, so duplicate outcomes cannot double-count.
func (c *Checkpoint) Record(o FetchOutcome) {
	if o.Kind == OutcomeAlreadyProcessed || c.ProcessedIDs.Has(o.Identifier) {
		return
	}
	switch o.Kind {
	case OutcomeSuccess:
		c.Documents[o.Identifier] = o.Document
	case OutcomeAmbiguous:
		c.AmbiguousIDs[o.Identifier] = slices.Clone(o.Candidates)
	case OutcomeFailure:
		c.FailedIDs[o.Identifier] = o.Reason
	default:
		return
	}
	c.ProcessedIDs.Add(o.Identifier)
}

// ClearFailed removes failed identifiers so the next run retries them. With
// no arguments every failure is cleared. It returns the cleared identifiers.
func (c *Checkpoint) ClearFailed(ids ...string) []string {
	targets := ids
	if len(targets) == 0 {
		for id := range c.FailedIDs {
			targets = append(targets, id)
		}
	}
	var cleared []string
	for _, id := range targets {
		if _, ok := c.FailedIDs[id]; !ok {
			continue
		}
		delete(c.FailedIDs, id)
		delete(c.ProcessedIDs, id)
		cleared = append(cleared, id)
	}
	sort.Strings(cleared)
	return cleared
}

// Clone returns a point-in-time copy that shares no mutable state with c.
// Documents are immutable once recorded, so pointers are shared.
func (c *Checkpoint) Clone() *Checkpoint {
	out := &Checkpoint{
		Version:      c.Version,
		RunID:        c.RunID,
		Timestamp:    c.Timestamp,
		ProcessedIDs: make(IDSet, len(c.ProcessedIDs)),
		Documents:    make(map[string]*Document, len(c.Documents)),
		FailedIDs:    make(map[string]string, len(c.FailedIDs)),
		AmbiguousIDs: make(map[string][]string, len(c.AmbiguousIDs)),
	}
	for id := range c.ProcessedIDs {
		out.ProcessedIDs.Add(id)
	}
	for id, d := range c.Documents {
		out.Documents[id] = d
	}
	for id, r := range c.FailedIDs {
		out.FailedIDs[id] = r
	}
	for id, cand := range c.AmbiguousIDs {
		out.AmbiguousIDs[id] = slices.Clone(cand)
	}
	return out
}

// Validate checks the checkpoint invariants.
func (c *Checkpoint) Validate() error {
	owner := make(map[string]string)
	claim := func(id, where string) error {
		if prev, ok := owner[id]; ok {
			return fmt.Errorf("%w: %s in both %s and %s", ErrInvalidCheckpoint, id, prev, where)
		}
		owner[id] = where
		if !c.ProcessedIDs.Has(id) {
			return fmt.Errorf("%w: %s in %s but not processed", ErrInvalidCheckpoint, id, where)
		}
		return nil
	}
	for id, d := range c.Documents {
		if err := claim(id, "documents"); err != nil {
			return err
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidCheckpoint, id, err)
		}
	}
	for id := range c.FailedIDs {
		if err := claim(id, "failed_ids"); err != nil {
			return err
		}
	}
	for id := range c.AmbiguousIDs {
		if err := claim(id, "ambiguous_ids"); err != nil {
			return err
		}
	}
	return nil
}

// CheckpointSummary counts the entries of a checkpoint.
type CheckpointSummary struct {
	Processed int `json:"processed" yaml:"processed"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	Ambiguous int `json:"ambiguous" yaml:"ambiguous"`
}

// Summary returns entry counts.
func (c *Checkpoint) Summary() CheckpointSummary {
	return CheckpointSummary{
		Processed: len(c.ProcessedIDs),
		Succeeded: len(c.Documents),
		Failed:    len(c.FailedIDs),
		Ambiguous: len(c.AmbiguousIDs),
	}
}
