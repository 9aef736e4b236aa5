// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package checkpoint

import (
	"context"
	"fmt"
	"sort"

	"github.com/pdiddy/pmc-harvest/pkg/types"
)

// DocumentSink receives finalized documents.
type DocumentSink interface {
	Put(ctx context.Context, doc *types.Document) error
}

// FinalizeSummary reports what Finalize wrote.
type FinalizeSummary struct {
	// Written counts distinct documents handed to the sinks.
	Written int

	// Duplicates counts inputs that resolved to an already written document.
	Duplicates int
}

// Finalize writes every document of cp to each sink, once per canonical
// identifier. Several inputs (a PMID and a DOI, say) may resolve to the
// same record; it is written once. Documents are visited in input-key order.
func Finalize(ctx context.Context, cp *types.Checkpoint, sinks ...DocumentSink) (FinalizeSummary, error) {
	var sum FinalizeSummary

	keys := make([]string, 0, len(cp.Documents))
	for k := range cp.Documents {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := make(map[string]bool, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		doc := cp.Documents[k]
		if doc == nil {
			continue
		}
		if written[doc.ID] {
			sum.Duplicates++
			continue
		}
		for _, s := range sinks {
			if err := s.Put(ctx, doc); err != nil {
				return sum, fmt.Errorf("writing document %s: %w", doc.ID, err)
			}
		}
		written[doc.ID] = true
		sum.Written++
	}
	return sum, nil
}
