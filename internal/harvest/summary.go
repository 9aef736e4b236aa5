// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// WriteSummary prints outcome counts for res, then lists every failed and
// ambiguous identifier with its reason or candidates.
func WriteSummary(w io.Writer, res *Result) {
	cp := res.Checkpoint
	sum := cp.Summary()

	fmt.Fprintf(w, "succeeded: %d, failed: %d, ambiguous: %d, pending: %d, skipped: %d\n",
		sum.Succeeded, sum.Failed, sum.Ambiguous, len(res.Pending), len(res.Skipped))
	if res.Cancelled {
		fmt.Fprintf(w, "run cancelled: %d identifiers pending, resume to continue\n", len(res.Pending))
	}

	if len(cp.FailedIDs) > 0 {
		fmt.Fprintf(w, "\nfailed:\n")
		for _, id := range sortedKeys(cp.FailedIDs) {
			fmt.Fprintf(w, "  %s: %s\n", id, cp.FailedIDs[id])
		}
	}
	if len(cp.AmbiguousIDs) > 0 {
		fmt.Fprintf(w, "\nambiguous:\n")
		for _, id := range sortedKeys(cp.AmbiguousIDs) {
			fmt.Fprintf(w, "  %s: %s\n", id, strings.Join(cp.AmbiguousIDs[id], ", "))
		}
	}
	if len(res.Pending) > 0 {
		fmt.Fprintf(w, "\npending:\n")
		for _, id := range res.Pending {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
