// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package entrez

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the record does not exist upstream. It is permanent.
	ErrNotFound = errors.New("record not found")

	// ErrMalformedRequest means NCBI rejected the request itself. It is permanent.
	ErrMalformedRequest = errors.New("malformed request")
)

// Error is returned by Client operations. It records the operation, the
// query or record ID, and how many attempts were spent.
type Error struct {
	Op       string
	ID       string
	attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Attempts returns the number of upstream attempts made.
func (e *Error) Attempts() int { return e.attempts }

// Attempts extracts the attempt count from err, or 0 when err carries none.
func Attempts(err error) int {
	var ae interface{ Attempts() int }
	if errors.As(err, &ae) {
		return ae.Attempts()
	}
	return 0
}
