// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// OutcomeKind tags a FetchOutcome.
type OutcomeKind string

const (
	OutcomeSuccess          OutcomeKind = "success"
	OutcomeAmbiguous        OutcomeKind = "ambiguous"
	OutcomeFailure          OutcomeKind = "failure"
	OutcomeAlreadyProcessed OutcomeKind = "already_processed"
)

// FetchOutcome is the result of processing one input identifier. Only the
// fields matching Kind are set.
type FetchOutcome struct {
	// Identifier is the normalized input identifier this outcome belongs to.
	Identifier string `json:"identifier" yaml:"identifier"`

	Kind OutcomeKind `json:"kind" yaml:"kind"`

	// Document is set for OutcomeSuccess.
	Document *Document `json:"document,omitempty" yaml:"document,omitempty"`

	// Candidates is set for OutcomeAmbiguous.
	Candidates []string `json:"candidates,omitempty" yaml:"candidates,omitempty"`

	// Reason is set for OutcomeFailure.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`

	// Attempts counts upstream attempts spent on this identifier.
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty"`
}

// Success returns a success outcome.
func Success(id string, doc *Document) FetchOutcome {
	return FetchOutcome{Identifier: id, Kind: OutcomeSuccess, Document: doc}
}

// Ambiguous returns an outcome for an identifier that matched several records.
func Ambiguous(id string, candidates []string) FetchOutcome {
	return FetchOutcome{Identifier: id, Kind: OutcomeAmbiguous, Candidates: candidates}
}

// Failure returns a terminal failure outcome.
func Failure(id, reason string) FetchOutcome {
	return FetchOutcome{Identifier: id, Kind: OutcomeFailure, Reason: reason}
}

// AlreadyProcessed returns an outcome for an identifier found in the resume checkpoint.
func AlreadyProcessed(id string) FetchOutcome {
	return FetchOutcome{Identifier: id, Kind: OutcomeAlreadyProcessed}
}
