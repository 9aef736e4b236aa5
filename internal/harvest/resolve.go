// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"fmt"
	"regexp"
	"strings"
)

// IdentifierType classifies an input identifier.
type IdentifierType int

const (
	TypeUnknown IdentifierType = iota
	TypePMCID
	TypePMID
	TypeDOI
)

func (t IdentifierType) String() string {
	switch t {
	case TypePMCID:
		return "pmcid"
	case TypePMID:
		return "pmid"
	case TypeDOI:
		return "doi"
	default:
		return "unknown"
	}
}

// pmcidPattern matches PMC IDs: "PMC123456", "pmc123456".
var pmcidPattern = regexp.MustCompile(`(?i)^PMC(\d+)$`)

// pmidPattern matches PubMed IDs, with an optional "PMID:" prefix.
var pmidPattern = regexp.MustCompile(`(?i)^(?:PMID:?\s*)?(\d{1,9})$`)

// doiPattern matches DOIs: "10.1145/1234567.1234568".
var doiPattern = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

var doiPrefixes = []string{
	"https://doi.org/",
	"http://doi.org/",
	"https://dx.doi.org/",
	"http://dx.doi.org/",
	"doi.org/",
	"doi:",
}

// NormalizeDOI strips resolver URL and "doi:" prefixes and lowercases the
// result. DOIs are case-insensitive.
func NormalizeDOI(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, p := range doiPrefixes {
		if strings.HasPrefix(lower, p) {
			lower = lower[len(p):]
			break
		}
	}
	return strings.TrimSpace(lower)
}

// Classify determines the identifier type and returns the normalized form.
func Classify(identifier string) (IdentifierType, string) {
	identifier = strings.TrimSpace(identifier)

	if m := pmcidPattern.FindStringSubmatch(identifier); m != nil {
		return TypePMCID, "PMC" + m[1]
	}
	if m := pmidPattern.FindStringSubmatch(identifier); m != nil {
		return TypePMID, m[1]
	}
	if doi := NormalizeDOI(identifier); doiPattern.MatchString(doi) {
		return TypeDOI, doi
	}
	return TypeUnknown, identifier
}

// Target says how to obtain the record for one input identifier. Exactly
// one of RecordID and Query is set.
type Target struct {
	// Key is the normalized identifier the outcome is recorded under.
	Key string

	// RecordID is fetched directly.
	RecordID string

	// Query is resolved through search first.
	Query string
}

// ResolveFunc maps a raw input identifier to a Target.
type ResolveFunc func(identifier string) (Target, error)

// ErrUnrecognized is returned by resolvers for identifiers of no known scheme.
var ErrUnrecognized = fmt.Errorf("unrecognized identifier")

// ResolvePMC resolves identifiers against the pmc database. PMCIDs are
// fetched directly; PMIDs and DOIs are looked up.
func ResolvePMC(identifier string) (Target, error) {
	idType, norm := Classify(identifier)
	switch idType {
	case TypePMCID:
		return Target{Key: norm, RecordID: norm}, nil
	case TypePMID:
		return Target{Key: norm, Query: norm + "[pmid]"}, nil
	case TypeDOI:
		return Target{Key: norm, Query: norm + "[doi]"}, nil
	default:
		return Target{Key: norm}, fmt.Errorf("%w: %q", ErrUnrecognized, norm)
	}
}

// ResolvePubMed resolves identifiers against the pubmed database. PMIDs are
// fetched directly; PMCIDs and DOIs are looked up.
func ResolvePubMed(identifier string) (Target, error) {
	idType, norm := Classify(identifier)
	switch idType {
	case TypePMID:
		return Target{Key: norm, RecordID: norm}, nil
	case TypePMCID:
		return Target{Key: norm, Query: norm + "[pmcid]"}, nil
	case TypeDOI:
		return Target{Key: norm, Query: norm + "[doi]"}, nil
	default:
		return Target{Key: norm}, fmt.Errorf("%w: %q", ErrUnrecognized, norm)
	}
}

// ResolverFor returns the resolver matching an Entrez database name.
func ResolverFor(database string) ResolveFunc {
	if strings.EqualFold(database, "pubmed") {
		return ResolvePubMed
	}
	return ResolvePMC
}
