// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType IdentifierType
		wantNorm string
	}{
		{"pmcid", "PMC123456", TypePMCID, "PMC123456"},
		{"pmcid lowercase", "pmc123456", TypePMCID, "PMC123456"},
		{"pmcid whitespace", "  PMC7  ", TypePMCID, "PMC7"},
		{"pmid", "31452104", TypePMID, "31452104"},
		{"pmid prefixed", "PMID: 31452104", TypePMID, "31452104"},
		{"doi", "10.1145/1234567.1234568", TypeDOI, "10.1145/1234567.1234568"},
		{"doi mixed case", "10.1016/J.CELL.2013.05.039", TypeDOI, "10.1016/j.cell.2013.05.039"},
		{"doi https resolver", "https://doi.org/10.1038/nature12373", TypeDOI, "10.1038/nature12373"},
		{"doi http resolver", "http://dx.doi.org/10.1038/nature12373", TypeDOI, "10.1038/nature12373"},
		{"doi bare resolver", "doi.org/10.1038/nature12373", TypeDOI, "10.1038/nature12373"},
		{"doi scheme", "doi:10.1038/nature12373", TypeDOI, "10.1038/nature12373"},
		{"pmc without digits", "PMC", TypeUnknown, "PMC"},
		{"too long for pmid", "1234567890", TypeUnknown, "1234567890"},
		{"free text", "aging theory", TypeUnknown, "aging theory"},
		{"empty", "", TypeUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotType, gotNorm := Classify(tt.input)
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantNorm, gotNorm)
		})
	}
}

func TestIdentifierTypeString(t *testing.T) {
	assert.Equal(t, "pmcid", TypePMCID.String())
	assert.Equal(t, "pmid", TypePMID.String())
	assert.Equal(t, "doi", TypeDOI.String())
	assert.Equal(t, "unknown", TypeUnknown.String())
}

func TestResolvePMC(t *testing.T) {
	tests := []struct {
		input string
		want  Target
	}{
		{"pmc42", Target{Key: "PMC42", RecordID: "PMC42"}},
		{"31452104", Target{Key: "31452104", Query: "31452104[pmid]"}},
		{"https://doi.org/10.1/X", Target{Key: "10.1/x", Query: "10.1/x[doi]"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ResolvePMC(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := ResolvePMC("  not an id ")
	assert.ErrorIs(t, err, ErrUnrecognized)
	assert.Equal(t, "not an id", got.Key)
}

func TestResolvePubMed(t *testing.T) {
	got, err := ResolvePubMed("31452104")
	require.NoError(t, err)
	assert.Equal(t, Target{Key: "31452104", RecordID: "31452104"}, got)

	got, err = ResolvePubMed("PMC42")
	require.NoError(t, err)
	assert.Equal(t, Target{Key: "PMC42", Query: "PMC42[pmcid]"}, got)

	_, err = ResolvePubMed("???")
	assert.ErrorIs(t, err, ErrUnrecognized)
}

func TestResolverFor(t *testing.T) {
	got, err := ResolverFor("PubMed")("31452104")
	require.NoError(t, err)
	assert.Equal(t, "31452104", got.RecordID)

	got, err = ResolverFor("pmc")("31452104")
	require.NoError(t, err)
	assert.Equal(t, "31452104[pmid]", got.Query)
}
