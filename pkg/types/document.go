// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the pmc-harvest pipeline:
// harvested documents, per-identifier fetch outcomes, checkpoints, and the
// configuration of each component.
package types

import (
	"errors"
	"fmt"
	"time"
)

// Author is a contributor listed on a document, with affiliations in source order.
type Author struct {
	// Name is the display name ("Given Surname").
	Name string `json:"name" yaml:"name"`

	// Affiliations lists the author's institutional affiliations.
	Affiliations []string `json:"affiliations,omitempty" yaml:"affiliations,omitempty"`
}

// Metadata holds descriptive fields extracted from a record.
type Metadata struct {
	// Keywords are author-supplied free keywords.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`

	// MeshTerms are controlled-vocabulary (MeSH) descriptors.
	MeshTerms []string `json:"mesh_terms,omitempty" yaml:"mesh_terms,omitempty"`

	// Year is the publication year, zero when unknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Venue is the journal title.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`

	// ArticleType is the publisher's article classification (e.g. "research-article").
	ArticleType string `json:"article_type,omitempty" yaml:"article_type,omitempty"`

	// Authors lists contributors in source order.
	Authors []Author `json:"authors,omitempty" yaml:"authors,omitempty"`
}

// Document is the normalized, persisted form of one harvested record.
type Document struct {
	// ID is the canonical identifier: PMCID when known, else PMID, else DOI.
	ID string `json:"id" yaml:"id"`

	// SecondaryIDs maps identifier scheme ("pmid", "doi", ...) to value for
	// every identifier other than ID.
	SecondaryIDs map[string]string `json:"secondary_ids,omitempty" yaml:"secondary_ids,omitempty"`

	// Title is the article title.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Abstract is the plain-text abstract.
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// Sections holds body text keyed by section label in document order.
	Sections Sections `json:"sections,omitempty" yaml:"sections,omitempty"`

	// Meta holds descriptive metadata.
	Meta Metadata `json:"meta" yaml:"meta"`

	// CitationCount is set only when the source states it explicitly.
	CitationCount *int `json:"citation_count,omitempty" yaml:"citation_count,omitempty"`

	// CollectedAt is when the document was parsed. It is never updated.
	CollectedAt time.Time `json:"collected_at" yaml:"collected_at"`
}

// ErrInvalidDocument is returned by Document.Validate.
var ErrInvalidDocument = errors.New("invalid document")

// Validate checks the structural invariants of a document.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil", ErrInvalidDocument)
	}
	if d.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidDocument)
	}
	seen := make(map[string]bool, len(d.Sections))
	for _, s := range d.Sections {
		if seen[s.Label] {
			return fmt.Errorf("%w: %s: duplicate section label %q", ErrInvalidDocument, d.ID, s.Label)
		}
		seen[s.Label] = true
	}
	if d.CitationCount != nil && *d.CitationCount < 0 {
		return fmt.Errorf("%w: %s: negative citation count", ErrInvalidDocument, d.ID)
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.SecondaryIDs != nil {
		c.SecondaryIDs = make(map[string]string, len(d.SecondaryIDs))
		for k, v := range d.SecondaryIDs {
			c.SecondaryIDs[k] = v
		}
	}
	c.Sections = append(Sections(nil), d.Sections...)
	c.Meta.Keywords = append([]string(nil), d.Meta.Keywords...)
	c.Meta.MeshTerms = append([]string(nil), d.Meta.MeshTerms...)
	if d.Meta.Authors != nil {
		c.Meta.Authors = make([]Author, len(d.Meta.Authors))
		for i, a := range d.Meta.Authors {
			c.Meta.Authors[i] = Author{Name: a.Name, Affiliations: append([]string(nil), a.Affiliations...)}
		}
	}
	if d.CitationCount != nil {
		n := *d.CitationCount
		c.CitationCount = &n
	}
	return &c
}
