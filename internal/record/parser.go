// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package record turns raw E-utilities XML payloads into types.Document.
// It accepts JATS full-text articles (PMC efetch) and PubMed citation
// records. Parsing is pure: it performs no I/O and never panics on bad input.
//
// Missing optional fields degrade to absent values. Only a payload with no
// recognizable article, or one from which no canonical identifier can be
// recovered, is rejected with ErrMalformed.
package record

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html/charset"

	"github.com/pdiddy/pmc-harvest/pkg/types"
)

// ErrMalformed means the payload cannot yield a document.
var ErrMalformed = errors.New("malformed record")

// Parser parses records. The zero value is ready to use.
type Parser struct {
	// Now stamps CollectedAt. Defaults to time.Now in UTC.
	Now func() time.Time
}

// Parse parses raw with a default Parser.
func Parse(raw []byte) (*types.Document, error) {
	return Parser{}.Parse(raw)
}

// Parse parses one record. When the payload holds several articles only
// the first is used.
func (p Parser) Parse(raw []byte) (*types.Document, error) {
	return p.ParseWithID(raw, "")
}

// ParseWithID parses raw and falls back to fallbackID as the canonical
// identifier when the payload carries none of its own.
func (p Parser) ParseWithID(raw []byte, fallbackID string) (doc *types.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	root, err := xmlquery.ParseWithOptions(bytes.NewReader(raw), xmlquery.ParserOptions{
		Decoder: &xmlquery.DecoderOptions{
			Strict:        false,
			Entity:        xml.HTMLEntity,
			CharsetReader: charset.NewReaderLabel,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch {
	case xmlquery.FindOne(root, "//article") != nil:
		doc = parseJATS(xmlquery.FindOne(root, "//article"))
	case xmlquery.FindOne(root, "//PubmedArticle") != nil:
		doc = parsePubMed(xmlquery.FindOne(root, "//PubmedArticle"))
	default:
		return nil, fmt.Errorf("%w: no article element", ErrMalformed)
	}

	if doc.ID == "" {
		if fallbackID == "" {
			return nil, fmt.Errorf("%w: no canonical identifier", ErrMalformed)
		}
		doc.ID = fallbackID
	}
	// The canonical ID is not repeated among the secondary identifiers.
	for scheme, v := range doc.SecondaryIDs {
		if v == doc.ID {
			delete(doc.SecondaryIDs, scheme)
		}
	}
	if len(doc.SecondaryIDs) == 0 {
		doc.SecondaryIDs = nil
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	doc.CollectedAt = now().UTC()
	return doc, nil
}

// chooseCanonical picks the canonical identifier by preference PMCID > PMID > DOI.
func chooseCanonical(ids map[string]string) string {
	for _, scheme := range []string{"pmcid", "pmid", "doi"} {
		if v := ids[scheme]; v != "" {
			return v
		}
	}
	return ""
}
