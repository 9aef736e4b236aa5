// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package record

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pmc-harvest/pkg/types"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testParser() Parser {
	return Parser{Now: func() time.Time { return fixedNow }}
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestParseJATS(t *testing.T) {
	doc, err := testParser().Parse(readFixture(t, "pmc_article.xml"))
	require.NoError(t, err)

	n := 17
	want := &types.Document{
		ID: "PMC6709543",
		SecondaryIDs: map[string]string{
			"pmid":         "31452104",
			"doi":          "10.1000/jtm.2019.42",
			"publisher-id": "jtm-42",
		},
		Title:    "Sleep and memory consolidation",
		Abstract: "Background: Sleep matters.\nResults: Memory improved.",
		Sections: types.Sections{
			{Label: "Main Text", Text: "A loose lead paragraph."},
			{Label: "Introduction", Text: "First paragraph with a citation [1].\n\nSecond paragraph."},
			{Label: "Methods", Text: "Overview of methods.\n\nUntitled continuation of methods."},
			{Label: "Methods - Participants", Text: "Forty adults."},
			{Label: "Untitled Section", Text: "A section without a title."},
			{Label: "Results", Text: "Memory improved significantly."},
			{Label: "Tables", Text: "Table 1: Participant demographics."},
			{Label: "Figures", Text: "Figure 1: Recall scores. Higher is better."},
			{Label: "References", Text: "Someone. A paper. 2001."},
		},
		Meta: types.Metadata{
			Keywords:    []string{"sleep", "memory"},
			MeshTerms:   []string{"Sleep Stages"},
			Year:        2019,
			Venue:       "Journal of Test Medicine",
			ArticleType: "research-article",
			Authors: []types.Author{
				{Name: "Jane Doe", Affiliations: []string{"Department of Neurology, Test University", "Institute of Sleep Research"}},
				{Name: "Richard Roe", Affiliations: []string{"Institute of Sleep Research"}},
			},
		},
		CitationCount: &n,
		CollectedAt:   fixedNow,
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, doc.Validate())
}

func TestParsePubMed(t *testing.T) {
	doc, err := testParser().Parse(readFixture(t, "pubmed_article.xml"))
	require.NoError(t, err)

	want := &types.Document{
		ID: "PMC6709543",
		SecondaryIDs: map[string]string{
			"pmid": "31452104",
			"doi":  "10.1000/jtm.2019.42",
		},
		Title:    "Sleep and memory consolidation.",
		Abstract: "BACKGROUND: Sleep matters.\nRESULTS: Memory improved.",
		Meta: types.Metadata{
			Keywords:    []string{"consolidation"},
			MeshTerms:   []string{"Sleep", "Memory"},
			Year:        2019,
			Venue:       "Journal of Test Medicine",
			ArticleType: "Journal Article",
			Authors: []types.Author{
				{Name: "Jane Doe", Affiliations: []string{"Department of Neurology, Test University."}},
				{Name: "Sleep Study Group"},
			},
		},
		CollectedAt: fixedNow,
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCanonicalPreference(t *testing.T) {
	tests := []struct {
		name   string
		ids    string
		wantID string
	}{
		{
			name:   "pmid without pmcid",
			ids:    `<article-id pub-id-type="pmid">123</article-id><article-id pub-id-type="doi">10.1/X</article-id>`,
			wantID: "123",
		},
		{
			name:   "doi only is lower-cased",
			ids:    `<article-id pub-id-type="doi">10.1/ABC</article-id>`,
			wantID: "10.1/abc",
		},
		{
			name:   "bare pmc number gets prefix",
			ids:    `<article-id pub-id-type="pmc">998</article-id>`,
			wantID: "PMC998",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `<article><front><article-meta>` + tt.ids + `</article-meta></front></article>`
			doc, err := testParser().Parse([]byte(raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, doc.ID)
			assert.NotContains(t, doc.SecondaryIDs, "pmcid")
		})
	}
}

func TestParseMinimalArticleDegradesToAbsent(t *testing.T) {
	raw := `<article><front><article-meta><article-id pub-id-type="pmc">PMC1</article-id></article-meta></front></article>`
	doc, err := testParser().Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "PMC1", doc.ID)
	assert.Empty(t, doc.Title)
	assert.Empty(t, doc.Abstract)
	assert.Empty(t, doc.Sections)
	assert.Nil(t, doc.CitationCount)
	assert.Zero(t, doc.Meta.Year)
	assert.Nil(t, doc.SecondaryIDs)
}

func TestParseBodyWithoutSections(t *testing.T) {
	raw := `<article><front><article-meta><article-id pub-id-type="pmc">PMC1</article-id></article-meta></front>
<body><boxed-text><p>Only nested.</p></boxed-text><supplementary-material><p>Also nested.</p></supplementary-material></body></article>`
	doc, err := testParser().Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, []string{"Main Text"}, doc.Sections.Labels())
	text, _ := doc.Sections.Get("Main Text")
	assert.Equal(t, "Only nested.", text)
}

func TestParseGroupAffiliationsApplyToAll(t *testing.T) {
	raw := `<article><front><article-meta><article-id pub-id-type="pmc">PMC1</article-id>
<contrib-group>
  <contrib contrib-type="author"><name><surname>A</surname><given-names>Ann</given-names></name></contrib>
  <contrib contrib-type="author"><collab>The Consortium</collab></contrib>
  <aff>Shared Lab, Somewhere</aff>
</contrib-group></article-meta></front></article>`
	doc, err := testParser().Parse([]byte(raw))
	require.NoError(t, err)

	require.Len(t, doc.Meta.Authors, 2)
	assert.Equal(t, "The Consortium", doc.Meta.Authors[1].Name)
	for _, a := range doc.Meta.Authors {
		assert.Equal(t, []string{"Shared Lab, Somewhere"}, a.Affiliations)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespace", raw: "  \n "},
		{name: "not xml", raw: "{\"error\":\"oops\"}"},
		{name: "truncated", raw: "<article><front><article-meta><article-id pub-id-type=\"pmc\">PMC1"},
		{name: "no article", raw: "<pmc-articleset><error>not available</error></pmc-articleset>"},
		{name: "no identifier", raw: "<article><front><article-meta><title-group><article-title>x</article-title></title-group></article-meta></front></article>"},
		{name: "binary", raw: "\x00\x01\x02<\xff\xfe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := testParser().Parse([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Nil(t, doc)
		})
	}
}

func TestParseWithIDFallback(t *testing.T) {
	raw := `<article><front><article-meta><title-group><article-title>x</article-title></title-group></article-meta></front></article>`
	doc, err := testParser().ParseWithID([]byte(raw), "PMC77")
	require.NoError(t, err)
	assert.Equal(t, "PMC77", doc.ID)
	assert.Equal(t, "x", doc.Title)
}

// Any prefix of a valid payload either parses or fails with ErrMalformed.
func TestParseNeverPanicsOnTruncation(t *testing.T) {
	data := readFixture(t, "pmc_article.xml")
	for i := 0; i <= len(data); i += 97 {
		doc, err := testParser().Parse(data[:i])
		if err != nil {
			assert.ErrorIs(t, err, ErrMalformed, "prefix %d", i)
			continue
		}
		assert.NotEmpty(t, doc.ID, "prefix %d", i)
	}
}

func TestSectionOrderFollowsDocument(t *testing.T) {
	raw := `<article><front><article-meta><article-id pub-id-type="pmc">PMC1</article-id></article-meta></front><body>
<sec><title>Zeta</title><p>z</p></sec>
<sec><title>Alpha</title><p>a</p></sec>
<sec><title>Mu</title><p>m</p></sec>
</body></article>`
	doc, err := testParser().Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"Zeta", "Alpha", "Mu"}, doc.Sections.Labels())
}

func TestUntitledNestedSectionJoinsTitledAncestor(t *testing.T) {
	raw := `<article><front><article-meta><article-id pub-id-type="pmc">PMC1</article-id></article-meta></front><body>
<sec><title>Methods</title><p>Overview.</p>
<sec><title>Participants</title><p>Forty adults.</p></sec>
<sec><p>Untitled continuation.</p></sec>
<sec><title>Design</title><p>Crossover.</p><sec><p>Washout of one week.</p></sec></sec>
</sec>
</body></article>`
	doc, err := testParser().Parse([]byte(raw))
	require.NoError(t, err)
	want := types.Sections{
		{Label: "Methods", Text: "Overview.\n\nUntitled continuation."},
		{Label: "Methods - Participants", Text: "Forty adults."},
		{Label: "Methods - Design", Text: "Crossover.\n\nWashout of one week."},
	}
	if diff := cmp.Diff(want, doc.Sections); diff != "" {
		t.Errorf("sections mismatch (-want +got):\n%s", diff)
	}
}

func TestReferencesSectionKeepsOrder(t *testing.T) {
	raw := `<article><front><article-meta><article-id pub-id-type="pmc">PMC1</article-id></article-meta></front>
<body><sec><title>Intro</title><p>Text.</p></sec></body>
<back><ref-list><title>References</title>
<ref id="b2"><label>1</label><element-citation><person-group><name><surname>Zed</surname></name></person-group>
  <article-title>Later   work</article-title><year>2020</year></element-citation></ref>
<ref id="b1"><label>2</label><mixed-citation>Abel A. Early work. 1999.</mixed-citation></ref>
</ref-list></back></article>`
	doc, err := testParser().Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, []string{"Intro", "References"}, doc.Sections.Labels())
	refs, _ := doc.Sections.Get("References")
	assert.Equal(t, "1 Zed Later work 2020\n2 Abel A. Early work. 1999.", refs)
}

func FuzzParse(f *testing.F) {
	f.Add([]byte(`<article><front><article-meta><article-id pub-id-type="pmc">PMC1</article-id></article-meta></front></article>`))
	f.Add([]byte(`<PubmedArticle><MedlineCitation><PMID>1</PMID></MedlineCitation></PubmedArticle>`))
	f.Fuzz(func(t *testing.T, raw []byte) {
		doc, err := Parse(raw)
		if err == nil && doc.ID == "" {
			t.Fatal("document without identifier")
		}
	})
}
