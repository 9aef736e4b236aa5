// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package record

import (
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/pdiddy/pmc-harvest/pkg/types"
)

// Labels used for sections that have no title of their own.
const (
	LabelMainText = "Main Text"
	LabelUntitled = "Untitled Section"
	LabelTables   = "Tables"
	LabelFigures  = "Figures"

	LabelReferences = "References"
)

// blockElements are the children of a section that carry running text.
var blockElements = []string{"p", "list", "disp-quote", "boxed-text", "statement", "def-list", "preformat", "verse-group"}

// citationMetaNames are custom-meta names that state a citation count.
var citationMetaNames = map[string]bool{
	"citation-count":         true,
	"cited-by-count":         true,
	"is-referenced-by-count": true,
}

func parseJATS(article *xmlquery.Node) *types.Document {
	meta := xmlquery.FindOne(article, "./front/article-meta")
	if meta == nil {
		meta = xmlquery.FindOne(article, ".//article-meta")
	}

	doc := &types.Document{}
	if meta != nil {
		ids := jatsIDs(meta)
		doc.ID = chooseCanonical(ids)
		doc.SecondaryIDs = ids
		doc.Title = findText(meta, "./title-group/article-title")
		doc.Abstract = jatsAbstract(meta)
		doc.Meta.Keywords, doc.Meta.MeshTerms = jatsKeywords(meta)
		doc.Meta.Year = jatsYear(meta)
		doc.Meta.Authors = jatsAuthors(meta)
		doc.CitationCount = jatsCitationCount(meta)
	}
	doc.Meta.Venue = findText(article, "./front/journal-meta//journal-title")
	if doc.Meta.Venue == "" {
		doc.Meta.Venue = findText(article, ".//journal-title")
	}
	doc.Meta.ArticleType = strings.TrimSpace(article.SelectAttr("article-type"))
	doc.Sections = jatsSections(article)
	return doc
}

func jatsIDs(meta *xmlquery.Node) map[string]string {
	ids := make(map[string]string)
	for _, n := range xmlquery.Find(meta, "./article-id") {
		v := text(n)
		if v == "" {
			continue
		}
		scheme := strings.ToLower(strings.TrimSpace(n.SelectAttr("pub-id-type")))
		switch scheme {
		case "pmc", "pmcid":
			if pmcid := normalizePMCID(v); pmcid != "" {
				ids["pmcid"] = pmcid
			}
			continue
		case "doi":
			v = strings.ToLower(v)
		case "":
			scheme = "other"
		}
		if _, ok := ids[scheme]; !ok {
			ids[scheme] = v
		}
	}
	return ids
}

func jatsAbstract(meta *xmlquery.Node) string {
	abs := xmlquery.FindOne(meta, "./abstract[not(@abstract-type)]")
	if abs == nil {
		abs = xmlquery.FindOne(meta, "./abstract")
	}
	if abs == nil {
		return ""
	}
	if secs := children(abs, "sec"); len(secs) > 0 {
		var parts []string
		for _, s := range secs {
			body := blockText(s)
			if body == "" {
				continue
			}
			if title := findText(s, "./title"); title != "" {
				body = title + ": " + body
			}
			parts = append(parts, body)
		}
		return strings.Join(parts, "\n")
	}
	return blockText(abs)
}

func jatsKeywords(meta *xmlquery.Node) (keywords, mesh []string) {
	for _, g := range xmlquery.Find(meta, ".//kwd-group") {
		controlled := strings.Contains(strings.ToLower(g.SelectAttr("kwd-group-type")), "mesh")
		for _, k := range xmlquery.Find(g, "./kwd") {
			if controlled {
				mesh = appendUnique(mesh, text(k))
			} else {
				keywords = appendUnique(keywords, text(k))
			}
		}
	}
	return keywords, mesh
}

// jatsYear prefers the electronic publication date, then print, then any.
func jatsYear(meta *xmlquery.Node) int {
	best, bestRank := 0, 99
	for _, d := range xmlquery.Find(meta, "./pub-date") {
		y := parseYear(findText(d, "./year"))
		if y == 0 {
			continue
		}
		if r := pubDateRank(d); r < bestRank {
			best, bestRank = y, r
		}
	}
	return best
}

func pubDateRank(d *xmlquery.Node) int {
	pubType := strings.ToLower(d.SelectAttr("pub-type"))
	dateType := strings.ToLower(d.SelectAttr("date-type"))
	format := strings.ToLower(d.SelectAttr("publication-format"))
	switch {
	case pubType == "epub" || (dateType == "pub" && format == "electronic"):
		return 0
	case pubType == "ppub" || (dateType == "pub" && format == "print"):
		return 1
	default:
		return 2
	}
}

func jatsAuthors(meta *xmlquery.Node) []types.Author {
	affs := make(map[string]string)
	var allAffs []string
	for _, a := range xmlquery.Find(meta, ".//aff") {
		t := textSkipping(a, map[string]bool{"label": true, "sup": true, "institution-id": true})
		if t == "" {
			continue
		}
		if id := a.SelectAttr("id"); id != "" {
			affs[id] = t
		}
		allAffs = appendUnique(allAffs, t)
	}

	var (
		authors    []types.Author
		referenced bool
	)
	for _, c := range xmlquery.Find(meta, ".//contrib-group/contrib") {
		if ct := c.SelectAttr("contrib-type"); ct != "" && ct != "author" {
			continue
		}
		name := contribName(c)
		if name == "" {
			continue
		}
		a := types.Author{Name: name}
		for _, x := range xmlquery.Find(c, "./xref[@ref-type='aff']") {
			referenced = true
			for _, rid := range strings.Fields(x.SelectAttr("rid")) {
				a.Affiliations = appendUnique(a.Affiliations, affs[rid])
			}
		}
		for _, nested := range children(c, "aff") {
			a.Affiliations = appendUnique(a.Affiliations, textSkipping(nested, map[string]bool{"label": true, "institution-id": true}))
		}
		authors = append(authors, a)
	}

	// Affiliations listed once for the whole group apply to every author.
	if !referenced && len(allAffs) > 0 {
		for i := range authors {
			if len(authors[i].Affiliations) == 0 {
				authors[i].Affiliations = append([]string(nil), allAffs...)
			}
		}
	}
	return authors
}

func contribName(c *xmlquery.Node) string {
	if n := xmlquery.FindOne(c, "./name"); n != nil {
		return collapse(findText(n, "./given-names") + " " + findText(n, "./surname"))
	}
	if n := xmlquery.FindOne(c, "./name-alternatives/name"); n != nil {
		return collapse(findText(n, "./given-names") + " " + findText(n, "./surname"))
	}
	if s := findText(c, "./collab"); s != "" {
		return s
	}
	return findText(c, "./string-name")
}

func jatsCitationCount(meta *xmlquery.Node) *int {
	for _, cm := range xmlquery.Find(meta, ".//custom-meta") {
		name := strings.ToLower(findText(cm, "./meta-name"))
		if !citationMetaNames[name] {
			continue
		}
		n, err := strconv.Atoi(findText(cm, "./meta-value"))
		if err != nil || n < 0 {
			continue
		}
		return &n
	}
	return nil
}

// sectionBuilder flattens the body section tree into ordered sections.
type sectionBuilder struct {
	out  types.Sections
	last string
}

// emit appends text under label, merging into the previous entry when it
// carries the same label.
func (b *sectionBuilder) emit(label, body string) {
	if n := len(b.out); n > 0 && b.last == label {
		b.out[n-1].Text += "\n\n" + body
		return
	}
	b.out.Add(label, body)
	b.last = label
}

// continueLabel appends body to the existing entry labelled label, wherever
// it sits, and falls back to emit when there is none.
func (b *sectionBuilder) continueLabel(label, body string) {
	for i := range b.out {
		if b.out[i].Label == label {
			b.out[i].Text += "\n\n" + body
			return
		}
	}
	b.emit(label, body)
}

// walk visits a sec element. Nested sections are labelled with the path
// of titles from the top-level section ("Methods - Participants"). An
// untitled nested section is concatenated under its nearest titled
// ancestor.
func (b *sectionBuilder) walk(sec *xmlquery.Node, parent string) {
	label := parent
	title := findText(sec, "./title")
	switch {
	case title != "" && parent != "":
		label = parent + " - " + title
	case title != "":
		label = title
	case parent == "":
		label = LabelUntitled
	}
	if body := blockText(sec); body != "" {
		if title == "" && parent != "" {
			b.continueLabel(label, body)
		} else {
			b.emit(label, body)
		}
	}
	for _, sub := range children(sec, "sec") {
		b.walk(sub, label)
	}
}

func jatsSections(article *xmlquery.Node) types.Sections {
	b := &sectionBuilder{}
	body := xmlquery.FindOne(article, "./body")
	if body != nil {
		for c := body.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != xmlquery.ElementNode {
				continue
			}
			if c.Data == "sec" {
				b.walk(c, "")
				continue
			}
			if isBlock(c.Data) {
				if t := text(c); t != "" {
					b.emit(LabelMainText, t)
				}
			}
		}
		if len(b.out) == 0 {
			var parts []string
			for _, p := range xmlquery.Find(body, ".//p") {
				if t := text(p); t != "" {
					parts = append(parts, t)
				}
			}
			if len(parts) > 0 {
				b.emit(LabelMainText, strings.Join(parts, "\n\n"))
			}
		}
	}

	if t := captions(article, "table-wrap", "Table"); t != "" {
		b.emit(LabelTables, t)
	}
	if f := captions(article, "fig", "Figure"); f != "" {
		b.emit(LabelFigures, f)
	}
	if r := references(article); r != "" {
		b.emit(LabelReferences, r)
	}
	return b.out
}

// blockText joins the text of the block-level children of n.
func blockText(n *xmlquery.Node) string {
	var parts []string
	for _, c := range children(n, blockElements...) {
		if t := text(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

func isBlock(name string) bool {
	for _, b := range blockElements {
		if b == name {
			return true
		}
	}
	return false
}

// captions renders one "Label: caption" line per float element.
func captions(article *xmlquery.Node, element, noun string) string {
	var lines []string
	for i, f := range xmlquery.Find(article, ".//"+element) {
		caption := textSkipping(xmlquery.FindOne(f, "./caption"), map[string]bool{})
		label := findText(f, "./label")
		if label == "" {
			label = noun + " " + strconv.Itoa(i+1)
		}
		if caption == "" {
			continue
		}
		lines = append(lines, label+": "+caption)
	}
	return strings.Join(lines, "\n")
}

// references renders one line per ref-list entry, in document order.
func references(article *xmlquery.Node) string {
	var lines []string
	for _, ref := range xmlquery.Find(article, ".//ref-list//ref") {
		if t := textSkipping(ref, map[string]bool{}); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}
