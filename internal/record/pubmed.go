// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package record

import (
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/pdiddy/pmc-harvest/pkg/types"
)

// parsePubMed reads a PubmedArticle citation record. PubMed carries no
// body text, so the document has metadata and abstract only.
func parsePubMed(pa *xmlquery.Node) *types.Document {
	citation := xmlquery.FindOne(pa, "./MedlineCitation")
	article := xmlquery.FindOne(pa, "./MedlineCitation/Article")

	ids := make(map[string]string)
	if pmid := findText(citation, "./PMID"); pmid != "" {
		ids["pmid"] = pmid
	}
	for _, n := range xmlquery.Find(pa, "./PubmedData/ArticleIdList/ArticleId") {
		v := text(n)
		if v == "" {
			continue
		}
		switch scheme := strings.ToLower(n.SelectAttr("IdType")); scheme {
		case "pmc":
			if pmcid := normalizePMCID(v); pmcid != "" {
				ids["pmcid"] = pmcid
			}
		case "pubmed":
			if _, ok := ids["pmid"]; !ok {
				ids["pmid"] = v
			}
		case "doi":
			ids["doi"] = strings.ToLower(v)
		case "":
		default:
			if _, ok := ids[scheme]; !ok {
				ids[scheme] = v
			}
		}
	}

	doc := &types.Document{
		ID:           chooseCanonical(ids),
		SecondaryIDs: ids,
	}
	if article == nil {
		return doc
	}

	doc.Title = findText(article, "./ArticleTitle")
	doc.Abstract = pubmedAbstract(article)
	doc.Meta.Venue = findText(article, "./Journal/Title")
	doc.Meta.Year = pubmedYear(article)
	doc.Meta.ArticleType = findText(article, "./PublicationTypeList/PublicationType")

	for _, d := range xmlquery.Find(citation, "./MeshHeadingList/MeshHeading/DescriptorName") {
		doc.Meta.MeshTerms = appendUnique(doc.Meta.MeshTerms, text(d))
	}
	for _, k := range xmlquery.Find(citation, "./KeywordList/Keyword") {
		doc.Meta.Keywords = appendUnique(doc.Meta.Keywords, text(k))
	}

	for _, a := range xmlquery.Find(article, "./AuthorList/Author") {
		name := collapse(findText(a, "./ForeName") + " " + findText(a, "./LastName"))
		if name == "" {
			name = findText(a, "./CollectiveName")
		}
		if name == "" {
			continue
		}
		author := types.Author{Name: name}
		for _, aff := range xmlquery.Find(a, "./AffiliationInfo/Affiliation") {
			author.Affiliations = appendUnique(author.Affiliations, text(aff))
		}
		doc.Meta.Authors = append(doc.Meta.Authors, author)
	}
	return doc
}

// pubmedAbstract renders labelled abstract parts as "LABEL: text" lines.
func pubmedAbstract(article *xmlquery.Node) string {
	var lines []string
	for _, part := range xmlquery.Find(article, "./Abstract/AbstractText") {
		t := text(part)
		if t == "" {
			continue
		}
		if label := strings.TrimSpace(part.SelectAttr("Label")); label != "" {
			t = label + ": " + t
		}
		lines = append(lines, t)
	}
	return strings.Join(lines, "\n")
}

func pubmedYear(article *xmlquery.Node) int {
	if y := parseYear(findText(article, "./Journal/JournalIssue/PubDate/Year")); y != 0 {
		return y
	}
	if y := parseYear(findText(article, "./Journal/JournalIssue/PubDate/MedlineDate")); y != 0 {
		return y
	}
	return parseYear(findText(article, "./ArticleDate/Year"))
}
