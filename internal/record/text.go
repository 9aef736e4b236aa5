// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package record

import (
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

// skipInText lists elements whose content never belongs in running text.
// Floats are rendered separately as captions; formulas and references
// produce noise.
var skipInText = map[string]bool{
	"table-wrap":   true,
	"fig":          true,
	"ref-list":     true,
	"disp-formula": true,
	"math":         true,
	"tex-math":     true,
}

// inlineElements may sit inside a word ("H<sub>2</sub>O"), so no
// separator is written after them. Every other element ends with one.
var inlineElements = map[string]bool{
	"italic": true, "bold": true, "sub": true, "sup": true, "sc": true,
	"underline": true, "monospace": true, "roman": true, "sans-serif": true,
	"strike": true, "overline": true, "xref": true, "ext-link": true,
	"uri": true, "email": true, "abbrev": true, "named-content": true,
	"styled-content": true, "inline-formula": true, "institution": true,
	"i": true, "b": true, "u": true,
}

// text returns the whitespace-collapsed text content of n.
func text(n *xmlquery.Node) string {
	return textSkipping(n, skipInText)
}

func textSkipping(n *xmlquery.Node, skip map[string]bool) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		switch n.Type {
		case xmlquery.TextNode, xmlquery.CharDataNode:
			b.WriteString(n.Data)
		case xmlquery.ElementNode, xmlquery.DocumentNode:
			if n.Type == xmlquery.ElementNode && skip[n.Data] {
				return
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
			if n.Type == xmlquery.ElementNode && !inlineElements[n.Data] {
				b.WriteByte(' ')
			}
		}
	}
	walk(n)
	return collapse(b.String())
}

// collapse normalizes runs of whitespace to single spaces and trims.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// findText returns the collapsed text of the first match of expr under n.
func findText(n *xmlquery.Node, expr string) string {
	if n == nil {
		return ""
	}
	return text(xmlquery.FindOne(n, expr))
}

// children returns the element children of n named name, in order.
func children(n *xmlquery.Node, names ...string) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		for _, name := range names {
			if c.Data == name {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// appendUnique appends the non-empty values of vs not already in list.
func appendUnique(list []string, vs ...string) []string {
	for _, v := range vs {
		if v == "" {
			continue
		}
		dup := false
		for _, have := range list {
			if have == v {
				dup = true
				break
			}
		}
		if !dup {
			list = append(list, v)
		}
	}
	return list
}

// parseYear extracts a four-digit year from s, or returns 0.
func parseYear(s string) int {
	s = strings.TrimSpace(s)
	if len(s) < 4 {
		return 0
	}
	y, err := strconv.Atoi(s[:4])
	if err != nil || y < 1000 {
		return 0
	}
	return y
}

// normalizePMCID renders "123", "pmc123" or "PMC123" as "PMC123".
func normalizePMCID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(s) > 3 && strings.EqualFold(s[:3], "PMC") {
		s = s[3:]
	}
	if _, err := strconv.Atoi(s); err != nil {
		return ""
	}
	return "PMC" + s
}
