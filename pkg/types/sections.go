// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"go.yaml.in/yaml/v3"
)

// Section is one labelled block of body text.
type Section struct {
	Label string
	Text  string
}

// Sections is an ordered label → text mapping. It serializes as a YAML or
// JSON mapping whose keys appear in document order.
type Sections []Section

// Add appends a section. A label already present gets a " (n)" suffix so
// labels stay unique.
func (s *Sections) Add(label, text string) {
	unique := label
	for n := 2; s.Has(unique); n++ {
		unique = label + " (" + strconv.Itoa(n) + ")"
	}
	*s = append(*s, Section{Label: unique, Text: text})
}

// Has reports whether a section with the label exists.
func (s Sections) Has(label string) bool {
	for _, sec := range s {
		if sec.Label == label {
			return true
		}
	}
	return false
}

// Get returns the text for label.
func (s Sections) Get(label string) (string, bool) {
	for _, sec := range s {
		if sec.Label == label {
			return sec.Text, true
		}
	}
	return "", false
}

// Labels returns section labels in order.
func (s Sections) Labels() []string {
	out := make([]string, len(s))
	for i, sec := range s {
		out[i] = sec.Label
	}
	return out
}

// MarshalJSON writes the sections as a JSON object in order.
func (s Sections) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, sec := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(sec.Label)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(sec.Text)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, keeping key order.
func (s *Sections) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("sections: expected object, got %v", tok)
	}
	out := Sections{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := kt.(string)
		if !ok {
			return fmt.Errorf("sections: expected string key, got %v", kt)
		}
		var text string
		if err := dec.Decode(&text); err != nil {
			return fmt.Errorf("sections: %q: %w", label, err)
		}
		out = append(out, Section{Label: label, Text: text})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// MarshalYAML writes the sections as a YAML mapping in order.
func (s Sections) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, sec := range s {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: sec.Label},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: sec.Text},
		)
	}
	return node, nil
}

// UnmarshalYAML reads a YAML mapping, keeping key order.
func (s *Sections) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*s = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("sections: line %d: expected mapping", value.Line)
	}
	out := make(Sections, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var label, text string
		if err := value.Content[i].Decode(&label); err != nil {
			return err
		}
		if err := value.Content[i+1].Decode(&text); err != nil {
			return fmt.Errorf("sections: %q: %w", label, err)
		}
		out = append(out, Section{Label: label, Text: text})
	}
	*s = out
	return nil
}
