package object

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is an opaque, class-specific record decoded from YAML. Nested maps
// are map[string]any and nested lists are []any.
type Document map[string]any

// DecodeDocument parses a YAML document.
func DecodeDocument(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Encode renders the document as YAML. Map keys are emitted in sorted order, so
// equal documents always encode to identical bytes.
func (d Document) Encode() ([]byte, error) {
	data, err := yaml.Marshal(map[string]any(d))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// String returns the string value at key, or "" when absent or not a string.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Has reports whether key is present.
func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Identity returns the document's identifier, or "" when absent.
func (d Document) Identity() string {
	return d.String(IdentityField)
}

// DisplayName returns the human display name for a document of class c.
func (d Document) DisplayName(c Class) string {
	return d.String(c.NameField())
}

// Map returns the nested map at key, or nil.
func (d Document) Map(key string) map[string]any {
	return AsMap(d[key])
}

// AsMap converts a decoded YAML value into map[string]any when possible.
func AsMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case Document:
		return m
	default:
		return nil
	}
}

// AsList converts a decoded YAML value into []any when possible.
func AsList(v any) []any {
	l, _ := v.([]any)
	return l
}

// IsChartPosition reports whether a dashboard layout key denotes a chart
// placement.
func IsChartPosition(key string, value any) bool {
	return AsMap(value) != nil && strings.HasPrefix(strings.ToLower(key), "chart")
}

// PruneLayout deletes dashboard layout entries and every child link that
// points at them.
func PruneLayout(position map[string]any, keys []string) {
	gone := make(map[string]bool, len(keys))
	for _, k := range keys {
		gone[k] = true
		delete(position, k)
	}
	for _, entry := range position {
		m := AsMap(entry)
		if m == nil {
			continue
		}
		children := AsList(m["children"])
		if children == nil {
			continue
		}
		kept := make([]any, 0, len(children))
		for _, c := range children {
			if s, ok := c.(string); ok && gone[s] {
				continue
			}
			kept = append(kept, c)
		}
		m["children"] = kept
	}
}

// SidecarMarker is the placeholder left in a dataset document whose query text
// lives in a side-car file.
func SidecarMarker(file string) string {
	return "#file:" + file + "#"
}
