// Package config builds the merged configuration consumed by a
// training run: a base YAML document, deep-merged overrides, and the
// parsed command-line arguments layered on top of it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is a parsed configuration tree. Nested mappings decode as
// map[string]any, so a Document can be walked and merged generically.
type Document = map[string]any

// LoadDocument reads and parses a YAML configuration file.
func LoadDocument(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return doc, nil
}

// WriteDocument serializes a document back to YAML, creating parent
// directories as needed.
func WriteDocument(doc Document, path string) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}

	return nil
}

// Clone returns a deep copy of the document. Mappings and sequences
// are copied recursively; scalar leaves are shared.
func Clone(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Clone(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// SetPath sets a dot-separated key path in the document, creating
// intermediate mappings as needed. A non-mapping value encountered on
// the way is replaced by a mapping.
func SetPath(doc Document, path string, value any) {
	keys := strings.Split(path, ".")
	cur := doc
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[k] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

// Flatten converts the document into dot-separated string parameters,
// sorted by nesting. Sequences and scalars are rendered with %v.
func Flatten(doc Document) map[string]string {
	params := make(map[string]string)
	flattenInto(params, "", doc)
	return params
}

func flattenInto(params map[string]string, prefix string, doc Document) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok {
			flattenInto(params, key, m)
			continue
		}
		params[key] = fmt.Sprintf("%v", v)
	}
}

// SortedKeys returns the top-level keys of a document in sorted order.
func SortedKeys(doc Document) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
