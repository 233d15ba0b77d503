// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"reflect"
	"testing"
)

func TestExtractSuggestionsStructured(t *testing.T) {
	got := extractSuggestions(map[string]any{
		"suggestions": []any{"a", "b"},
	})
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("got %v", got)
	}
}

func TestExtractSuggestionsLegacyKeys(t *testing.T) {
	got := extractSuggestions(map[string]any{
		"suggested_responses": []any{"try again"},
	})
	if !reflect.DeepEqual(got, []string{"try again"}) {
		t.Errorf("got %v", got)
	}
}

func TestExtractSuggestionsDoubleEncoded(t *testing.T) {
	// The list arrives as a JSON string inside the payload.
	got := extractSuggestions(map[string]any{
		"suggestions": `["one", "two"]`,
	})
	if !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("got %v", got)
	}
}

func TestExtractSuggestionsNestedObjectString(t *testing.T) {
	// A JSON object in a string, containing the suggestion key.
	got := extractSuggestions(map[string]any{
		"data": `{"suggested_responses": ["deep one"]}`,
	})
	if !reflect.DeepEqual(got, []string{"deep one"}) {
		t.Errorf("got %v", got)
	}
}

func TestExtractSuggestionsMixedList(t *testing.T) {
	// Items may themselves be JSON-encoded strings.
	got := extractSuggestions(map[string]any{
		"suggestions": []any{"plain", `["encoded"]`},
	})
	if !reflect.DeepEqual(got, []string{"plain", "encoded"}) {
		t.Errorf("got %v", got)
	}
}

func TestExtractSuggestionsMalformedFragments(t *testing.T) {
	// Broken JSON fragments must be skipped, not fatal.
	got := extractSuggestions(map[string]any{
		"data": `{"suggestions": ["ok"`,
		"more": map[string]any{
			"suggestions": []any{"recovered"},
		},
	})
	if !reflect.DeepEqual(got, []string{"recovered"}) {
		t.Errorf("got %v", got)
	}
}

func TestExtractSuggestionsNothingFound(t *testing.T) {
	if got := extractSuggestions(map[string]any{"action": "suggested_responses", "count": 3.0}); len(got) != 0 {
		t.Errorf("got %v from a payload with no suggestions", got)
	}
	if got := extractSuggestions(nil); len(got) != 0 {
		t.Errorf("got %v from nil", got)
	}
}

func TestExtractSuggestionsDepthBounded(t *testing.T) {
	// Build nesting deeper than the scan bound.
	payload := `["bottom"]`
	for i := 0; i < maxScanDepth+2; i++ {
		payload = `{"data": ` + quoteJSON(payload) + `}`
	}
	if got := extractSuggestions(map[string]any{"data": payload}); len(got) != 0 {
		t.Errorf("got %v from over-deep nesting", got)
	}
}

// quoteJSON wraps a JSON document in a JSON string literal.
func quoteJSON(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			out = append(out, '\\', '"')
		case '\\':
			out = append(out, '\\', '\\')
		default:
			out = append(out, s[i])
		}
	}
	return string(append(out, '"'))
}
