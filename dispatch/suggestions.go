// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import "encoding/json"

// suggestionKeys are the field names older agent builds have used to
// carry suggestion lists.
var suggestionKeys = []string{"suggestions", "suggested_responses", "responses"}

// maxScanDepth bounds the recursive scan; legacy payloads nest at most
// a few levels of JSON-in-string wrapping.
const maxScanDepth = 6

// extractSuggestions pulls suggestion strings out of a payload that
// may be structured ({"suggestions": [...]}) or legacy: nested maps,
// arrays, and strings that are themselves JSON documents, sometimes
// only partially (a JSON array in a string inside a JSON object).
// Malformed fragments are skipped, never fatal.
func extractSuggestions(payload map[string]any) []string {
	// Structured shape first: a recognized key holding a string list.
	for _, key := range suggestionKeys {
		if value, ok := payload[key]; ok {
			if found := scanValue(value, maxScanDepth); len(found) > 0 {
				return found
			}
		}
	}
	// Legacy shape: scan everything.
	return scanValue(payload, maxScanDepth)
}

// scanValue recursively collects suggestion strings from an arbitrary
// decoded value.
func scanValue(value any, depth int) []string {
	if depth == 0 {
		return nil
	}

	switch typed := value.(type) {
	case string:
		// A string may itself be a JSON document (double-encoded
		// payloads). If it parses to a container, recurse into it;
		// a bare string at top level is not a suggestion list.
		if nested, ok := decodeJSONContainer(typed); ok {
			return scanValue(nested, depth-1)
		}
		return nil

	case []any:
		// A list of plain strings is taken as the suggestion list.
		var strings []string
		for _, item := range typed {
			if s, ok := item.(string); ok {
				if nested, isJSON := decodeJSONContainer(s); isJSON {
					strings = append(strings, scanValue(nested, depth-1)...)
				} else {
					strings = append(strings, s)
				}
			} else if found := scanValue(item, depth-1); len(found) > 0 {
				strings = append(strings, found...)
			}
		}
		return strings

	case map[string]any:
		// Recognized keys win; otherwise scan every value.
		for _, key := range suggestionKeys {
			if nested, ok := typed[key]; ok {
				if found := scanValue(nested, depth-1); len(found) > 0 {
					return found
				}
			}
		}
		var strings []string
		for _, nested := range typed {
			strings = append(strings, scanValue(nested, depth-1)...)
		}
		return strings

	default:
		return nil
	}
}

// decodeJSONContainer parses s as JSON if it looks like (and is) an
// object or array. Plain prose, numbers, and malformed JSON report ok
// = false.
func decodeJSONContainer(s string) (any, bool) {
	if len(s) == 0 {
		return nil, false
	}
	if s[0] != '{' && s[0] != '[' {
		return nil, false
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return nil, false
	}
	switch decoded.(type) {
	case map[string]any, []any:
		return decoded, true
	}
	return nil, false
}
