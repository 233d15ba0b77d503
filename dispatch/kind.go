// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

// Kind is one inbound command kind. The set is closed: unknown strings
// are rejected at the boundary instead of falling through comparisons.
type Kind string

const (
	// Browser interaction relays, forwarded verbatim to the worker.
	KindNavigate Kind = "navigate"
	KindClick    Kind = "click"
	KindType     Kind = "type"

	// Microphone gating.
	KindStartListening Kind = "start_listening"
	KindStopListening  Kind = "stop_listening"

	// Board directives.
	KindSetView         Kind = "set_view"
	KindGetBlockContent Kind = "get_block_content"
	KindSuggestions     Kind = "suggested_responses"
	KindVisualize       Kind = "visualize"
)

// allKinds is the totality check's source of truth. A kind added here
// without a handler fails New.
var allKinds = []Kind{
	KindNavigate,
	KindClick,
	KindType,
	KindStartListening,
	KindStopListening,
	KindSetView,
	KindGetBlockContent,
	KindSuggestions,
	KindVisualize,
}

// parseKind reports whether name is a known command kind.
func parseKind(name string) (Kind, bool) {
	for _, kind := range allKinds {
		if string(kind) == name {
			return kind, true
		}
	}
	return "", false
}
