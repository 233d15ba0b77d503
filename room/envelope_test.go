// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data, err := encodeEnvelope("tab_announcement", "worker/chrome-1", "user/pat", map[string]any{
		"tab_id": "t-1",
		"url":    "https://example.com",
	})
	if err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}

	message, to, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if message.Type != "tab_announcement" {
		t.Errorf("Type = %q", message.Type)
	}
	if message.From != "worker/chrome-1" {
		t.Errorf("From = %q", message.From)
	}
	if to != "user/pat" {
		t.Errorf("to = %q", to)
	}
	if message.FieldString("tab_id") != "t-1" {
		t.Errorf("tab_id = %q", message.FieldString("tab_id"))
	}
	if _, reserved := message.Fields["type"]; reserved {
		t.Error("reserved key leaked into Fields")
	}
}

func TestEncodeEnvelopeBroadcastOmitsTo(t *testing.T) {
	data, err := encodeEnvelope("interaction", "user/pat", "", nil)
	if err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}
	_, to, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if to != "" {
		t.Errorf("broadcast envelope carries to = %q", to)
	}
}

func TestDecodeEnvelopeRejectsMissingType(t *testing.T) {
	if _, _, err := decodeEnvelope([]byte(`{"from":"x"}`)); err == nil {
		t.Error("envelope without type accepted")
	}
	if _, _, err := decodeEnvelope([]byte(`not json`)); err == nil {
		t.Error("malformed JSON accepted")
	}
}

func TestEnvelopeReservedKeysWin(t *testing.T) {
	data, err := encodeEnvelope("ping", "real-sender", "", map[string]any{
		"from": "spoofed-sender",
	})
	if err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}
	message, _, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if message.From != "real-sender" {
		t.Errorf("From = %q, want real-sender", message.From)
	}
}
