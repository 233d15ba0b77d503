// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"encoding/json"
	"fmt"
)

// Reserved message types used by the transport itself. Application
// message types must not collide with these.
const (
	messageTypeRPCRequest  = "rpc_request"
	messageTypeRPCResponse = "rpc_response"
)

// Reserved envelope keys. Everything else in a data message is an
// application field.
const (
	envelopeKeyType = "type"
	envelopeKeyFrom = "from"
	envelopeKeyTo   = "to"
)

// DataMessage is one application message received over a room data
// channel. Fields holds every envelope key except the reserved
// type/from/to triple.
type DataMessage struct {
	// Type identifies the message kind. Unrecognized types are ignored
	// by consumers, never treated as errors.
	Type string

	// From is the sender's participant identity.
	From string

	// Fields carries the remaining envelope keys.
	Fields map[string]any
}

// encodeEnvelope flattens a data message into the wire envelope
// {"type": ..., "from": ..., "to": ..., <fields>}. The reserved keys
// win over any identically named application field.
func encodeEnvelope(messageType, from, to string, fields map[string]any) ([]byte, error) {
	envelope := make(map[string]any, len(fields)+3)
	for key, value := range fields {
		envelope[key] = value
	}
	envelope[envelopeKeyType] = messageType
	envelope[envelopeKeyFrom] = from
	if to != "" {
		envelope[envelopeKeyTo] = to
	} else {
		delete(envelope, envelopeKeyTo)
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding %q envelope: %w", messageType, err)
	}
	return data, nil
}

// decodeEnvelope parses a wire envelope. Returns the addressed-to
// identity separately so the room can drop messages meant for someone
// else.
func decodeEnvelope(data []byte) (message DataMessage, to string, err error) {
	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		return DataMessage{}, "", fmt.Errorf("decoding envelope: %w", err)
	}

	messageType, ok := envelope[envelopeKeyType].(string)
	if !ok || messageType == "" {
		return DataMessage{}, "", fmt.Errorf("envelope has no type field")
	}
	from, _ := envelope[envelopeKeyFrom].(string)
	to, _ = envelope[envelopeKeyTo].(string)

	delete(envelope, envelopeKeyType)
	delete(envelope, envelopeKeyFrom)
	delete(envelope, envelopeKeyTo)

	return DataMessage{
		Type:   messageType,
		From:   from,
		Fields: envelope,
	}, to, nil
}

// FieldString returns a string field from a data message, or "" if the
// field is missing or not a string.
func (m DataMessage) FieldString(key string) string {
	value, _ := m.Fields[key].(string)
	return value
}
