// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package room implements the real-time session transport connecting
// the local participant, the AI agent, and the browser-automation
// worker.
//
// A room is a WebRTC mesh keyed by participant identity. Each remote
// participant gets one PeerConnection carrying two data channels
// ("reliable" ordered, "lossy" unordered with no retransmits) and the
// local audio publication. Signaling goes through the Signaler
// interface (websocket to the room service in production, in-process
// channels in tests) using vanilla ICE: all candidates are gathered
// before the SDP is published, so establishment takes exactly one
// signaling round trip.
//
// The package is organized around the transport layers:
//
//   - signaler.go: signaling abstraction (join, roster, offer/answer)
//   - signaler_ws.go: websocket signaling client for the room service
//   - signaler_memory.go: in-process signaler for tests
//   - envelope.go: JSON data-message envelope shared by both channels
//   - room.go: peer lifecycle, data publish/subscribe, participant events
//   - rpcprim.go: the room's one-shot unary RPC primitive
//   - audio.go: local audio publication with the default-muted contract
package room
