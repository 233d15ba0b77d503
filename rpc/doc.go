// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc layers typed request/response calls over the room
// transport.
//
// Two shapes live here:
//
//   - Transport: a symmetric byte-payload call abstraction over the
//     room's one-shot unary primitive, plus the stream-shaped adapter
//     some callers expect (stream.go).
//   - Registry: send-and-await over the data channel, for remote
//     parties that reply with a later broadcast message instead of a
//     correlated RPC response (pending.go).
package rpc
