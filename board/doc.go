// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package board holds the client-side lesson surface state the
// dispatcher mutates: the active view, content blocks, suggested
// responses, the diagram slot, and the topic label.
//
// The board persists across sessions as a CBOR snapshot (snapshot.go)
// so a reconnecting client can tell the agent what survived. JSONC
// seed files (seed.go) load development fixtures.
package board
