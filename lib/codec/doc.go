// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec centralizes CBOR encoding for persisted client state:
// board snapshots and recorded action-packet spools. Deterministic
// encoding means the same logical snapshot always produces identical
// bytes, which keeps snapshot diffs and content digests stable.
package codec
