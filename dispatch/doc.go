// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch routes inbound agent commands to handlers.
//
// The dispatcher is a closed table: every command kind has exactly one
// handler, checked for totality at construction. The dispatcher itself
// holds no business logic beyond lookup, invocation, and error
// isolation; a handler failure becomes a negative acknowledgment and
// never aborts the inbound pipeline.
package dispatch
