// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the live tutoring session: one room connection
// and one microphone, shared by every other component through the
// Manager rather than acquired directly.
//
// Connect is guarded by a single-flight barrier keyed by (course,
// user): concurrent connects for the same key observe one attempt and
// share its outcome, so a doubled invocation never requests two
// tokens. The cleanup guard (cleanup.go) separately guarantees the
// remote worker session is deleted at most once, and only on genuine
// process unload.
package session
