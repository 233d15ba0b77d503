// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides small helpers shared across package tests:
// timeout-guarded channel operations so individual tests never hang on
// a channel that nothing will ever send on.
package testutil
