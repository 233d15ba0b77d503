// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package provision talks to the token service that mints room
// credentials and tracks the lifecycle of the browser-worker session
// behind them: room issuance, status polling, and idempotent deletion.
package provision
