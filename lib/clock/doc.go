// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Components that arm timers — the pending-call registry, the session
// status poller, the connect deduplication barrier — accept a Clock
// instead of calling the time package directly. Production wiring uses
// Real(); tests use Fake(), which advances only when told to.
//
// The FakeClock eliminates sleep-based test synchronization: a test
// starts the goroutine under test, blocks in WaitForTimers until the
// goroutine has registered its timer, then calls Advance to fire it
// deterministically.
package clock
