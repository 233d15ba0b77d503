// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Unload-context deadlines. The process is going away; every request
// here must finish fast or not at all.
const (
	resolveDeadline  = 3 * time.Second
	deleteDeadline   = 3 * time.Second
	fallbackDeadline = 2 * time.Second
)

// Deleter is the teardown slice of the token service client.
// *provision.Client satisfies it.
type Deleter interface {
	DeleteSession(ctx context.Context, sessionID string) error
	CloseIdleConnections()
}

// CleanupGuard deletes the remote worker session exactly once, and
// only on genuine process unload. Disconnects, reconnects, and room
// handoffs must never trigger it: the worker may be serving the same
// session in a different room. Register OnUnload with the process's
// termination signal handler and nothing else.
type CleanupGuard struct {
	deleter Deleter
	resolve func(ctx context.Context) (string, error)
	logger  *slog.Logger

	once sync.Once
}

// NewCleanupGuard creates a guard. resolve yields the session id,
// typically (*Manager).ResolveSessionID. A nil logger defaults to
// slog.Default().
func NewCleanupGuard(deleter Deleter, resolve func(ctx context.Context) (string, error), logger *slog.Logger) *CleanupGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupGuard{deleter: deleter, resolve: resolve, logger: logger}
}

// OnUnload fires the deletion. Safe to call from multiple signal
// deliveries; only the first call acts.
func (g *CleanupGuard) OnUnload() {
	g.once.Do(g.fire)
}

func (g *CleanupGuard) fire() {
	resolveCtx, cancelResolve := context.WithTimeout(context.Background(), resolveDeadline)
	defer cancelResolve()
	sessionID, err := g.resolve(resolveCtx)
	if err != nil {
		g.logger.Warn("unload: session id unresolved, skipping deletion", "error", err)
		return
	}

	deleteCtx, cancelDelete := context.WithTimeout(context.Background(), deleteDeadline)
	defer cancelDelete()
	err = g.deleter.DeleteSession(deleteCtx, sessionID)
	if err == nil {
		g.logger.Info("unload: session deleted", "session_id", sessionID)
		return
	}
	g.logger.Warn("unload: deletion failed, retrying on a fresh connection", "session_id", sessionID, "error", err)

	// Pooled connections may be mid-teardown with the process; one
	// retry on a fresh connection is the best effort available.
	g.deleter.CloseIdleConnections()
	retryCtx, cancelRetry := context.WithTimeout(context.Background(), fallbackDeadline)
	defer cancelRetry()
	if err := g.deleter.DeleteSession(retryCtx, sessionID); err != nil {
		g.logger.Error("unload: session deletion abandoned", "session_id", sessionID, "error", err)
		return
	}
	g.logger.Info("unload: session deleted on retry", "session_id", sessionID)
}
