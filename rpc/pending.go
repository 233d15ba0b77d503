// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lectern-ai/lectern/lib/clock"
)

// MessageTypeInteraction is the envelope type for registry sends.
const MessageTypeInteraction = "interaction"

// Sender is the fire-and-forget side channel the registry sends on.
// *room.Room's PublishData satisfies it.
type Sender interface {
	PublishData(to, messageType string, fields map[string]any, reliable bool) error
}

// TimeoutError is returned when no inbound message matching the
// awaited result kind arrived in time.
type TimeoutError struct {
	Kind    string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s awaiting result kind %q", e.Elapsed, e.Kind)
}

// Registry correlates fire-and-forget sends with later asynchronous
// replies that arrive through the broadcast data handler rather than
// as RPC responses.
//
// Matching is by result KIND, not by call id: any inbound message
// whose kind equals a pending entry's expected kind resolves the
// OLDEST such entry. Two concurrent awaits for the same kind therefore
// race, and the first reply retires the older entry even if it was
// meant for the newer one. The generated call id is carried in the
// outbound fields so the remote side can start echoing it back, but
// until it does, matching stays kind-keyed; callers that need
// isolation must not overlap awaits for one kind.
type Registry struct {
	sender Sender
	clock  clock.Clock
	logger *slog.Logger

	mu sync.Mutex
	// pending is kept in send order so kind matching can retire the
	// oldest entry first.
	pending []*pendingCall
}

type pendingCall struct {
	id     string
	kind   string
	sent   time.Time
	result chan map[string]any
}

// NewRegistry creates a Registry. A nil clock defaults to the real
// clock; a nil logger defaults to slog.Default().
func NewRegistry(sender Sender, clk clock.Clock, logger *slog.Logger) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{sender: sender, clock: clk, logger: logger}
}

// SendAndAwait sends one interaction message to the identity `to` and
// blocks until an inbound message with resultKind arrives, the timeout
// elapses, or ctx is done. A synchronous send failure removes the
// pending entry and propagates immediately. The returned map is the
// matching message's fields.
func (r *Registry) SendAndAwait(ctx context.Context, to, actionName string, parameters map[string]any, resultKind string, timeout time.Duration) (map[string]any, error) {
	entry := &pendingCall{
		id:     uuid.NewString(),
		kind:   resultKind,
		sent:   r.clock.Now(),
		result: make(chan map[string]any, 1),
	}

	r.mu.Lock()
	r.pending = append(r.pending, entry)
	r.mu.Unlock()

	fields := map[string]any{
		"action":  actionName,
		"call_id": entry.id,
	}
	for key, value := range parameters {
		fields[key] = value
	}

	if err := r.sender.PublishData(to, MessageTypeInteraction, fields, true); err != nil {
		r.remove(entry)
		return nil, fmt.Errorf("sending %s: %w", actionName, err)
	}

	select {
	case result := <-entry.result:
		return result, nil
	case <-r.clock.After(timeout):
		r.remove(entry)
		return nil, &TimeoutError{Kind: resultKind, Elapsed: timeout}
	case <-ctx.Done():
		r.remove(entry)
		return nil, ctx.Err()
	}
}

// Resolve offers an inbound message to the registry. If kind matches a
// pending entry, the oldest such entry is resolved exactly once with
// the given fields and Resolve reports true; otherwise false and the
// message belongs to someone else.
func (r *Registry) Resolve(kind string, fields map[string]any) bool {
	r.mu.Lock()
	var match *pendingCall
	for i, entry := range r.pending {
		if entry.kind == kind {
			match = entry
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if match == nil {
		return false
	}
	match.result <- fields
	r.logger.Debug("pending call resolved", "kind", kind, "id", match.id,
		"waited", r.clock.Now().Sub(match.sent))
	return true
}

// PendingKinds returns the kinds currently awaited, oldest first.
func (r *Registry) PendingKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, len(r.pending))
	for i, entry := range r.pending {
		kinds[i] = entry.kind
	}
	return kinds
}

// remove drops the entry if it is still pending. Removal under the
// lock is what makes resolution exactly-once: either Resolve takes the
// entry or the timeout path does, never both.
func (r *Registry) remove(target *pendingCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.pending {
		if entry == target {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}
