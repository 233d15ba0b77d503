// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lectern-ai/lectern/board"
	"github.com/lectern-ai/lectern/diagram"
)

// Sender is the data channel the relay handlers forward on. *room.Room
// satisfies it.
type Sender interface {
	PublishData(to, messageType string, fields map[string]any, reliable bool) error
}

// Microphone flips the audio publication's mute state. The session
// manager satisfies it; handlers never touch the device directly.
type Microphone interface {
	SetMuted(muted bool) error
}

// Ack is the acknowledgment returned to the commanding agent. A nil
// Ack from Dispatch means the kind was unknown and ignored.
type Ack struct {
	OK      bool
	Detail  string
	Payload map[string]any
}

type handler func(ctx context.Context, params map[string]any) (*Ack, error)

// Config wires the dispatcher's collaborators. All fields except
// Logger are required.
type Config struct {
	Sender         Sender
	WorkerIdentity string
	Microphone     Microphone
	Board          *board.Board
	Generator      diagram.Generator
	Renderer       diagram.Renderer
	Logger         *slog.Logger
}

// Dispatcher routes inbound commands. Safe for concurrent use; the
// listening flag is the only state it owns.
type Dispatcher struct {
	config   Config
	logger   *slog.Logger
	handlers map[Kind]handler

	// listening mirrors the microphone's gate. Flag and device flip
	// together; a device failure reverts the flag (handlers.go).
	mu        sync.Mutex
	listening bool
}

// New builds the dispatcher and verifies the handler table is total
// over the closed kind set.
func New(config Config) (*Dispatcher, error) {
	if config.Sender == nil || config.WorkerIdentity == "" {
		return nil, fmt.Errorf("dispatch: Sender and WorkerIdentity are required")
	}
	if config.Microphone == nil || config.Board == nil {
		return nil, fmt.Errorf("dispatch: Microphone and Board are required")
	}
	if config.Generator == nil || config.Renderer == nil {
		return nil, fmt.Errorf("dispatch: Generator and Renderer are required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{config: config, logger: logger}
	d.handlers = map[Kind]handler{
		KindNavigate:        d.relay(KindNavigate),
		KindClick:           d.relay(KindClick),
		KindType:            d.relay(KindType),
		KindStartListening:  d.micGate(true),
		KindStopListening:   d.micGate(false),
		KindSetView:         d.setView,
		KindGetBlockContent: d.getBlockContent,
		KindSuggestions:     d.suggestedResponses,
		KindVisualize:       d.visualize,
	}

	for _, kind := range allKinds {
		if _, ok := d.handlers[kind]; !ok {
			return nil, fmt.Errorf("dispatch: no handler for kind %q", kind)
		}
	}
	return d, nil
}

// Dispatch routes one command. Unknown kinds are logged and ignored
// (nil Ack). Handler errors and panics are isolated into negative
// acks; they never propagate to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, kindName string, params map[string]any) (ack *Ack) {
	kind, ok := parseKind(kindName)
	if !ok {
		d.logger.Warn("ignoring unknown command kind", "kind", kindName)
		return nil
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("command handler panicked", "kind", kind, "panic", recovered)
			ack = &Ack{OK: false, Detail: fmt.Sprintf("internal error handling %s", kind)}
		}
	}()

	result, err := d.handlers[kind](ctx, params)
	if err != nil {
		d.logger.Warn("command handler failed", "kind", kind, "error", err)
		return &Ack{OK: false, Detail: err.Error()}
	}
	if result == nil {
		return &Ack{OK: true}
	}
	return result
}

// Listening reports the microphone gate state.
func (d *Dispatcher) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}
