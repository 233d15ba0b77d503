// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lectern-ai/lectern/board"
)

// relay forwards an interaction command verbatim to the automation
// worker. No local state changes.
func (d *Dispatcher) relay(kind Kind) handler {
	return func(ctx context.Context, params map[string]any) (*Ack, error) {
		fields := map[string]any{"command": string(kind)}
		for key, value := range params {
			fields[key] = value
		}
		if err := d.config.Sender.PublishData(d.config.WorkerIdentity, "browser_command", fields, true); err != nil {
			return nil, fmt.Errorf("relaying %s to worker: %w", kind, err)
		}
		return &Ack{OK: true}, nil
	}
}

// micGate flips the listening flag and the audio publication together.
// The flag is set first so a caller observing it mid-flight sees the
// intended state; a device failure reverts it before the negative ack.
func (d *Dispatcher) micGate(listen bool) handler {
	return func(ctx context.Context, params map[string]any) (*Ack, error) {
		d.mu.Lock()
		previous := d.listening
		d.listening = listen
		d.mu.Unlock()

		if err := d.config.Microphone.SetMuted(!listen); err != nil {
			d.mu.Lock()
			d.listening = previous
			d.mu.Unlock()
			return nil, fmt.Errorf("microphone gate: %w", err)
		}
		return &Ack{OK: true}, nil
	}
}

func (d *Dispatcher) setView(ctx context.Context, params map[string]any) (*Ack, error) {
	name, _ := params["view"].(string)
	if err := d.config.Board.SetView(name); err != nil {
		// The agent waits on this ack to decide next steps; an unknown
		// view must be an explicit rejection, not a silent drop.
		return nil, err
	}
	return &Ack{OK: true}, nil
}

// getBlockContent embeds the block's serialized content in the ack
// payload; the remote treats the ack as the reply.
func (d *Dispatcher) getBlockContent(ctx context.Context, params map[string]any) (*Ack, error) {
	id, _ := params["block_id"].(string)
	block, ok := d.config.Board.Block(id)
	if !ok {
		return &Ack{OK: false, Detail: fmt.Sprintf("no block %q", id), Payload: map[string]any{}}, nil
	}
	return &Ack{OK: true, Payload: map[string]any{
		"id":      block.ID,
		"kind":    block.Kind,
		"content": block.Content,
	}}, nil
}

func (d *Dispatcher) suggestedResponses(ctx context.Context, params map[string]any) (*Ack, error) {
	suggestions := extractSuggestions(params)
	if len(suggestions) == 0 {
		return nil, fmt.Errorf("no suggestions found in payload")
	}
	d.config.Board.SetSuggestions(suggestions)
	return &Ack{OK: true, Payload: map[string]any{"count": len(suggestions)}}, nil
}

// visualize applies precomputed elements immediately, or generates
// from a prompt. The generating placeholder goes up before the
// external call and is always replaced: by elements on success, by an
// error placeholder on any failure.
func (d *Dispatcher) visualize(ctx context.Context, params map[string]any) (*Ack, error) {
	if raw, ok := params["elements"]; ok {
		elements, err := decodeElements(raw)
		if err != nil {
			return nil, err
		}
		return d.applyDiagram(elements)
	}

	prompt, _ := params["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("visualization needs elements or a prompt")
	}

	d.config.Board.SetDiagramGenerating(prompt)
	elements, err := d.config.Generator.Generate(ctx, prompt)
	if err != nil {
		d.config.Board.SetDiagramError(err.Error())
		return nil, fmt.Errorf("generating diagram: %w", err)
	}
	return d.applyDiagram(elements)
}

func (d *Dispatcher) applyDiagram(elements []board.DiagramElement) (*Ack, error) {
	if err := d.config.Renderer.Render(elements); err != nil {
		d.config.Board.SetDiagramError(err.Error())
		return nil, fmt.Errorf("rendering diagram: %w", err)
	}
	d.config.Board.SetDiagramElements(elements)
	return &Ack{OK: true, Payload: map[string]any{"elements": len(elements)}}, nil
}

// decodeElements converts the loosely-typed envelope value into
// diagram elements via a JSON round trip.
func decodeElements(raw any) ([]board.DiagramElement, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encoding elements: %w", err)
	}
	var elements []board.DiagramElement
	if err := json.Unmarshal(encoded, &elements); err != nil {
		return nil, fmt.Errorf("malformed diagram elements: %w", err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("empty diagram element list")
	}
	return elements, nil
}
