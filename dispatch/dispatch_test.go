// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/lectern-ai/lectern/board"
)

// fakeSender records forwarded commands.
type fakeSender struct {
	to     string
	fields []map[string]any
	err    error
}

func (s *fakeSender) PublishData(to, messageType string, fields map[string]any, reliable bool) error {
	if s.err != nil {
		return s.err
	}
	s.to = to
	s.fields = append(s.fields, fields)
	return nil
}

// fakeMicrophone fails on demand.
type fakeMicrophone struct {
	muted bool
	err   error
}

func (m *fakeMicrophone) SetMuted(muted bool) error {
	if m.err != nil {
		return m.err
	}
	m.muted = muted
	return nil
}

// fakeGenerator returns fixed elements or an error.
type fakeGenerator struct {
	elements []board.DiagramElement
	err      error
	prompts  []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) ([]board.DiagramElement, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return nil, g.err
	}
	return g.elements, nil
}

// fakeRenderer records rendered elements.
type fakeRenderer struct {
	rendered [][]board.DiagramElement
	err      error
}

func (r *fakeRenderer) Render(elements []board.DiagramElement) error {
	if r.err != nil {
		return r.err
	}
	r.rendered = append(r.rendered, elements)
	return nil
}

type fixture struct {
	dispatcher *Dispatcher
	sender     *fakeSender
	microphone *fakeMicrophone
	board      *board.Board
	generator  *fakeGenerator
	renderer   *fakeRenderer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sender:     &fakeSender{},
		microphone: &fakeMicrophone{muted: true},
		board:      board.New(),
		generator:  &fakeGenerator{elements: []board.DiagramElement{{Kind: "line"}}},
		renderer:   &fakeRenderer{},
	}
	dispatcher, err := New(Config{
		Sender:         f.sender,
		WorkerIdentity: "worker/chrome-1",
		Microphone:     f.microphone,
		Board:          f.board,
		Generator:      f.generator,
		Renderer:       f.renderer,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.dispatcher = dispatcher
	return f
}

func TestDispatchUnknownKindIgnored(t *testing.T) {
	f := newFixture(t)

	ack := f.dispatcher.Dispatch(context.Background(), "summon_dragon", map[string]any{"x": 1})
	if ack != nil {
		t.Errorf("unknown kind acked: %+v", ack)
	}
	// No observable state changed.
	if len(f.sender.fields) != 0 || f.dispatcher.Listening() || f.board.View() != board.ViewWhiteboard {
		t.Error("unknown kind mutated state")
	}
}

func TestDispatchRelayForwardsVerbatim(t *testing.T) {
	f := newFixture(t)

	ack := f.dispatcher.Dispatch(context.Background(), "navigate", map[string]any{"url": "https://example.com"})
	if ack == nil || !ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	if f.sender.to != "worker/chrome-1" {
		t.Errorf("forwarded to %q", f.sender.to)
	}
	fields := f.sender.fields[0]
	if fields["command"] != "navigate" || fields["url"] != "https://example.com" {
		t.Errorf("fields = %v", fields)
	}
}

func TestDispatchRelayFailureIsNegativeAck(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("channel closed")

	ack := f.dispatcher.Dispatch(context.Background(), "click", map[string]any{"selector": "#go"})
	if ack == nil || ack.OK {
		t.Fatalf("ack = %+v, want negative", ack)
	}
}

func TestMicGate(t *testing.T) {
	f := newFixture(t)

	ack := f.dispatcher.Dispatch(context.Background(), "start_listening", nil)
	if ack == nil || !ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	if !f.dispatcher.Listening() || f.microphone.muted {
		t.Errorf("listening=%v muted=%v after start", f.dispatcher.Listening(), f.microphone.muted)
	}

	ack = f.dispatcher.Dispatch(context.Background(), "stop_listening", nil)
	if ack == nil || !ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	if f.dispatcher.Listening() || !f.microphone.muted {
		t.Errorf("listening=%v muted=%v after stop", f.dispatcher.Listening(), f.microphone.muted)
	}
}

func TestMicGateDeviceFailureRevertsFlag(t *testing.T) {
	f := newFixture(t)
	f.microphone.err = errors.New("permission denied")

	ack := f.dispatcher.Dispatch(context.Background(), "start_listening", nil)
	if ack == nil || ack.OK {
		t.Fatalf("ack = %+v, want negative", ack)
	}
	if f.dispatcher.Listening() {
		t.Error("listening flag left set after device failure")
	}
}

func TestSetView(t *testing.T) {
	f := newFixture(t)

	ack := f.dispatcher.Dispatch(context.Background(), "set_view", map[string]any{"view": "browser"})
	if ack == nil || !ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	if f.board.View() != board.ViewBrowser {
		t.Errorf("view = %v", f.board.View())
	}

	ack = f.dispatcher.Dispatch(context.Background(), "set_view", map[string]any{"view": "holodeck"})
	if ack == nil || ack.OK {
		t.Fatalf("unknown view acked: %+v", ack)
	}
	if f.board.View() != board.ViewBrowser {
		t.Errorf("rejected view mutated state: %v", f.board.View())
	}
}

func TestGetBlockContent(t *testing.T) {
	f := newFixture(t)
	f.board.PutBlock(board.Block{ID: "b1", Kind: "text", Content: "the content"})

	ack := f.dispatcher.Dispatch(context.Background(), "get_block_content", map[string]any{"block_id": "b1"})
	if ack == nil || !ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	if ack.Payload["content"] != "the content" {
		t.Errorf("payload = %v", ack.Payload)
	}

	ack = f.dispatcher.Dispatch(context.Background(), "get_block_content", map[string]any{"block_id": "missing"})
	if ack == nil || ack.OK {
		t.Fatalf("missing block acked: %+v", ack)
	}
	if ack.Payload == nil || len(ack.Payload) != 0 {
		t.Errorf("negative ack payload = %v, want empty", ack.Payload)
	}
}

func TestVisualizePrecomputedElements(t *testing.T) {
	f := newFixture(t)

	ack := f.dispatcher.Dispatch(context.Background(), "visualize", map[string]any{
		"elements": []any{
			map[string]any{"kind": "circle", "attributes": map[string]any{"r": 5.0}},
		},
	})
	if ack == nil || !ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	if len(f.renderer.rendered) != 1 {
		t.Fatalf("rendered %d times", len(f.renderer.rendered))
	}
	if f.board.Diagram().Phase != board.DiagramReady {
		t.Errorf("diagram phase = %v", f.board.Diagram().Phase)
	}
	if len(f.generator.prompts) != 0 {
		t.Error("generator called for precomputed elements")
	}
}

func TestVisualizePrompt(t *testing.T) {
	f := newFixture(t)

	ack := f.dispatcher.Dispatch(context.Background(), "visualize", map[string]any{"prompt": "a number line"})
	if ack == nil || !ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	if len(f.generator.prompts) != 1 || f.generator.prompts[0] != "a number line" {
		t.Errorf("prompts = %v", f.generator.prompts)
	}
	if f.board.Diagram().Phase != board.DiagramReady {
		t.Errorf("diagram phase = %v", f.board.Diagram().Phase)
	}
}

func TestVisualizeGeneratorFailureReplacesPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.generator.err = errors.New("generator unreachable")

	ack := f.dispatcher.Dispatch(context.Background(), "visualize", map[string]any{"prompt": "a number line"})
	if ack == nil || ack.OK {
		t.Fatalf("ack = %+v, want negative", ack)
	}
	state := f.board.Diagram()
	if state.Phase != board.DiagramFailed {
		t.Errorf("placeholder left in phase %v", state.Phase)
	}
	if state.Prompt != "a number line" {
		t.Errorf("error placeholder lost the prompt: %+v", state)
	}
}

func TestVisualizeRendererFailure(t *testing.T) {
	f := newFixture(t)
	f.renderer.err = errors.New("canvas gone")

	ack := f.dispatcher.Dispatch(context.Background(), "visualize", map[string]any{"prompt": "x"})
	if ack == nil || ack.OK {
		t.Fatalf("ack = %+v, want negative", ack)
	}
	if f.board.Diagram().Phase != board.DiagramFailed {
		t.Errorf("diagram phase = %v", f.board.Diagram().Phase)
	}
}

func TestVisualizeRejectsEmptyRequest(t *testing.T) {
	f := newFixture(t)
	ack := f.dispatcher.Dispatch(context.Background(), "visualize", map[string]any{})
	if ack == nil || ack.OK {
		t.Fatalf("ack = %+v, want negative", ack)
	}
}

func TestSuggestedResponsesStructured(t *testing.T) {
	f := newFixture(t)

	ack := f.dispatcher.Dispatch(context.Background(), "suggested_responses", map[string]any{
		"suggestions": []any{"I need a hint", "Show me an example"},
	})
	if ack == nil || !ack.OK {
		t.Fatalf("ack = %+v", ack)
	}
	got := f.board.Suggestions()
	if len(got) != 2 || got[0] != "I need a hint" {
		t.Errorf("suggestions = %v", got)
	}
}

func TestSuggestedResponsesEmptyPayload(t *testing.T) {
	f := newFixture(t)
	ack := f.dispatcher.Dispatch(context.Background(), "suggested_responses", map[string]any{"noise": 42})
	if ack == nil || ack.OK {
		t.Fatalf("ack = %+v, want negative", ack)
	}
}

func TestDispatchIsolatesPanics(t *testing.T) {
	f := newFixture(t)

	dispatcher, err := New(Config{
		Sender:         panickySender{},
		WorkerIdentity: "worker/chrome-1",
		Microphone:     f.microphone,
		Board:          f.board,
		Generator:      f.generator,
		Renderer:       f.renderer,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ack := dispatcher.Dispatch(context.Background(), "navigate", nil)
	if ack == nil || ack.OK {
		t.Fatalf("ack = %+v, want negative from recovered panic", ack)
	}
}

type panickySender struct{}

func (panickySender) PublishData(to, messageType string, fields map[string]any, reliable bool) error {
	panic("sender exploded")
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("empty config accepted")
	}
}
