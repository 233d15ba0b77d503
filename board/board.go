// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package board

import (
	"fmt"
	"sort"
	"sync"
)

// View is one of the client's top-level surfaces.
type View string

// The closed view set. Directives naming anything else are rejected.
const (
	ViewWhiteboard View = "whiteboard"
	ViewBrowser    View = "browser"
	ViewSplit      View = "split"
	ViewDebrief    View = "debrief"
)

// ParseView maps an opaque view-name string to a known View.
func ParseView(name string) (View, error) {
	switch View(name) {
	case ViewWhiteboard, ViewBrowser, ViewSplit, ViewDebrief:
		return View(name), nil
	}
	return "", fmt.Errorf("board: unknown view %q", name)
}

// Block is one content block on the board.
type Block struct {
	ID      string `cbor:"id" json:"id"`
	Kind    string `cbor:"kind" json:"kind"`
	Content string `cbor:"content" json:"content"`
}

// DiagramPhase tracks the diagram slot's lifecycle.
type DiagramPhase string

const (
	DiagramEmpty      DiagramPhase = "empty"
	DiagramGenerating DiagramPhase = "generating"
	DiagramReady      DiagramPhase = "ready"
	DiagramFailed     DiagramPhase = "failed"
)

// DiagramElement is one renderable element handed to the canvas
// renderer. Attributes are renderer-specific.
type DiagramElement struct {
	Kind       string         `cbor:"kind" json:"kind"`
	Attributes map[string]any `cbor:"attributes" json:"attributes"`
}

// DiagramState is the diagram slot: empty, an optimistic placeholder
// while generating, the rendered elements, or an error placeholder.
type DiagramState struct {
	Phase    DiagramPhase     `cbor:"phase" json:"phase"`
	Prompt   string           `cbor:"prompt,omitempty" json:"prompt,omitempty"`
	Elements []DiagramElement `cbor:"elements,omitempty" json:"elements,omitempty"`
	Detail   string           `cbor:"detail,omitempty" json:"detail,omitempty"`
}

// Board is the mutable lesson surface. All methods are safe for
// concurrent use; read-then-write transitions hold the lock for the
// whole transition.
type Board struct {
	mu          sync.Mutex
	view        View
	blocks      map[string]Block
	suggestions []string
	diagram     DiagramState
	topic       string
}

// New returns an empty Board showing the whiteboard.
func New() *Board {
	return &Board{
		view:    ViewWhiteboard,
		blocks:  make(map[string]Block),
		diagram: DiagramState{Phase: DiagramEmpty},
	}
}

// SetView switches the active view. Unknown names are rejected and
// leave the view unchanged.
func (b *Board) SetView(name string) error {
	view, err := ParseView(name)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.view = view
	b.mu.Unlock()
	return nil
}

// View returns the active view.
func (b *Board) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.view
}

// PutBlock adds or replaces a content block.
func (b *Board) PutBlock(block Block) {
	b.mu.Lock()
	b.blocks[block.ID] = block
	b.mu.Unlock()
}

// Block looks up a content block by id.
func (b *Board) Block(id string) (Block, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	block, ok := b.blocks[id]
	return block, ok
}

// Blocks returns every block, ordered by id for stable output.
func (b *Board) Blocks() []Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lockedBlocks()
}

func sortBlocks(blocks []Block) {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].ID < blocks[j].ID })
}

// SetSuggestions replaces the suggested-response list.
func (b *Board) SetSuggestions(suggestions []string) {
	b.mu.Lock()
	b.suggestions = append([]string(nil), suggestions...)
	b.mu.Unlock()
}

// Suggestions returns the current suggested responses.
func (b *Board) Suggestions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.suggestions...)
}

// SetDiagramGenerating installs the optimistic placeholder for prompt.
func (b *Board) SetDiagramGenerating(prompt string) {
	b.mu.Lock()
	b.diagram = DiagramState{Phase: DiagramGenerating, Prompt: prompt}
	b.mu.Unlock()
}

// SetDiagramElements replaces the diagram slot with rendered elements.
func (b *Board) SetDiagramElements(elements []DiagramElement) {
	b.mu.Lock()
	b.diagram = DiagramState{Phase: DiagramReady, Elements: append([]DiagramElement(nil), elements...)}
	b.mu.Unlock()
}

// SetDiagramError replaces the placeholder with an error placeholder,
// keeping the prompt so the failure is attributable.
func (b *Board) SetDiagramError(detail string) {
	b.mu.Lock()
	prompt := b.diagram.Prompt
	b.diagram = DiagramState{Phase: DiagramFailed, Prompt: prompt, Detail: detail}
	b.mu.Unlock()
}

// Diagram returns the diagram slot state.
func (b *Board) Diagram() DiagramState {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.diagram
	state.Elements = append([]DiagramElement(nil), b.diagram.Elements...)
	return state
}

// SetTopic sets the topic label carried on episode submissions.
func (b *Board) SetTopic(topic string) {
	b.mu.Lock()
	b.topic = topic
	b.mu.Unlock()
}

// Topic returns the topic label.
func (b *Board) Topic() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.topic
}
