// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package board

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lectern-ai/lectern/lib/codec"
)

// snapshot is the persisted board shape. Field tags are the on-disk
// contract; renaming them breaks existing snapshots.
type snapshot struct {
	View        View         `cbor:"view"`
	Blocks      []Block      `cbor:"blocks"`
	Suggestions []string     `cbor:"suggestions,omitempty"`
	Diagram     DiagramState `cbor:"diagram"`
	Topic       string       `cbor:"topic,omitempty"`
}

// Save writes the board state to path as deterministic CBOR. The write
// goes through a temp file and rename so a crash never leaves a
// truncated snapshot.
func (b *Board) Save(path string) error {
	b.mu.Lock()
	snap := snapshot{
		View:        b.view,
		Blocks:      b.lockedBlocks(),
		Suggestions: append([]string(nil), b.suggestions...),
		Diagram:     b.diagram,
		Topic:       b.topic,
	}
	b.mu.Unlock()

	data, err := codec.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding board snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing board snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing board snapshot: %w", err)
	}
	return nil
}

// Load restores board state from a snapshot file. A missing file is
// not an error: the board stays empty and Load reports false.
func (b *Board) Load(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading board snapshot: %w", err)
	}

	var snap snapshot
	if err := codec.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("decoding board snapshot: %w", err)
	}
	if _, err := ParseView(string(snap.View)); err != nil {
		return false, fmt.Errorf("board snapshot: %w", err)
	}

	b.mu.Lock()
	b.view = snap.View
	b.blocks = make(map[string]Block, len(snap.Blocks))
	for _, block := range snap.Blocks {
		b.blocks[block.ID] = block
	}
	b.suggestions = snap.Suggestions
	b.diagram = snap.Diagram
	if b.diagram.Phase == "" {
		b.diagram.Phase = DiagramEmpty
	}
	b.topic = snap.Topic
	b.mu.Unlock()
	return true, nil
}

// Summary describes restored content for the session-resume message:
// counts only, not content, since the agent re-reads blocks on demand.
func (b *Board) Summary() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]any{
		"view":        string(b.view),
		"blocks":      len(b.blocks),
		"suggestions": len(b.suggestions),
		"diagram":     string(b.diagram.Phase),
		"topic":       b.topic,
	}
}

// lockedBlocks is Blocks without taking the lock. Caller holds b.mu.
func (b *Board) lockedBlocks() []Block {
	blocks := make([]Block, 0, len(b.blocks))
	for _, block := range b.blocks {
		blocks = append(blocks, block)
	}
	sortBlocks(blocks)
	return blocks
}
