// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package board

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// seedFile is the development fixture shape. Seeds are JSONC so
// fixtures can carry comments and trailing commas.
type seedFile struct {
	View        string   `json:"view"`
	Blocks      []Block  `json:"blocks"`
	Suggestions []string `json:"suggestions"`
	Topic       string   `json:"topic"`
}

// LoadSeed populates the board from a JSONC fixture file, replacing
// current state. Intended for development; production boards start
// empty or from a snapshot.
func (b *Board) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(jsonc.ToJSON(data), &seed); err != nil {
		return fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	view := ViewWhiteboard
	if seed.View != "" {
		view, err = ParseView(seed.View)
		if err != nil {
			return fmt.Errorf("seed file %s: %w", path, err)
		}
	}

	b.mu.Lock()
	b.view = view
	b.blocks = make(map[string]Block, len(seed.Blocks))
	for _, block := range seed.Blocks {
		if block.ID == "" {
			b.mu.Unlock()
			return fmt.Errorf("seed file %s: block with empty id", path)
		}
		b.blocks[block.ID] = block
	}
	b.suggestions = seed.Suggestions
	b.diagram = DiagramState{Phase: DiagramEmpty}
	b.topic = seed.Topic
	b.mu.Unlock()
	return nil
}
