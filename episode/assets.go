// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package episode

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Asset is one staged file bundled with the submission,
// content-addressed so the service can deduplicate re-uploads.
type Asset struct {
	// Digest is the hex BLAKE3-256 digest of Content.
	Digest string

	Name    string
	Content []byte
}

// StageAsset computes the content digest for a file.
func StageAsset(name string, content []byte) Asset {
	sum := blake3.Sum256(content)
	return Asset{
		Digest:  hex.EncodeToString(sum[:]),
		Name:    name,
		Content: content,
	}
}
