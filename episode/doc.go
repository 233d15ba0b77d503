// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package episode records one teaching demonstration: narration audio
// from the local microphone plus an ordered interaction-packet log
// from the remote recorder, submitted as a single unit to the analysis
// service.
//
// The audio leaves this package as a WAV blob with an exact byte
// layout (wav.go); the analysis service parses the header by offset,
// so the layout is a compatibility contract.
package episode
