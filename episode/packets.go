// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package episode

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/lectern-ai/lectern/lib/codec"
)

// Packet is one recorded interaction event. Packets are ordered by
// Seq; the spool preserves that order.
type Packet struct {
	Seq  int    `cbor:"seq"`
	Kind string `cbor:"kind"`

	// AtMillis is milliseconds since the recording started.
	AtMillis int64 `cbor:"at_ms"`

	// Fields carries kind-specific data (selector, url, key).
	Fields map[string]any `cbor:"fields,omitempty"`

	// Screenshot is an lz4-compressed image for screenshot packets.
	Screenshot []byte `cbor:"screenshot,omitempty"`
}

// CompressScreenshot lz4-compresses a screenshot payload. Screenshots
// dominate spool size; audio and packet metadata stay uncompressed
// until the whole submission is compressed.
func CompressScreenshot(image []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := lz4.NewWriter(&buffer)
	if _, err := writer.Write(image); err != nil {
		return nil, fmt.Errorf("compressing screenshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finishing screenshot compression: %w", err)
	}
	return buffer.Bytes(), nil
}

// DecompressScreenshot reverses CompressScreenshot.
func DecompressScreenshot(compressed []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(compressed))
	image, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing screenshot: %w", err)
	}
	return image, nil
}

// EncodeSpool serializes the ordered packet sequence with
// deterministic CBOR.
func EncodeSpool(packets []Packet) ([]byte, error) {
	for i := 1; i < len(packets); i++ {
		if packets[i].Seq < packets[i-1].Seq {
			return nil, fmt.Errorf("episode: packet sequence out of order at index %d", i)
		}
	}
	data, err := codec.Marshal(packets)
	if err != nil {
		return nil, fmt.Errorf("encoding packet spool: %w", err)
	}
	return data, nil
}

// DecodeSpool reverses EncodeSpool.
func DecodeSpool(data []byte) ([]Packet, error) {
	var packets []Packet
	if err := codec.Unmarshal(data, &packets); err != nil {
		return nil, fmt.Errorf("decoding packet spool: %w", err)
	}
	return packets, nil
}
