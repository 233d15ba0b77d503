// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package episode

import (
	"bytes"
	"testing"
)

func TestScreenshotCompressionRoundTrip(t *testing.T) {
	// Flat image data compresses well and exercises the block path.
	image := bytes.Repeat([]byte{0x89, 0x50, 0x4e, 0x47, 0x00}, 4096)

	compressed, err := CompressScreenshot(image)
	if err != nil {
		t.Fatalf("CompressScreenshot: %v", err)
	}
	if len(compressed) >= len(image) {
		t.Errorf("compressed %d bytes to %d", len(image), len(compressed))
	}

	restored, err := DecompressScreenshot(compressed)
	if err != nil {
		t.Fatalf("DecompressScreenshot: %v", err)
	}
	if !bytes.Equal(restored, image) {
		t.Error("round trip altered image bytes")
	}
}

func TestSpoolRoundTripPreservesOrder(t *testing.T) {
	shot, err := CompressScreenshot([]byte("fake image"))
	if err != nil {
		t.Fatalf("CompressScreenshot: %v", err)
	}
	packets := []Packet{
		{Seq: 0, Kind: "action", AtMillis: 10, Fields: map[string]any{"command": "click"}},
		{Seq: 1, Kind: "screenshot", AtMillis: 500, Screenshot: shot},
		{Seq: 2, Kind: "action", AtMillis: 900, Fields: map[string]any{"command": "type", "text": "42"}},
	}

	spool, err := EncodeSpool(packets)
	if err != nil {
		t.Fatalf("EncodeSpool: %v", err)
	}
	decoded, err := DecodeSpool(spool)
	if err != nil {
		t.Fatalf("DecodeSpool: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("decoded %d packets", len(decoded))
	}
	for i, packet := range decoded {
		if packet.Seq != i {
			t.Errorf("packet %d has seq %d", i, packet.Seq)
		}
	}
	if decoded[0].Fields["command"] != "click" {
		t.Errorf("fields = %v", decoded[0].Fields)
	}
	image, err := DecompressScreenshot(decoded[1].Screenshot)
	if err != nil || string(image) != "fake image" {
		t.Errorf("screenshot = %q err = %v", image, err)
	}
}

func TestEncodeSpoolRejectsOutOfOrder(t *testing.T) {
	_, err := EncodeSpool([]Packet{{Seq: 1}, {Seq: 0}})
	if err == nil {
		t.Error("out-of-order spool accepted")
	}
}

func TestStageAsset(t *testing.T) {
	a := StageAsset("worksheet.pdf", []byte("content-a"))
	b := StageAsset("worksheet.pdf", []byte("content-b"))
	again := StageAsset("other-name.pdf", []byte("content-a"))

	if len(a.Digest) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(a.Digest))
	}
	if a.Digest == b.Digest {
		t.Error("different content produced equal digests")
	}
	if a.Digest != again.Digest {
		t.Error("digest depends on name, want content-addressed")
	}
}
