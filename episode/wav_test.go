// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package episode

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"
)

func TestEncodeWAVHeaderLayout(t *testing.T) {
	// Two stereo frames.
	wav, err := EncodeWAV([]float32{0.5, 0.5, -0.25, -0.25}, 2, 48000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(wav) != 44+4 {
		t.Fatalf("len = %d, want 48", len(wav))
	}

	if string(wav[0:4]) != "RIFF" {
		t.Errorf("bytes 0-3 = %q", wav[0:4])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != 36+4 {
		t.Errorf("chunk size = %d, want 40", got)
	}
	if string(wav[8:12]) != "WAVE" || string(wav[12:16]) != "fmt " {
		t.Errorf("container markers = %q %q", wav[8:12], wav[12:16])
	}
	if got := binary.LittleEndian.Uint32(wav[16:20]); got != 16 {
		t.Errorf("fmt size = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[20:22]); got != 1 {
		t.Errorf("format = %d, want 1 (PCM)", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 48000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 96000 {
		t.Errorf("byte rate = %d, want 96000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[32:34]); got != 2 {
		t.Errorf("block align = %d", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample = %d", got)
	}
	if string(wav[36:40]) != "data" {
		t.Errorf("bytes 36-39 = %q", wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 4 {
		t.Errorf("data size = %d, want 4", got)
	}

	// Frame 1: (0.5+0.5)/2 = 0.5 → 16383.
	if got := int16(binary.LittleEndian.Uint16(wav[44:46])); got != 16383 {
		t.Errorf("sample 0 = %d", got)
	}
}

func TestEncodeWAVClampsOverdrive(t *testing.T) {
	wav, err := EncodeWAV([]float32{3.0, -3.0}, 1, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if got := int16(binary.LittleEndian.Uint16(wav[44:46])); got != 32767 {
		t.Errorf("clamped high sample = %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(wav[46:48])); got != -32767 {
		t.Errorf("clamped low sample = %d", got)
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	if _, err := EncodeWAV([]float32{0}, 0, 48000); err == nil {
		t.Error("zero channels accepted")
	}
	if _, err := EncodeWAV([]float32{0}, 1, 0); err == nil {
		t.Error("zero sample rate accepted")
	}
	if _, err := EncodeWAV([]float32{0, 0, 0}, 2, 48000); err == nil {
		t.Error("ragged frame count accepted")
	}
}

// Round trip: encode then decode recovers the mono mix within int16
// quantization error, for a spread of channel counts and rates.
func TestWAVRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for _, tc := range []struct {
		channels   int
		sampleRate int
		frames     int
	}{
		{1, 16000, 160},
		{2, 48000, 480},
		{4, 44100, 100},
	} {
		samples := make([]float32, tc.frames*tc.channels)
		for i := range samples {
			samples[i] = rng.Float32()*2 - 1
		}

		wav, err := EncodeWAV(samples, tc.channels, tc.sampleRate)
		if err != nil {
			t.Fatalf("EncodeWAV(%d ch): %v", tc.channels, err)
		}
		decoded, rate, err := DecodeWAV(wav)
		if err != nil {
			t.Fatalf("DecodeWAV(%d ch): %v", tc.channels, err)
		}
		if rate != tc.sampleRate {
			t.Errorf("rate = %d, want %d", rate, tc.sampleRate)
		}
		if len(decoded) != tc.frames {
			t.Fatalf("decoded %d frames, want %d", len(decoded), tc.frames)
		}

		for frame := 0; frame < tc.frames; frame++ {
			var want float64
			for channel := 0; channel < tc.channels; channel++ {
				want += float64(samples[frame*tc.channels+channel])
			}
			want /= float64(tc.channels)
			if diff := math.Abs(want - float64(decoded[frame])); diff > 1.0/32767 {
				t.Fatalf("%d ch frame %d: want %f, got %f (diff %g)",
					tc.channels, frame, want, decoded[frame], diff)
			}
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeWAV([]byte("short")); err == nil {
		t.Error("short blob accepted")
	}
	wav, _ := EncodeWAV([]float32{0.1}, 1, 16000)
	corrupt := append([]byte(nil), wav...)
	copy(corrupt[0:4], "JUNK")
	if _, _, err := DecodeWAV(corrupt); err == nil {
		t.Error("bad RIFF marker accepted")
	}
}
