// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package episode

import (
	"encoding/binary"
	"fmt"
)

// wavHeaderSize is the fixed header length preceding the sample data.
const wavHeaderSize = 44

// EncodeWAV down-mixes interleaved PCM samples to mono and encodes
// them as an uncompressed WAV blob:
//
//	"RIFF" <36+dataSize> "WAVE"
//	"fmt " <16> format=1 channels=1 <sampleRate> <byteRate> blockAlign=2 bits=16
//	"data" <dataSize> <little-endian int16 samples>
//
// Down-mix averages the channels sample-for-sample; samples are
// clamped to [-1, 1] before scaling. The byte layout is parsed by
// offset downstream and must not change.
func EncodeWAV(samples []float32, channels, sampleRate int) ([]byte, error) {
	if channels < 1 {
		return nil, fmt.Errorf("episode: channel count %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("episode: sample rate %d", sampleRate)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("episode: %d samples do not divide into %d channels", len(samples), channels)
	}

	frames := len(samples) / channels
	dataSize := frames * 2

	out := make([]byte, wavHeaderSize+dataSize)
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(out[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(out[34:36], 16)                   // bits per sample
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	for frame := 0; frame < frames; frame++ {
		var sum float32
		for channel := 0; channel < channels; channel++ {
			sum += samples[frame*channels+channel]
		}
		mixed := sum / float32(channels)
		if mixed > 1 {
			mixed = 1
		} else if mixed < -1 {
			mixed = -1
		}
		quantized := int16(mixed * 32767)
		binary.LittleEndian.PutUint16(out[wavHeaderSize+frame*2:], uint16(quantized))
	}
	return out, nil
}

// DecodeWAV parses a mono 16-bit WAV blob produced by EncodeWAV back
// into float samples in [-1, 1] and its sample rate.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("episode: WAV blob shorter than header (%d bytes)", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[12:16]) != "fmt " {
		return nil, 0, fmt.Errorf("episode: not a RIFF/WAVE blob")
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != 1 {
		return nil, 0, fmt.Errorf("episode: audio format %d, want PCM", format)
	}
	if channels := binary.LittleEndian.Uint16(data[22:24]); channels != 1 {
		return nil, 0, fmt.Errorf("episode: %d channels, want mono", channels)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		return nil, 0, fmt.Errorf("episode: %d bits per sample, want 16", bits)
	}
	sampleRate := int(binary.LittleEndian.Uint32(data[24:28]))

	dataSize := int(binary.LittleEndian.Uint32(data[40:44]))
	if wavHeaderSize+dataSize > len(data) {
		return nil, 0, fmt.Errorf("episode: data chunk claims %d bytes, blob has %d", dataSize, len(data)-wavHeaderSize)
	}

	samples := make([]float32, dataSize/2)
	for i := range samples {
		raw := int16(binary.LittleEndian.Uint16(data[wavHeaderSize+i*2:]))
		samples[i] = float32(raw) / 32767
	}
	return samples, sampleRate, nil
}
