// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package episode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DeviceFault classifies microphone acquisition failures. The UI turns
// each into a distinct actionable message.
type DeviceFault string

const (
	FaultPermissionDenied DeviceFault = "permission-denied"
	FaultDeviceBusy       DeviceFault = "device-busy"
	FaultNotFound         DeviceFault = "not-found"
)

// DeviceError is a microphone failure. Fatal for the recording
// feature; the session itself continues.
type DeviceError struct {
	Fault  DeviceFault
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	device := e.Device
	if device == "" {
		device = "default microphone"
	}
	switch e.Fault {
	case FaultPermissionDenied:
		return fmt.Sprintf("%s: permission denied (grant microphone access and retry)", device)
	case FaultDeviceBusy:
		return fmt.Sprintf("%s: device busy (close other applications using the microphone)", device)
	case FaultNotFound:
		return fmt.Sprintf("%s: no such device (check the configured audio device)", device)
	default:
		return fmt.Sprintf("%s: %v", device, e.Err)
	}
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsDeviceError reports whether err is (or wraps) a DeviceError.
func IsDeviceError(err error) bool {
	var deviceErr *DeviceError
	return errors.As(err, &deviceErr)
}

// Frame is one captured PCM frame: interleaved float32 samples.
type Frame struct {
	Samples []float32
}

// Microphone is the local capture device. Start returns a *DeviceError
// when acquisition fails; Frames delivers captured PCM until Stop
// closes it.
type Microphone interface {
	Start(ctx context.Context) error
	Frames() <-chan Frame
	Stop() error
	SampleRate() int
	Channels() int
}

// RemoteCapture is the worker-side recorder capturing interaction
// packets and periodic screenshots. Started alongside the local
// capture; Stop returns the buffered packets.
type RemoteCapture interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) ([]Packet, error)
}

// Episode is one finished recording, ready for submission.
type Episode struct {
	Samples    []float32
	Channels   int
	SampleRate int
	Packets    []Packet
}

// Recorder pairs the local microphone capture with an optional remote
// packet capture. The two start and stop together: a remote start
// failure tears the local capture back down, and Stop always attempts
// both sides.
type Recorder struct {
	microphone Microphone
	remote     RemoteCapture
	logger     *slog.Logger

	mu        sync.Mutex
	recording bool
	samples   []float32
	drained   chan struct{}
}

// NewRecorder creates a Recorder. remote may be nil for audio-only
// episodes; a nil logger defaults to slog.Default().
func NewRecorder(microphone Microphone, remote RemoteCapture, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{microphone: microphone, remote: remote, logger: logger}
}

// Start begins capturing. Starting while recording is an error.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return fmt.Errorf("episode: recording already in progress")
	}
	r.recording = true
	r.samples = nil
	r.drained = make(chan struct{})
	r.mu.Unlock()

	if err := r.microphone.Start(ctx); err != nil {
		r.mu.Lock()
		r.recording = false
		r.mu.Unlock()
		return fmt.Errorf("starting microphone: %w", err)
	}

	if r.remote != nil {
		if err := r.remote.Start(ctx); err != nil {
			if stopErr := r.microphone.Stop(); stopErr != nil {
				r.logger.Warn("stopping microphone after remote failure", "error", stopErr)
			}
			r.mu.Lock()
			r.recording = false
			r.mu.Unlock()
			return fmt.Errorf("starting remote capture: %w", err)
		}
	}

	go r.drain()

	r.logger.Info("recording started",
		"sample_rate", r.microphone.SampleRate(),
		"channels", r.microphone.Channels(),
		"remote", r.remote != nil)
	return nil
}

// drain buffers microphone frames until the device closes its channel.
func (r *Recorder) drain() {
	defer close(r.drained)
	for frame := range r.microphone.Frames() {
		r.mu.Lock()
		r.samples = append(r.samples, frame.Samples...)
		r.mu.Unlock()
	}
}

// Stop finalizes the episode. Both captures are stopped even if one
// side fails; the first error wins but never skips the other side.
func (r *Recorder) Stop(ctx context.Context) (*Episode, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return nil, fmt.Errorf("episode: no recording in progress")
	}
	r.recording = false
	drained := r.drained
	r.mu.Unlock()

	micErr := r.microphone.Stop()
	<-drained

	var packets []Packet
	var remoteErr error
	if r.remote != nil {
		packets, remoteErr = r.remote.Stop(ctx)
		if remoteErr != nil {
			r.logger.Warn("remote capture stop failed", "error", remoteErr)
		}
	}

	if micErr != nil {
		return nil, fmt.Errorf("stopping microphone: %w", micErr)
	}
	if remoteErr != nil {
		return nil, fmt.Errorf("stopping remote capture: %w", remoteErr)
	}

	r.mu.Lock()
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	return &Episode{
		Samples:    samples,
		Channels:   r.microphone.Channels(),
		SampleRate: r.microphone.SampleRate(),
		Packets:    packets,
	}, nil
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}
