// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// AudioSource produces encoded audio frames for the local
// publication. Frame encoding is an external concern (the capture and
// encode pipeline hands the room ready-to-send Opus frames); the room
// only paces them onto the track.
type AudioSource interface {
	// NextSample blocks until the next frame is available. Returns
	// io.EOF when the source is exhausted or closed.
	NextSample() (media.Sample, error)

	// Close releases the underlying capture device.
	Close() error
}

// audioPublication owns the local audio track and its pacing pump.
//
// The publication is created muted. The track exists in every
// PeerConnection's SDP from the start ("present but silent"), so an
// unmute never requires renegotiation; it just lets frames through.
type audioPublication struct {
	track  *webrtc.TrackLocalStaticSample
	source AudioSource
	muted  atomic.Bool
	logger *slog.Logger
}

func newAudioPublication(source AudioSource, identity string, logger *slog.Logger) (*audioPublication, error) {
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "microphone", "lectern/"+identity)
	if err != nil {
		return nil, fmt.Errorf("creating audio track: %w", err)
	}

	publication := &audioPublication{
		track:  track,
		source: source,
		logger: logger,
	}
	publication.muted.Store(true)
	return publication, nil
}

// start runs the pump until the source ends or the room closes. While
// muted, frames are read and discarded: the capture device stays hot
// so unmute is instant, but nothing reaches the track.
func (p *audioPublication) start(closed <-chan struct{}) {
	go func() {
		defer p.source.Close()
		for {
			select {
			case <-closed:
				return
			default:
			}

			sample, err := p.source.NextSample()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					p.logger.Warn("audio source failed", "error", err)
				}
				return
			}
			if p.muted.Load() {
				continue
			}
			if err := p.track.WriteSample(sample); err != nil {
				p.logger.Warn("writing audio sample failed", "error", err)
			}
		}
	}()
}

// SetMicrophoneMuted flips the audio publication's mute state. With no
// audio source configured this returns an error so callers can revert
// their own mute bookkeeping.
func (r *Room) SetMicrophoneMuted(muted bool) error {
	if r.audio == nil {
		return fmt.Errorf("room: no audio publication configured")
	}
	r.audio.muted.Store(muted)
	return nil
}

// MicrophoneMuted reports the current publication mute state. Rooms
// without an audio source report muted.
func (r *Room) MicrophoneMuted() bool {
	if r.audio == nil {
		return true
	}
	return r.audio.muted.Load()
}
