// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/lectern-ai/lectern/lib/testutil"
)

const establishTimeout = 30 * time.Second

// connectPair stands up two Rooms on a shared in-memory signaler and
// waits for both sides to see each other. The setup hook runs before
// Connect so handlers can be registered without racing the transport.
// Cleanup closes both rooms.
func connectPair(t *testing.T, setup func(a, b *Room)) (*Room, *Room) {
	t.Helper()

	signaler := NewMemorySignaler()
	roomA, err := New(Config{Name: "lesson-1", Identity: "agent/tutor", Signaler: signaler})
	if err != nil {
		t.Fatalf("New(A): %v", err)
	}
	roomB, err := New(Config{Name: "lesson-1", Identity: "user/pat", Signaler: signaler})
	if err != nil {
		t.Fatalf("New(B): %v", err)
	}
	t.Cleanup(func() {
		roomA.Close()
		roomB.Close()
	})
	if setup != nil {
		setup(roomA, roomB)
	}

	joinedA := make(chan string, 4)
	joinedB := make(chan string, 4)
	roomA.OnParticipantJoined(func(identity string) { joinedA <- identity })
	roomB.OnParticipantJoined(func(identity string) { joinedB <- identity })

	ctx := context.Background()
	if err := roomA.Connect(ctx); err != nil {
		t.Fatalf("Connect(A): %v", err)
	}
	if err := roomB.Connect(ctx); err != nil {
		t.Fatalf("Connect(B): %v", err)
	}

	if got := testutil.RequireReceive(t, joinedA, establishTimeout, "A waiting for B"); got != "user/pat" {
		t.Fatalf("A saw joined %q", got)
	}
	if got := testutil.RequireReceive(t, joinedB, establishTimeout, "B waiting for A"); got != "agent/tutor" {
		t.Fatalf("B saw joined %q", got)
	}
	return roomA, roomB
}

func TestRoomDataExchange(t *testing.T) {
	if testing.Short() {
		t.Skip("establishes real peer connections")
	}

	received := make(chan DataMessage, 4)
	roomA, _ := connectPair(t, func(a, b *Room) {
		b.HandleData(func(message DataMessage) { received <- message })
	})

	if err := roomA.PublishData("user/pat", "board_update", map[string]any{"topic": "fractions"}, true); err != nil {
		t.Fatalf("PublishData: %v", err)
	}

	message := testutil.RequireReceive(t, received, establishTimeout, "waiting for data message")
	if message.Type != "board_update" {
		t.Errorf("Type = %q", message.Type)
	}
	if message.From != "agent/tutor" {
		t.Errorf("From = %q", message.From)
	}
	if message.FieldString("topic") != "fractions" {
		t.Errorf("topic = %q", message.FieldString("topic"))
	}

	participants := roomA.Participants()
	if len(participants) != 1 || participants[0] != "user/pat" {
		t.Errorf("Participants(A) = %v", participants)
	}
}

func TestRoomBroadcast(t *testing.T) {
	if testing.Short() {
		t.Skip("establishes real peer connections")
	}

	received := make(chan DataMessage, 4)
	roomA, _ := connectPair(t, func(a, b *Room) {
		b.HandleData(func(message DataMessage) { received <- message })
	})

	if err := roomA.PublishData("", "heartbeat", nil, false); err != nil {
		t.Fatalf("broadcast PublishData: %v", err)
	}
	message := testutil.RequireReceive(t, received, establishTimeout, "waiting for broadcast")
	if message.Type != "heartbeat" {
		t.Errorf("Type = %q", message.Type)
	}
}

func TestRoomRPCRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("establishes real peer connections")
	}

	roomA, _ := connectPair(t, func(a, b *Room) {
		b.RegisterRPCMethod("echo", func(ctx context.Context, caller, payload string) (string, error) {
			return caller + ":" + payload, nil
		})
		b.RegisterRPCMethod("reject", func(ctx context.Context, caller, payload string) (string, error) {
			return "", errors.New("not today")
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), establishTimeout)
	defer cancel()

	response, err := roomA.PerformRPC(ctx, "user/pat", "echo", "hello")
	if err != nil {
		t.Fatalf("PerformRPC(echo): %v", err)
	}
	if response != "agent/tutor:hello" {
		t.Errorf("response = %q", response)
	}

	if _, err := roomA.PerformRPC(ctx, "user/pat", "reject", ""); err == nil {
		t.Error("handler error not propagated")
	} else if !strings.Contains(err.Error(), "not today") {
		t.Errorf("handler error text lost: %v", err)
	}

	if _, err := roomA.PerformRPC(ctx, "user/pat", "no_such_method", ""); err == nil {
		t.Error("unknown method accepted")
	}
}

func TestPerformRPCUnknownParticipant(t *testing.T) {
	signaler := NewMemorySignaler()
	r, err := New(Config{Name: "lesson-1", Identity: "user/pat", Signaler: signaler})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	_, err = r.PerformRPC(context.Background(), "worker/chrome-1", "ping", "")
	if !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("err = %v, want ErrUnknownParticipant", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Identity: "user/pat", Signaler: NewMemorySignaler()}); err == nil {
		t.Error("missing Name accepted")
	}
	if _, err := New(Config{Name: "lesson-1", Identity: "user/pat"}); err == nil {
		t.Error("missing Signaler accepted")
	}
}

// silentSource feeds a fixed number of tiny frames, then EOF.
type silentSource struct {
	remaining int
}

func (s *silentSource) NextSample() (media.Sample, error) {
	if s.remaining == 0 {
		return media.Sample{}, io.EOF
	}
	s.remaining--
	time.Sleep(20 * time.Millisecond)
	return media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond}, nil
}

func (s *silentSource) Close() error { return nil }

func TestMicrophoneDefaultsMuted(t *testing.T) {
	r, err := New(Config{
		Name:     "lesson-1",
		Identity: "user/pat",
		Signaler: NewMemorySignaler(),
		Audio:    &silentSource{remaining: 5},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if !r.MicrophoneMuted() {
		t.Error("publication not muted at construction")
	}
	if err := r.SetMicrophoneMuted(false); err != nil {
		t.Fatalf("SetMicrophoneMuted(false): %v", err)
	}
	if r.MicrophoneMuted() {
		t.Error("unmute did not take effect")
	}
	if err := r.SetMicrophoneMuted(true); err != nil {
		t.Fatalf("SetMicrophoneMuted(true): %v", err)
	}
}

func TestSetMicrophoneMutedWithoutSource(t *testing.T) {
	r, err := New(Config{Name: "lesson-1", Identity: "user/pat", Signaler: NewMemorySignaler()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if err := r.SetMicrophoneMuted(false); err == nil {
		t.Error("unmute without audio source accepted")
	}
	if !r.MicrophoneMuted() {
		t.Error("sourceless room must report muted")
	}
}
