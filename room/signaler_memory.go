// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler for tests. Offers, answers,
// and the roster live in maps guarded by one mutex; two Room instances
// sharing a MemorySignaler can establish PeerConnections over loopback
// without any network signaling.
type MemorySignaler struct {
	mu       sync.Mutex
	rosters  map[string][]string          // roomName → identities
	offers   map[string]SignalMessage     // key: room|from|to
	answers  map[string]SignalMessage     // key: room|from|to
	lastSeen map[string]time.Time         // per-consumer seen state
}

// NewMemorySignaler creates an in-process signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		rosters:  make(map[string][]string),
		offers:   make(map[string]SignalMessage),
		answers:  make(map[string]SignalMessage),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *MemorySignaler) Join(_ context.Context, roomName, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rosters[roomName] {
		if existing == identity {
			return nil
		}
	}
	s.rosters[roomName] = append(s.rosters[roomName], identity)
	sort.Strings(s.rosters[roomName])
	return nil
}

func (s *MemorySignaler) Leave(_ context.Context, roomName, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.rosters[roomName]
	for index, existing := range roster {
		if existing == identity {
			s.rosters[roomName] = append(roster[:index], roster[index+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemorySignaler) Roster(_ context.Context, roomName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := make([]string, len(s.rosters[roomName]))
	copy(roster, s.rosters[roomName])
	return roster, nil
}

func (s *MemorySignaler) PublishOffer(_ context.Context, roomName, from, to, sdp string) error {
	s.publish(s.offers, roomName, from, to, sdp)
	return nil
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, roomName, from, to, sdp string) error {
	s.publish(s.answers, roomName, from, to, sdp)
	return nil
}

func (s *MemorySignaler) publish(store map[string]SignalMessage, roomName, from, to, sdp string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	store[roomName+"|"+from+"|"+to] = SignalMessage{
		PeerIdentity: from,
		SDP:          sdp,
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
	}
}

func (s *MemorySignaler) PollOffers(_ context.Context, roomName, identity string) ([]SignalMessage, error) {
	return s.poll(s.offers, "offers", roomName, identity), nil
}

func (s *MemorySignaler) PollAnswers(_ context.Context, roomName, identity string) ([]SignalMessage, error) {
	return s.poll(s.answers, "answers", roomName, identity), nil
}

// poll returns unseen messages addressed to identity. Seen state is
// tracked per consumer so the same message is delivered once.
func (s *MemorySignaler) poll(store map[string]SignalMessage, storeLabel, roomName, identity string) []SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []SignalMessage
	suffix := "|" + identity
	prefix := roomName + "|"
	for key, message := range store {
		if len(key) < len(prefix)+len(suffix) || key[:len(prefix)] != prefix || key[len(key)-len(suffix):] != suffix {
			continue
		}
		timestamp, err := time.Parse(time.RFC3339Nano, message.Timestamp)
		if err != nil {
			continue
		}
		seenKey := storeLabel + ":" + identity + ":" + key
		if last, ok := s.lastSeen[seenKey]; ok && !timestamp.After(last) {
			continue
		}
		s.lastSeen[seenKey] = timestamp
		messages = append(messages, message)
	}
	return messages
}
