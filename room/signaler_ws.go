// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsWriteTimeout bounds a single websocket write to the room service.
const wsWriteTimeout = 10 * time.Second

// wsFrame is the wire shape of every message on the signaling socket,
// both directions. Kind discriminates; unused fields are omitted.
type wsFrame struct {
	Kind string `json:"kind"`
	Room string `json:"room,omitempty"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	SDP  string `json:"sdp,omitempty"`

	// Roster is populated on roster frames from the service.
	Roster []string `json:"roster,omitempty"`

	// Error is populated on rejection frames from the service.
	Error string `json:"error,omitempty"`
}

// Frame kinds on the signaling socket.
const (
	wsKindJoin   = "join"
	wsKindLeave  = "leave"
	wsKindOffer  = "offer"
	wsKindAnswer = "answer"
	wsKindRoster = "roster"
	wsKindError  = "error"
)

// WSSignaler is the production Signaler: one websocket to the room
// service, authenticated by the session token minted at provisioning.
// The service pushes offers, answers, and roster frames down the
// socket; the signaler buffers them so the Room's poll-based interface
// works unchanged against both this and the in-memory test signaler.
type WSSignaler struct {
	url   string
	token string

	mu     sync.Mutex
	conn   *websocket.Conn
	roster []string

	// writeMu serializes socket writes; gorilla/websocket permits at
	// most one concurrent writer.
	writeMu sync.Mutex

	// Inbound SDP buffers, drained by PollOffers/PollAnswers.
	offers  []SignalMessage
	answers []SignalMessage

	readErr  error
	closed   chan struct{}
	closeOne sync.Once
}

// NewWSSignaler creates a signaler for the room service at url (a ws://
// or wss:// endpoint). The token is sent as a bearer header during the
// websocket handshake. The connection is not opened until Join.
func NewWSSignaler(url, token string) *WSSignaler {
	return &WSSignaler{
		url:    url,
		token:  token,
		closed: make(chan struct{}),
	}
}

// Join dials the room service and announces the local identity. The
// reader goroutine starts here and feeds the poll buffers until the
// socket closes.
func (s *WSSignaler) Join(ctx context.Context, roomName, identity string) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	header := map[string][]string{
		"Authorization": {"Bearer " + s.token},
	}
	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("dialing room service %s: %w", s.url, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)

	return s.write(wsFrame{Kind: wsKindJoin, Room: roomName, From: identity})
}

// Leave announces departure and closes the socket.
func (s *WSSignaler) Leave(ctx context.Context, roomName, identity string) error {
	err := s.write(wsFrame{Kind: wsKindLeave, Room: roomName, From: identity})

	s.closeOne.Do(func() { close(s.closed) })
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return err
}

// Roster returns the most recent roster frame pushed by the service.
func (s *WSSignaler) Roster(ctx context.Context, roomName string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	roster := make([]string, len(s.roster))
	copy(roster, s.roster)
	return roster, nil
}

// PublishOffer sends an SDP offer frame addressed to one participant.
func (s *WSSignaler) PublishOffer(ctx context.Context, roomName, fromIdentity, toIdentity, sdp string) error {
	return s.write(wsFrame{Kind: wsKindOffer, Room: roomName, From: fromIdentity, To: toIdentity, SDP: sdp})
}

// PublishAnswer sends an SDP answer frame addressed to one participant.
func (s *WSSignaler) PublishAnswer(ctx context.Context, roomName, fromIdentity, toIdentity, sdp string) error {
	return s.write(wsFrame{Kind: wsKindAnswer, Room: roomName, From: fromIdentity, To: toIdentity, SDP: sdp})
}

// PollOffers drains the buffered inbound offers.
func (s *WSSignaler) PollOffers(ctx context.Context, roomName, forIdentity string) ([]SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil && len(s.offers) == 0 {
		return nil, s.readErr
	}
	offers := s.offers
	s.offers = nil
	return offers, nil
}

// PollAnswers drains the buffered inbound answers.
func (s *WSSignaler) PollAnswers(ctx context.Context, roomName, forIdentity string) ([]SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil && len(s.answers) == 0 {
		return nil, s.readErr
	}
	answers := s.answers
	s.answers = nil
	return answers, nil
}

func (s *WSSignaler) write(frame wsFrame) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", frame.Kind, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing %s frame: %w", frame.Kind, err)
	}
	return nil
}

// readLoop feeds inbound frames into the poll buffers until the socket
// dies. The terminal error is surfaced on the next poll so the Room
// logs it instead of silently stalling.
func (s *WSSignaler) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			select {
			case <-s.closed:
				// Deliberate close; not an error.
			default:
				s.readErr = fmt.Errorf("room service socket: %w", err)
			}
			s.mu.Unlock()
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		s.mu.Lock()
		switch frame.Kind {
		case wsKindRoster:
			s.roster = frame.Roster
		case wsKindOffer:
			s.offers = append(s.offers, SignalMessage{
				PeerIdentity: frame.From,
				SDP:          frame.SDP,
				Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
			})
		case wsKindAnswer:
			s.answers = append(s.answers, SignalMessage{
				PeerIdentity: frame.From,
				SDP:          frame.SDP,
				Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
			})
		case wsKindError:
			s.readErr = fmt.Errorf("room service rejected: %s", frame.Error)
		}
		s.mu.Unlock()
	}
}
