// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package room

import "context"

// Signaler abstracts the mechanism for exchanging session descriptions
// and roster state between the participants of a room. The production
// implementation speaks the room service's websocket protocol; tests
// use in-process channels.
//
// The signaling model is vanilla ICE: a complete SDP (all candidates
// embedded) is published in one message, so connection establishment
// requires exactly one offer → answer round trip.
type Signaler interface {
	// Join registers identity as a member of roomName. Must be called
	// before any other operation on that room.
	Join(ctx context.Context, roomName, identity string) error

	// Leave removes identity from roomName's roster.
	Leave(ctx context.Context, roomName, identity string) error

	// Roster returns the identities currently joined to roomName,
	// including the caller.
	Roster(ctx context.Context, roomName string) ([]string, error)

	// PublishOffer publishes a complete SDP offer from one identity to
	// another within the room.
	PublishOffer(ctx context.Context, roomName, from, to, sdp string) error

	// PublishAnswer publishes a complete SDP answer in response to a
	// previously received offer.
	PublishAnswer(ctx context.Context, roomName, from, to, sdp string) error

	// PollOffers returns pending offers directed at identity that have
	// not been returned by a previous poll.
	PollOffers(ctx context.Context, roomName, identity string) ([]SignalMessage, error)

	// PollAnswers returns pending answers to offers originated by
	// identity that have not been returned by a previous poll.
	PollAnswers(ctx context.Context, roomName, identity string) ([]SignalMessage, error)
}

// SignalMessage is one signaling message (offer or answer).
type SignalMessage struct {
	// PeerIdentity is the other party: the offerer for received
	// offers, the answerer for received answers.
	PeerIdentity string

	// SDP is the complete session description with all ICE candidates
	// embedded.
	SDP string

	// Timestamp is the ISO 8601 creation time of the signal.
	Timestamp string
}
