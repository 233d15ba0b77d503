// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// signalingPollInterval is how often the room polls for inbound offers
// and roster changes.
const signalingPollInterval = 2 * time.Second

// iceGatherTimeout bounds ICE candidate gathering before the SDP is
// published.
const iceGatherTimeout = 15 * time.Second

// answerPollInterval is how often a dialer polls for an SDP answer
// after publishing an offer.
const answerPollInterval = 500 * time.Millisecond

// answerTimeout bounds the wait for an SDP answer.
const answerTimeout = 30 * time.Second

// Data channel labels. The canonical offerer creates both channels;
// the answerer receives them via OnDataChannel.
const (
	reliableChannelLabel = "reliable"
	lossyChannelLabel    = "lossy"
)

// ErrUnknownParticipant is returned when a send or RPC is addressed to
// an identity with no established peer connection.
var ErrUnknownParticipant = errors.New("room: unknown participant identity")

// Config configures a Room. Name, Identity, and Signaler are required.
type Config struct {
	// Name is the room name shared by all participants.
	Name string

	// Identity is the local participant identity.
	Identity string

	// Signaler exchanges SDP and roster state with the room service.
	Signaler Signaler

	// ICEServers configures STUN/TURN. Empty means host candidates
	// only, which is sufficient for loopback tests.
	ICEServers []webrtc.ICEServer

	// Audio is the local audio source. Nil disables the audio
	// publication entirely (no microphone in the room).
	Audio AudioSource

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Room is one participant's connection to a named room: a WebRTC mesh
// with one PeerConnection per remote participant. Construct with New,
// register event handlers, then Connect. A Room is owned by exactly
// one session manager; other components must go through it rather
// than holding their own transport state.
type Room struct {
	name     string
	identity string
	signaler Signaler
	logger   *slog.Logger

	iceServers []webrtc.ICEServer

	// peers maps participant identity → peerState.
	mu    sync.Mutex
	peers map[string]*peerState

	// Event handlers. Set before Connect; not guarded afterwards.
	dataHandlers  []func(DataMessage)
	joinedHandler func(identity string)
	leftHandler   func(identity string)

	// remoteMedia records whether any remote media track has arrived.
	// The session manager consults it to decide whether a room
	// handoff is still worthwhile.
	remoteMedia atomic.Bool

	audio *audioPublication

	// RPC primitive state (rpcprim.go).
	rpcMu      sync.Mutex
	rpcMethods map[string]RPCHandler
	rpcPending map[string]chan rpcResult

	// pendingAnswers buffers polled SDP answers by peer identity.
	// PollAnswers consumes signals once, so concurrent dialers must
	// not discard answers meant for another waiter.
	answerMu       sync.Mutex
	pendingAnswers map[string]string

	closed    chan struct{}
	closeOnce sync.Once
}

// peerState tracks the PeerConnection to one remote participant.
type peerState struct {
	identity   string
	connection *webrtc.PeerConnection

	// established is closed when the reliable data channel opens.
	established chan struct{}

	mu       sync.Mutex
	reliable *webrtc.DataChannel
	lossy    *webrtc.DataChannel

	// announced is set once the joined event has fired, so the left
	// event only fires for participants that were announced.
	announced bool
}

// New creates a Room. The audio publication is materialized here (the
// track exists and is added to every future PeerConnection) but starts
// muted; only SetMicrophoneMuted(false) makes it audible.
func New(config Config) (*Room, error) {
	if config.Name == "" || config.Identity == "" {
		return nil, fmt.Errorf("room: Name and Identity are required")
	}
	if config.Signaler == nil {
		return nil, fmt.Errorf("room: Signaler is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Room{
		name:           config.Name,
		identity:       config.Identity,
		signaler:       config.Signaler,
		logger:         logger,
		iceServers:     config.ICEServers,
		peers:          make(map[string]*peerState),
		rpcMethods:     make(map[string]RPCHandler),
		rpcPending:     make(map[string]chan rpcResult),
		pendingAnswers: make(map[string]string),
		closed:         make(chan struct{}),
	}

	if config.Audio != nil {
		publication, err := newAudioPublication(config.Audio, config.Identity, logger)
		if err != nil {
			return nil, err
		}
		r.audio = publication
	}

	return r, nil
}

// Identity returns the local participant identity.
func (r *Room) Identity() string { return r.identity }

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// HandleData registers a handler for inbound application data
// messages. Transport-internal messages (RPC envelopes) are not
// delivered here. Must be called before Connect.
func (r *Room) HandleData(handler func(DataMessage)) {
	r.dataHandlers = append(r.dataHandlers, handler)
}

// OnParticipantJoined registers the participant-joined callback,
// invoked once per remote participant when its reliable channel opens.
// Must be called before Connect.
func (r *Room) OnParticipantJoined(handler func(identity string)) {
	r.joinedHandler = handler
}

// OnParticipantLeft registers the participant-left callback. Must be
// called before Connect.
func (r *Room) OnParticipantLeft(handler func(identity string)) {
	r.leftHandler = handler
}

// RemoteMediaArrived reports whether any remote media track has been
// received since Connect.
func (r *Room) RemoteMediaArrived() bool { return r.remoteMedia.Load() }

// Connect joins the room roster, starts the audio pump, and starts the
// signaling poller. It returns once polling is running; peer
// connections establish asynchronously and surface through the
// participant-joined callback.
func (r *Room) Connect(ctx context.Context) error {
	if err := r.signaler.Join(ctx, r.name, r.identity); err != nil {
		return fmt.Errorf("joining room %s: %w", r.name, err)
	}
	if r.audio != nil {
		r.audio.start(r.closed)
	}
	go r.signalingPoller(ctx)
	return nil
}

// Close tears down every PeerConnection and leaves the room roster.
func (r *Room) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
	})

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.signaler.Leave(leaveCtx, r.name, r.identity); err != nil {
		r.logger.Warn("leaving room roster failed", "room", r.name, "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for identity, peer := range r.peers {
		peer.connection.Close()
		delete(r.peers, identity)
	}
	return nil
}

// Participants returns the identities with an established connection.
func (r *Room) Participants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	identities := make([]string, 0, len(r.peers))
	for identity, peer := range r.peers {
		select {
		case <-peer.established:
			identities = append(identities, identity)
		default:
		}
	}
	return identities
}

// PublishData sends an application data message. An empty `to`
// broadcasts to every established peer; otherwise the message goes to
// that identity only. reliable selects the ordered channel; the lossy
// channel is for high-rate state where a dropped message is preferable
// to a stale backlog.
func (r *Room) PublishData(to, messageType string, fields map[string]any, reliable bool) error {
	select {
	case <-r.closed:
		return net.ErrClosed
	default:
	}

	data, err := encodeEnvelope(messageType, r.identity, to, fields)
	if err != nil {
		return err
	}

	if to != "" {
		peer := r.establishedPeer(to)
		if peer == nil {
			return fmt.Errorf("%w: %s", ErrUnknownParticipant, to)
		}
		return peer.send(data, reliable)
	}

	r.mu.Lock()
	peers := make([]*peerState, 0, len(r.peers))
	for _, peer := range r.peers {
		peers = append(peers, peer)
	}
	r.mu.Unlock()

	var sendErrors []error
	for _, peer := range peers {
		select {
		case <-peer.established:
		default:
			continue
		}
		if err := peer.send(data, reliable); err != nil {
			sendErrors = append(sendErrors, fmt.Errorf("to %s: %w", peer.identity, err))
		}
	}
	return errors.Join(sendErrors...)
}

// establishedPeer returns the peer for identity if its reliable
// channel is open, else nil.
func (r *Room) establishedPeer(identity string) *peerState {
	r.mu.Lock()
	peer, ok := r.peers[identity]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-peer.established:
		return peer
	default:
		return nil
	}
}

// send transmits raw envelope bytes on one of the peer's channels.
func (p *peerState) send(data []byte, reliable bool) error {
	p.mu.Lock()
	channel := p.reliable
	if !reliable {
		channel = p.lossy
	}
	p.mu.Unlock()

	if channel == nil || channel.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel to %s not open", p.identity)
	}
	if err := channel.Send(data); err != nil {
		return fmt.Errorf("sending to %s: %w", p.identity, err)
	}
	return nil
}

// signalingPoller drives roster dialing and inbound offer answering.
func (r *Room) signalingPoller(ctx context.Context) {
	ticker := time.NewTicker(signalingPollInterval)
	defer ticker.Stop()

	// Process once immediately so loopback tests don't wait a full
	// interval for the first roster scan.
	r.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closed:
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *Room) pollOnce(ctx context.Context) {
	r.processInboundOffers(ctx)
	r.dialNewParticipants(ctx)
}

// dialNewParticipants offers to roster members we should connect to.
// Glare is avoided by a fixed tie-break: the lexicographically smaller
// identity is the canonical offerer for any pair.
func (r *Room) dialNewParticipants(ctx context.Context) {
	roster, err := r.signaler.Roster(ctx, r.name)
	if err != nil {
		r.logger.Warn("roster poll failed", "room", r.name, "error", err)
		return
	}

	for _, identity := range roster {
		if identity == r.identity || r.identity > identity {
			continue
		}

		r.mu.Lock()
		existing, ok := r.peers[identity]
		if ok && !connectionDead(existing.connection) {
			r.mu.Unlock()
			continue
		}
		if ok {
			existing.connection.Close()
			delete(r.peers, identity)
		}
		// Reserve the slot before releasing the lock so the next poll
		// tick doesn't start a parallel attempt.
		peer, err := r.newPeer(identity)
		if err != nil {
			r.mu.Unlock()
			r.logger.Error("creating peer connection failed", "peer", identity, "error", err)
			continue
		}
		r.peers[identity] = peer
		r.mu.Unlock()

		go func(peer *peerState) {
			if err := r.establishOutbound(ctx, peer); err != nil {
				r.logger.Error("outbound connection failed", "peer", peer.identity, "error", err)
				r.removePeer(peer)
			}
		}(peer)
	}
}

func connectionDead(pc *webrtc.PeerConnection) bool {
	state := pc.ICEConnectionState()
	return state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed
}

// newPeer creates the PeerConnection, wires state handlers, and adds
// the audio publication. Caller holds r.mu.
func (r *Room) newPeer(identity string) (*peerState, error) {
	pc, err := r.newPeerConnection()
	if err != nil {
		return nil, err
	}

	peer := &peerState{
		identity:    identity,
		connection:  pc,
		established: make(chan struct{}),
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		r.handleICEStateChange(peer, state)
	})
	pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
		r.remoteMedia.Store(true)
	})

	if r.audio != nil {
		if _, err := pc.AddTrack(r.audio.track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("adding audio track for %s: %w", identity, err)
		}
	}

	return peer, nil
}

// establishOutbound creates the data channels, publishes the offer,
// and applies the answer. The peer is already registered in r.peers.
func (r *Room) establishOutbound(ctx context.Context, peer *peerState) error {
	pc := peer.connection

	reliable, err := pc.CreateDataChannel(reliableChannelLabel, &webrtc.DataChannelInit{
		Ordered: ptr(true),
	})
	if err != nil {
		return fmt.Errorf("creating reliable channel: %w", err)
	}
	lossy, err := pc.CreateDataChannel(lossyChannelLabel, &webrtc.DataChannelInit{
		Ordered:        ptr(false),
		MaxRetransmits: ptr(uint16(0)),
	})
	if err != nil {
		return fmt.Errorf("creating lossy channel: %w", err)
	}
	r.wireDataChannel(peer, reliable)
	r.wireDataChannel(peer, lossy)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating SDP offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := r.signaler.PublishOffer(ctx, r.name, r.identity, peer.identity, pc.LocalDescription().SDP); err != nil {
		return fmt.Errorf("publishing SDP offer: %w", err)
	}
	r.logger.Info("offer published", "peer", peer.identity)

	answerSDP, err := r.waitForAnswer(ctx, peer.identity)
	if err != nil {
		return fmt.Errorf("waiting for answer from %s: %w", peer.identity, err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}

	r.logger.Info("outbound connection established", "peer", peer.identity)
	return nil
}

// waitForAnswer polls the signaler for the peer's SDP answer.
func (r *Room) waitForAnswer(ctx context.Context, peerIdentity string) (string, error) {
	deadline := time.After(answerTimeout)
	ticker := time.NewTicker(answerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return "", fmt.Errorf("timed out after %s", answerTimeout)
		case <-ctx.Done():
			return "", ctx.Err()
		case <-r.closed:
			return "", net.ErrClosed
		case <-ticker.C:
			answers, err := r.signaler.PollAnswers(ctx, r.name, r.identity)
			if err != nil {
				r.logger.Warn("answer poll failed", "error", err)
				continue
			}
			r.answerMu.Lock()
			for _, answer := range answers {
				r.pendingAnswers[answer.PeerIdentity] = answer.SDP
			}
			sdp, ok := r.pendingAnswers[peerIdentity]
			if ok {
				delete(r.pendingAnswers, peerIdentity)
			}
			r.answerMu.Unlock()
			if ok {
				return sdp, nil
			}
		}
	}
}

// processInboundOffers answers offers from canonical offerers.
func (r *Room) processInboundOffers(ctx context.Context) {
	offers, err := r.signaler.PollOffers(ctx, r.name, r.identity)
	if err != nil {
		r.logger.Warn("offer poll failed", "error", err)
		return
	}

	for _, offer := range offers {
		r.mu.Lock()
		if existing, ok := r.peers[offer.PeerIdentity]; ok {
			if !connectionDead(existing.connection) {
				// A live connection already exists; the offer is stale.
				r.mu.Unlock()
				continue
			}
			existing.connection.Close()
			delete(r.peers, offer.PeerIdentity)
		}
		r.mu.Unlock()

		if err := r.answerOffer(ctx, offer); err != nil {
			r.logger.Error("answering offer failed", "peer", offer.PeerIdentity, "error", err)
		}
	}
}

// answerOffer builds the answering PeerConnection. The offerer creates
// the data channels; they arrive here through OnDataChannel.
func (r *Room) answerOffer(ctx context.Context, offer SignalMessage) error {
	r.mu.Lock()
	peer, err := r.newPeer(offer.PeerIdentity)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.peers[offer.PeerIdentity] = peer
	r.mu.Unlock()

	pc := peer.connection
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		r.wireDataChannel(peer, dc)
	})

	fail := func(err error) error {
		r.removePeer(peer)
		return err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		return fail(fmt.Errorf("setting remote description: %w", err))
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("creating SDP answer: %w", err))
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("setting local description: %w", err))
	}
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return fail(fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout))
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	if err := r.signaler.PublishAnswer(ctx, r.name, r.identity, offer.PeerIdentity, pc.LocalDescription().SDP); err != nil {
		return fail(fmt.Errorf("publishing SDP answer: %w", err))
	}

	r.logger.Info("inbound connection answered", "peer", offer.PeerIdentity)
	return nil
}

// wireDataChannel attaches message and open handlers to a channel.
// Opening the reliable channel marks the peer established and fires
// the joined event exactly once.
func (r *Room) wireDataChannel(peer *peerState, dc *webrtc.DataChannel) {
	label := dc.Label()

	peer.mu.Lock()
	switch label {
	case reliableChannelLabel:
		peer.reliable = dc
	case lossyChannelLabel:
		peer.lossy = dc
	default:
		peer.mu.Unlock()
		r.logger.Warn("unexpected data channel label", "peer", peer.identity, "label", label)
		dc.Close()
		return
	}
	peer.mu.Unlock()

	dc.OnMessage(func(message webrtc.DataChannelMessage) {
		r.handleInbound(peer.identity, message.Data)
	})

	if label == reliableChannelLabel {
		dc.OnOpen(func() {
			r.logger.Debug("reliable channel open", "peer", peer.identity)
			peer.mu.Lock()
			alreadyAnnounced := peer.announced
			peer.announced = true
			peer.mu.Unlock()

			select {
			case <-peer.established:
			default:
				close(peer.established)
			}
			if !alreadyAnnounced && r.joinedHandler != nil {
				r.joinedHandler(peer.identity)
			}
		})
	}
}

// handleInbound routes one decoded envelope: transport RPC messages to
// the RPC primitive, everything else to the data handlers. Messages
// addressed to a different identity are dropped.
func (r *Room) handleInbound(fromIdentity string, data []byte) {
	message, to, err := decodeEnvelope(data)
	if err != nil {
		r.logger.Warn("dropping malformed envelope", "peer", fromIdentity, "error", err)
		return
	}
	if to != "" && to != r.identity {
		return
	}
	if message.From == "" {
		message.From = fromIdentity
	}

	switch message.Type {
	case messageTypeRPCRequest:
		r.handleRPCRequest(message)
	case messageTypeRPCResponse:
		r.handleRPCResponse(message)
	default:
		for _, handler := range r.dataHandlers {
			handler(message)
		}
	}
}

// handleICEStateChange fires left events and cleans up dead peers.
func (r *Room) handleICEStateChange(peer *peerState, state webrtc.ICEConnectionState) {
	r.logger.Info("ICE state change", "peer", peer.identity, "state", state.String())

	switch state {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		r.removePeer(peer)
	}
}

// removePeer drops the peer from the map (if it is still the current
// entry) and fires the left event for announced participants.
func (r *Room) removePeer(peer *peerState) {
	r.mu.Lock()
	if current, ok := r.peers[peer.identity]; ok && current == peer {
		delete(r.peers, peer.identity)
	}
	r.mu.Unlock()
	peer.connection.Close()

	peer.mu.Lock()
	wasAnnounced := peer.announced
	peer.announced = false
	peer.mu.Unlock()

	if wasAnnounced && r.leftHandler != nil {
		r.leftHandler(peer.identity)
	}
}

// newPeerConnection builds a pion PeerConnection with loopback
// candidates enabled so same-host tests work without STUN.
func (r *Room) newPeerConnection() (*webrtc.PeerConnection, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: r.iceServers})
}

func ptr[T any](v T) *T { return &v }
