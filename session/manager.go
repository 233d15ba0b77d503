// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lectern-ai/lectern/lib/clock"
	"github.com/lectern-ai/lectern/provision"
	"github.com/lectern-ai/lectern/room"
)

// State is the connection lifecycle state. Only StateReady permits
// RPCs to the agent.
type State string

const (
	StateIdle           State = "idle"
	StateTokenRequested State = "token-requested"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateReady          State = "ready"
	StateDisconnected   State = "disconnected"
	StateError          State = "error"
)

// handshakeMethod is the readiness RPC exchanged with the agent once
// it joins.
const handshakeMethod = "session/handshake"

// Room is the slice of the room transport the manager drives.
// *room.Room satisfies it.
type Room interface {
	Connect(ctx context.Context) error
	Close() error
	OnParticipantJoined(handler func(identity string))
	OnParticipantLeft(handler func(identity string))
	HandleData(handler func(room.DataMessage))
	PublishData(to, messageType string, fields map[string]any, reliable bool) error
	PerformRPC(ctx context.Context, destIdentity, method, payload string) (string, error)
	SetMicrophoneMuted(muted bool) error
	MicrophoneMuted() bool
	RemoteMediaArrived() bool
}

// Dialer constructs an unconnected Room for a grant. The roomName may
// differ from the grant's when the worker handoff redirects to the
// execution room.
type Dialer func(grant *provision.RoomGrant, roomName string) (Room, error)

// Provisioner is the token service slice the manager uses.
// *provision.Client satisfies it.
type Provisioner interface {
	GenerateRoom(ctx context.Context, curriculumID string, spawnAgent, spawnBrowser bool) (*provision.RoomGrant, error)
	Status(ctx context.Context, statusURL string) (*provision.SessionStatus, error)
	AwaitSessionID(ctx context.Context, statusURL string, interval time.Duration) (string, error)
}

// Config wires the Manager. Provisioner, Dialer, UserID, and
// AgentPrefix are required.
type Config struct {
	Provisioner Provisioner
	Dial        Dialer

	UserID      string
	AgentPrefix string

	// ResumeSummary describes restored local state for the one-time
	// session-resume message. Nil sends no resume message.
	ResumeSummary func() map[string]any

	// AwaitTimeout bounds the wait for the agent to join and answer
	// the handshake. Defaults to 30s.
	AwaitTimeout time.Duration

	// RPCTimeout bounds the handshake RPC. Defaults to 15s.
	RPCTimeout time.Duration

	// StatusPollInterval is the session-status polling cadence.
	// Defaults to 2s.
	StatusPollInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// attempt is one in-flight or settled connect, shared by every caller
// with the same barrier key.
type attempt struct {
	done chan struct{}
	err  error
}

// Manager owns the room connection and microphone for one client
// process.
type Manager struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	room      Room
	grant     *provision.RoomGrant
	sessionID string
	agent     string
	attempts  map[string]*attempt

	agentJoined chan string
	resumeOnce  sync.Once
}

// NewManager validates the config and builds an idle Manager.
func NewManager(config Config) (*Manager, error) {
	if config.Provisioner == nil || config.Dial == nil {
		return nil, fmt.Errorf("session: Provisioner and Dial are required")
	}
	if config.UserID == "" || config.AgentPrefix == "" {
		return nil, fmt.Errorf("session: UserID and AgentPrefix are required")
	}
	if config.AwaitTimeout <= 0 {
		config.AwaitTimeout = 30 * time.Second
	}
	if config.RPCTimeout <= 0 {
		config.RPCTimeout = 15 * time.Second
	}
	if config.StatusPollInterval <= 0 {
		config.StatusPollInterval = 2 * time.Second
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config:   config,
		clock:    clk,
		logger:   logger,
		state:    StateIdle,
		attempts: make(map[string]*attempt),
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AgentIdentity returns the agent participant's identity, empty before
// StateReady.
func (m *Manager) AgentIdentity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.agent
}

// Connect establishes the session for a course. Concurrent calls with
// the same course share one attempt: the second caller blocks on the
// first's outcome instead of requesting a second token. The barrier
// key clears on terminal states so a failed attempt can be retried.
func (m *Manager) Connect(ctx context.Context, courseID string) error {
	key := courseID + "|" + m.config.UserID

	m.mu.Lock()
	if existing, ok := m.attempts[key]; ok {
		m.mu.Unlock()
		select {
		case <-existing.done:
			return existing.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	current := &attempt{done: make(chan struct{})}
	m.attempts[key] = current
	m.mu.Unlock()

	current.err = m.connect(ctx, courseID)
	close(current.done)

	m.mu.Lock()
	if current.err != nil {
		// Terminal failure: clear the key so a retry starts fresh.
		delete(m.attempts, key)
	}
	m.mu.Unlock()
	return current.err
}

func (m *Manager) connect(ctx context.Context, courseID string) error {
	m.setState(StateTokenRequested)
	grant, err := m.config.Provisioner.GenerateRoom(ctx, courseID, true, true)
	if err != nil {
		m.setState(StateError)
		return fmt.Errorf("requesting room: %w", err)
	}

	m.setState(StateConnecting)
	roomHandle, err := m.dialAndJoin(ctx, grant, grant.RoomName)
	if err != nil {
		m.setState(StateError)
		return err
	}

	m.mu.Lock()
	m.room = roomHandle
	m.grant = grant
	m.sessionID = grant.SessionID
	m.mu.Unlock()
	m.setState(StateConnected)

	// Best-effort worker handoff: the status endpoint may name a
	// different execution room. Skip the redirect once remote media
	// has arrived; tearing down a live connection costs more than the
	// redirect saves.
	if execRoom := m.executionRoom(ctx, grant); execRoom != "" && execRoom != grant.RoomName {
		if roomHandle.RemoteMediaArrived() {
			m.logger.Info("skipping room handoff, remote media already flowing", "room", grant.RoomName)
		} else {
			m.logger.Info("redirecting to execution room", "from", grant.RoomName, "to", execRoom)
			roomHandle.Close()
			roomHandle, err = m.dialAndJoin(ctx, grant, execRoom)
			if err != nil {
				m.setState(StateError)
				return err
			}
			m.mu.Lock()
			m.room = roomHandle
			m.mu.Unlock()
		}
	}

	if err := m.awaitAgent(ctx, roomHandle); err != nil {
		m.setState(StateError)
		return err
	}

	m.setState(StateReady)
	m.sendResume(roomHandle)
	return nil
}

// dialAndJoin constructs the room, registers the agent watcher, and
// connects. The microphone is materialized by the dialer's audio
// source and then explicitly muted: the track must exist in the SDP
// from the start, but nothing is audible until a start-listening
// command unmutes it.
func (m *Manager) dialAndJoin(ctx context.Context, grant *provision.RoomGrant, roomName string) (Room, error) {
	roomHandle, err := m.config.Dial(grant, roomName)
	if err != nil {
		return nil, fmt.Errorf("constructing room %s: %w", roomName, err)
	}

	m.mu.Lock()
	m.agentJoined = make(chan string, 1)
	joined := m.agentJoined
	m.mu.Unlock()

	roomHandle.OnParticipantJoined(func(identity string) {
		m.logger.Info("participant joined", "identity", identity)
		if strings.HasPrefix(identity, m.config.AgentPrefix) {
			select {
			case joined <- identity:
			default:
			}
		}
	})
	roomHandle.OnParticipantLeft(func(identity string) {
		m.logger.Info("participant left", "identity", identity)
	})

	if err := roomHandle.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to room %s: %w", roomName, err)
	}
	if err := roomHandle.SetMicrophoneMuted(true); err != nil {
		// No audio source configured; the room reports muted anyway.
		m.logger.Debug("no microphone to mute", "error", err)
	}
	return roomHandle, nil
}

// executionRoom asks the status endpoint which room actually hosts the
// worker. Best-effort: any failure means "no redirect".
func (m *Manager) executionRoom(ctx context.Context, grant *provision.RoomGrant) string {
	if grant.StatusURL == "" {
		return ""
	}
	status, err := m.config.Provisioner.Status(ctx, grant.StatusURL)
	if err != nil {
		m.logger.Warn("session status unavailable, staying in granted room", "error", err)
		return ""
	}
	if status.SessionID != "" {
		m.mu.Lock()
		m.sessionID = status.SessionID
		m.mu.Unlock()
	}
	if status.State != provision.StateReady {
		return ""
	}
	return status.RoomName
}

// awaitAgent waits for the agent participant and completes the
// readiness handshake.
func (m *Manager) awaitAgent(ctx context.Context, roomHandle Room) error {
	m.mu.Lock()
	joined := m.agentJoined
	m.mu.Unlock()

	var agentIdentity string
	select {
	case agentIdentity = <-joined:
	case <-m.clock.After(m.config.AwaitTimeout):
		return fmt.Errorf("agent did not join within %s", m.config.AwaitTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	rpcCtx, cancel := context.WithTimeout(ctx, m.config.RPCTimeout)
	defer cancel()
	if _, err := roomHandle.PerformRPC(rpcCtx, agentIdentity, handshakeMethod, m.config.UserID); err != nil {
		return fmt.Errorf("agent handshake: %w", err)
	}

	m.mu.Lock()
	m.agent = agentIdentity
	m.mu.Unlock()
	m.logger.Info("agent ready", "identity", agentIdentity)
	return nil
}

// sendResume sends the one-time session-resume message summarizing
// restored local state. At most one resume per Manager lifetime, even
// across a worker-room handoff.
func (m *Manager) sendResume(roomHandle Room) {
	if m.config.ResumeSummary == nil {
		return
	}
	m.resumeOnce.Do(func() {
		m.mu.Lock()
		agentIdentity := m.agent
		m.mu.Unlock()
		if err := roomHandle.PublishData(agentIdentity, "session_resume", m.config.ResumeSummary(), true); err != nil {
			m.logger.Warn("sending session resume failed", "error", err)
		}
	})
}

// Disconnect closes the room and clears every barrier key. It never
// deletes the remote worker session; that is the cleanup guard's job,
// and it only acts on genuine unload.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	roomHandle := m.room
	m.room = nil
	m.agent = ""
	m.attempts = make(map[string]*attempt)
	m.mu.Unlock()

	m.setState(StateDisconnected)
	if roomHandle != nil {
		return roomHandle.Close()
	}
	return nil
}

// Room returns the live room, or nil before Connect succeeds.
func (m *Manager) Room() Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// SetMuted flips the microphone publication. Satisfies the
// dispatcher's Microphone dependency.
func (m *Manager) SetMuted(muted bool) error {
	m.mu.Lock()
	roomHandle := m.room
	m.mu.Unlock()
	if roomHandle == nil {
		return fmt.Errorf("session: not connected")
	}
	return roomHandle.SetMicrophoneMuted(muted)
}

// ResolveSessionID returns the worker session id, polling the status
// endpoint within ctx's deadline if it is not yet known.
func (m *Manager) ResolveSessionID(ctx context.Context) (string, error) {
	m.mu.Lock()
	sessionID := m.sessionID
	grant := m.grant
	m.mu.Unlock()

	if sessionID != "" {
		return sessionID, nil
	}
	if grant == nil || grant.StatusURL == "" {
		return "", fmt.Errorf("session: no session id and no status URL to resolve one")
	}

	sessionID, err := m.config.Provisioner.AwaitSessionID(ctx, grant.StatusURL, m.config.StatusPollInterval)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.sessionID = sessionID
	m.mu.Unlock()
	return sessionID, nil
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	previous := m.state
	m.state = state
	m.mu.Unlock()
	if previous != state {
		m.logger.Debug("session state change", "from", previous, "to", state)
	}
}
