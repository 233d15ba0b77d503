// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lectern-ai/lectern/provision"
	"github.com/lectern-ai/lectern/room"
)

// fakeRoom simulates an established room where the agent joins as soon
// as the joined handler is registered and Connect is called.
type fakeRoom struct {
	mu            sync.Mutex
	joinedHandler func(string)
	agentIdentity string
	rpcCalls      []string
	published     []room.DataMessage
	publishedTo   []string
	muteCalls     []bool
	remoteMedia   bool
	closed        bool
	rpcErr        error
}

func newFakeRoom(agentIdentity string) *fakeRoom {
	return &fakeRoom{agentIdentity: agentIdentity}
}

func (r *fakeRoom) Connect(ctx context.Context) error {
	if r.agentIdentity != "" {
		go r.joinedHandler(r.agentIdentity)
	}
	return nil
}

func (r *fakeRoom) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRoom) OnParticipantJoined(handler func(string))  { r.joinedHandler = handler }
func (r *fakeRoom) OnParticipantLeft(handler func(string))    {}
func (r *fakeRoom) HandleData(handler func(room.DataMessage)) {}

func (r *fakeRoom) PublishData(to, messageType string, fields map[string]any, reliable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, room.DataMessage{Type: messageType, Fields: fields})
	r.publishedTo = append(r.publishedTo, to)
	return nil
}

func (r *fakeRoom) PerformRPC(ctx context.Context, destIdentity, method, payload string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rpcErr != nil {
		return "", r.rpcErr
	}
	r.rpcCalls = append(r.rpcCalls, destIdentity+":"+method)
	return "ok", nil
}

func (r *fakeRoom) SetMicrophoneMuted(muted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muteCalls = append(r.muteCalls, muted)
	return nil
}

func (r *fakeRoom) MicrophoneMuted() bool    { return true }
func (r *fakeRoom) RemoteMediaArrived() bool { return r.remoteMedia }

// fakeProvisioner counts token requests.
type fakeProvisioner struct {
	mu       sync.Mutex
	requests atomic.Int64
	grant    *provision.RoomGrant
	grantErr error
	status   *provision.SessionStatus
	delay    time.Duration
}

func (p *fakeProvisioner) GenerateRoom(ctx context.Context, curriculumID string, spawnAgent, spawnBrowser bool) (*provision.RoomGrant, error) {
	p.requests.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.grantErr != nil {
		return nil, p.grantErr
	}
	return p.grant, nil
}

func (p *fakeProvisioner) Status(ctx context.Context, statusURL string) (*provision.SessionStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == nil {
		return nil, errors.New("status unavailable")
	}
	return p.status, nil
}

func (p *fakeProvisioner) AwaitSessionID(ctx context.Context, statusURL string, interval time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == nil || p.status.SessionID == "" {
		return "", errors.New("no session id")
	}
	return p.status.SessionID, nil
}

func testGrant() *provision.RoomGrant {
	return &provision.RoomGrant{
		Token:     "tok",
		RoomURL:   "wss://rooms.example.com",
		RoomName:  "lesson-1",
		SessionID: "sess-1",
		StatusURL: "https://api.example.com/status",
	}
}

type fixture struct {
	manager     *Manager
	provisioner *fakeProvisioner
	rooms       []*fakeRoom
	mu          sync.Mutex
}

func newFixture(t *testing.T, configure func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		provisioner: &fakeProvisioner{grant: testGrant()},
	}
	config := Config{
		Provisioner: f.provisioner,
		Dial: func(grant *provision.RoomGrant, roomName string) (Room, error) {
			r := newFakeRoom("agent/tutor-1")
			f.mu.Lock()
			f.rooms = append(f.rooms, r)
			f.mu.Unlock()
			return r, nil
		},
		UserID:      "user-7",
		AgentPrefix: "agent/",
		ResumeSummary: func() map[string]any {
			return map[string]any{"blocks": 2}
		},
	}
	if configure != nil {
		configure(&config)
	}
	manager, err := NewManager(config)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f.manager = manager
	return f
}

func (f *fixture) lastRoom() *fakeRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[len(f.rooms)-1]
}

func TestConnectReachesReady(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.manager.Connect(context.Background(), "course-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if f.manager.State() != StateReady {
		t.Errorf("state = %v", f.manager.State())
	}
	if f.manager.AgentIdentity() != "agent/tutor-1" {
		t.Errorf("agent = %q", f.manager.AgentIdentity())
	}

	r := f.lastRoom()
	r.mu.Lock()
	defer r.mu.Unlock()
	// Materialize-then-mute: the first mute call pins the default.
	if len(r.muteCalls) == 0 || !r.muteCalls[0] {
		t.Errorf("muteCalls = %v, want leading true", r.muteCalls)
	}
	if len(r.rpcCalls) != 1 || r.rpcCalls[0] != "agent/tutor-1:"+handshakeMethod {
		t.Errorf("rpcCalls = %v", r.rpcCalls)
	}
	if len(r.published) != 1 || r.published[0].Type != "session_resume" {
		t.Errorf("published = %v", r.published)
	}
	if r.publishedTo[0] != "agent/tutor-1" {
		t.Errorf("resume sent to %q", r.publishedTo[0])
	}
}

func TestDoubleConnectSharesOneTokenRequest(t *testing.T) {
	f := newFixture(t, nil)
	f.provisioner.delay = 100 * time.Millisecond

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.manager.Connect(context.Background(), "course-1")
		}(i)
	}
	wg.Wait()

	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("errs = %v", errs)
	}
	if got := f.provisioner.requests.Load(); got != 1 {
		t.Errorf("token requests = %d, want 1", got)
	}
}

func TestConnectAfterSuccessIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "course-1"); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := f.manager.Connect(ctx, "course-1"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if got := f.provisioner.requests.Load(); got != 1 {
		t.Errorf("token requests = %d, want 1", got)
	}
}

func TestConnectFailureClearsBarrierForRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.provisioner.grantErr = &provision.AuthorizationError{Detail: "expired"}
	ctx := context.Background()

	err := f.manager.Connect(ctx, "course-1")
	if !provision.IsAuthorizationError(err) {
		t.Fatalf("err = %v, want AuthorizationError", err)
	}
	if f.manager.State() != StateError {
		t.Errorf("state = %v", f.manager.State())
	}

	// The barrier reset: a retry issues a fresh token request.
	f.provisioner.grantErr = nil
	if err := f.manager.Connect(ctx, "course-1"); err != nil {
		t.Fatalf("retry Connect: %v", err)
	}
	if got := f.provisioner.requests.Load(); got != 2 {
		t.Errorf("token requests = %d, want 2", got)
	}
}

func TestWorkerRoomHandoff(t *testing.T) {
	f := newFixture(t, nil)
	f.provisioner.status = &provision.SessionStatus{
		State:     provision.StateReady,
		SessionID: "sess-1",
		RoomName:  "exec-room-9",
	}

	if err := f.manager.Connect(context.Background(), "course-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	f.mu.Lock()
	dialCount := len(f.rooms)
	firstRoom := f.rooms[0]
	f.mu.Unlock()
	if dialCount != 2 {
		t.Fatalf("dialed %d rooms, want redirect to make it 2", dialCount)
	}
	firstRoom.mu.Lock()
	if !firstRoom.closed {
		t.Error("granted room left open after handoff")
	}
	firstRoom.mu.Unlock()
}

func TestHandoffSkippedWhenMediaArrived(t *testing.T) {
	var dials atomic.Int64
	f := newFixture(t, func(config *Config) {
		config.Dial = func(grant *provision.RoomGrant, roomName string) (Room, error) {
			dials.Add(1)
			r := newFakeRoom("agent/tutor-1")
			r.remoteMedia = true
			return r, nil
		}
	})
	f.provisioner.status = &provision.SessionStatus{
		State:    provision.StateReady,
		RoomName: "exec-room-9",
	}

	if err := f.manager.Connect(context.Background(), "course-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := dials.Load(); got != 1 {
		t.Errorf("dials = %d, want no redirect once media is flowing", got)
	}
	if f.manager.State() != StateReady {
		t.Errorf("state = %v", f.manager.State())
	}
}

func TestHandshakeFailureIsTerminal(t *testing.T) {
	f := newFixture(t, func(config *Config) {
		config.Dial = func(grant *provision.RoomGrant, roomName string) (Room, error) {
			r := newFakeRoom("agent/tutor-1")
			r.rpcErr = errors.New("agent not answering")
			return r, nil
		}
	})

	if err := f.manager.Connect(context.Background(), "course-1"); err == nil {
		t.Fatal("handshake failure accepted")
	}
	if f.manager.State() != StateError {
		t.Errorf("state = %v", f.manager.State())
	}
}

func TestDisconnectDoesNotDeleteSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "course-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := f.manager.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if f.manager.State() != StateDisconnected {
		t.Errorf("state = %v", f.manager.State())
	}

	// Reconnect works and issues a fresh token request.
	if err := f.manager.Connect(ctx, "course-1"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got := f.provisioner.requests.Load(); got != 2 {
		t.Errorf("token requests = %d, want 2", got)
	}
}

func TestResolveSessionID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "course-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	id, err := f.manager.ResolveSessionID(ctx)
	if err != nil {
		t.Fatalf("ResolveSessionID: %v", err)
	}
	if id != "sess-1" {
		t.Errorf("id = %q", id)
	}
}

func TestResolveSessionIDPollsWhenUnknown(t *testing.T) {
	grant := testGrant()
	grant.SessionID = ""
	f := newFixture(t, nil)
	f.provisioner.grant = grant
	ctx := context.Background()

	if err := f.manager.Connect(ctx, "course-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// The status endpoint only learns the id after the fact.
	f.provisioner.mu.Lock()
	f.provisioner.status = &provision.SessionStatus{State: provision.StateReady, SessionID: "sess-late", RoomName: grant.RoomName}
	f.provisioner.mu.Unlock()

	id, err := f.manager.ResolveSessionID(ctx)
	if err != nil {
		t.Fatalf("ResolveSessionID: %v", err)
	}
	if id != "sess-late" {
		t.Errorf("id = %q", id)
	}
}

func TestSetMutedRequiresConnection(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.manager.SetMuted(false); err == nil {
		t.Error("SetMuted before Connect accepted")
	}
}
