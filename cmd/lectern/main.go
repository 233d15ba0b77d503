// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// lectern is the session client for a live tutoring room. It requests
// a room grant from the token service, joins the room alongside the AI
// agent and the browser-automation worker, and runs until terminated.
//
// On startup:
//  1. Loads configuration (--config or LECTERN_CONFIG).
//  2. Restores the board snapshot, or seeds it from a JSONC fixture.
//  3. Connects: token request, room join, agent handshake.
//  4. Serves inbound agent commands until SIGINT/SIGTERM.
//
// On termination the cleanup guard deletes the remote worker session
// exactly once, and the board snapshot is saved for the next run.
//
// This binary is headless: the user-triggered surfaces — episode
// recording and submission (episode.Recorder, episode.Submitter),
// fire-and-await browser actions (rpc.Registry.SendAndAwait), and tab
// operations (tabs.Manager Open/Switch/Close) — are entry points for
// an embedding UI and have no caller here beyond session wiring.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lectern-ai/lectern/board"
	"github.com/lectern-ai/lectern/diagram"
	"github.com/lectern-ai/lectern/dispatch"
	"github.com/lectern-ai/lectern/lib/config"
	"github.com/lectern-ai/lectern/lib/version"
	"github.com/lectern-ai/lectern/provision"
	"github.com/lectern-ai/lectern/room"
	"github.com/lectern-ai/lectern/rpc"
	"github.com/lectern-ai/lectern/session"
	"github.com/lectern-ai/lectern/tabs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		courseID    string
		token       string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("lectern", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to lectern.yaml (default: $LECTERN_CONFIG)")
	flagSet.StringVar(&courseID, "course", "", "course identifier to start a session for (required)")
	flagSet.StringVar(&token, "token", "", "bearer credential for the token service (default: $LECTERN_TOKEN)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("lectern %s\n", version.Info())
		return nil
	}
	if courseID == "" {
		return fmt.Errorf("--course is required")
	}
	if token == "" {
		token = os.Getenv("LECTERN_TOKEN")
	}
	if token == "" {
		return fmt.Errorf("no credential: pass --token or set LECTERN_TOKEN")
	}

	level, err := parseLogLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, token, logger)
	if err != nil {
		return err
	}
	return app.run(ctx, courseID)
}

func parseLogLevel(name string) (slog.Level, error) {
	switch name {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// app holds the wired component graph for one client process.
type app struct {
	config *config.Config
	logger *slog.Logger

	provisioner *provision.Client
	manager     *session.Manager
	registry    *rpc.Registry
	dispatcher  *dispatch.Dispatcher
	tabs        *tabs.Manager
	board       *board.Board
	guard       *session.CleanupGuard

	snapshotPath string
}

func newApp(cfg *config.Config, token string, logger *slog.Logger) (*app, error) {
	a := &app{
		config:       cfg,
		logger:       logger,
		board:        board.New(),
		snapshotPath: filepath.Join(cfg.Paths.State, "board.cbor"),
	}

	restored, err := a.board.Load(a.snapshotPath)
	if err != nil {
		// A corrupt snapshot must not block the session; start clean.
		logger.Warn("board snapshot unreadable, starting fresh", "path", a.snapshotPath, "error", err)
	}
	if !restored && cfg.Paths.Seed != "" {
		if err := a.board.LoadSeed(cfg.Paths.Seed); err != nil {
			return nil, fmt.Errorf("loading board seed: %w", err)
		}
		logger.Info("board seeded", "path", cfg.Paths.Seed)
	}

	a.provisioner, err = provision.NewClient(provision.Config{
		BaseURL:  cfg.Endpoints.TokenService,
		Identity: provision.StaticCredential(token),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	a.manager, err = session.NewManager(session.Config{
		Provisioner:        a.provisioner,
		Dial:               a.dialRoom,
		UserID:             cfg.Identity.UserID,
		AgentPrefix:        cfg.Identity.AgentPrefix,
		ResumeSummary:      a.board.Summary,
		AwaitTimeout:       cfg.Session.AwaitTimeout,
		RPCTimeout:         cfg.Session.RPCTimeout,
		StatusPollInterval: cfg.Session.StatusPollInterval,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	sender := &roomSender{manager: a.manager}
	a.registry = rpc.NewRegistry(sender, nil, logger)

	generator, err := diagram.NewClient(cfg.Endpoints.DiagramGenerator, nil)
	if err != nil {
		return nil, err
	}
	a.dispatcher, err = dispatch.New(dispatch.Config{
		Sender:         sender,
		WorkerIdentity: cfg.Endpoints.Worker,
		Microphone:     a.manager,
		Board:          a.board,
		Generator:      generator,
		Renderer:       headlessRenderer{logger: logger},
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	a.tabs = tabs.NewManager(&workerNotifier{
		sender: sender,
		worker: cfg.Endpoints.Worker,
	}, logger)

	a.guard = session.NewCleanupGuard(a.provisioner, a.manager.ResolveSessionID, logger)
	return a, nil
}

// run connects and serves until ctx is cancelled by a termination
// signal. Teardown order matters: the guard deletes the remote worker
// session first (it needs the provisioner's connections alive), then
// the room closes, then local state is persisted.
func (a *app) run(ctx context.Context, courseID string) error {
	a.logger.Info("starting session", "course", courseID, "user", a.config.Identity.UserID,
		"version", version.Info())

	if err := a.manager.Connect(ctx, courseID); err != nil {
		return err
	}
	a.logger.Info("session ready", "agent", a.manager.AgentIdentity())

	<-ctx.Done()
	a.logger.Info("shutting down")

	a.guard.OnUnload()
	if err := a.manager.Disconnect(); err != nil {
		a.logger.Warn("closing room failed", "error", err)
	}
	if err := a.board.Save(a.snapshotPath); err != nil {
		a.logger.Warn("saving board snapshot failed", "error", err)
	}
	return nil
}

// dialRoom is the session manager's Dialer. Handlers must be
// registered before Connect, so the inbound routing is wired here, on
// the unconnected room.
func (a *app) dialRoom(grant *provision.RoomGrant, roomName string) (session.Room, error) {
	r, err := room.New(room.Config{
		Name:     roomName,
		Identity: "user/" + a.config.Identity.UserID,
		Signaler: room.NewWSSignaler(grant.RoomURL, grant.Token),
		// No local capture backend is wired in the headless client;
		// the room reports muted and start-listening commands fail
		// with a device error the dispatcher reverts on.
		Audio:  nil,
		Logger: a.logger,
	})
	if err != nil {
		return nil, err
	}
	r.HandleData(a.handleRoomMessage)
	return r, nil
}

// handleRoomMessage routes one inbound data message: interaction
// envelopes go to the command dispatcher, everything else is offered
// to the pending-call registry as a possible awaited result.
func (a *app) handleRoomMessage(msg room.DataMessage) {
	if msg.Type == rpc.MessageTypeInteraction {
		a.dispatchCommand(msg)
		return
	}
	if msg.Type == "tab_announcement" {
		a.adoptInitialTab(msg)
		return
	}
	if msg.Type == "debrief_question" {
		a.relayDebriefQuestion(msg)
		return
	}
	if a.registry.Resolve(msg.Type, msg.Fields) {
		return
	}
	a.logger.Debug("unhandled room message", "type", msg.Type, "from", msg.From)
}

func (a *app) dispatchCommand(msg room.DataMessage) {
	kind, _ := msg.Fields["action"].(string)
	params, _ := msg.Fields["parameters"].(map[string]any)
	if params == nil {
		params = msg.Fields
	}

	ack := a.dispatcher.Dispatch(context.Background(), kind, params)
	if ack == nil {
		return
	}

	fields := map[string]any{
		"action": kind,
		"ok":     ack.OK,
	}
	if callID, ok := msg.Fields["call_id"]; ok {
		fields["call_id"] = callID
	}
	if ack.Detail != "" {
		fields["detail"] = ack.Detail
	}
	for key, value := range ack.Payload {
		fields[key] = value
	}
	if err := a.roomPublish(msg.From, "interaction_result", fields); err != nil {
		a.logger.Warn("sending acknowledgment failed", "action", kind, "error", err)
	}
}

// relayDebriefQuestion puts the agent's debrief question on the board
// and switches to the debrief view so a UI surface can pick it up.
func (a *app) relayDebriefQuestion(msg room.DataMessage) {
	question, _ := msg.Fields["question"].(string)
	if question == "" {
		a.logger.Warn("debrief question without question text", "from", msg.From)
		return
	}
	id, _ := msg.Fields["question_id"].(string)
	if id == "" {
		id = "debrief"
	}
	a.board.PutBlock(board.Block{ID: id, Kind: "debrief_question", Content: question})
	if err := a.board.SetView("debrief"); err != nil {
		a.logger.Warn("switching to debrief view failed", "error", err)
	}
}

// adoptInitialTab seeds the tab mirror from the worker's one-time
// announcement at session start.
func (a *app) adoptInitialTab(msg room.DataMessage) {
	id, _ := msg.Fields["tab_id"].(string)
	name, _ := msg.Fields["name"].(string)
	url, _ := msg.Fields["url"].(string)
	if err := a.tabs.Adopt(tabs.Tab{ID: id, Name: name, URL: url}); err != nil {
		a.logger.Warn("ignoring tab announcement", "from", msg.From, "error", err)
	}
}

func (a *app) roomPublish(to, messageType string, fields map[string]any) error {
	r := a.manager.Room()
	if r == nil {
		return fmt.Errorf("not connected")
	}
	return r.PublishData(to, messageType, fields, true)
}

// roomSender adapts the session manager's current room to the
// fire-and-forget Sender interface shared by the registry and the
// dispatcher. Sends before Connect fail cleanly instead of holding a
// stale room reference across a handoff.
type roomSender struct {
	manager *session.Manager
}

func (s *roomSender) PublishData(to, messageType string, fields map[string]any, reliable bool) error {
	r := s.manager.Room()
	if r == nil {
		return fmt.Errorf("not connected")
	}
	return r.PublishData(to, messageType, fields, reliable)
}

// workerNotifier sends tab lifecycle notifications to the automation
// worker over the room data channel, in the same envelope shape the
// dispatcher's relay handlers use.
type workerNotifier struct {
	sender *roomSender
	worker string
}

func (n *workerNotifier) NotifyOpen(ctx context.Context, tabID, name, url string) error {
	return n.sender.PublishData(n.worker, "browser_command", map[string]any{
		"command": "open_tab",
		"tab_id":  tabID,
		"name":    name,
		"url":     url,
	}, true)
}

func (n *workerNotifier) NotifySwitch(ctx context.Context, tabID string) error {
	return n.sender.PublishData(n.worker, "browser_command", map[string]any{
		"command": "switch_tab",
		"tab_id":  tabID,
	}, true)
}

func (n *workerNotifier) NotifyClose(ctx context.Context, tabID string) error {
	return n.sender.PublishData(n.worker, "browser_command", map[string]any{
		"command": "close_tab",
		"tab_id":  tabID,
	}, true)
}

// headlessRenderer stands in for the canvas engine. The board carries
// the generated elements either way; rendering them is a UI surface
// concern this binary does not have.
type headlessRenderer struct {
	logger *slog.Logger
}

func (r headlessRenderer) Render(elements []board.DiagramElement) error {
	r.logger.Debug("diagram ready", "elements", len(elements))
	return nil
}
