// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lectern-ai/lectern/lib/clock"
)

// IdentityProvider yields the short-lived bearer credential presented
// to the token service. Implementations fetch or refresh as needed.
type IdentityProvider interface {
	Credential(ctx context.Context) (string, error)
}

// StaticCredential is an IdentityProvider returning a fixed token.
// Useful for tests and development against a local token service.
type StaticCredential string

func (c StaticCredential) Credential(ctx context.Context) (string, error) {
	return string(c), nil
}

// AuthorizationError means credential acquisition or presentation
// failed. Fatal for the current connection attempt; the user may retry.
type AuthorizationError struct {
	Status int
	Detail string
}

func (e *AuthorizationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authorization failed (HTTP %d): %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("authorization failed: %s", e.Detail)
}

// IsAuthorizationError reports whether err is (or wraps) an
// AuthorizationError.
func IsAuthorizationError(err error) bool {
	var authErr *AuthorizationError
	return errors.As(err, &authErr)
}

// RoomGrant is the credential bundle minted for one session.
type RoomGrant struct {
	Token    string
	RoomURL  string
	RoomName string

	// SessionID and StatusURL may be empty when the service assigns
	// the session asynchronously; poll StatusURL (if set) or wait for
	// the status endpoint to surface the id.
	SessionID string
	StatusURL string
}

// SessionState is the worker session's provisioning state.
type SessionState string

const (
	StatePending SessionState = "PENDING"
	StateReady   SessionState = "READY"
	StateFailed  SessionState = "FAILED"
)

// SessionStatus is one status poll result.
type SessionStatus struct {
	State SessionState

	// SessionID is filled in once the service has assigned the worker.
	SessionID string

	// RoomName is the execution room actually hosting the worker,
	// which may differ from the room named in the grant.
	RoomName string

	// Detail carries the service's error text for failed sessions.
	Detail string
}

// Config configures a Client. BaseURL and Identity are required.
type Config struct {
	// BaseURL is the token service root, without a trailing slash.
	BaseURL string

	// Identity supplies the bearer credential.
	Identity IdentityProvider

	// HTTPClient defaults to a client with a 30s overall timeout.
	HTTPClient *http.Client

	// Clock defaults to the real clock. Tests inject a fake to drive
	// AwaitSessionID polling.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is the token service client.
type Client struct {
	baseURL    string
	identity   IdentityProvider
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient validates the config and builds a Client.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("provision: BaseURL is required")
	}
	if config.Identity == nil {
		return nil, fmt.Errorf("provision: Identity is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		identity:   config.Identity,
		httpClient: httpClient,
		clock:      clk,
		logger:     logger,
	}, nil
}

// generateRoomRequest is the issuance request body. The worker-spawn
// field is spelled "spawn_browder" because that is what the service
// parses; correcting it here would silently stop spawning workers.
type generateRoomRequest struct {
	CurriculumID string `json:"curriculum_id"`
	SpawnAgent   bool   `json:"spawn_agent"`
	SpawnBrowser bool   `json:"spawn_browder"`
}

type generateRoomResponse struct {
	Success   bool   `json:"success"`
	Token     string `json:"studentToken"`
	RoomURL   string `json:"livekitUrl"`
	RoomName  string `json:"roomName"`
	SessionID string `json:"sessionId"`
	StatusURL string `json:"sessionStatusUrl"`
	Error     string `json:"error"`
}

// GenerateRoom asks the token service to mint a room for the given
// curriculum, optionally spawning the tutoring agent and the browser
// worker into it.
func (c *Client) GenerateRoom(ctx context.Context, curriculumID string, spawnAgent, spawnBrowser bool) (*RoomGrant, error) {
	credential, err := c.identity.Credential(ctx)
	if err != nil {
		return nil, &AuthorizationError{Detail: fmt.Sprintf("acquiring credential: %v", err)}
	}

	body, err := json.Marshal(generateRoomRequest{
		CurriculumID: curriculumID,
		SpawnAgent:   spawnAgent,
		SpawnBrowser: spawnBrowser,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate-room", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+credential)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("requesting room: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return nil, &AuthorizationError{Status: response.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token service returned HTTP %d", response.StatusCode)
	}

	var decoded generateRoomResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding room grant: %w", err)
	}
	if !decoded.Success {
		return nil, fmt.Errorf("token service refused: %s", orUnspecified(decoded.Error))
	}
	if decoded.Token == "" || decoded.RoomURL == "" || decoded.RoomName == "" {
		return nil, fmt.Errorf("token service returned an incomplete grant")
	}

	c.logger.Info("room granted",
		"room", decoded.RoomName,
		"session_id", decoded.SessionID,
		"agent", spawnAgent,
		"worker", spawnBrowser)

	return &RoomGrant{
		Token:     decoded.Token,
		RoomURL:   decoded.RoomURL,
		RoomName:  decoded.RoomName,
		SessionID: decoded.SessionID,
		StatusURL: decoded.StatusURL,
	}, nil
}

type sessionStatusResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
	RoomName  string `json:"roomName"`
	Error     string `json:"error"`
}

// Status fetches the session state once from the grant's status URL.
func (c *Client) Status(ctx context.Context, statusURL string) (*SessionStatus, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetching session status: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned HTTP %d", response.StatusCode)
	}

	var decoded sessionStatusResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding session status: %w", err)
	}

	state := SessionState(decoded.Status)
	switch state {
	case StatePending, StateReady, StateFailed:
	default:
		return nil, fmt.Errorf("unknown session state %q", decoded.Status)
	}
	return &SessionStatus{
		State:     state,
		SessionID: decoded.SessionID,
		RoomName:  decoded.RoomName,
		Detail:    decoded.Error,
	}, nil
}

// AwaitSessionID polls the status URL until the service has assigned a
// session id, the session fails, or ctx is done. PENDING states
// without an id keep polling at the given interval.
func (c *Client) AwaitSessionID(ctx context.Context, statusURL string, interval time.Duration) (string, error) {
	for {
		status, err := c.Status(ctx, statusURL)
		if err != nil {
			c.logger.Warn("status poll failed", "error", err)
		} else {
			if status.State == StateFailed {
				return "", fmt.Errorf("session failed: %s", orUnspecified(status.Detail))
			}
			if status.SessionID != "" {
				return status.SessionID, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.clock.After(interval):
		}
	}
}

// DeleteSession tears down the worker session. Deletion is idempotent:
// the service answering 404 or 410 means the session is already gone,
// which is success.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("provision: session id is empty")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/sessions/"+sessionID, nil)
	if err != nil {
		return fmt.Errorf("building delete request: %w", err)
	}
	credential, err := c.identity.Credential(ctx)
	if err == nil {
		request.Header.Set("Authorization", "Bearer "+credential)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", sessionID, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return nil
	case response.StatusCode == http.StatusNotFound || response.StatusCode == http.StatusGone:
		return nil
	default:
		return fmt.Errorf("deleting session %s: HTTP %d", sessionID, response.StatusCode)
	}
}

// CloseIdleConnections releases pooled connections. The cleanup guard
// calls this before its fallback retry so the retry dials fresh.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func orUnspecified(detail string) string {
	if detail == "" {
		return "no detail provided"
	}
	return detail
}
