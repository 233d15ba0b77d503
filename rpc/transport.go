// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lectern-ai/lectern/room"
)

// Conn is the slice of the room transport the RPC layer rides on.
// *room.Room satisfies it.
type Conn interface {
	PerformRPC(ctx context.Context, destIdentity, method, payload string) (string, error)
	RegisterRPCMethod(method string, handler room.RPCHandler)
}

// Handler serves one inbound typed call. Payload bytes are already
// base64-decoded from the transport envelope.
type Handler func(ctx context.Context, callerIdentity string, payload []byte) ([]byte, error)

// TransportError wraps a failed call with the method and identity it
// was addressed to.
type TransportError struct {
	Method   string
	Identity string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc %s to %s: %v", e.Method, e.Identity, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// Transport issues typed calls to one remote participant. Payloads
// cross the data channel base64-encoded since the envelope fields are
// JSON strings.
type Transport struct {
	conn   Conn
	dest   string
	logger *slog.Logger
}

// NewTransport creates a transport addressed to destIdentity. A nil
// logger defaults to slog.Default().
func NewTransport(conn Conn, destIdentity string, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{conn: conn, dest: destIdentity, logger: logger}
}

// Destination returns the remote identity this transport addresses.
func (t *Transport) Destination() string { return t.dest }

// Call issues one unary call. serviceMethod is the full "service/method"
// name as the remote registers it. Failures (unknown identity, remote
// rejection, malformed response) surface as a *TransportError; context
// errors pass through unwrapped so callers can distinguish their own
// cancellation.
func (t *Transport) Call(ctx context.Context, serviceMethod string, payload []byte) ([]byte, error) {
	encoded := base64.StdEncoding.EncodeToString(payload)

	response, err := t.conn.PerformRPC(ctx, t.dest, serviceMethod, encoded)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &TransportError{Method: serviceMethod, Identity: t.dest, Err: err}
	}

	decoded, err := base64.StdEncoding.DecodeString(response)
	if err != nil {
		return nil, &TransportError{
			Method:   serviceMethod,
			Identity: t.dest,
			Err:      fmt.Errorf("response is not valid base64: %w", err),
		}
	}
	return decoded, nil
}

// Handle registers a typed handler for inbound calls. Duplicate
// registration keeps the existing handler (the underlying primitive
// logs it).
func (t *Transport) Handle(serviceMethod string, handler Handler) {
	t.conn.RegisterRPCMethod(serviceMethod, func(ctx context.Context, callerIdentity, payload string) (string, error) {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("request is not valid base64: %w", err)
		}
		response, err := handler(ctx, callerIdentity, decoded)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(response), nil
	})
}
