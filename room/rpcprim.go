// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
)

// RPCHandler serves one inbound unary RPC method. The payload and the
// returned response are opaque strings; typed encoding is the caller's
// concern (the rpc package layers base64 protobuf-style envelopes on
// top).
type RPCHandler func(ctx context.Context, callerIdentity, payload string) (string, error)

// rpcResult is one correlated RPC response.
type rpcResult struct {
	payload string
	errText string
}

// RegisterRPCMethod registers the handler for an inbound method name.
// Registering a method that already has a handler is not an error:
// the existing registration wins and the duplicate is logged. This
// absorbs double-setup during development without tearing down the
// inbound pipeline.
func (r *Room) RegisterRPCMethod(method string, handler RPCHandler) {
	r.rpcMu.Lock()
	defer r.rpcMu.Unlock()
	if _, exists := r.rpcMethods[method]; exists {
		r.logger.Warn("RPC method already registered, keeping existing handler", "method", method)
		return
	}
	r.rpcMethods[method] = handler
}

// PerformRPC issues a one-shot unary call to a participant: one
// request message, one correlated response message, matched by a
// per-call UUID on the reliable channel. The context bounds the wait;
// there is no cancellation of the request once sent.
func (r *Room) PerformRPC(ctx context.Context, destIdentity, method, payload string) (string, error) {
	peer := r.establishedPeer(destIdentity)
	if peer == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownParticipant, destIdentity)
	}

	callID := uuid.NewString()
	resultChannel := make(chan rpcResult, 1)

	r.rpcMu.Lock()
	r.rpcPending[callID] = resultChannel
	r.rpcMu.Unlock()

	defer func() {
		r.rpcMu.Lock()
		delete(r.rpcPending, callID)
		r.rpcMu.Unlock()
	}()

	data, err := encodeEnvelope(messageTypeRPCRequest, r.identity, destIdentity, map[string]any{
		"id":      callID,
		"method":  method,
		"payload": payload,
	})
	if err != nil {
		return "", err
	}
	if err := peer.send(data, true); err != nil {
		return "", fmt.Errorf("sending RPC %s to %s: %w", method, destIdentity, err)
	}

	select {
	case result := <-resultChannel:
		if result.errText != "" {
			return "", fmt.Errorf("RPC %s rejected by %s: %s", method, destIdentity, result.errText)
		}
		return result.payload, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.closed:
		return "", net.ErrClosed
	}
}

// handleRPCRequest serves an inbound request in its own goroutine so a
// slow handler cannot stall the data channel callback.
func (r *Room) handleRPCRequest(message DataMessage) {
	callID := message.FieldString("id")
	method := message.FieldString("method")
	payload := message.FieldString("payload")
	caller := message.From

	r.rpcMu.Lock()
	handler, ok := r.rpcMethods[method]
	r.rpcMu.Unlock()

	go func() {
		fields := map[string]any{"id": callID}
		if !ok {
			fields["error"] = fmt.Sprintf("unknown method %q", method)
		} else {
			response, err := handler(context.Background(), caller, payload)
			if err != nil {
				fields["error"] = err.Error()
			} else {
				fields["payload"] = response
			}
		}

		data, err := encodeEnvelope(messageTypeRPCResponse, r.identity, caller, fields)
		if err != nil {
			r.logger.Error("encoding RPC response failed", "method", method, "error", err)
			return
		}
		peer := r.establishedPeer(caller)
		if peer == nil {
			r.logger.Warn("RPC caller gone before response", "method", method, "caller", caller)
			return
		}
		if err := peer.send(data, true); err != nil {
			r.logger.Warn("sending RPC response failed", "method", method, "caller", caller, "error", err)
		}
	}()
}

// handleRPCResponse resolves the pending call matching the response's
// call id. Responses with no pending entry (timed out, duplicate) are
// dropped.
func (r *Room) handleRPCResponse(message DataMessage) {
	callID := message.FieldString("id")

	r.rpcMu.Lock()
	resultChannel, ok := r.rpcPending[callID]
	if ok {
		delete(r.rpcPending, callID)
	}
	r.rpcMu.Unlock()

	if !ok {
		r.logger.Debug("dropping unmatched RPC response", "id", callID)
		return
	}
	resultChannel <- rpcResult{
		payload: message.FieldString("payload"),
		errText: message.FieldString("error"),
	}
}
