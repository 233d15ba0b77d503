// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"io"
)

// ServerStream presents a unary response in stream shape for callers
// written against a streaming interface: Recv yields the single
// response, then io.EOF. This is an adaptation of the unary call, not
// a true stream; the transport never emits more than one item.
type ServerStream struct {
	item    []byte
	yielded bool
}

// CallServerStream issues the unary call and wraps its response as a
// one-item stream. Errors are the same as Call.
func (t *Transport) CallServerStream(ctx context.Context, serviceMethod string, payload []byte) (*ServerStream, error) {
	response, err := t.Call(ctx, serviceMethod, payload)
	if err != nil {
		return nil, err
	}
	return &ServerStream{item: response}, nil
}

// Recv returns the response on the first call and io.EOF afterwards.
func (s *ServerStream) Recv() ([]byte, error) {
	if s.yielded {
		return nil, io.EOF
	}
	s.yielded = true
	return s.item, nil
}
