// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

// Package diagram generates renderable diagram elements from natural
// language prompts via the external diagram-text generator service.
// Rendering itself is an external collaborator behind Renderer.
package diagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lectern-ai/lectern/board"
)

// Generator turns a prompt into diagram elements.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]board.DiagramElement, error)
}

// Renderer draws diagram elements on the canvas engine. The engine
// lives outside this module; the visualization handler only needs to
// hand elements over.
type Renderer interface {
	Render(elements []board.DiagramElement) error
}

// Client is the HTTP Generator for the diagram-text service.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the generator at endpoint.
func NewClient(endpoint string, httpClient *http.Client) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("diagram: endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}, nil
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Elements []board.DiagramElement `json:"elements"`
	Error    string                 `json:"error"`
}

// Generate posts the prompt and returns the service's elements.
func (c *Client) Generate(ctx context.Context, prompt string) ([]board.DiagramElement, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("encoding prompt: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("calling diagram generator: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("diagram generator returned HTTP %d", response.StatusCode)
	}

	var decoded generateResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding diagram elements: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("diagram generator: %s", decoded.Error)
	}
	if len(decoded.Elements) == 0 {
		return nil, fmt.Errorf("diagram generator returned no elements")
	}
	return decoded.Elements, nil
}
