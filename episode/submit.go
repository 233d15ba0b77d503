// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package episode

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"
)

// SideEffect is a subsidiary action settled around a submission, such
// as propagating a display-name change. Side effects are best-effort:
// they run after the primary submission and their failures never fail
// it.
type SideEffect struct {
	Name string
	Run  func(ctx context.Context) error
}

// SettleResult is one side effect's outcome.
type SettleResult struct {
	Name string
	Err  error
}

// Receipt is a successful submission's result.
type Receipt struct {
	// EpisodeID is the service-assigned id.
	EpisodeID string

	// SideEffects holds one result per side effect, in input order.
	// Failures are recorded here, already logged, and non-fatal.
	SideEffects []SettleResult
}

// Submitter posts finished episodes to the analysis service.
type Submitter struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSubmitter creates a Submitter for the analysis endpoint.
func NewSubmitter(endpoint string, httpClient *http.Client, logger *slog.Logger) (*Submitter, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("episode: submission endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{endpoint: endpoint, httpClient: httpClient, logger: logger}, nil
}

// submissionBody is the request shape. Audio and the packet spool are
// base64 so the body stays valid JSON; the whole body is
// zstd-compressed on the wire.
type submissionBody struct {
	Audio   string            `json:"audio"`
	Packets string            `json:"packets,omitempty"`
	Assets  []submissionAsset `json:"assets,omitempty"`
	Topic   string            `json:"topic,omitempty"`
}

type submissionAsset struct {
	Digest  string `json:"digest"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type submissionResponse struct {
	EpisodeID string `json:"episodeId"`
	Error     string `json:"error"`
}

// Submit transcodes the episode to WAV and posts it with the packet
// spool, staged assets, and topic label as one atomic request. Side
// effects settle afterwards; their failures are collected on the
// Receipt, never propagated.
func (s *Submitter) Submit(ctx context.Context, ep *Episode, topic string, assets []Asset, effects []SideEffect) (*Receipt, error) {
	wav, err := EncodeWAV(ep.Samples, ep.Channels, ep.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("transcoding audio: %w", err)
	}

	body := submissionBody{
		Audio: base64.StdEncoding.EncodeToString(wav),
		Topic: topic,
	}
	if len(ep.Packets) > 0 {
		spool, err := EncodeSpool(ep.Packets)
		if err != nil {
			return nil, err
		}
		body.Packets = base64.StdEncoding.EncodeToString(spool)
	}
	for _, asset := range assets {
		body.Assets = append(body.Assets, submissionAsset{
			Digest:  asset.Digest,
			Name:    asset.Name,
			Content: base64.StdEncoding.EncodeToString(asset.Content),
		})
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding submission: %w", err)
	}
	compressed, err := compressZstd(encoded)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("building submission request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Content-Encoding", "zstd")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("submitting episode: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis service returned HTTP %d", response.StatusCode)
	}

	var decoded submissionResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding submission response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("analysis service rejected episode: %s", decoded.Error)
	}

	s.logger.Info("episode submitted",
		"episode_id", decoded.EpisodeID,
		"audio_bytes", len(wav),
		"packets", len(ep.Packets),
		"assets", len(assets))

	return &Receipt{
		EpisodeID:   decoded.EpisodeID,
		SideEffects: s.settleAll(ctx, effects),
	}, nil
}

// settleAll runs every side effect, collecting failures. All effects
// are attempted regardless of earlier failures.
func (s *Submitter) settleAll(ctx context.Context, effects []SideEffect) []SettleResult {
	results := make([]SettleResult, 0, len(effects))
	for _, effect := range effects {
		err := effect.Run(ctx)
		if err != nil {
			s.logger.Warn("submission side effect failed", "effect", effect.Name, "error", err)
		}
		results = append(results, SettleResult{Name: effect.Name, Err: err})
	}
	return results
}

func compressZstd(data []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer, err := zstd.NewWriter(&buffer)
	if err != nil {
		return nil, fmt.Errorf("initializing compressor: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("compressing submission: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finishing submission compression: %w", err)
	}
	return buffer.Bytes(), nil
}
