// Package intent resolves finalized transcripts into actionable responses
// by calling the configured intent service.
package intent

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

	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/session"
)

// requestTimeout bounds one intent call. The orchestrator arms no deadline
// around processing, so the transport carries the only limit.
const requestTimeout = 15 * time.Second

var _ session.IntentProcessor = (*Client)(nil)

// Client sends finalized transcripts to the intent service over HTTP.
type Client struct {
	source func() config.Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds an intent client. The endpoint is read from source on
// every call, so config updates apply to the next session.
func NewClient(source func() config.Config, logger *slog.Logger) *Client {
	if source == nil {
		defaults := config.Default()
		source = func() config.Config { return defaults }
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		source: source,
		http:   &http.Client{Timeout: requestTimeout},
		logger: logger,
	}
}

type intentRequest struct {
	Transcript string `json:"transcript"`
}

type intentResponse struct {
	ResponseText string  `json:"response_text"`
	Intent       string  `json:"intent"`
	Confidence   float64 `json:"confidence"`
}

// Process implements session.IntentProcessor.
func (c *Client) Process(ctx context.Context, transcript string) (session.IntentResult, error) {
	endpoint := strings.TrimSpace(c.source().Intent.Endpoint)
	if endpoint == "" {
		return session.IntentResult{}, errors.New("intent endpoint is empty")
	}

	body, err := json.Marshal(intentRequest{Transcript: transcript})
	if err != nil {
		return session.IntentResult{}, fmt.Errorf("encode intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return session.IntentResult{}, fmt.Errorf("build intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return session.IntentResult{}, fmt.Errorf("call intent service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return session.IntentResult{}, fmt.Errorf("intent service returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var decoded intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return session.IntentResult{}, fmt.Errorf("decode intent response: %w", err)
	}

	c.logger.Debug("intent resolved",
		"intent", decoded.Intent,
		"confidence", decoded.Confidence,
		"latency_ms", time.Since(started).Milliseconds(),
	)

	return session.IntentResult{
		ResponseText: decoded.ResponseText,
		Intent:       decoded.Intent,
		Confidence:   decoded.Confidence,
	}, nil
}
