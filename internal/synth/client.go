// Package synth renders response text as audible speech through the
// configured synthesis service.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/parla-voice/parla/internal/audio"
	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/session"
)

const (
	// requestTimeout bounds one synthesis call. Responding carries no
	// orchestrator deadline, so the transport carries the only limit.
	requestTimeout = 20 * time.Second

	// playTimeout caps external player runtime for one response.
	playTimeout = 30 * time.Second
)

var _ session.Synthesizer = (*Client)(nil)

// Client fetches WAV audio for response text and plays it back, either
// through the pulse output path or a configured external player command.
type Client struct {
	source func() config.Config
	http   *http.Client
	logger *slog.Logger
	fsys   afero.Fs

	playback  func(samples []int16, sampleRate int, mediaName string) error
	runPlayer func(ctx context.Context, argv []string, path string) error
}

// NewClient builds a synthesizer client. The endpoint and playback command
// are read from source on every call, so config updates apply to the next
// session.
func NewClient(source func() config.Config, logger *slog.Logger) *Client {
	if source == nil {
		defaults := config.Default()
		source = func() config.Config { return defaults }
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		source:    source,
		http:      &http.Client{Timeout: requestTimeout},
		logger:    logger,
		fsys:      afero.NewOsFs(),
		playback:  audio.PlaySamples,
		runPlayer: runExternalPlayer,
	}
}

type speakRequest struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Rate     float64 `json:"rate,omitempty"`
	Voice    string  `json:"voice,omitempty"`
}

// Speak implements session.Synthesizer. Empty text is a no-op.
func (c *Client) Speak(ctx context.Context, req session.SpeakRequest) error {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil
	}

	cfg := c.source()
	wavData, err := c.fetch(ctx, cfg, req, text)
	if err != nil {
		return err
	}

	if len(cfg.Synthesizer.PlayCmd.Argv) > 0 {
		return c.playExternal(ctx, cfg.Synthesizer.PlayCmd.Argv, wavData)
	}

	samples, sampleRate, err := audio.DecodeWAV(wavData)
	if err != nil {
		return fmt.Errorf("decode synthesized speech: %w", err)
	}
	if err := c.playback(samples, sampleRate, "parla response"); err != nil {
		return fmt.Errorf("play synthesized speech: %w", err)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context, cfg config.Config, req session.SpeakRequest, text string) ([]byte, error) {
	endpoint := strings.TrimSpace(cfg.Synthesizer.Endpoint)
	if endpoint == "" {
		return nil, errors.New("synthesizer endpoint is empty")
	}

	body, err := json.Marshal(speakRequest{
		Text:     text,
		Language: req.Language,
		Rate:     req.Rate,
		Voice:    req.Voice,
	})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call synthesizer service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("synthesizer service returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	wavData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	if len(wavData) == 0 {
		return nil, errors.New("synthesizer returned empty audio")
	}

	c.logger.Debug("speech synthesized",
		"bytes", len(wavData),
		"latency_ms", time.Since(started).Milliseconds(),
	)
	return wavData, nil
}

// playExternal hands the WAV payload to the configured player command via a
// temp file appended as the final argument.
func (c *Client) playExternal(ctx context.Context, argv []string, wavData []byte) error {
	f, err := afero.TempFile(c.fsys, "", "parla-speech-*.wav")
	if err != nil {
		return fmt.Errorf("create speech temp file: %w", err)
	}
	path := f.Name()
	defer func() { _ = c.fsys.Remove(path) }()

	if _, err := f.Write(wavData); err != nil {
		_ = f.Close()
		return fmt.Errorf("write speech temp file %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close speech temp file %q: %w", path, err)
	}

	if err := c.runPlayer(ctx, argv, path); err != nil {
		return fmt.Errorf("run speech player: %w", err)
	}
	return nil
}

func runExternalPlayer(ctx context.Context, argv []string, path string) error {
	ctx, cancel := context.WithTimeout(ctx, playTimeout)
	defer cancel()

	args := append(append([]string(nil), argv[1:]...), path)
	cmd := exec.CommandContext(ctx, argv[0], args...)
	return cmd.Run()
}
