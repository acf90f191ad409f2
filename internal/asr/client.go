// Package asr streams microphone audio to the recognizer service over a
// websocket and merges interim and final hypotheses into one utterance.
package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamConfig controls stream initialization and recognition behavior.
type StreamConfig struct {
	Endpoint    string
	Language    string
	SampleRate  int
	DialTimeout time.Duration
}

// Result is one recognition hypothesis. Transcript always reflects the
// whole utterance observed so far, not just the newest segment.
type Result struct {
	Transcript string
	Confidence float64
	Final      bool
}

// Stream wraps one active recognizer websocket lifecycle. Audio goes in via
// SendAudio; hypotheses come back on Results until the stream ends.
type Stream struct {
	conn *websocket.Conn

	results  chan Result
	recvDone chan struct{}
	cancelCh chan struct{}

	writeMu sync.Mutex

	mu          sync.Mutex
	segments    []string // committed transcript segments (final and pause-committed interim)
	lastInterim string
	confidence  float64
	recvErr     error
	closedSend  bool

	cancelOnce sync.Once
}

// serverFrame is the recognizer wire format. Result frames carry hypothesis
// fields; error frames carry a message.
type serverFrame struct {
	Type       string  `json:"type"`
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
	Message    string  `json:"message"`
}

const stopFrame = `{"type":"stop"}`

// DialStream connects to the recognizer and starts the receive loop.
func DialStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("recognizer endpoint is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}

	listenURL, err := buildListenURL(endpoint, cfg)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, listenURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial recognizer %q: %w (http status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial recognizer %q: %w", endpoint, err)
	}

	s := &Stream{
		conn:     conn,
		results:  make(chan Result, 16),
		recvDone: make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
	go s.recvLoop()
	return s, nil
}

// buildListenURL attaches recognition parameters as query values.
func buildListenURL(endpoint string, cfg StreamConfig) (string, error) {
	listenURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid recognizer endpoint %q: %w", endpoint, err)
	}

	query := listenURL.Query()
	query.Set("language", cfg.Language)
	query.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	query.Set("encoding", "linear16")
	query.Set("channels", "1")
	query.Set("interim_results", "true")
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}

// recvLoop continuously receives recognizer frames until stream close/error.
func (s *Stream) recvLoop() {
	defer func() {
		close(s.results)
		close(s.recvDone)
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return
			}
			s.setErr(fmt.Errorf("read recognizer frame: %w", err))
			return
		}

		var frame serverFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}

		switch {
		case strings.EqualFold(frame.Type, "error"):
			message := strings.TrimSpace(frame.Message)
			if message == "" {
				message = "recognizer returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		case strings.EqualFold(frame.Type, "result"):
			if res, ok := s.recordResult(frame); ok {
				s.emit(res)
			}
		}
	}
}

// recordResult merges final/interim segments into stream state and returns
// the whole-utterance view to surface.
func (s *Stream) recordResult(frame serverFrame) (Result, bool) {
	transcript := cleanSegment(frame.Transcript)
	if transcript == "" {
		return Result{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if frame.Confidence > 0 {
		s.confidence = frame.Confidence
	}

	if frame.Final {
		s.segments = appendSegment(s.segments, transcript)
		s.lastInterim = ""
		return Result{Transcript: joinSegments(s.segments), Confidence: s.confidence, Final: true}, true
	}

	if s.lastInterim != "" && !isInterimContinuation(s.lastInterim, transcript) {
		s.segments = appendSegment(s.segments, s.lastInterim)
	}
	s.lastInterim = transcript
	merged := collectSegments(s.segments, s.lastInterim)
	return Result{Transcript: joinSegments(merged), Confidence: s.confidence, Final: false}, true
}

// emit forwards a hypothesis to the consumer. Finals block until taken so
// they cannot be lost; interims are dropped when the consumer lags.
func (s *Stream) emit(res Result) {
	if res.Final {
		select {
		case s.results <- res:
		case <-s.cancelCh:
		}
		return
	}

	select {
	case s.results <- res:
	default:
	}
}

// Results delivers hypotheses as they arrive. The channel closes when the
// stream ends for any reason.
func (s *Stream) Results() <-chan Result {
	return s.results
}

// Done closes once the receive loop has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.recvDone
}

// Err reports the sticky receive error, nil after a clean close.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recvErr
}

// SendAudio sends one chunk of PCM audio over the active stream.
func (s *Stream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.mu.Lock()
	closed := s.closedSend
	recvErr := s.recvErr
	s.mu.Unlock()

	if closed {
		return errors.New("stream already closed for sending")
	}
	if recvErr != nil {
		return fmt.Errorf("stream receive loop failed: %w", recvErr)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// CloseAndCollect ends the utterance and returns the merged transcript once
// the recognizer has flushed its remaining hypotheses. Hypotheses nobody
// consumed are drained here so the receive loop can finish.
func (s *Stream) CloseAndCollect(ctx context.Context) (Result, error) {
	s.closeSend()

	for {
		select {
		case <-s.recvDone:
			return s.collect()
		case _, ok := <-s.results:
			if !ok {
				<-s.recvDone
				return s.collect()
			}
		case <-ctx.Done():
			_ = s.Cancel()
			return Result{}, ctx.Err()
		}
	}
}

// collect snapshots the merged utterance after the receive loop has exited.
func (s *Stream) collect() (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() { _ = s.conn.Close() }()

	if s.recvErr != nil {
		return Result{}, s.recvErr
	}

	segments := collectSegments(s.segments, s.lastInterim)
	return Result{Transcript: joinSegments(segments), Confidence: s.confidence, Final: true}, nil
}

// closeSend notifies the recognizer that no more audio will arrive.
func (s *Stream) closeSend() {
	s.mu.Lock()
	alreadyClosed := s.closedSend
	s.closedSend = true
	s.mu.Unlock()
	if alreadyClosed {
		return
	}

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte(stopFrame))
	s.writeMu.Unlock()
}

// Cancel aborts stream processing and closes the underlying connection.
func (s *Stream) Cancel() error {
	s.cancelOnce.Do(func() { close(s.cancelCh) })

	s.mu.Lock()
	s.closedSend = true
	s.mu.Unlock()
	return s.conn.Close()
}

// setErr records the first receive failure.
func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recvErr == nil {
		s.recvErr = err
	}
}
