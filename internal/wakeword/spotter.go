// Package wakeword spots the configured wake phrase inside a passive
// recognition stream.
package wakeword

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/session"
)

const defaultRetryDelay = 2 * time.Second

var _ session.WakeDetector = (*Spotter)(nil)

// Spotter listens on a low-commitment recognition stream and fires a wake
// event when the configured phrase appears in any hypothesis. The events
// channel stays stable across Start/Stop cycles so one watcher can consume
// detections for the spotter's lifetime.
type Spotter struct {
	source     func() config.Config
	rec        session.Recognizer
	logger     *slog.Logger
	retryDelay time.Duration

	events chan session.WakeEvent

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSpotter builds a spotter over the given recognizer. The config source
// is consulted on every stream open so phrase and endpoint changes apply to
// the next passive cycle.
func NewSpotter(source func() config.Config, rec session.Recognizer, logger *slog.Logger) *Spotter {
	if source == nil {
		def := config.Default()
		source = func() config.Config { return def }
	}
	if rec == nil {
		rec = session.PlaceholderRecognizer{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Spotter{
		source:     source,
		rec:        rec,
		logger:     logger,
		retryDelay: defaultRetryDelay,
		events:     make(chan session.WakeEvent, 4),
	}
}

// Events returns the detection channel.
func (s *Spotter) Events() <-chan session.WakeEvent {
	return s.events
}

// Start opens the passive stream and begins scanning. A failure to open the
// first stream is returned synchronously; later stream failures are retried
// in the background. Start while already running is a no-op.
func (s *Spotter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	stream, err := s.open(runCtx, s.source())
	if err != nil {
		cancel()
		return fmt.Errorf("open passive stream: %w", err)
	}

	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go s.run(runCtx, done, stream)
	return nil
}

// Stop halts scanning and waits for the live stream to be released.
func (s *Spotter) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// run owns the passive stream lifecycle: scan until the phrase fires or the
// stream dies, then reopen. A fired detection reopens immediately; a dead
// stream waits out the retry delay first.
func (s *Spotter) run(ctx context.Context, done chan struct{}, stream session.RecognitionStream) {
	defer close(done)

	for {
		fired := s.scan(ctx, stream)
		stream.Cancel()
		if ctx.Err() != nil {
			return
		}
		if !fired && !s.pause(ctx) {
			return
		}

		next, err := s.open(ctx, s.source())
		for err != nil {
			s.logger.Warn("passive stream reopen failed", "error", err)
			if !s.pause(ctx) {
				return
			}
			next, err = s.open(ctx, s.source())
		}
		stream = next
	}
}

// scan consumes hypotheses until the phrase matches, the stream ends, or the
// context is cancelled. It reports whether a wake event was emitted.
func (s *Spotter) scan(ctx context.Context, stream session.RecognitionStream) bool {
	phrase := normalizeText(s.source().Wake.Phrase)
	results, errs := stream.Results(), stream.Errors()

	for results != nil || errs != nil {
		select {
		case <-ctx.Done():
			return false
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if phrase != "" && strings.Contains(normalizeText(res.Transcript), phrase) {
				s.fire(session.WakeEvent{Phrase: phrase, Confidence: res.Confidence, At: time.Now()})
				return true
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Debug("passive stream error", "error", err)
		}
	}
	return false
}

// fire delivers without blocking; a detection nobody is draining would be
// stale by the time it was read.
func (s *Spotter) fire(ev session.WakeEvent) {
	select {
	case s.events <- ev:
		s.logger.Debug("wake phrase spotted", "phrase", ev.Phrase, "confidence", ev.Confidence)
	default:
		s.logger.Debug("wake event dropped, no watcher draining events")
	}
}

// pause sleeps out the retry delay, reporting false when cancelled.
func (s *Spotter) pause(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.retryDelay):
		return true
	}
}

func (s *Spotter) open(ctx context.Context, cfg config.Config) (session.RecognitionStream, error) {
	return s.rec.Start(ctx, session.RecognizeOptions{
		Language:   cfg.Speech.Language,
		SampleRate: cfg.Recognizer.SampleRate,
	})
}

// normalizeText lowercases and strips punctuation so "Hey, Parla!" matches
// the configured phrase. Apostrophes stay so contractions survive.
func normalizeText(text string) string {
	var b strings.Builder
	pendingSpace := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			if pendingSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}
