package wakeword

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/session"
)

func TestNormalizeText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hey, Parla!", "hey parla"},
		{"  HEY   PARLA  ", "hey parla"},
		{"What's   up?", "what's up"},
		{"hey-parla", "hey parla"},
		{"...", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeText(tc.in); got != tc.want {
			t.Fatalf("normalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSpotterFiresOnPhrase(t *testing.T) {
	first := newScriptedStream()
	second := newScriptedStream()
	rec := &fakeRecognizer{streams: []*scriptedStream{first, second}}
	spotter := newTestSpotter(rec)

	if err := spotter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = spotter.Stop() }()

	first.results <- session.RecognitionResult{Transcript: "well Hey, Parla please", Confidence: 0.42}

	select {
	case ev := <-spotter.Events():
		if ev.Phrase != "hey parla" {
			t.Fatalf("phrase = %q, want %q", ev.Phrase, "hey parla")
		}
		if ev.Confidence != 0.42 {
			t.Fatalf("confidence = %v, want 0.42", ev.Confidence)
		}
		if ev.At.IsZero() {
			t.Fatal("event timestamp not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for wake event")
	}

	if !waitCond(first.isCancelled) {
		t.Fatal("fired stream was not cancelled")
	}
	if !waitCond(func() bool { return rec.openCount() == 2 }) {
		t.Fatalf("expected immediate reopen after firing, opened=%d", rec.openCount())
	}
}

func TestSpotterIgnoresUnrelatedSpeech(t *testing.T) {
	first := newScriptedStream()
	rec := &fakeRecognizer{streams: []*scriptedStream{first}}
	spotter := newTestSpotter(rec)

	if err := spotter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = spotter.Stop() }()

	first.results <- session.RecognitionResult{Transcript: "turn the volume down", Confidence: 0.8}
	first.results <- session.RecognitionResult{Transcript: "parlay my winnings", Confidence: 0.9}

	select {
	case ev := <-spotter.Events():
		t.Fatalf("unexpected wake event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSpotterStartFailsWhenRecognizerUnavailable(t *testing.T) {
	rec := &fakeRecognizer{openErr: session.ErrRecognizerUnavailable}
	spotter := newTestSpotter(rec)

	err := spotter.Start(context.Background())
	if !errors.Is(err, session.ErrRecognizerUnavailable) {
		t.Fatalf("err = %v, want ErrRecognizerUnavailable", err)
	}
}

func TestSpotterStartIdempotentWhileRunning(t *testing.T) {
	first := newScriptedStream()
	rec := &fakeRecognizer{streams: []*scriptedStream{first}}
	spotter := newTestSpotter(rec)

	if err := spotter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = spotter.Stop() }()

	if err := spotter.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if rec.openCount() != 1 {
		t.Fatalf("opened = %d, want 1", rec.openCount())
	}
}

func TestSpotterStopThenRestartKeepsEventsChannel(t *testing.T) {
	first := newScriptedStream()
	second := newScriptedStream()
	rec := &fakeRecognizer{streams: []*scriptedStream{first, second}}
	spotter := newTestSpotter(rec)

	events := spotter.Events()

	if err := spotter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := spotter.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !first.isCancelled() {
		t.Fatal("stream not released on stop")
	}

	if spotter.Events() != events {
		t.Fatal("events channel changed across restart")
	}

	if err := spotter.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer func() { _ = spotter.Stop() }()
	if rec.openCount() != 2 {
		t.Fatalf("opened = %d, want 2", rec.openCount())
	}
	if spotter.Events() != events {
		t.Fatal("events channel changed across restart")
	}
}

func TestSpotterRecyclesWhenStreamEnds(t *testing.T) {
	first := newScriptedStream()
	second := newScriptedStream()
	rec := &fakeRecognizer{streams: []*scriptedStream{first, second}}
	spotter := newTestSpotter(rec)

	if err := spotter.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = spotter.Stop() }()

	first.end()
	if !waitCond(func() bool { return rec.openCount() == 2 }) {
		t.Fatalf("stream not recycled, opened=%d", rec.openCount())
	}

	second.results <- session.RecognitionResult{Transcript: "hey parla", Confidence: 0.5}
	select {
	case <-spotter.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("no wake event after recycle")
	}
}

func TestSpotterStopWithoutStart(t *testing.T) {
	spotter := newTestSpotter(&fakeRecognizer{})
	if err := spotter.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func newTestSpotter(rec session.Recognizer) *Spotter {
	cfg := config.Default()
	cfg.Wake.Phrase = "hey parla"
	s := NewSpotter(func() config.Config { return cfg }, rec, nil)
	s.retryDelay = 10 * time.Millisecond
	return s
}

func waitCond(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

type scriptedStream struct {
	results chan session.RecognitionResult
	errs    chan error

	mu        sync.Mutex
	cancelled bool
}

func newScriptedStream() *scriptedStream {
	return &scriptedStream{
		results: make(chan session.RecognitionResult, 8),
		errs:    make(chan error, 1),
	}
}

func (s *scriptedStream) Results() <-chan session.RecognitionResult { return s.results }

func (s *scriptedStream) Errors() <-chan error { return s.errs }

func (s *scriptedStream) Stop(context.Context) (session.RecognitionResult, error) {
	return session.RecognitionResult{}, nil
}

func (s *scriptedStream) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

func (s *scriptedStream) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// end simulates the recognizer finishing the stream on its own.
func (s *scriptedStream) end() {
	close(s.results)
	close(s.errs)
}

type fakeRecognizer struct {
	mu      sync.Mutex
	streams []*scriptedStream
	openErr error
	opened  int
}

func (f *fakeRecognizer) Start(context.Context, session.RecognizeOptions) (session.RecognitionStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.opened >= len(f.streams) {
		return nil, errors.New("scripted streams exhausted")
	}
	stream := f.streams[f.opened]
	f.opened++
	return stream, nil
}

func (f *fakeRecognizer) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}
