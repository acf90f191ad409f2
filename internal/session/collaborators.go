package session

import (
	"context"
	"time"
)

// WakeEvent reports a single wake-phrase detection.
type WakeEvent struct {
	Phrase     string
	Confidence float64
	At         time.Time
}

// WakeDetector spots the wake phrase while the pipeline rests in passive
// listening. Events must return the same channel across Start/Stop cycles
// so a single watcher can consume detections for the detector's lifetime.
type WakeDetector interface {
	Start(context.Context) error
	Events() <-chan WakeEvent
	Stop() error
}

// noopDetector preserves orchestrator flow when no detector is wired.
type noopDetector struct {
	ch chan WakeEvent
}

func newNoopDetector() *noopDetector {
	return &noopDetector{ch: make(chan WakeEvent)}
}

func (*noopDetector) Start(context.Context) error { return nil }
func (d *noopDetector) Events() <-chan WakeEvent  { return d.ch }
func (*noopDetector) Stop() error                 { return nil }

// RecognizeOptions selects language and input format for one capture.
type RecognizeOptions struct {
	Language   string
	SampleRate int
}

// RecognitionResult is one hypothesis from the recognizer. Final marks the
// recognizer's own end-of-utterance decision; interim hypotheses may still
// be accepted early on confidence.
type RecognitionResult struct {
	Transcript string
	Confidence float64
	Final      bool
}

// RecognitionStream is one live capture. Results and Errors close when the
// stream ends. Stop flushes buffered audio and returns the best final
// hypothesis; Cancel abandons the capture without a result. Both are safe
// to call after the stream has already finished.
type RecognitionStream interface {
	Results() <-chan RecognitionResult
	Errors() <-chan error
	Stop(context.Context) (RecognitionResult, error)
	Cancel()
}

// Recognizer opens capture and recognition streams for active listening.
type Recognizer interface {
	Start(context.Context, RecognizeOptions) (RecognitionStream, error)
}

// PlaceholderRecognizer fails every start; used in tests/fallback wiring.
type PlaceholderRecognizer struct{}

func (PlaceholderRecognizer) Start(context.Context, RecognizeOptions) (RecognitionStream, error) {
	return nil, ErrRecognizerUnavailable
}

// IntentResult is the interpreted outcome for one transcript.
type IntentResult struct {
	ResponseText string
	Intent       string
	Confidence   float64
}

// IntentProcessor turns a transcript into an actionable response.
type IntentProcessor interface {
	Process(ctx context.Context, transcript string) (IntentResult, error)
}

// IntentFunc adapts a function to the IntentProcessor interface.
type IntentFunc func(context.Context, string) (IntentResult, error)

func (f IntentFunc) Process(ctx context.Context, transcript string) (IntentResult, error) {
	return f(ctx, transcript)
}

// SpeakRequest carries one utterance to the synthesizer.
type SpeakRequest struct {
	Text     string
	Language string
	Rate     float64
	Voice    string
}

// Synthesizer renders a response as audible speech.
type Synthesizer interface {
	Speak(context.Context, SpeakRequest) error
}

// SpeakFunc adapts a function to the Synthesizer interface.
type SpeakFunc func(context.Context, SpeakRequest) error

func (f SpeakFunc) Speak(ctx context.Context, req SpeakRequest) error {
	return f(ctx, req)
}

// MuteSynthesizer discards speech output.
type MuteSynthesizer struct{}

func (MuteSynthesizer) Speak(context.Context, SpeakRequest) error { return nil }
