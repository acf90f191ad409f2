// Package session coordinates the voice pipeline lifecycle: wake detection,
// active capture, intent processing, and spoken responses.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/parla-voice/parla/internal/events"
)

type metricMark uint8

const (
	markWake metricMark = 1 << iota
	markCapture
	markProcessing
	markSynthesis
	markTotal
)

// Session is one wake-to-response walk through the pipeline.
type Session struct {
	ID        string
	StartedAt time.Time

	Transcript   string
	Confidence   float64
	ResponseText string

	metrics events.Metrics
	marked  metricMark

	captureStartedAt time.Time
	processStartedAt time.Time
	respondStartedAt time.Time
	captureEnded     bool
}

// newSession mints a session and records the wake latency. Manual triggers
// pass zero.
func newSession(wakeAge time.Duration) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	s.record(markWake, &s.metrics.WakeWordMS, wakeAge)
	return s
}

func (s *Session) recordCapture(d time.Duration)    { s.record(markCapture, &s.metrics.CaptureMS, d) }
func (s *Session) recordProcessing(d time.Duration) { s.record(markProcessing, &s.metrics.ProcessingMS, d) }
func (s *Session) recordSynthesis(d time.Duration)  { s.record(markSynthesis, &s.metrics.SynthesisMS, d) }

// record stores one stage latency exactly once; later writes are ignored.
func (s *Session) record(mark metricMark, dst *int64, d time.Duration) {
	if s.marked&mark != 0 {
		return
	}
	s.marked |= mark
	if d < 0 {
		d = 0
	}
	*dst = d.Milliseconds()
}

// finish freezes the metrics: stages that never ran stay at zero and the
// total becomes the sum of the four stage latencies. Idempotent.
func (s *Session) finish() {
	s.marked |= markWake | markCapture | markProcessing | markSynthesis
	if s.marked&markTotal != 0 {
		return
	}
	s.marked |= markTotal
	s.metrics.TotalMS = s.metrics.WakeWordMS + s.metrics.CaptureMS +
		s.metrics.ProcessingMS + s.metrics.SynthesisMS
}

// Metrics returns a snapshot copy of the session metrics.
func (s *Session) Metrics() events.Metrics {
	return s.metrics
}
