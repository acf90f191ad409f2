// Package events carries stage-change notifications from the voice pipeline
// to registered listeners.
package events

import (
	"time"

	"github.com/parla-voice/parla/internal/fsm"
)

// Metrics is the per-session latency snapshot attached to stage events.
// Durations are milliseconds; a stage that never ran contributes zero.
type Metrics struct {
	WakeWordMS   int64 `json:"wake_word_ms"`
	CaptureMS    int64 `json:"capture_ms"`
	ProcessingMS int64 `json:"processing_ms"`
	SynthesisMS  int64 `json:"synthesis_ms"`
	TotalMS      int64 `json:"total_ms"`
}

// Event is one stage-change snapshot. Listeners must treat it as read-only;
// the pipeline never hands out live state.
type Event struct {
	SessionID    string    `json:"session_id,omitempty"`
	Stage        fsm.Stage `json:"stage"`
	Transcript   string    `json:"transcript,omitempty"`
	ResponseText string    `json:"response_text,omitempty"`
	Metrics      *Metrics  `json:"metrics,omitempty"`
	Err          string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Listener receives stage-change events. Delivery is synchronous: a slow
// listener delays the transition that produced the event, and a listener must
// not call back into the pipeline from HandleEvent.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(ev Event) { f(ev) }

// Chan returns a listener that forwards events into the returned channel.
// Events are dropped when the buffer is full so a stalled consumer cannot
// block stage transitions.
func Chan(buffer int) (Listener, <-chan Event) {
	ch := make(chan Event, buffer)
	forward := ListenerFunc(func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return forward, ch
}
