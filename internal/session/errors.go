package session

import "errors"

var (
	// ErrSessionActive indicates a trigger arrived while a session walk is
	// already in flight. Triggers are rejected, never queued.
	ErrSessionActive = errors.New("a voice session is already active")
	// ErrNotCapturing indicates a stop request arrived outside active capture.
	ErrNotCapturing = errors.New("no active capture to stop")
	// ErrCaptureTimeout indicates the listening window expired before the
	// recognizer produced a usable result.
	ErrCaptureTimeout = errors.New("listening window expired before speech was captured")
	// ErrNoSpeech indicates capture finished but the transcript was empty.
	ErrNoSpeech = errors.New("no speech recognized; check microphone input or mute state")
	// ErrRecognizerUnavailable indicates runtime recognizer wiring is missing.
	ErrRecognizerUnavailable = errors.New("speech capture and recognition pipeline not implemented")
	// ErrIntentUnavailable indicates runtime intent wiring is missing.
	ErrIntentUnavailable = errors.New("intent processing not implemented")
	// ErrStopped indicates the orchestrator was cleaned up and is no longer
	// accepting triggers.
	ErrStopped = errors.New("voice orchestrator is not running")
)

// IsBusy reports whether an error represents a rejected concurrent trigger.
func IsBusy(err error) bool {
	return errors.Is(err, ErrSessionActive)
}
