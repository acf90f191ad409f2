package fsm

import "fmt"

type Stage string

const (
	StageIdle             Stage = "idle"
	StagePassiveListening Stage = "passive_listening"
	StageDetected         Stage = "detected"
	StageActiveCapture    Stage = "active_capture"
	StageProcessing       Stage = "processing"
	StageResponding       Stage = "responding"
	StageError            Stage = "error"
	StageTimedOut         Stage = "timed_out"
)

// InvalidTransitionError reports a requested edge outside the transition table.
type InvalidTransitionError struct {
	From Stage
	To   Stage
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s --> %s", e.From, e.To)
}

// Transition validates moving from current to next and returns the stage the
// machine settles in. StageError is a failure sink reachable from any stage
// except StageIdle, so error routing never deadlocks behind the table.
func Transition(current Stage, next Stage) (Stage, error) {
	if next == StageError && current != StageIdle {
		return StageError, nil
	}

	switch current {
	case StageIdle:
		switch next {
		// StageActiveCapture covers a manual trigger taken while idle.
		case StagePassiveListening, StageActiveCapture:
			return next, nil
		default:
			return current, invalidTransition(current, next)
		}
	case StagePassiveListening:
		switch next {
		// StageActiveCapture covers the manual trigger, which skips StageDetected.
		case StageDetected, StageActiveCapture:
			return next, nil
		default:
			return current, invalidTransition(current, next)
		}
	case StageDetected:
		switch next {
		case StageActiveCapture:
			return next, nil
		default:
			return current, invalidTransition(current, next)
		}
	case StageActiveCapture:
		switch next {
		case StageProcessing, StageTimedOut:
			return next, nil
		default:
			return current, invalidTransition(current, next)
		}
	case StageProcessing:
		switch next {
		case StageResponding:
			return next, nil
		default:
			return current, invalidTransition(current, next)
		}
	case StageResponding, StageError, StageTimedOut:
		switch next {
		case StagePassiveListening, StageIdle:
			return next, nil
		default:
			return current, invalidTransition(current, next)
		}
	default:
		return current, fmt.Errorf("unknown stage %q", current)
	}
}

// Listening reports whether stage holds an open audio input path.
func Listening(stage Stage) bool {
	switch stage {
	case StagePassiveListening, StageDetected, StageActiveCapture:
		return true
	default:
		return false
	}
}

// Processing reports whether post-capture session work is in flight.
func Processing(stage Stage) bool {
	return stage == StageProcessing || stage == StageResponding
}

// Busy reports whether a session currently owns the pipeline. Triggers are
// rejected while busy.
func Busy(stage Stage) bool {
	switch stage {
	case StageIdle, StagePassiveListening:
		return false
	default:
		return true
	}
}

// Terminal reports whether stage is a resolved session endpoint awaiting
// recovery back to passive listening or idle.
func Terminal(stage Stage) bool {
	switch stage {
	case StageResponding, StageError, StageTimedOut:
		return true
	default:
		return false
	}
}

func invalidTransition(current Stage, next Stage) error {
	return &InvalidTransitionError{From: current, To: next}
}
