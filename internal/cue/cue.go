// Package cue plays short synthesized tones marking pipeline milestones:
// wake acknowledgment, completion, error, and timeout.
package cue

import (
	"log/slog"
	"sync"

	"github.com/parla-voice/parla/internal/audio"
	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/events"
	"github.com/parla-voice/parla/internal/fsm"
)

type kind int

const (
	kindDetected kind = iota + 1
	kindComplete
	kindError
	kindTimeout
)

func (k kind) String() string {
	switch k {
	case kindDetected:
		return "detected"
	case kindComplete:
		return "complete"
	case kindError:
		return "error"
	case kindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

var _ events.Listener = (*Player)(nil)

// Player turns stage changes into audible cues. Playback runs on its own
// goroutine so HandleEvent never delays a transition.
type Player struct {
	source func() config.Config
	logger *slog.Logger
	play   func(samples []int16, sampleRate int, mediaName string) error

	queue chan kind
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// NewPlayer builds a cue player and starts its playback worker.
func NewPlayer(source func() config.Config, logger *slog.Logger) *Player {
	if source == nil {
		defaults := config.Default()
		source = func() config.Config { return defaults }
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Player{
		source: source,
		logger: logger,
		play:   audio.PlaySamples,
		queue:  make(chan kind, 4),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// HandleEvent implements events.Listener. Cues queue when the chime is
// enabled and drop when the player is backed up.
func (p *Player) HandleEvent(ev events.Event) {
	if !p.source().Wake.Chime {
		return
	}
	k, ok := kindForStage(ev.Stage)
	if !ok {
		return
	}
	select {
	case p.queue <- k:
	default:
		p.logger.Debug("cue dropped", "cue", k.String())
	}
}

// Close stops the playback worker. Queued cues are discarded.
func (p *Player) Close() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Player) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		case k := <-p.queue:
			p.playKind(k)
		}
	}
}

func (p *Player) playKind(k kind) {
	samples := samplesForKind(k)
	if len(samples) == 0 {
		return
	}
	if err := p.play(samples, sampleRate, "parla cue"); err != nil {
		p.logger.Debug("cue playback failed", "cue", k.String(), "error", err)
	}
}

func kindForStage(stage fsm.Stage) (kind, bool) {
	switch stage {
	case fsm.StageDetected:
		return kindDetected, true
	case fsm.StageResponding:
		return kindComplete, true
	case fsm.StageError:
		return kindError, true
	case fsm.StageTimedOut:
		return kindTimeout, true
	default:
		return 0, false
	}
}

func samplesForKind(k kind) []int16 {
	switch k {
	case kindDetected:
		return detectedPCM
	case kindComplete:
		return completePCM
	case kindError:
		return errorPCM
	case kindTimeout:
		return timeoutPCM
	default:
		return nil
	}
}
