package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/events"
	"github.com/parla-voice/parla/internal/fsm"
	"github.com/parla-voice/parla/internal/timeout"
)

// stopFlushTimeout bounds the final flush of a manually stopped capture.
const stopFlushTimeout = 5 * time.Second

type triggerKind int

const (
	triggerWake triggerKind = iota + 1
	triggerManual
)

// captureState tracks the live recognition stream for the active session.
type captureState struct {
	sessionID string
	stream    RecognitionStream
	handle    timeout.Handle
}

// Orchestrator drives the wake-to-response pipeline. Each trigger claims
// the single session slot, walks capture, intent processing, and spoken
// response, then recovers to passive listening or idle. Intent processing
// and synthesis run unbounded; only the capture window carries a deadline.
type Orchestrator struct {
	logger *slog.Logger
	ctrl   *Controller
	timers *timeout.Supervisor
	bus    *events.Bus
	back   *BackgroundSupervisor

	detector WakeDetector
	rec      Recognizer
	intent   IntentProcessor
	synth    Synthesizer

	cfgMu sync.RWMutex
	cfg   config.Config

	mu          sync.Mutex
	baseCtx     context.Context
	watchCancel context.CancelFunc
	capture     *captureState
	stopped     bool
}

// NewOrchestrator constructs an orchestrator with safe default fallbacks
// for any missing collaborator.
func NewOrchestrator(
	logger *slog.Logger,
	cfg config.Config,
	detector WakeDetector,
	recognizer Recognizer,
	intent IntentProcessor,
	synth Synthesizer,
) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if detector == nil {
		detector = newNoopDetector()
	}
	if recognizer == nil {
		recognizer = PlaceholderRecognizer{}
	}
	if intent == nil {
		intent = IntentFunc(func(context.Context, string) (IntentResult, error) {
			return IntentResult{}, ErrIntentUnavailable
		})
	}
	if synth == nil {
		synth = MuteSynthesizer{}
	}

	bus := events.NewBus()
	timers := timeout.NewSupervisor()
	ctrl := NewController(logger, bus, timers)

	o := &Orchestrator{
		logger:   logger,
		ctrl:     ctrl,
		timers:   timers,
		bus:      bus,
		detector: detector,
		rec:      recognizer,
		intent:   intent,
		synth:    synth,
		cfg:      cfg,
		baseCtx:  context.Background(),
	}
	o.back = NewBackgroundSupervisor(logger, ctrl, timers, detector, o.Config)
	return o
}

// Start launches wake watching and, when background listening is enabled,
// passive listening. It does not block.
func (o *Orchestrator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	o.mu.Lock()
	if o.watchCancel != nil {
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	o.baseCtx = ctx
	o.stopped = false
	watchCtx, cancel := context.WithCancel(ctx)
	o.watchCancel = cancel
	o.mu.Unlock()

	go o.watchWake(watchCtx)

	if o.back.Enabled() {
		if err := o.back.StartPassive(ctx); err != nil {
			o.logger.Warn("background listening not started", "error", err)
		}
	}
	return nil
}

// AddListener subscribes a stage-change listener and returns its id.
func (o *Orchestrator) AddListener(l events.Listener) int {
	return o.bus.Subscribe(l)
}

// RemoveListener drops a previously subscribed listener.
func (o *Orchestrator) RemoveListener(id int) {
	o.bus.Unsubscribe(id)
}

// StartManualListening begins capture immediately, skipping wake detection.
func (o *Orchestrator) StartManualListening() error {
	return o.trigger(0, triggerManual)
}

// StopListening ends the capture window early and flushes what was heard.
// Outside active capture it reports ErrNotCapturing and changes nothing.
func (o *Orchestrator) StopListening() error {
	cfg := o.Config()
	stage, sessID := o.ctrl.Snapshot()
	if stage != fsm.StageActiveCapture || sessID == "" {
		return ErrNotCapturing
	}
	if !o.ctrl.endCapture(sessID) {
		// Another finisher won the race; the capture is already ending.
		return nil
	}

	cs := o.takeCapture(sessID)
	if cs == nil {
		o.timers.CancelActive()
		go o.afterCapture(sessID, cfg, RecognitionResult{})
		return nil
	}
	o.timers.Cancel(cs.handle)

	flushCtx, cancel := context.WithTimeout(context.Background(), stopFlushTimeout)
	defer cancel()
	res, err := cs.stream.Stop(flushCtx)
	if err != nil {
		o.logger.Error("capture flush failed", "session_id", sessID, "error", err)
		cs.stream.Cancel()
		_ = o.ctrl.Transition(fsm.StageError, err.Error())
		o.recover()
		return err
	}
	go o.afterCapture(sessID, cfg, res)
	return nil
}

// StartBackgroundListening enables passive listening between sessions and
// starts it now when the pipeline is at rest.
func (o *Orchestrator) StartBackgroundListening() error {
	if o.isStopped() {
		return ErrStopped
	}
	o.back.SetEnabled(true)
	err := o.back.StartPassive(o.baseContext())
	if errors.Is(err, ErrSessionActive) {
		o.logger.Info("background listening deferred until the active session completes")
		return nil
	}
	return err
}

// StopBackgroundListening disables passive listening and stops it if it is
// currently running.
func (o *Orchestrator) StopBackgroundListening() {
	o.back.SetEnabled(false)
	o.back.StopPassive()
}

// Stage returns the current pipeline stage.
func (o *Orchestrator) Stage() fsm.Stage {
	return o.ctrl.Stage()
}

// Snapshot returns the current stage and the id of the active session.
func (o *Orchestrator) Snapshot() (fsm.Stage, string) {
	return o.ctrl.Snapshot()
}

// Metrics returns the active session's latency snapshot, falling back to
// the last completed session once the pipeline is at rest.
func (o *Orchestrator) Metrics() events.Metrics {
	return o.ctrl.Metrics()
}

// IsListening reports whether the pipeline is in a listening stage.
func (o *Orchestrator) IsListening() bool {
	return fsm.Listening(o.ctrl.Stage())
}

// IsProcessing reports whether the pipeline is interpreting or responding.
func (o *Orchestrator) IsProcessing() bool {
	return fsm.Processing(o.ctrl.Stage())
}

// BackgroundEnabled reports the desired resting mode.
func (o *Orchestrator) BackgroundEnabled() bool {
	return o.back.Enabled()
}

// Config returns the current configuration snapshot.
func (o *Orchestrator) Config() config.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// UpdateConfig applies mutate to a copy of the configuration, validates it,
// and swaps it in wholesale. Sessions already in flight keep the snapshot
// they started with.
func (o *Orchestrator) UpdateConfig(mutate func(*config.Config)) error {
	if mutate == nil {
		return nil
	}

	o.cfgMu.Lock()
	next := o.cfg
	mutate(&next)
	if _, err := config.Validate(next); err != nil {
		o.cfgMu.Unlock()
		return err
	}
	o.cfg = next
	o.cfgMu.Unlock()

	o.back.SetEnabled(next.Background.Enabled)
	if !next.Background.Enabled {
		o.back.StopPassive()
	}
	o.logger.Info("configuration updated",
		"listen_timeout_ms", next.Listen.TimeoutMS,
		"background", next.Background.Enabled)
	return nil
}

// Cleanup tears the orchestrator down: wake watching stops, any live
// capture is cancelled, and the pipeline returns to idle.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	o.stopped = true
	if o.watchCancel != nil {
		o.watchCancel()
		o.watchCancel = nil
	}
	cs := o.capture
	o.capture = nil
	o.mu.Unlock()

	if cs != nil {
		cs.stream.Cancel()
	}
	o.timers.CancelActive()
	o.back.Suspend()
	o.ctrl.Reset()
}

// watchWake funnels detector events into session triggers.
func (o *Orchestrator) watchWake(ctx context.Context) {
	wakes := o.detector.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-wakes:
			if !ok {
				return
			}
			o.onWake(ev)
		}
	}
}

func (o *Orchestrator) onWake(ev WakeEvent) {
	// Drop detections buffered from before the detector was suspended.
	if !o.back.Running() {
		o.logger.Debug("wake event ignored, passive listening not active", "phrase", ev.Phrase)
		return
	}

	var age time.Duration
	if !ev.At.IsZero() {
		age = time.Since(ev.At)
	}
	o.logger.Info("wake phrase detected", "phrase", ev.Phrase, "confidence", ev.Confidence)
	if err := o.trigger(age, triggerWake); err != nil {
		o.logger.Debug("wake trigger ignored", "error", err)
	}
}

// trigger claims the session slot and opens the capture window. Wake
// triggers pass through the detected stage; manual triggers go straight to
// active capture.
func (o *Orchestrator) trigger(wakeAge time.Duration, kind triggerKind) error {
	if o.isStopped() {
		return ErrStopped
	}

	cfg := o.Config()
	sess := newSession(wakeAge)

	if err := o.ctrl.Claim(sess); err != nil {
		return err
	}

	o.back.Suspend()

	if kind == triggerWake {
		if err := o.ctrl.Transition(fsm.StageDetected, ""); err != nil {
			o.recover()
			return err
		}
	}
	if err := o.ctrl.Transition(fsm.StageActiveCapture, ""); err != nil {
		o.recover()
		return err
	}

	o.ctrl.updateSession(sess.ID, func(s *Session) { s.captureStartedAt = time.Now() })

	handle := o.timers.Arm(cfg.ListenTimeout(), func() { o.onCaptureTimeout(sess.ID, cfg) })

	stream, err := o.rec.Start(o.baseContext(), RecognizeOptions{
		Language:   cfg.Speech.Language,
		SampleRate: cfg.Recognizer.SampleRate,
	})
	if err != nil {
		o.logger.Error("recognizer start failed", "session_id", sess.ID, "error", err)
		if o.ctrl.endCapture(sess.ID) {
			o.timers.Cancel(handle)
			_ = o.ctrl.Transition(fsm.StageError, err.Error())
			o.recover()
		}
		return err
	}

	// The stop or timeout path may have ended the window while the
	// recognizer was still dialing; the stream arrives with no owner then.
	if !o.ctrl.capturing(sess.ID) {
		o.logger.Debug("capture ended while the recognizer was starting", "session_id", sess.ID)
		stream.Cancel()
		return nil
	}

	o.setCapture(&captureState{sessionID: sess.ID, stream: stream, handle: handle})
	go o.consumeCapture(sess.ID, stream, handle, cfg)
	return nil
}

// consumeCapture drains recognition results until one is accepted, the
// stream errors, or both channels close. Exits that lose the endCapture race
// reclaim the registered stream so a winner that could not see it (stop or
// timeout during the recognizer dial) never strands a live capture.
func (o *Orchestrator) consumeCapture(sessID string, stream RecognitionStream, handle timeout.Handle, cfg config.Config) {
	results, errs := stream.Results(), stream.Errors()
	for results != nil || errs != nil {
		select {
		case res, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			if !res.Final && res.Confidence < cfg.Listen.EarlyAcceptConfidence {
				o.ctrl.updateSession(sessID, func(s *Session) {
					s.Transcript = res.Transcript
					s.Confidence = res.Confidence
				})
				continue
			}
			if !o.ctrl.endCapture(sessID) {
				o.reclaimCapture(sessID)
				return
			}
			o.timers.Cancel(handle)
			stream.Cancel()
			o.takeCapture(sessID)
			o.afterCapture(sessID, cfg, res)
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if !o.ctrl.endCapture(sessID) {
				o.reclaimCapture(sessID)
				return
			}
			o.logger.Error("recognition failed", "session_id", sessID, "error", err)
			o.timers.Cancel(handle)
			stream.Cancel()
			o.takeCapture(sessID)
			_ = o.ctrl.Transition(fsm.StageError, err.Error())
			o.recover()
			return
		}
	}

	// Both channels closed without a winner: the stream ended on its own.
	o.reclaimCapture(sessID)
	if !o.ctrl.endCapture(sessID) {
		return
	}
	o.timers.Cancel(handle)
	o.logger.Warn("recognition stream ended without a result", "session_id", sessID)
	o.afterCapture(sessID, cfg, RecognitionResult{})
}

// reclaimCapture cancels the registered stream for sessID when no finisher
// has taken ownership of it.
func (o *Orchestrator) reclaimCapture(sessID string) {
	if cs := o.takeCapture(sessID); cs != nil {
		cs.stream.Cancel()
	}
}

// onCaptureTimeout ends the capture window when the listening deadline
// fires first. Latecomers lose the endCapture race and no-op.
func (o *Orchestrator) onCaptureTimeout(sessID string, cfg config.Config) {
	if !o.ctrl.endCapture(sessID) {
		return
	}
	if cs := o.takeCapture(sessID); cs != nil {
		cs.stream.Cancel()
	}

	now := time.Now()
	o.ctrl.updateSession(sessID, func(s *Session) { s.recordCapture(now.Sub(s.captureStartedAt)) })
	o.logger.Info("capture timed out", "session_id", sessID, "timeout_ms", cfg.Listen.TimeoutMS)
	_ = o.ctrl.Transition(fsm.StageTimedOut, ErrCaptureTimeout.Error())
	o.recover()
}

// afterCapture carries an accepted recognition result into processing. An
// empty transcript ends the walk through the timed-out stage without
// touching the intent processor.
func (o *Orchestrator) afterCapture(sessID string, cfg config.Config, res RecognitionResult) {
	captured := time.Now()
	ok := o.ctrl.updateSession(sessID, func(s *Session) {
		s.Transcript = res.Transcript
		s.Confidence = res.Confidence
		s.recordCapture(captured.Sub(s.captureStartedAt))
	})
	if !ok {
		return
	}

	if strings.TrimSpace(res.Transcript) == "" {
		o.logger.Info("no speech captured", "session_id", sessID)
		_ = o.ctrl.Transition(fsm.StageTimedOut, ErrNoSpeech.Error())
		o.recover()
		return
	}

	if err := o.ctrl.Transition(fsm.StageProcessing, ""); err != nil {
		o.recover()
		return
	}
	o.runProcessing(sessID, cfg)
}

func (o *Orchestrator) runProcessing(sessID string, cfg config.Config) {
	var transcript string
	if !o.ctrl.updateSession(sessID, func(s *Session) {
		s.processStartedAt = time.Now()
		transcript = s.Transcript
	}) {
		return
	}

	res, err := o.intent.Process(o.baseContext(), transcript)
	if err != nil {
		o.logger.Error("intent processing failed", "session_id", sessID, "error", err)
		_ = o.ctrl.Transition(fsm.StageError, err.Error())
		o.recover()
		return
	}

	done := time.Now()
	if !o.ctrl.updateSession(sessID, func(s *Session) {
		s.recordProcessing(done.Sub(s.processStartedAt))
		s.ResponseText = res.ResponseText
	}) {
		return
	}
	o.logger.Info("intent processed", "session_id", sessID, "intent", res.Intent)

	if err := o.ctrl.Transition(fsm.StageResponding, ""); err != nil {
		o.recover()
		return
	}
	o.runResponding(sessID, cfg)
}

// runResponding speaks the response text. Synthesis failures are logged and
// swallowed; the session still completes.
func (o *Orchestrator) runResponding(sessID string, cfg config.Config) {
	var text string
	if !o.ctrl.updateSession(sessID, func(s *Session) {
		s.respondStartedAt = time.Now()
		text = s.ResponseText
	}) {
		return
	}

	if strings.TrimSpace(text) != "" {
		req := SpeakRequest{
			Text:     text,
			Language: cfg.SynthesisLang(),
			Rate:     cfg.Speech.SynthesisRate,
			Voice:    cfg.Speech.SynthesisVoice,
		}
		if err := o.synth.Speak(o.baseContext(), req); err != nil {
			o.logger.Warn("speech synthesis failed", "session_id", sessID, "error", err)
		}
	}

	done := time.Now()
	o.ctrl.updateSession(sessID, func(s *Session) { s.recordSynthesis(done.Sub(s.respondStartedAt)) })
	o.recover()
}

// recover is the single exit for every finished walk: back to passive
// listening when background mode is on, otherwise back to idle.
func (o *Orchestrator) recover() {
	if o.isStopped() {
		return
	}

	if o.back.Enabled() {
		err := o.back.ResumePassive(o.baseContext())
		if err == nil {
			return
		}
		o.logger.Warn("passive listening resume failed", "error", err)
	}
	if err := o.ctrl.Resolve(fsm.StageIdle, ""); err != nil && o.ctrl.Stage() != fsm.StageIdle {
		o.logger.Error("recovery to idle failed", "stage", o.ctrl.Stage(), "error", err)
	}
}

func (o *Orchestrator) baseContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.baseCtx == nil {
		return context.Background()
	}
	return o.baseCtx
}

func (o *Orchestrator) isStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

func (o *Orchestrator) setCapture(cs *captureState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.capture = cs
}

// takeCapture detaches and returns the live capture state when it belongs
// to sessionID.
func (o *Orchestrator) takeCapture(sessionID string) *captureState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.capture == nil || o.capture.sessionID != sessionID {
		return nil
	}
	cs := o.capture
	o.capture = nil
	return cs
}
