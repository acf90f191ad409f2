// Package pipeline composes microphone capture with the streaming recognizer
// into the capture streams the orchestrator consumes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/parla-voice/parla/internal/asr"
	"github.com/parla-voice/parla/internal/audio"
	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/session"
)

const dialTimeout = 3 * time.Second

var (
	_ session.Recognizer        = (*Recognizer)(nil)
	_ session.RecognitionStream = (*liveCapture)(nil)
)

// captureClient is the slice of audio.Capture the pipeline needs.
type captureClient interface {
	Stop() error
	Chunks() <-chan []byte
	BytesCaptured() int64
	RawPCM() []byte
	SampleRate() int
}

// streamClient is the slice of asr.Stream the pipeline needs.
type streamClient interface {
	SendAudio([]byte) error
	Results() <-chan asr.Result
	Err() error
	CloseAndCollect(context.Context) (asr.Result, error)
	Cancel() error
}

// Recognizer opens one capture-and-recognize stream per session. The config
// source is read at every Start so endpoint and device changes applied at
// runtime take effect on the next capture.
type Recognizer struct {
	source func() config.Config
	logger *slog.Logger
	fsys   afero.Fs

	selectDevice func(context.Context, string, string) (audio.Selection, error)
	dialStream   func(context.Context, asr.StreamConfig) (streamClient, error)
	startCapture func(context.Context, audio.Device, int) (captureClient, error)
}

// NewRecognizer constructs the production pipeline over Pulse and the
// websocket recognizer.
func NewRecognizer(source func() config.Config, logger *slog.Logger) *Recognizer {
	if source == nil {
		def := config.Default()
		source = func() config.Config { return def }
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recognizer{
		source:       source,
		logger:       logger,
		fsys:         afero.NewOsFs(),
		selectDevice: audio.SelectDevice,
		dialStream: func(ctx context.Context, cfg asr.StreamConfig) (streamClient, error) {
			return asr.DialStream(ctx, cfg)
		},
		startCapture: func(ctx context.Context, device audio.Device, rate int) (captureClient, error) {
			return audio.StartCapture(ctx, device, rate)
		},
	}
}

// Start resolves the input device, dials the recognizer, and begins pumping
// captured audio into it.
func (r *Recognizer) Start(ctx context.Context, opts session.RecognizeOptions) (session.RecognitionStream, error) {
	cfg := r.source()

	selection, err := r.selectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" {
		r.logger.Warn(selection.Warning)
	}

	language := opts.Language
	if language == "" {
		language = cfg.Speech.Language
	}
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = cfg.Recognizer.SampleRate
	}

	stream, err := r.dialStream(ctx, asr.StreamConfig{
		Endpoint:    cfg.Recognizer.Endpoint,
		Language:    language,
		SampleRate:  sampleRate,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}

	capture, err := r.startCapture(ctx, selection.Device, sampleRate)
	if err != nil {
		_ = stream.Cancel()
		return nil, err
	}

	lc := &liveCapture{
		logger:    r.logger,
		fsys:      r.fsys,
		dumpWAV:   cfg.Debug.EnableAudioDump,
		device:    selection.Device,
		capture:   capture,
		stream:    stream,
		results:   make(chan session.RecognitionResult, 16),
		errs:      make(chan error, 1),
		sendErrCh: make(chan error, 1),
		done:      make(chan struct{}),
	}
	go lc.sendLoop()
	go lc.forward()

	r.logger.Info("capture started",
		"device", describeDevice(selection.Device),
		"sample_rate", sampleRate,
		"language", language)
	return lc, nil
}

// liveCapture is one in-flight capture stream handed to the orchestrator.
type liveCapture struct {
	logger  *slog.Logger
	fsys    afero.Fs
	dumpWAV bool
	device  audio.Device

	capture captureClient
	stream  streamClient

	results chan session.RecognitionResult
	errs    chan error

	sendErrCh chan error

	done     chan struct{}
	doneOnce sync.Once
	dumpOnce sync.Once
}

func (lc *liveCapture) Results() <-chan session.RecognitionResult {
	return lc.results
}

func (lc *liveCapture) Errors() <-chan error {
	return lc.errs
}

// Stop flushes buffered audio through the recognizer and returns the final
// merged hypothesis.
func (lc *liveCapture) Stop(ctx context.Context) (session.RecognitionResult, error) {
	lc.detach()

	_ = lc.capture.Stop()
	if sendErr := <-lc.sendErrCh; sendErr != nil {
		_ = lc.stream.Cancel()
		lc.writeDump()
		return session.RecognitionResult{}, fmt.Errorf("send audio stream: %w", sendErr)
	}

	res, err := lc.stream.CloseAndCollect(ctx)
	lc.writeDump()
	if err != nil {
		return session.RecognitionResult{}, fmt.Errorf("collect final transcript: %w", err)
	}

	lc.logger.Info("capture flushed",
		"device", describeDevice(lc.device),
		"bytes_captured", lc.capture.BytesCaptured())
	return session.RecognitionResult{Transcript: res.Transcript, Confidence: res.Confidence, Final: true}, nil
}

// Cancel abandons the capture without collecting a transcript.
func (lc *liveCapture) Cancel() {
	lc.detach()
	_ = lc.capture.Stop()
	_ = lc.stream.Cancel()
	lc.writeDump()
}

// detach marks the consumer gone so forward never blocks on a dead channel.
func (lc *liveCapture) detach() {
	lc.doneOnce.Do(func() { close(lc.done) })
}

// sendLoop forwards capture chunks to the recognizer and reports the first
// send failure. Exactly one value is always delivered to sendErrCh.
func (lc *liveCapture) sendLoop() {
	sent := false
	report := func(err error) {
		if sent {
			return
		}
		lc.sendErrCh <- err
		sent = true
	}
	defer report(nil)

	for chunk := range lc.capture.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		if err := lc.stream.SendAudio(chunk); err != nil {
			_ = lc.capture.Stop()
			report(err)
			return
		}
	}
}

// forward pumps recognizer hypotheses to the orchestrator until the stream
// ends, then surfaces the terminal stream error, if any.
func (lc *liveCapture) forward() {
	defer close(lc.errs)
	defer close(lc.results)

	for res := range lc.stream.Results() {
		out := session.RecognitionResult{
			Transcript: res.Transcript,
			Confidence: res.Confidence,
			Final:      res.Final,
		}
		select {
		case lc.results <- out:
		case <-lc.done:
			// Consumer detached; keep draining so the stream can finish.
		}
	}

	if err := lc.stream.Err(); err != nil {
		select {
		case lc.errs <- err:
		case <-lc.done:
		}
	}
}

// writeDump stores the session's raw capture as a WAV artifact once, when
// debug.audio_dump is enabled.
func (lc *liveCapture) writeDump() {
	if !lc.dumpWAV {
		return
	}
	lc.dumpOnce.Do(func() {
		pcm := lc.capture.RawPCM()
		if len(pcm) == 0 {
			return
		}
		path, err := audio.WriteCaptureWAV(lc.fsys, pcm, lc.capture.SampleRate())
		if err != nil {
			lc.logger.Warn("unable to write capture dump", "error", err)
			return
		}
		lc.logger.Debug("capture dump written", "path", path)
	})
}

// describeDevice formats device metadata for logs.
func describeDevice(device audio.Device) string {
	description := strings.TrimSpace(device.Description)
	id := strings.TrimSpace(device.ID)
	if description == "" {
		return id
	}
	if id == "" {
		return description
	}
	return fmt.Sprintf("%s (%s)", description, id)
}
