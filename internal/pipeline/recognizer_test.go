package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/parla-voice/parla/internal/asr"
	"github.com/parla-voice/parla/internal/audio"
	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/session"
)

func TestDescribeDevice(t *testing.T) {
	require.Equal(t, "Blue Yeti (alsa_input.usb-yeti)", describeDevice(audio.Device{Description: "Blue Yeti", ID: "alsa_input.usb-yeti"}))
	require.Equal(t, "Blue Yeti", describeDevice(audio.Device{Description: "Blue Yeti"}))
	require.Equal(t, "alsa_input.usb-yeti", describeDevice(audio.Device{ID: "alsa_input.usb-yeti"}))
}

func TestStartWiresCollaboratorsAndForwardsHypotheses(t *testing.T) {
	cfg := config.Default()
	rec := NewRecognizer(func() config.Config { return cfg }, nil)

	capture := &fakeCapture{chunks: make(chan []byte)}
	close(capture.chunks)
	stream := &fakeStream{results: make(chan asr.Result, 2)}

	var gotInput, gotFallback string
	rec.selectDevice = func(_ context.Context, input, fallback string) (audio.Selection, error) {
		gotInput, gotFallback = input, fallback
		return audio.Selection{Device: audio.Device{ID: "mic-1", Description: "Mic"}}, nil
	}
	var dialed asr.StreamConfig
	rec.dialStream = func(_ context.Context, sc asr.StreamConfig) (streamClient, error) {
		dialed = sc
		return stream, nil
	}
	rec.startCapture = func(_ context.Context, device audio.Device, rate int) (captureClient, error) {
		require.Equal(t, "mic-1", device.ID)
		require.Equal(t, 16000, rate)
		return capture, nil
	}

	live, err := rec.Start(context.Background(), session.RecognizeOptions{Language: "en-US", SampleRate: 16000})
	require.NoError(t, err)
	require.Equal(t, "default", gotInput)
	require.Equal(t, "default", gotFallback)
	require.Equal(t, cfg.Recognizer.Endpoint, dialed.Endpoint)
	require.Equal(t, "en-US", dialed.Language)
	require.Equal(t, dialTimeout, dialed.DialTimeout)

	stream.results <- asr.Result{Transcript: "turn it up", Confidence: 0.4}
	res := <-live.Results()
	require.Equal(t, "turn it up", res.Transcript)
	require.False(t, res.Final)

	live.Cancel()
	close(stream.results)

	_, ok := <-live.Errors()
	require.False(t, ok)
	require.True(t, stream.cancelled())
	require.True(t, capture.stopped())
}

func TestStartDefaultsLanguageAndRateFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Speech.Language = "it-IT"
	cfg.Recognizer.SampleRate = 48000
	rec := NewRecognizer(func() config.Config { return cfg }, nil)

	capture := &fakeCapture{chunks: make(chan []byte)}
	close(capture.chunks)
	stream := &fakeStream{results: make(chan asr.Result)}
	close(stream.results)

	rec.selectDevice = func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{Device: audio.Device{ID: "mic-1"}}, nil
	}
	var dialed asr.StreamConfig
	rec.dialStream = func(_ context.Context, sc asr.StreamConfig) (streamClient, error) {
		dialed = sc
		return stream, nil
	}
	var captureRate int
	rec.startCapture = func(_ context.Context, _ audio.Device, rate int) (captureClient, error) {
		captureRate = rate
		return capture, nil
	}

	live, err := rec.Start(context.Background(), session.RecognizeOptions{})
	require.NoError(t, err)
	require.Equal(t, "it-IT", dialed.Language)
	require.Equal(t, 48000, dialed.SampleRate)
	require.Equal(t, 48000, captureRate)

	live.Cancel()
}

func TestStartFailsWhenDeviceSelectionFails(t *testing.T) {
	rec := NewRecognizer(nil, nil)
	rec.selectDevice = func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{}, errors.New("no audio input devices found")
	}
	rec.dialStream = func(context.Context, asr.StreamConfig) (streamClient, error) {
		t.Fatal("dialStream must not run when selection fails")
		return nil, nil
	}

	_, err := rec.Start(context.Background(), session.RecognizeOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no audio input devices")
}

func TestStartCancelsStreamWhenCaptureStartFails(t *testing.T) {
	rec := NewRecognizer(nil, nil)
	stream := &fakeStream{results: make(chan asr.Result)}

	rec.selectDevice = func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{Device: audio.Device{ID: "mic-1"}}, nil
	}
	rec.dialStream = func(context.Context, asr.StreamConfig) (streamClient, error) {
		return stream, nil
	}
	rec.startCapture = func(context.Context, audio.Device, int) (captureClient, error) {
		return nil, errors.New("create pulse record stream: refused")
	}

	_, err := rec.Start(context.Background(), session.RecognizeOptions{})
	require.Error(t, err)
	require.True(t, stream.cancelled())
}

func TestStopFlushesAndReturnsFinal(t *testing.T) {
	capture := &fakeCapture{chunks: make(chan []byte), raw: []byte{1, 2}, bytes: 4096, rate: 16000}
	close(capture.chunks)
	stream := &fakeStream{
		results:  make(chan asr.Result),
		closeRes: asr.Result{Transcript: "what time is it", Confidence: 0.93, Final: true},
	}
	close(stream.results)

	lc := newLive(capture, stream)
	go lc.sendLoop()
	go lc.forward()

	res, err := lc.Stop(context.Background())
	require.NoError(t, err)
	require.True(t, res.Final)
	require.Equal(t, "what time is it", res.Transcript)
	require.InDelta(t, 0.93, res.Confidence, 1e-9)
	require.True(t, capture.stopped())
}

func TestStopSurfacesSendFailure(t *testing.T) {
	chunks := make(chan []byte, 2)
	chunks <- []byte{9, 9}
	close(chunks)
	capture := &fakeCapture{chunks: chunks}
	stream := &fakeStream{sendErr: errors.New("socket torn down"), results: make(chan asr.Result)}
	close(stream.results)

	lc := newLive(capture, stream)
	lc.sendLoop()
	go lc.forward()

	_, err := lc.Stop(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "send audio stream")
	require.Contains(t, err.Error(), "socket torn down")
	require.True(t, stream.cancelled())
	require.True(t, capture.stopped())
}

func TestStopWrapsCollectError(t *testing.T) {
	capture := &fakeCapture{chunks: make(chan []byte)}
	close(capture.chunks)
	stream := &fakeStream{results: make(chan asr.Result), closeErr: errors.New("flush deadline passed")}
	close(stream.results)

	lc := newLive(capture, stream)
	go lc.sendLoop()
	go lc.forward()

	_, err := lc.Stop(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "collect final transcript")
}

func TestForwardSurfacesStreamError(t *testing.T) {
	capture := &fakeCapture{chunks: make(chan []byte)}
	close(capture.chunks)
	stream := &fakeStream{results: make(chan asr.Result), err: errors.New("recognizer backend lost")}
	close(stream.results)

	lc := newLive(capture, stream)
	go lc.forward()

	err := <-lc.Errors()
	require.Error(t, err)
	require.Contains(t, err.Error(), "backend lost")

	_, ok := <-lc.Errors()
	require.False(t, ok)
}

func TestSendLoopForwardsChunksSkippingEmpty(t *testing.T) {
	chunks := make(chan []byte, 4)
	chunks <- []byte{1, 2, 3}
	chunks <- []byte{}
	chunks <- []byte{4, 5}
	close(chunks)

	capture := &fakeCapture{chunks: chunks}
	stream := &fakeStream{results: make(chan asr.Result)}
	lc := newLive(capture, stream)

	lc.sendLoop()

	require.NoError(t, <-lc.sendErrCh)
	sent := stream.sent()
	require.Len(t, sent, 2)
	require.Equal(t, []byte{1, 2, 3}, sent[0])
	require.Equal(t, []byte{4, 5}, sent[1])
}

func TestSendLoopStopsCaptureOnSendError(t *testing.T) {
	chunks := make(chan []byte, 2)
	chunks <- []byte{1, 2, 3}
	close(chunks)

	capture := &fakeCapture{chunks: chunks}
	stream := &fakeStream{sendErr: errors.New("boom"), results: make(chan asr.Result)}
	lc := newLive(capture, stream)

	lc.sendLoop()

	err := <-lc.sendErrCh
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.True(t, capture.stopped())
}

func TestWriteDumpHonorsDebugFlagAndRunsOnce(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")

	capture := &fakeCapture{chunks: make(chan []byte), raw: []byte{0x01, 0x00, 0x02, 0x00}, rate: 16000}
	lc := newLive(capture, &fakeStream{results: make(chan asr.Result)})
	lc.dumpWAV = true

	lc.writeDump()
	lc.writeDump()

	matches, err := afero.Glob(lc.fsys, "/state/parla/debug/capture-*.wav")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestWriteDumpSkippedWhenDisabled(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/state")

	capture := &fakeCapture{chunks: make(chan []byte), raw: []byte{0x01, 0x00}}
	lc := newLive(capture, &fakeStream{results: make(chan asr.Result)})

	lc.writeDump()

	matches, err := afero.Glob(lc.fsys, "/state/parla/debug/capture-*.wav")
	require.NoError(t, err)
	require.Empty(t, matches)
}

func newLive(capture captureClient, stream streamClient) *liveCapture {
	return &liveCapture{
		logger:    slog.New(slog.DiscardHandler),
		fsys:      afero.NewMemMapFs(),
		capture:   capture,
		stream:    stream,
		results:   make(chan session.RecognitionResult, 16),
		errs:      make(chan error, 1),
		sendErrCh: make(chan error, 1),
		done:      make(chan struct{}),
	}
}

type fakeCapture struct {
	chunks chan []byte
	raw    []byte
	bytes  int64
	rate   int

	mu         sync.Mutex
	stopCalled bool
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalled = true
	return nil
}

func (f *fakeCapture) stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalled
}

func (f *fakeCapture) Chunks() <-chan []byte { return f.chunks }

func (f *fakeCapture) BytesCaptured() int64 { return f.bytes }

func (f *fakeCapture) RawPCM() []byte {
	out := make([]byte, len(f.raw))
	copy(out, f.raw)
	return out
}

func (f *fakeCapture) SampleRate() int { return f.rate }

type fakeStream struct {
	results  chan asr.Result
	err      error
	sendErr  error
	closeRes asr.Result
	closeErr error

	mu           sync.Mutex
	sendChunks   [][]byte
	cancelCalled bool
}

func (f *fakeStream) SendAudio(chunk []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	copied := make([]byte, len(chunk))
	copy(copied, chunk)
	f.mu.Lock()
	f.sendChunks = append(f.sendChunks, copied)
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sendChunks...)
}

func (f *fakeStream) Results() <-chan asr.Result { return f.results }

func (f *fakeStream) Err() error { return f.err }

func (f *fakeStream) CloseAndCollect(context.Context) (asr.Result, error) {
	if f.closeErr != nil {
		return asr.Result{}, f.closeErr
	}
	return f.closeRes, nil
}

func (f *fakeStream) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalled = true
	return nil
}

func (f *fakeStream) cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelCalled
}
