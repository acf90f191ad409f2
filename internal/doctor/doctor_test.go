package doctor

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/parla-voice/parla/internal/config"
)

func startHealthServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) (string, func()) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", status)
	healthpb.RegisterHealthServer(grpcServer, hs)

	go func() {
		_ = grpcServer.Serve(lis)
	}()

	return lis.Addr().String(), func() {
		grpcServer.Stop()
		_ = lis.Close()
	}
}

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "/run/user/1000")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return strings.TrimSpace(v) != "" },
		"looks good",
		"unexpected",
	)

	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

func TestCheckCommandEmpty(t *testing.T) {
	check := checkCommand(nil, "play_cmd")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "command is empty")
}

func TestCheckBinaryFound(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")
}

func TestCheckBinaryMissing(t *testing.T) {
	check := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckCommandUsesBinaryFromPath(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "fake-play")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/usr/bin/env bash\nexit 0\n"), 0o755))
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))

	check := checkCommand([]string{"fake-play", "--media-role", "Speech"}, "play_cmd")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "play_cmd command is available")
}

func TestCheckRecognizerReadySuccess(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Recognizer.Endpoint = "ws://" + strings.TrimPrefix(server.URL, "http://")

	check := checkRecognizerReady(cfg)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "reachable at")
}

func TestCheckRecognizerReadyRejectedUpgrade(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no stream here", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Recognizer.Endpoint = "ws://" + strings.TrimPrefix(server.URL, "http://")

	check := checkRecognizerReady(cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 404")
}

func TestCheckRecognizerReadyEmptyEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.Recognizer.Endpoint = ""

	check := checkRecognizerReady(cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "recognizer.endpoint is empty")
}

func TestCheckServiceHTTPReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	check := checkServiceHTTP("intent.ready", server.URL, "intent.endpoint is empty")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "reachable at")
	require.Contains(t, check.Message, "HTTP 200")
}

func TestCheckServiceHTTPAcceptsMethodNotAllowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	t.Cleanup(server.Close)

	check := checkServiceHTTP("intent.ready", server.URL, "intent.endpoint is empty")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 405")
}

func TestCheckServiceHTTPFailsOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	check := checkServiceHTTP("synthesizer.ready", server.URL, "synthesizer.endpoint is empty")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 503")
}

func TestCheckServiceHTTPEmptyEndpoint(t *testing.T) {
	check := checkServiceHTTP("intent.ready", "   ", "intent.endpoint is empty")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "intent.endpoint is empty")
}

func TestCheckServiceHTTPUnreachable(t *testing.T) {
	check := checkServiceHTTP("intent.ready", "http://127.0.0.1:1", "intent.endpoint is empty")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "request failed")
}

func TestCheckIntentHealthServing(t *testing.T) {
	target, shutdown := startHealthServer(t, healthpb.HealthCheckResponse_SERVING)
	defer shutdown()

	cfg := config.Default()
	cfg.Intent.HealthGRPC = target

	check := checkIntentHealth(cfg)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "SERVING")
}

func TestCheckIntentHealthNotServing(t *testing.T) {
	target, shutdown := startHealthServer(t, healthpb.HealthCheckResponse_NOT_SERVING)
	defer shutdown()

	cfg := config.Default()
	cfg.Intent.HealthGRPC = target

	check := checkIntentHealth(cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "NOT_SERVING")
}

func TestCheckAudioSelectionFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkAudioSelection(config.Default())
	require.False(t, check.Pass)
	require.Contains(t, check.Name, "audio.device")
}

func TestRunSkipsOptionalChecksWhenUnconfigured(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.Default()
	cfg.Recognizer.Endpoint = "ws://127.0.0.1:1"
	cfg.Intent.Endpoint = "http://127.0.0.1:1"
	cfg.Intent.HealthGRPC = ""
	cfg.Synthesizer.Endpoint = "http://127.0.0.1:1"
	cfg.Synthesizer.PlayCmd = config.CommandConfig{}

	report := Run(config.Loaded{Path: "/tmp/config.jsonc", Config: cfg, Exists: true})
	require.NotEmpty(t, report.Checks)

	for _, check := range report.Checks {
		require.NotEqual(t, "intent.health", check.Name)
		require.NotEqual(t, "play_cmd", check.Name)
	}
}

func TestRunProbesHealthAndPlayerWhenConfigured(t *testing.T) {
	target, shutdown := startHealthServer(t, healthpb.HealthCheckResponse_SERVING)
	defer shutdown()

	binDir := t.TempDir()
	fakePlay := filepath.Join(binDir, "fake-play")
	require.NoError(t, os.WriteFile(fakePlay, []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	t.Setenv("PATH", binDir+":"+os.Getenv("PATH"))
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.Default()
	cfg.Recognizer.Endpoint = "ws://127.0.0.1:1"
	cfg.Intent.Endpoint = "http://127.0.0.1:1"
	cfg.Intent.HealthGRPC = target
	cfg.Synthesizer.Endpoint = "http://127.0.0.1:1"
	cfg.Synthesizer.PlayCmd = config.CommandConfig{Raw: "fake-play", Argv: []string{"fake-play"}}

	report := Run(config.Loaded{Path: "/tmp/config.jsonc", Config: cfg, Exists: true})
	require.NotEmpty(t, report.Checks)

	var sawHealth, sawPlay bool
	for _, check := range report.Checks {
		if check.Name == "intent.health" {
			sawHealth = true
			require.True(t, check.Pass)
		}
		if check.Name == "fake-play" {
			sawPlay = true
		}
	}
	require.True(t, sawHealth)
	require.True(t, sawPlay)
}

func TestRunReportsDefaultsWhenConfigMissing(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.Default()
	cfg.Recognizer.Endpoint = "ws://127.0.0.1:1"
	cfg.Intent.Endpoint = "http://127.0.0.1:1"
	cfg.Intent.HealthGRPC = ""
	cfg.Synthesizer.Endpoint = "http://127.0.0.1:1"

	report := Run(config.Loaded{Path: "/home/user/.config/parla/config.jsonc", Config: cfg, Exists: false})

	require.NotEmpty(t, report.Checks)
	require.Equal(t, "config", report.Checks[0].Name)
	require.True(t, report.Checks[0].Pass)
	require.Contains(t, report.Checks[0].Message, "using defaults")
}
