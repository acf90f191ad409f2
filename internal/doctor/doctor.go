// Package doctor runs runtime readiness diagnostics for config, audio, and the speech backends.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parla-voice/parla/internal/audio"
	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/intent"
)

// probeTimeout caps each network probe so a dead backend cannot stall the report.
const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	configMsg := fmt.Sprintf("loaded %q", cfg.Path)
	if !cfg.Exists {
		configMsg = fmt.Sprintf("no file at %q, using defaults", cfg.Path)
	}
	checks = append(checks, Check{Name: "config", Pass: true, Message: configMsg})

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "runtime dir available for the control socket", "XDG_RUNTIME_DIR is empty"))

	checks = append(checks, checkAudioSelection(cfg.Config))
	checks = append(checks, checkRecognizerReady(cfg.Config))
	checks = append(checks, checkServiceHTTP("intent.ready", cfg.Config.Intent.Endpoint, "intent.endpoint is empty"))

	if strings.TrimSpace(cfg.Config.Intent.HealthGRPC) != "" {
		checks = append(checks, checkIntentHealth(cfg.Config))
	}

	checks = append(checks, checkServiceHTTP("synthesizer.ready", cfg.Config.Synthesizer.Endpoint, "synthesizer.endpoint is empty"))

	if len(cfg.Config.Synthesizer.PlayCmd.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Config.Synthesizer.PlayCmd.Argv, "play_cmd"))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(cfg config.Config) Check {
	selection, err := audio.SelectDevice(context.Background(), cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkRecognizerReady dials the recognizer stream endpoint and closes right away.
func checkRecognizerReady(cfg config.Config) Check {
	endpoint := strings.TrimSpace(cfg.Recognizer.Endpoint)
	if endpoint == "" {
		return Check{Name: "recognizer.ready", Pass: false, Message: "recognizer.endpoint is empty"}
	}

	dialer := websocket.Dialer{HandshakeTimeout: probeTimeout}
	conn, resp, err := dialer.Dial(endpoint, nil)
	if err != nil {
		if resp != nil {
			return Check{Name: "recognizer.ready", Pass: false, Message: fmt.Sprintf("dial failed: %v (HTTP %d)", err, resp.StatusCode)}
		}
		return Check{Name: "recognizer.ready", Pass: false, Message: fmt.Sprintf("dial failed: %v", err)}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	return Check{Name: "recognizer.ready", Pass: true, Message: fmt.Sprintf("stream endpoint reachable at %s", endpoint)}
}

// checkServiceHTTP probes an HTTP service base endpoint for liveness.
func checkServiceHTTP(name string, endpoint string, emptyMsg string) Check {
	target := strings.TrimSpace(endpoint)
	if target == "" {
		return Check{Name: name, Pass: false, Message: emptyMsg}
	}

	client := http.Client{Timeout: probeTimeout}
	resp, err := client.Get(target)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 256))

	// Command routes only accept POST, so any answer below 500 still proves
	// the service is up.
	if resp.StatusCode >= http.StatusInternalServerError {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, target)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable at %s (HTTP %d)", target, resp.StatusCode)}
}

// checkIntentHealth queries the intent backend's grpc health service.
func checkIntentHealth(cfg config.Config) Check {
	detail, err := intent.ProbeHealth(context.Background(), cfg.Intent.HealthGRPC, probeTimeout)
	if err != nil {
		return Check{Name: "intent.health", Pass: false, Message: err.Error()}
	}
	return Check{Name: "intent.health", Pass: true, Message: fmt.Sprintf("grpc health reports %s", detail)}
}
