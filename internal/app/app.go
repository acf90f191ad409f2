// Package app wires parsed CLI commands to the daemon runtime and its
// control socket.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/parla-voice/parla/internal/audio"
	"github.com/parla-voice/parla/internal/cli"
	"github.com/parla-voice/parla/internal/config"
	"github.com/parla-voice/parla/internal/cue"
	"github.com/parla-voice/parla/internal/doctor"
	"github.com/parla-voice/parla/internal/events"
	"github.com/parla-voice/parla/internal/fsm"
	"github.com/parla-voice/parla/internal/intent"
	"github.com/parla-voice/parla/internal/ipc"
	"github.com/parla-voice/parla/internal/logging"
	"github.com/parla-voice/parla/internal/pipeline"
	"github.com/parla-voice/parla/internal/session"
	"github.com/parla-voice/parla/internal/synth"
	"github.com/parla-voice/parla/internal/version"
	"github.com/parla-voice/parla/internal/wakeword"
)

// Forward deadlines. Status is answered from a snapshot; listen and stop are
// answered only after the daemon's recognizer dial or final capture flush.
const (
	statusForwardTimeout  = 250 * time.Millisecond
	commandForwardTimeout = 8 * time.Second
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("parla"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("parla"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: logging disabled: %v\n", err)
		logRuntime = logging.Discard()
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	logRuntime.SetLevel(cfgLoaded.Config.Logging.Level)

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandListen:
		return r.forwardOrFail(ctx, ipc.CommandListen)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandBackground:
		command := ipc.CommandBackgroundOff
		if parsed.BackgroundEnable {
			command = ipc.CommandBackgroundOn
		}
		return r.forwardOrFail(ctx, command)
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

// commandRun owns the control socket and runs the voice pipeline until the
// context is cancelled.
func (r Runner) commandRun(ctx context.Context, cfgLoaded config.Loaded, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	// Collaborators read configuration through the orchestrator so that
	// UpdateConfig reaches the next session without rewiring anything.
	var orch *session.Orchestrator
	source := func() config.Config { return orch.Config() }

	recognizer := pipeline.NewRecognizer(source, logger)
	spotter := wakeword.NewSpotter(source, recognizer, logger)
	orch = session.NewOrchestrator(
		logger,
		cfgLoaded.Config,
		spotter,
		recognizer,
		intent.NewClient(source, logger),
		synth.NewClient(source, logger),
	)

	cuePlayer := cue.NewPlayer(source, logger)
	cueID := orch.AddListener(cuePlayer)
	logID := orch.AddListener(sessionLogListener(logger))

	if target := strings.TrimSpace(cfgLoaded.Config.Intent.HealthGRPC); target != "" {
		go func() {
			if _, probeErr := intent.ProbeHealth(ctx, target, 3*time.Second); probeErr != nil {
				logger.Warn("intent backend not ready at startup", "error", probeErr.Error())
			}
		}()
	}

	if err := orch.Start(ctx); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, controlHandler(orch))
	}()

	logger.Info("daemon ready",
		"socket", socketPath,
		"wake_phrase", cfgLoaded.Config.Wake.Phrase,
		"background", orch.BackgroundEnabled(),
	)
	fmt.Fprintf(r.Stdout, "parla daemon ready on %s\n", socketPath)

	<-ctx.Done()
	serverCancel()
	serverErr := <-serverErrCh

	orch.RemoveListener(logID)
	orch.RemoveListener(cueID)
	orch.Cleanup()
	cuePlayer.Close()

	if serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logger.Info("daemon stopped")
	return 0
}

// controlHandler maps control socket commands onto orchestrator operations.
func controlHandler(orch *session.Orchestrator) ipc.Handler {
	return ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
		switch req.Command {
		case ipc.CommandStatus:
			return stampResponse(orch, ipc.Response{OK: true})
		case ipc.CommandListen:
			if err := orch.StartManualListening(); err != nil {
				return errorResponse(orch, err)
			}
			return stampResponse(orch, ipc.Response{OK: true, Message: "listening"})
		case ipc.CommandStop:
			if err := orch.StopListening(); err != nil {
				return errorResponse(orch, err)
			}
			return stampResponse(orch, ipc.Response{OK: true, Message: "stopped listening"})
		case ipc.CommandBackgroundOn:
			if err := orch.StartBackgroundListening(); err != nil {
				return errorResponse(orch, err)
			}
			return stampResponse(orch, ipc.Response{OK: true, Message: "background listening enabled"})
		case ipc.CommandBackgroundOff:
			orch.StopBackgroundListening()
			return stampResponse(orch, ipc.Response{OK: true, Message: "background listening disabled"})
		default:
			return ipc.Response{OK: false, Error: fmt.Sprintf("unsupported command %q", req.Command)}
		}
	})
}

// stampResponse attaches the current stage and session id to a response.
func stampResponse(orch *session.Orchestrator, resp ipc.Response) ipc.Response {
	stage, sessID := orch.Snapshot()
	resp.Stage = string(stage)
	resp.SessionID = sessID
	return resp
}

func errorResponse(orch *session.Orchestrator, err error) ipc.Response {
	return stampResponse(orch, ipc.Response{OK: false, Error: err.Error()})
}

// sessionLogListener writes one summary line per finished session walk.
// Resting-stage events still carrying a session id are the resolve points;
// per-stage failures are logged by the pipeline itself.
func sessionLogListener(logger *slog.Logger) events.Listener {
	return events.ListenerFunc(func(ev events.Event) {
		if fsm.Busy(ev.Stage) || ev.SessionID == "" || ev.Metrics == nil {
			return
		}
		logger.Info("session finished",
			"session_id", ev.SessionID,
			"stage", string(ev.Stage),
			"transcript_length", len(ev.Transcript),
			"response_length", len(ev.ResponseText),
			"wake_ms", ev.Metrics.WakeWordMS,
			"capture_ms", ev.Metrics.CaptureMS,
			"processing_ms", ev.Metrics.ProcessingMS,
			"synthesis_ms", ev.Metrics.SynthesisMS,
			"total_ms", ev.Metrics.TotalMS,
		)
	})
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus, statusForwardTimeout)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.Stage == "" {
			resp.Stage = "idle"
		}
		fmt.Fprintln(r.Stdout, resp.Stage)
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command, commandForwardTimeout)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no running parla daemon\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func tryForward(ctx context.Context, socketPath string, command string, timeout time.Duration) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, timeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
