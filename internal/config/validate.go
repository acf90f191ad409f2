package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if cfg.Listen.TimeoutMS <= 0 {
		return nil, fmt.Errorf("listen.timeout_ms must be > 0")
	}
	if cfg.Listen.PassiveTimeoutMS < 0 {
		return nil, fmt.Errorf("listen.passive_timeout_ms must be >= 0")
	}
	if cfg.Listen.EarlyAcceptConfidence <= 0 || cfg.Listen.EarlyAcceptConfidence > 1 {
		return nil, fmt.Errorf("listen.early_accept_confidence must be within (0, 1]")
	}
	if strings.TrimSpace(cfg.Wake.Phrase) == "" {
		return nil, fmt.Errorf("wake.phrase must not be empty")
	}
	if strings.TrimSpace(cfg.Speech.Language) == "" {
		return nil, fmt.Errorf("speech.language must not be empty")
	}
	if cfg.Speech.SynthesisRate <= 0 {
		return nil, fmt.Errorf("speech.synthesis_rate must be > 0")
	}

	recognizer := strings.TrimSpace(cfg.Recognizer.Endpoint)
	if recognizer == "" {
		return nil, fmt.Errorf("recognizer.endpoint must not be empty")
	}
	if !strings.HasPrefix(recognizer, "ws://") && !strings.HasPrefix(recognizer, "wss://") {
		return nil, fmt.Errorf("recognizer.endpoint must use ws:// or wss://")
	}
	if cfg.Recognizer.SampleRate <= 0 {
		return nil, fmt.Errorf("recognizer.sample_rate must be > 0")
	}

	intent := strings.TrimSpace(cfg.Intent.Endpoint)
	if intent == "" {
		return nil, fmt.Errorf("intent.endpoint must not be empty")
	}
	if !strings.HasPrefix(intent, "http://") && !strings.HasPrefix(intent, "https://") {
		return nil, fmt.Errorf("intent.endpoint must use http:// or https://")
	}

	synth := strings.TrimSpace(cfg.Synthesizer.Endpoint)
	if synth == "" {
		return nil, fmt.Errorf("synthesizer.endpoint must not be empty")
	}
	if !strings.HasPrefix(synth, "http://") && !strings.HasPrefix(synth, "https://") {
		return nil, fmt.Errorf("synthesizer.endpoint must use http:// or https://")
	}
	if cfg.Synthesizer.PlayCmd.Raw != "" && len(cfg.Synthesizer.PlayCmd.Argv) == 0 {
		return nil, fmt.Errorf("synthesizer.play_cmd is configured but empty")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Listen.TimeoutMS < 1000 {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("listen.timeout_ms=%d is under one second; capture may cut off mid-sentence", cfg.Listen.TimeoutMS)})
	}
	switch cfg.Recognizer.SampleRate {
	case 8000, 16000, 22050, 24000, 44100, 48000:
	default:
		warnings = append(warnings, Warning{Message: fmt.Sprintf("recognizer.sample_rate=%d is unusual; most recognition models expect 16000", cfg.Recognizer.SampleRate)})
	}

	return warnings, nil
}
