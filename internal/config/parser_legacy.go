package config

import (
	"fmt"
	"strconv"
	"strings"
)

// parseLegacy reads the deprecated key=value format: one dotted key per
// line, `#` comments, optional single or double quotes around values.
func parseLegacy(content string, base Config) (Config, []Warning, error) {
	cfg := base

	for idx, raw := range strings.Split(content, "\n") {
		lineNo := idx + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, rest, found := strings.Cut(line, "=")
		if !found {
			return Config{}, nil, fmt.Errorf("line %d: expected key = value", lineNo)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return Config{}, nil, fmt.Errorf("line %d: missing key before '='", lineNo)
		}

		value, err := parseLegacyValue(strings.TrimSpace(rest))
		if err != nil {
			return Config{}, nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := applyLegacyKey(&cfg, key, value); err != nil {
			return Config{}, nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func parseLegacyValue(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	switch raw[0] {
	case '"':
		if len(raw) < 2 || !strings.HasSuffix(raw, `"`) {
			return "", fmt.Errorf("missing closing double quote")
		}
		return raw[1 : len(raw)-1], nil
	case '\'':
		if len(raw) < 2 || !strings.HasSuffix(raw, "'") {
			return "", fmt.Errorf("missing closing single quote")
		}
		return raw[1 : len(raw)-1], nil
	}

	// Bare values may carry a trailing comment.
	if i := strings.Index(raw, " #"); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	return raw, nil
}

func applyLegacyKey(cfg *Config, key, value string) error {
	switch key {
	case "listen.timeout_ms":
		return setLegacyInt(&cfg.Listen.TimeoutMS, key, value)
	case "listen.passive_timeout_ms":
		return setLegacyInt(&cfg.Listen.PassiveTimeoutMS, key, value)
	case "listen.early_accept_confidence":
		return setLegacyFloat(&cfg.Listen.EarlyAcceptConfidence, key, value)
	case "wake.phrase":
		cfg.Wake.Phrase = strings.TrimSpace(value)
	case "wake.chime":
		return setLegacyBool(&cfg.Wake.Chime, key, value)
	case "speech.language":
		cfg.Speech.Language = strings.TrimSpace(value)
	case "speech.synthesis_language":
		cfg.Speech.SynthesisLanguage = strings.TrimSpace(value)
	case "speech.synthesis_rate":
		return setLegacyFloat(&cfg.Speech.SynthesisRate, key, value)
	case "speech.synthesis_voice":
		cfg.Speech.SynthesisVoice = strings.TrimSpace(value)
	case "background.enabled":
		return setLegacyBool(&cfg.Background.Enabled, key, value)
	case "recognizer.endpoint":
		cfg.Recognizer.Endpoint = strings.TrimSpace(value)
	case "recognizer.sample_rate":
		return setLegacyInt(&cfg.Recognizer.SampleRate, key, value)
	case "intent.endpoint":
		cfg.Intent.Endpoint = strings.TrimSpace(value)
	case "intent.health_grpc":
		cfg.Intent.HealthGRPC = strings.TrimSpace(value)
	case "synthesizer.endpoint":
		cfg.Synthesizer.Endpoint = strings.TrimSpace(value)
	case "synthesizer.play_cmd":
		cmd, err := ParseCommand(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		cfg.Synthesizer.PlayCmd = cmd
	case "audio.input":
		cfg.Audio.Input = value
	case "audio.fallback":
		cfg.Audio.Fallback = value
	case "logging.level":
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(value))
	case "debug.audio_dump":
		return setLegacyBool(&cfg.Debug.EnableAudioDump, key, value)
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func setLegacyBool(dst *bool, key, value string) error {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s expects true or false, got %q", key, value)
	}
	*dst = parsed
	return nil
}

func setLegacyInt(dst *int, key, value string) error {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%s expects an integer, got %q", key, value)
	}
	*dst = parsed
	return nil
}

func setLegacyFloat(dst *float64, key, value string) error {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("%s expects a number, got %q", key, value)
	}
	*dst = parsed
	return nil
}
