// Package config resolves, parses, validates, and defaults parla configuration.
package config

import (
	"strings"
	"time"
)

// Config is the fully materialized runtime configuration used by parla.
// Values are replaced wholesale on update; nothing mutates a live Config.
type Config struct {
	Listen      ListenConfig
	Wake        WakeConfig
	Speech      SpeechConfig
	Background  BackgroundConfig
	Recognizer  RecognizerConfig
	Intent      IntentConfig
	Synthesizer SynthConfig
	Audio       AudioConfig
	Logging     LoggingConfig
	Debug       DebugConfig
}

// ListenConfig controls the active and passive capture windows.
type ListenConfig struct {
	TimeoutMS             int
	PassiveTimeoutMS      int
	EarlyAcceptConfidence float64
}

// WakeConfig controls wake-phrase detection behavior.
type WakeConfig struct {
	Phrase string
	Chime  bool
}

// SpeechConfig controls recognition language and synthesis delivery.
type SpeechConfig struct {
	Language          string
	SynthesisLanguage string
	SynthesisRate     float64
	SynthesisVoice    string
}

// BackgroundConfig controls whether the pipeline rests in passive listening.
type BackgroundConfig struct {
	Enabled bool
}

// RecognizerConfig points at the streaming speech recognition service.
type RecognizerConfig struct {
	Endpoint   string
	SampleRate int
}

// IntentConfig points at the intent service and its optional health probe.
type IntentConfig struct {
	Endpoint   string
	HealthGRPC string
}

// SynthConfig points at the speech synthesis service. PlayCmd optionally
// routes rendered audio through an external player instead of the built-in
// output path.
type SynthConfig struct {
	Endpoint string
	PlayCmd  CommandConfig
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// LoggingConfig controls the daemon log level.
type LoggingConfig struct {
	Level string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// ListenTimeout returns the active capture window as a duration.
func (c Config) ListenTimeout() time.Duration {
	return time.Duration(c.Listen.TimeoutMS) * time.Millisecond
}

// PassiveTimeout returns the passive listening window as a duration. Zero
// means listen indefinitely.
func (c Config) PassiveTimeout() time.Duration {
	return time.Duration(c.Listen.PassiveTimeoutMS) * time.Millisecond
}

// SynthesisLang returns the synthesis language, falling back to the
// recognition language when none is set.
func (c Config) SynthesisLang() string {
	if strings.TrimSpace(c.Speech.SynthesisLanguage) != "" {
		return c.Speech.SynthesisLanguage
	}
	return c.Speech.Language
}
