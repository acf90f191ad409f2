package config

// Default returns the configuration used when no file is present. Parsed
// files are overlaid onto this, so partial configs stay usable.
func Default() Config {
	return Config{
		Listen: ListenConfig{
			TimeoutMS:             30000,
			PassiveTimeoutMS:      0,
			EarlyAcceptConfidence: 0.92,
		},
		Wake: WakeConfig{
			Phrase: "hey parla",
			Chime:  true,
		},
		Speech: SpeechConfig{
			Language:      "en-US",
			SynthesisRate: 1.0,
		},
		Background: BackgroundConfig{
			Enabled: true,
		},
		Recognizer: RecognizerConfig{
			Endpoint:   "ws://127.0.0.1:9090/v1/listen",
			SampleRate: 16000,
		},
		Intent: IntentConfig{
			Endpoint:   "http://127.0.0.1:9091/v1/intent",
			HealthGRPC: "127.0.0.1:9092",
		},
		Synthesizer: SynthConfig{
			Endpoint: "http://127.0.0.1:9093/v1/speak",
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
