package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Listen      *jsoncListen     `json:"listen"`
	Wake        *jsoncWake       `json:"wake"`
	Speech      *jsoncSpeech     `json:"speech"`
	Background  *jsoncBackground `json:"background"`
	Recognizer  *jsoncRecognizer `json:"recognizer"`
	Intent      *jsoncIntent     `json:"intent"`
	Synthesizer *jsoncSynth      `json:"synthesizer"`
	Audio       *jsoncAudio      `json:"audio"`
	Logging     *jsoncLogging    `json:"logging"`
	Debug       *jsoncDebug      `json:"debug"`
}

type jsoncListen struct {
	TimeoutMS             *int     `json:"timeout_ms"`
	PassiveTimeoutMS      *int     `json:"passive_timeout_ms"`
	EarlyAcceptConfidence *float64 `json:"early_accept_confidence"`
}

type jsoncWake struct {
	Phrase *string `json:"phrase"`
	Chime  *bool   `json:"chime"`
}

type jsoncSpeech struct {
	Language          *string  `json:"language"`
	SynthesisLanguage *string  `json:"synthesis_language"`
	SynthesisRate     *float64 `json:"synthesis_rate"`
	SynthesisVoice    *string  `json:"synthesis_voice"`
}

type jsoncBackground struct {
	Enabled *bool `json:"enabled"`
}

type jsoncRecognizer struct {
	Endpoint   *string `json:"endpoint"`
	SampleRate *int    `json:"sample_rate"`
}

type jsoncIntent struct {
	Endpoint   *string `json:"endpoint"`
	HealthGRPC *string `json:"health_grpc"`
}

type jsoncSynth struct {
	Endpoint *string `json:"endpoint"`
	PlayCmd  *string `json:"play_cmd"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncLogging struct {
	Level *string `json:"level"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	if payload.Listen != nil {
		if payload.Listen.TimeoutMS != nil {
			cfg.Listen.TimeoutMS = *payload.Listen.TimeoutMS
		}
		if payload.Listen.PassiveTimeoutMS != nil {
			cfg.Listen.PassiveTimeoutMS = *payload.Listen.PassiveTimeoutMS
		}
		if payload.Listen.EarlyAcceptConfidence != nil {
			cfg.Listen.EarlyAcceptConfidence = *payload.Listen.EarlyAcceptConfidence
		}
	}

	if payload.Wake != nil {
		if payload.Wake.Phrase != nil {
			cfg.Wake.Phrase = strings.TrimSpace(*payload.Wake.Phrase)
		}
		if payload.Wake.Chime != nil {
			cfg.Wake.Chime = *payload.Wake.Chime
		}
	}

	if payload.Speech != nil {
		if payload.Speech.Language != nil {
			cfg.Speech.Language = strings.TrimSpace(*payload.Speech.Language)
		}
		if payload.Speech.SynthesisLanguage != nil {
			cfg.Speech.SynthesisLanguage = strings.TrimSpace(*payload.Speech.SynthesisLanguage)
		}
		if payload.Speech.SynthesisRate != nil {
			cfg.Speech.SynthesisRate = *payload.Speech.SynthesisRate
		}
		if payload.Speech.SynthesisVoice != nil {
			cfg.Speech.SynthesisVoice = strings.TrimSpace(*payload.Speech.SynthesisVoice)
		}
	}

	if payload.Background != nil && payload.Background.Enabled != nil {
		cfg.Background.Enabled = *payload.Background.Enabled
	}

	if payload.Recognizer != nil {
		if payload.Recognizer.Endpoint != nil {
			cfg.Recognizer.Endpoint = strings.TrimSpace(*payload.Recognizer.Endpoint)
		}
		if payload.Recognizer.SampleRate != nil {
			cfg.Recognizer.SampleRate = *payload.Recognizer.SampleRate
		}
	}

	if payload.Intent != nil {
		if payload.Intent.Endpoint != nil {
			cfg.Intent.Endpoint = strings.TrimSpace(*payload.Intent.Endpoint)
		}
		if payload.Intent.HealthGRPC != nil {
			cfg.Intent.HealthGRPC = strings.TrimSpace(*payload.Intent.HealthGRPC)
		}
	}

	if payload.Synthesizer != nil {
		if payload.Synthesizer.Endpoint != nil {
			cfg.Synthesizer.Endpoint = strings.TrimSpace(*payload.Synthesizer.Endpoint)
		}
		if payload.Synthesizer.PlayCmd != nil {
			cmd, err := ParseCommand(*payload.Synthesizer.PlayCmd)
			if err != nil {
				return fmt.Errorf("invalid synthesizer.play_cmd: %w", err)
			}
			cfg.Synthesizer.PlayCmd = cmd
		}
	}

	if payload.Audio != nil {
		if payload.Audio.Input != nil {
			cfg.Audio.Input = *payload.Audio.Input
		}
		if payload.Audio.Fallback != nil {
			cfg.Audio.Fallback = *payload.Audio.Fallback
		}
	}

	if payload.Logging != nil && payload.Logging.Level != nil {
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(*payload.Logging.Level))
	}

	if payload.Debug != nil && payload.Debug.AudioDump != nil {
		cfg.Debug.EnableAudioDump = *payload.Debug.AudioDump
	}

	return nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
