package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// WriteCaptureWAV stores raw mono s16 PCM as a timestamped WAV file under the
// state debug directory and returns the written path.
func WriteCaptureWAV(fsys afero.Fs, rawPCM []byte, sampleRate int) (string, error) {
	if len(rawPCM) == 0 {
		return "", errors.New("no captured audio to write")
	}
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	stateDir, err := resolveStateDir()
	if err != nil {
		return "", err
	}
	debugDir := filepath.Join(stateDir, "parla", "debug")
	if err := fsys.MkdirAll(debugDir, 0o700); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405.000")
	path := filepath.Join(debugDir, fmt.Sprintf("capture-%s.wav", timestamp))
	file, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("open debug file %q: %w", path, err)
	}

	if err := EncodeWAV(file, rawPCM, sampleRate); err != nil {
		_ = file.Close()
		return "", fmt.Errorf("write debug wav %q: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("close debug wav %q: %w", path, err)
	}
	return path, nil
}

// EncodeWAV writes raw little-endian mono s16 PCM as a WAV payload.
func EncodeWAV(w io.WriteSeeker, rawPCM []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           pcm16Samples(rawPCM),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// DecodeWAV parses a WAV payload into mono s16 samples plus the sample rate.
// Multi-channel payloads keep the first channel only.
func DecodeWAV(data []byte) ([]int16, int, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, 0, errors.New("payload is not valid wav audio")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav payload: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, 0, errors.New("wav payload contains no audio frames")
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = int(dec.BitDepth)
	}

	samples := make([]int16, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		samples = append(samples, sampleToInt16(buf.Data[i], bitDepth))
	}
	return samples, buf.Format.SampleRate, nil
}

// pcm16Samples converts little-endian s16 bytes to int samples. A trailing odd
// byte is dropped.
func pcm16Samples(raw []byte) []int {
	samples := make([]int, 0, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		samples = append(samples, int(int16(binary.LittleEndian.Uint16(raw[i:i+2]))))
	}
	return samples
}

// sampleToInt16 rescales one decoded sample to the s16 range.
func sampleToInt16(value int, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		// 8-bit WAV samples are unsigned around a 128 bias.
		value = (value - 128) << 8
	case bitDepth > 16:
		value >>= uint(bitDepth - 16)
	case bitDepth > 0 && bitDepth < 16:
		value <<= uint(16 - bitDepth)
	}
	if value > 32767 {
		value = 32767
	}
	if value < -32768 {
		value = -32768
	}
	return int16(value)
}

// resolveStateDir returns XDG_STATE_HOME when set, otherwise ~/.local/state.
func resolveStateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for state: %w", err)
	}
	return filepath.Join(home, ".local", "state"), nil
}
