package cue

import (
	"math"
	"time"
)

const sampleRate = 16000

// toneSpec describes one sine segment of a cue.
type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

var (
	detectedPCM = synthesize([]toneSpec{
		{frequencyHz: 988, duration: 60 * time.Millisecond, volume: 0.2},
		{frequencyHz: 1319, duration: 80 * time.Millisecond, volume: 0.2},
	})
	completePCM = synthesize([]toneSpec{
		{frequencyHz: 1047, duration: 70 * time.Millisecond, volume: 0.18},
	})
	errorPCM = synthesize([]toneSpec{
		{frequencyHz: 523, duration: 90 * time.Millisecond, volume: 0.2},
		{frequencyHz: 392, duration: 110 * time.Millisecond, volume: 0.2},
	})
	timeoutPCM = synthesize([]toneSpec{
		{frequencyHz: 440, duration: 140 * time.Millisecond, volume: 0.16},
	})
)

// synthesize renders tone parts separated by short silent gaps.
func synthesize(parts []toneSpec) []int16 {
	if len(parts) == 0 {
		return nil
	}
	gap := samplesFor(22 * time.Millisecond)
	total := 0
	for i, part := range parts {
		total += samplesFor(part.duration)
		if i < len(parts)-1 {
			total += gap
		}
	}

	pcm := make([]int16, 0, total)
	for i, part := range parts {
		pcm = append(pcm, renderTone(part)...)
		if i < len(parts)-1 && gap > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
	}
	return pcm
}

// renderTone renders one sine segment with a short attack/release ramp so
// cue edges do not click.
func renderTone(spec toneSpec) []int16 {
	n := samplesFor(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	ramp := n / 10
	if maxRamp := sampleRate / 200; ramp > maxRamp {
		ramp = maxRamp
	}
	if ramp < 1 {
		ramp = 1
	}

	pcm := make([]int16, n)
	for i := 0; i < n; i++ {
		envelope := 1.0
		if i < ramp {
			envelope = float64(i) / float64(ramp)
		}
		if tail := n - i - 1; tail < ramp {
			if release := float64(tail) / float64(ramp); release < envelope {
				envelope = release
			}
		}
		phase := float64(i) / sampleRate
		pcm[i] = int16(math.Round(math.Sin(2*math.Pi*spec.frequencyHz*phase) * spec.volume * envelope * 32767))
	}
	return pcm
}

func samplesFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * sampleRate))
}
