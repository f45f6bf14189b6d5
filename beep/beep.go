// Package beep plays short audible cues for recording start, stop and errors.
package beep

import (
	"math"
	"sync"
	"sync/atomic"
)

var disabled atomic.Bool

// Disable silences every cue for the rest of the process.
func Disable() { disabled.Store(true) }

const (
	sampleRate = 44100

	// Start beep: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// End beep: medium pitch
	endFreq   = 900
	endVolume = 0.5
	endDecay  = 40

	// Error beep: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

var (
	startSamples []int16
	endSamples   []int16
	errorSamples []int16
	soundOnce    sync.Once
)

func initSound() {
	startSamples = tick(startFreq, 0.2, startVolume, startDecay)
	endSamples = tick(endFreq, 0.2, endVolume, endDecay)
	errorSamples = doubleBeep(errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

// tick renders an interleaved stereo sine with exponential decay.
func tick(freq, duration, volume, decay float64) []int16 {
	n := int(sampleRate * duration)
	samples := make([]int16, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * math.Exp(-t*decay))
		samples[i*2] = s
		samples[i*2+1] = s
	}
	return samples
}

func doubleBeep(freq, beepDur, gapDur, volume, decay float64) []int16 {
	b := tick(freq, beepDur, volume, decay)
	gap := make([]int16, int(sampleRate*gapDur)*2)
	out := make([]int16, 0, len(b)*2+len(gap))
	out = append(out, b...)
	out = append(out, gap...)
	return append(out, b...)
}

func cue(samples *[]int16) {
	if disabled.Load() {
		return
	}
	soundOnce.Do(initSound)
	go play(*samples)
}

func PlayStart() { cue(&startSamples) }
func PlayEnd()   { cue(&endSamples) }
func PlayError() { cue(&errorSamples) }
