package main

import "time"

const (
	levelInterval    = 80 * time.Millisecond
	silenceWarnAfter = 4 * time.Second
	speechLevel      = 0.02
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // higher than speechMinRatio so the warning does not flicker
)

type silenceEvent int

const (
	silenceNone  silenceEvent = iota
	silenceWarn               // no voice detected
	silenceClear              // speech resumed after a warning
)

// silenceMonitor tracks which level ticks of a recording carried speech
// over a sliding window.
type silenceMonitor struct {
	window []bool
	ticks  int
	speech int
	warned bool
}

func newSilenceMonitor(size int) *silenceMonitor {
	return &silenceMonitor{window: make([]bool, max(size, 1))}
}

func (m *silenceMonitor) reset() {
	clear(m.window)
	m.ticks = 0
	m.speech = 0
	m.warned = false
}

func (m *silenceMonitor) tick(level float64) silenceEvent {
	idx := m.ticks % len(m.window)
	if m.window[idx] {
		m.speech--
	}
	m.window[idx] = level >= speechLevel
	if m.window[idx] {
		m.speech++
	}
	m.ticks++
	if m.ticks < len(m.window) {
		return silenceNone
	}

	r := float64(m.speech) / float64(len(m.window))
	switch {
	case !m.warned && r < speechMinRatio:
		m.warned = true
		return silenceWarn
	case m.warned && r >= speechClearRatio:
		m.warned = false
		return silenceClear
	}
	return silenceNone
}
