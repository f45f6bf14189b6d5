package audio

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"
)

var ErrFrozen = errors.New("audio: buffer is frozen")

// Buffer is an append-only list of interleaved int16 chunks captured at a
// fixed rate. Once frozen it never changes again.
type Buffer struct {
	sampleRate int
	channels   int

	mu      sync.Mutex
	chunks  [][]int16
	samples int
	frozen  bool
}

func NewBuffer(sampleRate, channels int) *Buffer {
	if channels < 1 {
		channels = 1
	}
	return &Buffer{sampleRate: sampleRate, channels: channels}
}

func (b *Buffer) SampleRate() int { return b.sampleRate }
func (b *Buffer) Channels() int   { return b.channels }

// Append stores a copy of samples.
func (b *Buffer) Append(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	chunk := make([]int16, len(samples))
	copy(chunk, samples)
	return b.appendOwned(chunk)
}

// AppendPCM decodes little-endian int16 PCM into a new chunk.
func (b *Buffer) AppendPCM(data []byte) error {
	if len(data) < 2 {
		return nil
	}
	chunk := make([]int16, len(data)/2)
	for i := range chunk {
		chunk[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return b.appendOwned(chunk)
}

func (b *Buffer) appendOwned(chunk []int16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return ErrFrozen
	}
	b.chunks = append(b.chunks, chunk)
	b.samples += len(chunk)
	return nil
}

func (b *Buffer) Freeze() {
	b.mu.Lock()
	b.frozen = true
	b.mu.Unlock()
}

func (b *Buffer) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

// Frames returns the number of complete frames (one sample per channel).
func (b *Buffer) Frames() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.samples / b.channels
}

func (b *Buffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

func (b *Buffer) Duration() time.Duration {
	if b.sampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.sampleRate)
}

// Mono downmixes to one channel by taking the arithmetic mean of each
// frame. A trailing partial frame is dropped.
func (b *Buffer) Mono() []int16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	frames := b.samples / b.channels
	out := make([]int16, frames)
	if b.channels == 1 {
		pos := 0
		for _, c := range b.chunks {
			pos += copy(out[pos:], c)
		}
		return out
	}

	var sum int32
	n, frame := 0, 0
	for _, c := range b.chunks {
		for _, s := range c {
			sum += int32(s)
			n++
			if n == b.channels {
				if frame < frames {
					out[frame] = int16(sum / int32(b.channels))
				}
				frame++
				sum, n = 0, 0
			}
		}
	}
	return out
}
