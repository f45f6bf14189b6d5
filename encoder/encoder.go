// Package encoder compresses a mono recording for upload.
package encoder

import (
	"fmt"
	"sync"
	"time"
)

const (
	Channels      = 1
	BitsPerSample = 16
	BlockSize     = 4096
)

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	AddEncodeTime(d time.Duration)
	EncodeTime() time.Duration
	// Format is the file extension the upload is named with.
	Format() string
}

// stats is the frame and timing bookkeeping every encoder carries.
type stats struct {
	mu      sync.Mutex
	frames  uint64
	elapsed time.Duration
}

func (s *stats) addFrames(n int) {
	s.mu.Lock()
	s.frames += uint64(n)
	s.mu.Unlock()
}

func (s *stats) TotalFrames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *stats) AddEncodeTime(d time.Duration) {
	s.mu.Lock()
	s.elapsed += d
	s.mu.Unlock()
}

func (s *stats) EncodeTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

func New(format string, sampleRate int) (Encoder, error) {
	switch format {
	case "flac":
		return NewFlac(sampleRate)
	case "wav":
		return NewWav(sampleRate), nil
	}
	return nil, fmt.Errorf("unknown upload format %q", format)
}

// Encode feeds samples through a new encoder in BlockSize blocks and
// returns the closed encoder.
func Encode(format string, samples []int16, sampleRate int) (Encoder, error) {
	enc, err := New(format, sampleRate)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(samples); i += BlockSize {
		end := min(i+BlockSize, len(samples))
		start := time.Now()
		if err := enc.EncodeBlock(samples[i:end]); err != nil {
			return nil, err
		}
		enc.AddEncodeTime(time.Since(start))
	}
	start := time.Now()
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing %s encoder: %w", format, err)
	}
	enc.AddEncodeTime(time.Since(start))
	return enc, nil
}
