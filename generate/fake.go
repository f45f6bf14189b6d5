package generate

import (
	"context"
	"io"
	"sync"
	"time"
)

// Fake replays a fixed list of chunks. If Err is set the stream fails with
// it after the last chunk; OpenErr makes Open itself fail.
type Fake struct {
	ModelName string
	Chunks    []string
	Err       error
	OpenErr   error
	// Delay is slept before each chunk.
	Delay time.Duration

	mu       sync.Mutex
	prompts  []string
	timeouts []time.Duration
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Model() string {
	if f.ModelName == "" {
		return "fake"
	}
	return f.ModelName
}

func (f *Fake) Open(_ context.Context, prompt string, timeout time.Duration) (*Stream, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.timeouts = append(f.timeouts, timeout)
	f.mu.Unlock()
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	return newStream(f.Model(), &sliceSource{chunks: f.Chunks, err: f.Err, delay: f.Delay}, nil), nil
}

func (f *Fake) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *Fake) Timeouts() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.timeouts...)
}

type sliceSource struct {
	chunks []string
	err    error
	delay  time.Duration
	pos    int
}

func (s *sliceSource) next() (string, error) {
	if s.pos >= len(s.chunks) {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceSource) close() error { return nil }
