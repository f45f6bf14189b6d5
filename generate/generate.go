// Package generate opens streaming completions against a text generation
// service and hands out the answer chunk by chunk.
package generate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hark/nettrace"
)

const (
	ReasonTimeout   = "timeout"
	ReasonTruncated = "truncated stream"
)

// FailedError ends a stream that did not complete. Chunks received before
// it remain valid.
type FailedError struct {
	Reason string
	Err    error
}

func (e *FailedError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
	}
	return "generation failed: " + e.Reason
}

func (e *FailedError) Unwrap() error { return e.Err }

func failed(reason string, err error) *FailedError {
	return &FailedError{Reason: reason, Err: err}
}

type Generator interface {
	Name() string
	Model() string
	// Open sends prompt and returns once the service starts answering.
	// timeout bounds the wait for the response; reading the body has no
	// deadline.
	Open(ctx context.Context, prompt string, timeout time.Duration) (*Stream, error)
}

// Config selects a backend. The generation service is unauthenticated, so
// there is no key and nothing is read from the environment.
type Config struct {
	Provider string // ollama or openai
	Host     string
	Model    string
}

func New(cfg Config) (Generator, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllama(cfg.Host, cfg.Model), nil
	case "openai":
		return NewOpenAI(openaiBaseURL(cfg.Host), cfg.Model, ""), nil
	}
	return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
}

// openaiBaseURL maps a bare host such as Ollama's to its OpenAI-compatible
// /v1 root.
func openaiBaseURL(host string) string {
	if host == "" {
		return ""
	}
	u, err := url.Parse(host)
	if err != nil || (u.Path != "" && u.Path != "/") {
		return host
	}
	return strings.TrimRight(host, "/") + "/v1"
}

// source is one backend's view of an open response.
type source interface {
	// next returns the next chunk, io.EOF at a clean end, or a
	// *FailedError.
	next() (string, error)
	close() error
}

// Stream is a finite, non-restartable sequence of chunks in the order the
// service sent them. It is meant for a single reader.
type Stream struct {
	ID    uuid.UUID
	Model string

	src     source
	metrics *nettrace.NetworkMetrics
	opened  time.Time

	mu     sync.Mutex
	text   strings.Builder
	chunks int
	err    error // sticky once set
	closed bool
}

func newStream(model string, src source, metrics *nettrace.NetworkMetrics) *Stream {
	return &Stream{ID: uuid.New(), Model: model, src: src, metrics: metrics, opened: time.Now()}
}

// Recv returns the next chunk. After the last chunk it returns io.EOF, or a
// *FailedError if the stream broke; every later call returns the same error.
func (s *Stream) Recv() (string, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return "", err
	}
	s.mu.Unlock()

	chunk, err := s.src.next()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		var fe *FailedError
		if !errors.Is(err, io.EOF) && !errors.As(err, &fe) {
			err = failed(err.Error(), err)
		}
		s.err = err
		s.closeLocked()
		return "", err
	}
	s.text.WriteString(chunk)
	s.chunks++
	return chunk, nil
}

// Text is everything received so far.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

func (s *Stream) Chunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}

// Err is nil while the stream is open or after a clean end.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

// Metrics are the network timings of the request, or nil when the backend
// does not trace them. Total is known after the stream ends.
func (s *Stream) Metrics() *nettrace.NetworkMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics == nil {
		return &nettrace.NetworkMetrics{Total: time.Since(s.opened)}
	}
	return s.metrics
}

// Close releases the connection. Further Recv calls report io.EOF unless
// the stream already ended.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = io.EOF
	}
	return s.closeLocked()
}

func (s *Stream) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.src.close()
}

// deadline cancels the returned context if stop is not called within
// timeout. timedOut reports whether that happened.
func deadline(parent context.Context, timeout time.Duration) (ctx context.Context, cancel context.CancelFunc, stop func() bool, timedOut func() bool) {
	ctx, cancel = context.WithCancel(parent)
	if timeout <= 0 {
		return ctx, cancel, func() bool { return true }, func() bool { return false }
	}
	var mu sync.Mutex
	fired := false
	t := time.AfterFunc(timeout, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
		cancel()
	})
	return ctx, cancel, t.Stop, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired
	}
}
