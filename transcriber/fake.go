package transcriber

import (
	"context"
	"fmt"
	"sync"
)

// Fake returns a fixed text and records the paths it was asked for.
type Fake struct {
	text string
	err  error

	mu    sync.Mutex
	paths []string
}

func NewFake(text string, err error) *Fake {
	return &Fake{text: text, err: err}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Transcribe(_ context.Context, path string) (*Result, error) {
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.mu.Unlock()
	if f.err != nil {
		return nil, fmt.Errorf("fake transcriber error: %w", f.err)
	}
	return &Result{Text: f.text, RateLimit: "?/?"}, nil
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paths)
}

func (f *Fake) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}
