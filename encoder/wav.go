package encoder

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/youpy/go-wav"
)

var errClosed = errors.New("encoder closed")

// WavEncoder holds samples until Close because the RIFF header carries the
// sample count.
type WavEncoder struct {
	stats
	buf        bytes.Buffer
	sampleRate int
	samples    []wav.Sample
	closed     bool
}

func NewWav(sampleRate int) *WavEncoder {
	return &WavEncoder{sampleRate: sampleRate}
}

func (e *WavEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errClosed
	}
	for _, s := range block {
		var ws wav.Sample
		ws.Values[0] = int(s)
		e.samples = append(e.samples, ws)
	}
	e.mu.Unlock()
	e.addFrames(len(block))
	return nil
}

func (e *WavEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	w := wav.NewWriter(&e.buf, uint32(len(e.samples)), Channels, uint32(e.sampleRate), BitsPerSample)
	if err := w.WriteSamples(e.samples); err != nil {
		return fmt.Errorf("writing wav samples: %w", err)
	}
	return nil
}

func (e *WavEncoder) Bytes() []byte  { return e.buf.Bytes() }
func (e *WavEncoder) Format() string { return "wav" }
