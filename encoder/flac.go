package encoder

import (
	"bytes"
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FlacEncoder writes mono 16-bit FLAC into memory, one frame per block.
type FlacEncoder struct {
	stats
	buf        bytes.Buffer
	enc        *flac.Encoder
	sampleRate int
}

func NewFlac(sampleRate int) (*FlacEncoder, error) {
	e := &FlacEncoder{sampleRate: sampleRate}
	enc, err := flac.NewEncoder(&e.buf, &meta.StreamInfo{
		BlockSizeMin:  BlockSize,
		BlockSizeMax:  BlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     Channels,
		BitsPerSample: BitsPerSample,
	})
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	// Lets the encoder pick fixed/LPC prediction instead of verbatim frames.
	enc.EnablePredictionAnalysis(true)
	e.enc = enc
	return e, nil
}

func monoFrame(block []int16, sampleRate int) *frame.Frame {
	samples := make([]int32, len(block))
	for i, s := range block {
		samples[i] = int32(s)
	}
	return &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    uint32(sampleRate),
			Channels:      frame.ChannelsMono,
			BitsPerSample: BitsPerSample,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  len(block),
		}},
	}
}

// EncodeBlock writes one frame. Blocks longer than BlockSize are rejected;
// only the last block may be shorter.
func (e *FlacEncoder) EncodeBlock(block []int16) error {
	if len(block) == 0 {
		return nil
	}
	if len(block) > BlockSize {
		return fmt.Errorf("flac block of %d samples exceeds %d", len(block), BlockSize)
	}
	e.mu.Lock()
	err := e.enc.WriteFrame(monoFrame(block, e.sampleRate))
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	e.addFrames(len(block))
	return nil
}

func (e *FlacEncoder) Close() error   { return e.enc.Close() }
func (e *FlacEncoder) Bytes() []byte  { return e.buf.Bytes() }
func (e *FlacEncoder) Format() string { return "flac" }
