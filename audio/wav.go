package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/youpy/go-wav"
)

const wavReadBlock = 4096

// WriteWAV writes mono 16-bit PCM to path, replacing any previous file.
func WriteWAV(path string, samples []int16, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := wav.NewWriter(f, uint32(len(samples)), 1, uint32(sampleRate), BitsPerSample)
	out := make([]wav.Sample, len(samples))
	for i, s := range samples {
		out[i].Values[0] = int(s)
	}
	if err := w.WriteSamples(out); err != nil {
		return fmt.Errorf("writing samples: %w", err)
	}
	return f.Close()
}

// WAV is a decoded 16-bit PCM file with samples interleaved per channel.
type WAV struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

func ReadWAV(path string) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("reading wav format: %w", err)
	}
	if format.BitsPerSample != BitsPerSample {
		return nil, fmt.Errorf("unsupported wav: %d bits per sample", format.BitsPerSample)
	}
	channels := int(format.NumChannels)
	if channels < 1 || channels > MaxChannels {
		return nil, fmt.Errorf("unsupported wav: %d channels", channels)
	}

	out := &WAV{SampleRate: int(format.SampleRate), Channels: channels}
	for {
		block, err := r.ReadSamples(wavReadBlock)
		for _, s := range block {
			for ch := 0; ch < channels; ch++ {
				out.Samples = append(out.Samples, int16(s.Values[ch]))
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading wav samples: %w", err)
		}
		if len(block) == 0 {
			break
		}
	}
	return out, nil
}
