// Package transcriber turns a recorded WAV file into text through a
// Whisper-style speech-to-text HTTP API.
package transcriber

import (
	"context"
	"fmt"
	"os"

	"hark/nettrace"
)

type Segment struct {
	Text             string
	NoSpeechProb     float64
	AvgLogProb       float64
	CompressionRatio float64
	Temperature      float64
	Start            float64
	End              float64
}

// Upload describes the encoded audio that was sent.
type Upload struct {
	Format       string
	AudioLengthS float64
	RawSizeKB    float64
	EncodedKB    float64
	EncodeTimeMs float64
}

type Result struct {
	Text         string
	Metrics      *nettrace.NetworkMetrics
	Upload       Upload
	RateLimit    string
	NoSpeechProb float64
	AvgLogProb   float64
	Duration     float64
	Segments     []Segment
}

// Transcriber is a blocking speech-to-text call. Implementations are not
// required to support concurrent calls.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, path string) (*Result, error)
}

type Config struct {
	Provider string // groq or openai
	URL      string // overrides the provider endpoint
	Model    string
	Language string
	Format   string // flac or wav
	APIKey   string
}

// New builds the configured provider. An empty APIKey is taken from the
// provider's environment variable.
func New(cfg Config) (Transcriber, error) {
	switch cfg.Provider {
	case "", "groq":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("GROQ_API_KEY")
		}
		if cfg.APIKey == "" && cfg.URL == "" {
			return nil, fmt.Errorf("set GROQ_API_KEY environment variable")
		}
		return NewGroq(cfg), nil
	case "openai":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.APIKey == "" && cfg.URL == "" {
			return nil, fmt.Errorf("set OPENAI_API_KEY environment variable")
		}
		return NewOpenAI(cfg), nil
	}
	return nil, fmt.Errorf("unknown transcription provider %q", cfg.Provider)
}
