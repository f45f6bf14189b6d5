package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"hark/audio"
	"hark/encoder"
	"hark/nettrace"
)

const (
	groqURL   = "https://api.groq.com/openai/v1/audio/transcriptions"
	openaiURL = "https://api.openai.com/v1/audio/transcriptions"
)

// Whisper uploads the recording as multipart form data to an
// OpenAI-compatible /audio/transcriptions endpoint.
type Whisper struct {
	name           string
	client         *nettrace.Client
	apiURL         string
	apiKey         string
	model          string
	lang           string
	format         string
	responseFormat string
}

func newWhisper(name, defaultURL, defaultModel, responseFormat string, cfg Config) *Whisper {
	apiURL := cfg.URL
	if apiURL == "" {
		apiURL = defaultURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	format := cfg.Format
	if format == "" {
		format = "flac"
	}
	return &Whisper{
		name:           name,
		client:         nettrace.New(apiURL),
		apiURL:         apiURL,
		apiKey:         cfg.APIKey,
		model:          model,
		lang:           cfg.Language,
		format:         format,
		responseFormat: responseFormat,
	}
}

func NewGroq(cfg Config) *Whisper {
	return newWhisper("groq", groqURL, "whisper-large-v3-turbo", "verbose_json", cfg)
}

func NewOpenAI(cfg Config) *Whisper {
	return newWhisper("openai", openaiURL, "whisper-1", "json", cfg)
}

func (w *Whisper) Name() string { return w.name }

// Warm pre-opens the connection to the API host.
func (w *Whisper) Warm() { w.client.Warm() }

type whisperResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text             string  `json:"text"`
		Start            float64 `json:"start"`
		End              float64 `json:"end"`
		NoSpeechProb     float64 `json:"no_speech_prob"`
		AvgLogProb       float64 `json:"avg_logprob"`
		CompressionRatio float64 `json:"compression_ratio"`
		Temperature      float64 `json:"temperature"`
	} `json:"segments"`
}

func (w *Whisper) Transcribe(ctx context.Context, path string) (*Result, error) {
	rec, err := audio.ReadWAV(path)
	if err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	samples := rec.Samples
	if rec.Channels > 1 {
		b := audio.NewBuffer(rec.SampleRate, rec.Channels)
		b.Append(samples)
		samples = b.Mono()
	}

	enc, err := encoder.Encode(w.format, samples, rec.SampleRate)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio."+enc.Format())
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(enc.Bytes()); err != nil {
		return nil, err
	}

	writer.WriteField("model", w.model)
	writer.WriteField("response_format", w.responseFormat)
	if w.lang != "" {
		writer.WriteField("language", w.lang)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiURL, &body)
	if err != nil {
		return nil, err
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API error %d: %s", w.name, resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}

	var wResp whisperResponse
	if err := json.Unmarshal(resp.Body, &wResp); err != nil {
		return nil, fmt.Errorf("%s response parse error: %w", w.name, err)
	}

	result := &Result{
		Text:     strings.TrimSpace(wResp.Text),
		Metrics:  resp.Metrics,
		Duration: wResp.Duration,
		Upload: Upload{
			Format:       enc.Format(),
			AudioLengthS: float64(len(samples)) / float64(rec.SampleRate),
			RawSizeKB:    float64(len(samples)*2) / 1024,
			EncodedKB:    float64(len(enc.Bytes())) / 1024,
			EncodeTimeMs: float64(enc.EncodeTime().Microseconds()) / 1000,
		},
	}

	if len(wResp.Segments) > 0 {
		var logProbSum float64
		for _, seg := range wResp.Segments {
			if seg.NoSpeechProb > result.NoSpeechProb {
				result.NoSpeechProb = seg.NoSpeechProb
			}
			logProbSum += seg.AvgLogProb
			result.Segments = append(result.Segments, Segment{
				Text:             seg.Text,
				NoSpeechProb:     seg.NoSpeechProb,
				AvgLogProb:       seg.AvgLogProb,
				CompressionRatio: seg.CompressionRatio,
				Temperature:      seg.Temperature,
				Start:            seg.Start,
				End:              seg.End,
			})
		}
		result.AvgLogProb = logProbSum / float64(len(wResp.Segments))
	}

	remaining := nettrace.FirstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := nettrace.FirstNonEmpty(resp.Header, "x-ratelimit-limit-requests")
	result.RateLimit = remaining + "/" + limit

	return result, nil
}
