package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hark/nettrace"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "llama3.2"
)

// Ollama streams from the /api/generate endpoint, which answers with one
// JSON object per line.
type Ollama struct {
	host   string
	model  string
	client *nettrace.Client
}

func NewOllama(host, model string) *Ollama {
	if host == "" {
		host = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	host = strings.TrimRight(host, "/")
	return &Ollama{host: host, model: model, client: nettrace.New("")}
}

func (o *Ollama) Name() string  { return "ollama" }
func (o *Ollama) Model() string { return o.model }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

func (o *Ollama) Open(ctx context.Context, prompt string, timeout time.Duration) (*Stream, error) {
	body, err := json.Marshal(ollamaRequest{Model: o.model, Prompt: prompt, Stream: true})
	if err != nil {
		return nil, err
	}

	ctx, cancel, stop, timedOut := deadline(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := o.client.Open(req)
	stopped := stop()
	if err != nil {
		cancel()
		if timedOut() {
			return nil, failed(ReasonTimeout, err)
		}
		return nil, failed("request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var chunk ollamaChunk
		if json.Unmarshal(msg, &chunk) == nil && chunk.Error != "" {
			return nil, failed(chunk.Error, fmt.Errorf("http %d", resp.StatusCode))
		}
		return nil, failed(fmt.Sprintf("http %d", resp.StatusCode), errors.New(strings.TrimSpace(string(msg))))
	}

	src := &ollamaSource{
		resp:   resp,
		r:      bufio.NewReader(resp.Body),
		cancel: cancel,
		timedOut: func() bool {
			return !stopped && timedOut()
		},
	}
	return newStream(o.model, src, resp.Metrics), nil
}

type ollamaSource struct {
	resp     *nettrace.Stream
	r        *bufio.Reader
	cancel   context.CancelFunc
	timedOut func() bool
	done     bool
}

func (s *ollamaSource) next() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}
		line, err := s.r.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var chunk ollamaChunk
			if jerr := json.Unmarshal(trimmed, &chunk); jerr != nil {
				if errors.Is(err, io.EOF) {
					return "", failed(ReasonTruncated, jerr)
				}
				return "", failed("malformed chunk", jerr)
			}
			if chunk.Error != "" {
				return "", failed(chunk.Error, nil)
			}
			s.done = chunk.Done
			if chunk.Response != "" {
				return chunk.Response, nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			if s.timedOut() {
				return "", failed(ReasonTimeout, err)
			}
			return "", failed("connection lost", err)
		}
	}
}

func (s *ollamaSource) close() error {
	err := s.resp.Close()
	s.cancel()
	return err
}
