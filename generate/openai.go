package generate

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAI streams chat completions from any OpenAI-compatible server
// (llama.cpp, vLLM, LM Studio, api.openai.com).
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(baseURL, model, apiKey string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: model}
}

func (o *OpenAI) Name() string  { return "openai" }
func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) Open(ctx context.Context, prompt string, timeout time.Duration) (*Stream, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	}

	ctx, cancel, stop, timedOut := deadline(ctx, timeout)
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	stopped := stop()
	if err != nil {
		cancel()
		if timedOut() {
			return nil, failed(ReasonTimeout, err)
		}
		return nil, failed(apiReason(err), err)
	}
	src := &openaiSource{
		stream: stream,
		cancel: cancel,
		timedOut: func() bool {
			return !stopped && timedOut()
		},
	}
	return newStream(o.model, src, nil), nil
}

func apiReason(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Error()
	}
	return "request failed"
}

type openaiSource struct {
	stream   *openai.ChatCompletionStream
	cancel   context.CancelFunc
	timedOut func() bool
}

func (s *openaiSource) next() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			if s.timedOut() {
				return "", failed(ReasonTimeout, err)
			}
			return "", failed(apiReason(err), err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openaiSource) close() error {
	err := s.stream.Close()
	s.cancel()
	return err
}
