package upstream

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI calls the OpenAI chat completions API or any compatible endpoint.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI builds a client. baseURL is optional and should include the /v1
// prefix, e.g. "http://localhost:8000/v1".
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg)}
}

// StreamChat opens a streamed completion.
func (o *OpenAI) StreamChat(ctx context.Context, req Request) (Stream, error) {
	stream, err := o.client.CreateChatCompletionStream(ctx, toOpenAIRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

// Complete performs a single non-streamed completion.
func (o *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	resp, err := o.client.CreateChatCompletion(ctx, toOpenAIRequest(req, false))
	if err != nil {
		return Completion{}, fmt.Errorf("openai completion: %w", err)
	}
	out := Completion{Model: resp.Model, Raw: resp}
	if len(resp.Choices) > 0 {
		out.Content = resp.Choices[0].Message.Content
	}
	return out, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Delta.Content, nil
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

func toOpenAIRequest(req Request, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}
