package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOllamaBaseURL = "http://127.0.0.1:11434"

// Ollama calls a local Ollama server through /api/chat. It needs no credential.
type Ollama struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllama constructs a client for baseURL, defaulting to the local daemon.
func NewOllama(baseURL string) *Ollama {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	// No client timeout: streams are bounded by the request context.
	return &Ollama{baseURL: baseURL, httpClient: &http.Client{}}
}

// StreamChat opens a streamed chat; the body is newline-delimited JSON.
func (o *Ollama) StreamChat(ctx context.Context, req Request) (Stream, error) {
	resp, err := o.post(ctx, toOllamaRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("ollama stream: %w", err)
	}
	return &ollamaStream{body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}

// Complete performs a non-streamed chat.
func (o *Ollama) Complete(ctx context.Context, req Request) (Completion, error) {
	resp, err := o.post(ctx, toOllamaRequest(req, false))
	if err != nil {
		return Completion{}, fmt.Errorf("ollama completion: %w", err)
	}
	defer resp.Body.Close()
	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, fmt.Errorf("ollama decode: %w", err)
	}
	if out.Error != "" {
		return Completion{}, fmt.Errorf("ollama api error: %s", out.Error)
	}
	return Completion{Model: out.Model, Content: out.Message.Content, Raw: out}, nil
}

func (o *Ollama) post(ctx context.Context, payload ollamaChatRequest) (*http.Response, error) {
	if strings.TrimSpace(payload.Model) == "" {
		return nil, errors.New("ollama model required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error != "" {
			return nil, fmt.Errorf("ollama api error: %s", errResp.Error)
		}
		return nil, fmt.Errorf("ollama api error: %s", resp.Status)
	}
	return resp, nil
}

type ollamaStream struct {
	body io.ReadCloser
	dec  *json.Decoder
	done bool
}

func (s *ollamaStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	var chunk ollamaChatResponse
	if err := s.dec.Decode(&chunk); err != nil {
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", fmt.Errorf("ollama decode chunk: %w", err)
	}
	if chunk.Error != "" {
		return "", fmt.Errorf("ollama api error: %s", chunk.Error)
	}
	s.done = chunk.Done
	return chunk.Message.Content, nil
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}

func toOllamaRequest(req Request, stream bool) ollamaChatRequest {
	messages := make([]ollamaChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, ollamaChatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	out := ollamaChatRequest{
		Model:    strings.TrimSpace(req.Model),
		Messages: messages,
		Stream:   stream,
		Options:  map[string]any{"temperature": req.Temperature},
	}
	if req.MaxTokens > 0 {
		out.Options["num_predict"] = req.MaxTokens
	}
	return out
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string            `json:"model"`
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error,omitempty"`
}
