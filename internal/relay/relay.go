// Package relay forwards chat requests to the upstream generation API and
// re-emits the streamed text deltas verbatim.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"chatrelay/internal/upstream"
	"chatrelay/pkg/domain"
)

const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000

	modelCheckPrompt    = "Say 'Hello, I am GPT-4o mini'"
	modelCheckMaxTokens = 20
)

// Config wires the relay.
type Config struct {
	APIKey string
	// CredentialOptional skips the credential precondition for providers,
	// such as a local Ollama daemon, that do not authenticate.
	CredentialOptional bool
	Upstream           upstream.Client
	Model              string
	Temperature        float32
	MaxTokens          int
}

// Relay is stateless; one value serves concurrent requests.
type Relay struct {
	apiKey             string
	credentialOptional bool
	upstream           upstream.Client
	model              string
	temperature        float32
	maxTokens          int
}

// New constructs a relay, filling fixed defaults for unset generation settings.
func New(cfg Config) *Relay {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Relay{
		apiKey:             strings.TrimSpace(cfg.APIKey),
		credentialOptional: cfg.CredentialOptional,
		upstream:           cfg.Upstream,
		model:              model,
		temperature:        temperature,
		maxTokens:          maxTokens,
	}
}

// Model returns the configured model identifier.
func (r *Relay) Model() string {
	return r.model
}

// Open validates configuration and starts the upstream stream. Every error
// returned here happens before any byte reaches the caller, so it can still
// be reported as a structured response.
func (r *Relay) Open(ctx context.Context, messages []domain.ChatMessage) (upstream.Stream, error) {
	if err := r.Ready(); err != nil {
		return nil, err
	}
	stream, err := r.upstream.StreamChat(ctx, upstream.Request{
		Model:       r.model,
		Messages:    messages,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return stream, nil
}

// Result summarizes a finished pipe.
type Result struct {
	Chunks int
	Bytes  int
}

type flusher interface {
	Flush()
}

// Pipe copies non-empty deltas from stream to w in arrival order, flushing
// after each one when w supports it. It closes stream before returning.
// A zero-chunk stream is not an error; onChunk may be nil.
func (r *Relay) Pipe(stream upstream.Stream, w io.Writer, onChunk func(n int)) (Result, error) {
	defer stream.Close()
	f, _ := w.(flusher)
	var res Result
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		if delta == "" {
			continue
		}
		n, err := io.WriteString(w, delta)
		if err != nil {
			return res, fmt.Errorf("write chunk: %w", err)
		}
		if f != nil {
			f.Flush()
		}
		res.Chunks++
		res.Bytes += n
		if onChunk != nil {
			onChunk(n)
		}
	}
}

// CheckModel asks the upstream which model actually serves requests.
func (r *Relay) CheckModel(ctx context.Context) (domain.ModelCheck, error) {
	if err := r.Ready(); err != nil {
		return domain.ModelCheck{}, err
	}
	resp, err := r.upstream.Complete(ctx, upstream.Request{
		Model:     r.model,
		Messages:  []domain.ChatMessage{{Role: domain.RoleUser, Content: modelCheckPrompt}},
		MaxTokens: modelCheckMaxTokens,
	})
	if err != nil {
		return domain.ModelCheck{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return domain.ModelCheck{
		ConfiguredModel: r.model,
		ActualModel:     resp.Model,
		ResponseContent: resp.Content,
		FullResponse:    resp.Raw,
	}, nil
}

// Ready reports ErrNotConfigured when requests cannot be served.
func (r *Relay) Ready() error {
	if r.apiKey == "" && !r.credentialOptional {
		return ErrNotConfigured
	}
	if r.upstream == nil {
		return ErrNotConfigured
	}
	return nil
}

type inboundMessage struct {
	Role    domain.Role     `json:"role"`
	Content json.RawMessage `json:"content"`
}

type chatRequest struct {
	Messages []inboundMessage `json:"messages"`
}

// DecodeRequest reads a {"messages":[...]} body. Content that is not a JSON
// string is forwarded as its compact JSON text.
func DecodeRequest(body io.Reader) ([]domain.ChatMessage, error) {
	var req chatRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Messages == nil {
		return nil, fmt.Errorf("%w: messages must be an array", ErrInvalidRequest)
	}
	out := make([]domain.ChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		content, err := coerceContent(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		out = append(out, domain.ChatMessage{Role: msg.Role, Content: content})
	}
	return out, nil
}

func coerceContent(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", err
	}
	return buf.String(), nil
}
