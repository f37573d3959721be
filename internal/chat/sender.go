// Package chat sends one user message at a time through the relay and keeps
// the session store in step with the streamed reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/util"
	"chatrelay/pkg/domain"
)

// DefaultStartTimeout bounds the wait for the relay's first response bytes.
const DefaultStartTimeout = 30 * time.Second

// Placeholder replaces a blank reply when the exchange is saved.
const Placeholder = "I couldn't generate a response. Please try again."

// State is the sender's request lifecycle.
type State int

const (
	Idle State = iota
	Sending
)

func (s State) String() string {
	if s == Sending {
		return "sending"
	}
	return "idle"
}

// Streamer opens a streamed completion for messages.
type Streamer interface {
	StreamChat(ctx context.Context, messages []domain.ChatMessage) (io.ReadCloser, error)
}

// Sessions is the part of the session store the sender mutates.
// UpdateStreaming carries partial replies; ReplaceMessages commits.
type Sessions interface {
	Current() (domain.Conversation, bool)
	ReplaceMessages(id string, messages []domain.Message) bool
	UpdateStreaming(id string, messages []domain.Message) bool
}

// SystemPrompt yields the messages to place before the conversation.
type SystemPrompt interface {
	Messages() []domain.ChatMessage
}

// Config wires a Sender. Prompt, OnChunk and Logger are optional.
type Config struct {
	Relay        Streamer
	Sessions     Sessions
	Prompt       SystemPrompt
	StartTimeout time.Duration
	OnChunk      func(chunk string)
	Logger       *slog.Logger
}

// Sender allows a single in-flight send.
type Sender struct {
	relay        Streamer
	sessions     Sessions
	prompt       SystemPrompt
	startTimeout time.Duration
	onChunk      func(string)
	logger       *slog.Logger

	mu    sync.Mutex
	state State
}

// NewSender validates cfg and constructs a Sender.
func NewSender(cfg Config) (*Sender, error) {
	if cfg.Relay == nil {
		return nil, errors.New("relay client is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		relay:        cfg.Relay,
		sessions:     cfg.Sessions,
		prompt:       cfg.Prompt,
		startTimeout: timeout,
		onChunk:      cfg.OnChunk,
		logger:       logger,
	}, nil
}

// State reports whether a send is in flight.
func (s *Sender) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sender) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Sending {
		return ErrSendInFlight
	}
	s.state = Sending
	return nil
}

func (s *Sender) end() {
	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
}

var errStartTimeout = errors.New("start timeout")

// Send appends text as a user message to the selected conversation, streams
// the reply into the store and returns the saved assistant message. On any
// failure the partial reply is dropped and the user message is kept.
func (s *Sender) Send(ctx context.Context, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, ErrEmptyInput
	}
	if err := s.begin(); err != nil {
		return domain.Message{}, err
	}
	defer s.end()

	conv, ok := s.sessions.Current()
	if !ok {
		return domain.Message{}, ErrNoConversation
	}
	history := append(conv.Messages, domain.Message{
		ID:      util.NewID(),
		Role:    domain.RoleUser,
		Content: text,
	})
	s.sessions.ReplaceMessages(conv.ID, history)

	var outgoing []domain.ChatMessage
	if s.prompt != nil {
		outgoing = append(outgoing, s.prompt.Messages()...)
	}
	outgoing = append(outgoing, domain.ToChatMessages(history)...)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := time.AfterFunc(s.startTimeout, func() { cancel(errStartTimeout) })
	body, err := s.relay.StreamChat(ctx, outgoing)
	timer.Stop()
	if err != nil {
		return domain.Message{}, s.fail(ctx, conv.ID, history, err)
	}
	defer body.Close()

	assistant := domain.Message{ID: util.NewID(), Role: domain.RoleAssistant}
	var reply strings.Builder
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			reply.WriteString(chunk)
			assistant.Content = reply.String()
			s.sessions.UpdateStreaming(conv.ID, withMessage(history, assistant))
			if s.onChunk != nil {
				s.onChunk(chunk)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return domain.Message{}, s.fail(ctx, conv.ID, history, fmt.Errorf("%w: %w", ErrInterrupted, readErr))
		}
	}

	if reply.Len() == 0 {
		return domain.Message{}, s.fail(ctx, conv.ID, history, ErrEmptyResponse)
	}
	if strings.TrimSpace(assistant.Content) == "" {
		assistant.Content = Placeholder
	}
	s.sessions.ReplaceMessages(conv.ID, withMessage(history, assistant))
	return assistant, nil
}

func (s *Sender) fail(ctx context.Context, id string, history []domain.Message, err error) error {
	if errors.Is(context.Cause(ctx), errStartTimeout) {
		err = ErrTimeout
	}
	s.sessions.ReplaceMessages(id, history)
	s.logger.Warn("send failed", "conversation", id, "err", err)
	return err
}

func withMessage(history []domain.Message, msg domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(history)+1)
	out = append(out, history...)
	return append(out, msg)
}
