package chat

import (
	"errors"
	"fmt"

	"chatrelay/internal/relayclient"
)

var (
	ErrSendInFlight   = errors.New("a message is already being sent")
	ErrEmptyInput     = errors.New("message is empty")
	ErrNoConversation = errors.New("no conversation selected")
	ErrEmptyResponse  = errors.New("empty response from relay")
	ErrTimeout        = errors.New("relay did not start responding in time")
	ErrInterrupted    = errors.New("response stream interrupted")
)

// UserMessage renders err the way the chat view shows it.
func UserMessage(err error) string {
	var apiErr *relayclient.APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyResponse):
		return "No response received from the AI. Please try again."
	case errors.Is(err, ErrTimeout):
		return "Request timed out. The AI service may be experiencing high traffic or issues."
	case errors.As(err, &apiErr):
		msg := apiErr.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return fmt.Sprintf("API request failed with status %d: %s", apiErr.Status, msg)
	case errors.Is(err, ErrSendInFlight), errors.Is(err, ErrEmptyInput), errors.Is(err, ErrNoConversation):
		return err.Error()
	default:
		return "There was an error communicating with the AI."
	}
}
