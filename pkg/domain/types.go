package domain

import "time"

// Role tags who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ChatMessage is the role/content pair exchanged with the relay.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message is one utterance stored inside a conversation.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is the unit of persistence and selection.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	Messages     []Message `json:"messages"`
	TitleDerived bool      `json:"titleDerived,omitempty"`
}

// Clone returns a copy that shares no message storage with c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// ToChatMessages strips ids so messages can be sent upstream.
func ToChatMessages(messages []Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// ModelCheck reports which model the upstream actually served.
type ModelCheck struct {
	ConfiguredModel string `json:"configured_model"`
	ActualModel     string `json:"actual_model"`
	ResponseContent string `json:"response_content"`
	FullResponse    any    `json:"full_response"`
}
