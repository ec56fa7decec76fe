package chat

import (
	"errors"
	"time"

	"brokercrm-backend/internal/llm"
)

const (
	// MaxHistory is how many trailing messages are sent to the model.
	MaxHistory = 20
	// MaxMessageRunes bounds a single message.
	MaxMessageRunes = 8000
	// ModuleAIAssistant gates the broker assistant.
	ModuleAIAssistant = "ai_assistant"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("conversation not found")
	ErrUnauthorized   = errors.New("sign-in required")
	ErrModuleDisabled = errors.New("ai assistant not included in plan")
)

// Conversation groups the persisted turns of one chat.
type Conversation struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	UserType  string    `json:"userType"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StoredMessage is a persisted chat turn.
type StoredMessage struct {
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Input is one chat request.
type Input struct {
	Messages       []llm.Message
	ConversationID string
	SessionID      string
	UserType       string
	TenantID       string
	UserID         string
}

// Result is the assistant's reply.
type Result struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
}
