package chat

import (
	"context"

	"brokercrm-backend/internal/llm"
)

// Repository persists conversations and their messages.
type Repository interface {
	Get(ctx context.Context, id string) (Conversation, error)
	// LatestBySession returns the most recent conversation of an anonymous session.
	LatestBySession(ctx context.Context, sessionID string) (Conversation, error)
	// Append stores msgs, creating conv first when conv.ID is empty.
	Append(ctx context.Context, conv Conversation, msgs []llm.Message) (Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]StoredMessage, error)
}
