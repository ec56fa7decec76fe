package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"brokercrm-backend/internal/llm"
)

// MemoryRepo is an in-memory Repository.
type MemoryRepo struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	messages      map[string][]StoredMessage
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]StoredMessage),
	}
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) LatestBySession(ctx context.Context, sessionID string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest Conversation
	for _, c := range r.conversations {
		if c.SessionID != sessionID || c.UserID != "" {
			continue
		}
		if latest.ID == "" || c.UpdatedAt.After(latest.UpdatedAt) {
			latest = c
		}
	}
	if latest.ID == "" {
		return Conversation{}, ErrNotFound
	}
	return latest, nil
}

func (r *MemoryRepo) Append(ctx context.Context, conv Conversation, msgs []llm.Message) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if conv.ID == "" {
		conv.ID = uuid.NewString()
		conv.CreatedAt = now
	} else if _, ok := r.conversations[conv.ID]; !ok {
		return Conversation{}, ErrNotFound
	}
	conv.UpdatedAt = now
	r.conversations[conv.ID] = conv
	for _, m := range msgs {
		r.messages[conv.ID] = append(r.messages[conv.ID], StoredMessage{
			ConversationID: conv.ID,
			Role:           m.Role,
			Content:        m.Content,
			CreatedAt:      now,
		})
	}
	return conv, nil
}

func (r *MemoryRepo) Messages(ctx context.Context, conversationID string) ([]StoredMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StoredMessage(nil), r.messages[conversationID]...), nil
}
