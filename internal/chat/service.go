// Package chat runs the AI assistant for brokers, their clients and site visitors.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"brokercrm-backend/internal/llm"
	"brokercrm-backend/internal/shared/telemetry"
	"brokercrm-backend/internal/usage"
)

// UsageRecorder increments tenant usage counters.
type UsageRecorder interface {
	Increment(ctx context.Context, tenantID, metric string, n int) (usage.Counter, error)
}

// ModuleChecker reports whether a tenant's plan includes a module.
type ModuleChecker interface {
	HasModule(ctx context.Context, tenantID, module string) bool
}

// Service answers chat messages and keeps the conversation log.
type Service struct {
	Repo    Repository
	Chatter llm.Chatter
	Usage   UsageRecorder
	Modules ModuleChecker
}

// Reply sends the trailing history to the model and persists the newest
// user turn together with the reply.
func (s *Service) Reply(ctx context.Context, in Input) (Result, error) {
	prompt, err := s.authorize(ctx, &in)
	if err != nil {
		return Result{}, err
	}
	if err := validateMessages(in.Messages); err != nil {
		return Result{}, err
	}
	conv, err := s.resolveConversation(ctx, in)
	if err != nil {
		return Result{}, err
	}

	history := in.Messages
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	reply, err := s.Chatter.Chat(ctx, prompt, history)
	if err != nil {
		telemetry.Warn("chat.reply_failed", map[string]any{
			"user_type":       in.UserType,
			"tenant_id":       in.TenantID,
			"conversation_id": conv.ID,
			"error":           err,
		})
		return Result{}, err
	}
	reply = strings.TrimSpace(reply)

	last := in.Messages[len(in.Messages)-1]
	saved, err := s.Repo.Append(context.WithoutCancel(ctx), conv, []llm.Message{
		{Role: RoleUser, Content: last.Content},
		{Role: RoleAssistant, Content: reply},
	})
	if err != nil {
		telemetry.Error("chat.persist_failed", map[string]any{"conversation_id": conv.ID, "error": err})
	} else {
		conv = saved
	}

	if in.TenantID != "" && s.Usage != nil {
		if _, err := s.Usage.Increment(ctx, in.TenantID, usage.MetricAIChatMessages, 1); err != nil {
			telemetry.Warn("chat.usage_failed", map[string]any{"tenant_id": in.TenantID, "error": err})
		}
	}
	telemetry.Info("chat.replied", map[string]any{
		"user_type":       in.UserType,
		"tenant_id":       in.TenantID,
		"conversation_id": conv.ID,
		"history":         len(history),
	})
	return Result{Reply: reply, ConversationID: conv.ID}, nil
}

// authorize resolves the system prompt and checks the caller may use it.
func (s *Service) authorize(ctx context.Context, in *Input) (string, error) {
	in.UserType = strings.ToLower(strings.TrimSpace(in.UserType))
	if in.UserType == "" {
		in.UserType = llm.UserTypeVisitor
	}
	prompt, ok := llm.SystemPrompt(in.UserType)
	if !ok {
		return "", fmt.Errorf("%w: userType must be broker, client or visitor", ErrInvalidInput)
	}
	switch in.UserType {
	case llm.UserTypeBroker:
		if in.UserID == "" || in.TenantID == "" {
			return "", ErrUnauthorized
		}
		if s.Modules != nil && !s.Modules.HasModule(ctx, in.TenantID, ModuleAIAssistant) {
			return "", ErrModuleDisabled
		}
	case llm.UserTypeClient:
		if in.UserID == "" {
			return "", ErrUnauthorized
		}
	case llm.UserTypeVisitor:
		// Visitors are anonymous even when a token was sent.
		in.UserID, in.TenantID = "", ""
	}
	return prompt, nil
}

func validateMessages(msgs []llm.Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("%w: messages are required", ErrInvalidInput)
	}
	for i, m := range msgs {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("%w: messages[%d].role must be user or assistant", ErrInvalidInput, i)
		}
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: messages[%d].content is empty", ErrInvalidInput, i)
		}
		if utf8.RuneCountInString(m.Content) > MaxMessageRunes {
			return fmt.Errorf("%w: messages[%d].content is too long", ErrInvalidInput, i)
		}
	}
	if msgs[len(msgs)-1].Role != RoleUser {
		return fmt.Errorf("%w: last message must come from the user", ErrInvalidInput)
	}
	return nil
}

func (s *Service) resolveConversation(ctx context.Context, in Input) (Conversation, error) {
	fresh := Conversation{
		TenantID:  in.TenantID,
		UserID:    in.UserID,
		SessionID: strings.TrimSpace(in.SessionID),
		UserType:  in.UserType,
	}
	if id := strings.TrimSpace(in.ConversationID); id != "" {
		conv, err := s.Repo.Get(ctx, id)
		if err != nil {
			return Conversation{}, err
		}
		if !owns(conv, fresh) {
			return Conversation{}, ErrNotFound
		}
		return conv, nil
	}
	if fresh.UserID == "" && fresh.SessionID != "" {
		conv, err := s.Repo.LatestBySession(ctx, fresh.SessionID)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Conversation{}, err
		}
	}
	return fresh, nil
}

func owns(conv, caller Conversation) bool {
	if conv.UserID != "" {
		return conv.UserID == caller.UserID
	}
	return caller.UserID == "" && conv.SessionID != "" && conv.SessionID == caller.SessionID
}
