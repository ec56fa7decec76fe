package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brokercrm-backend/internal/llm"
	"brokercrm-backend/internal/shared/storage/db"
)

// PGRepo implements Repository on ai_conversations and ai_messages.
type PGRepo struct {
	DB *sql.DB
}

func NewPGRepo(conn *sql.DB) *PGRepo {
	return &PGRepo{DB: conn}
}

const conversationColumns = `id, COALESCE(tenant_id::text, ''), COALESCE(user_id, ''), COALESCE(session_id, ''),
user_type, created_at, updated_at`

func scanConversation(row interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.TenantID, &c.UserID, &c.SessionID, &c.UserType, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	return c, err
}

func (r *PGRepo) Get(ctx context.Context, id string) (Conversation, error) {
	return scanConversation(r.DB.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM ai_conversations WHERE id = $1`, id))
}

func (r *PGRepo) LatestBySession(ctx context.Context, sessionID string) (Conversation, error) {
	return scanConversation(r.DB.QueryRowContext(ctx, `
SELECT `+conversationColumns+` FROM ai_conversations
WHERE session_id = $1 AND user_id IS NULL
ORDER BY updated_at DESC LIMIT 1`, sessionID))
}

func (r *PGRepo) Append(ctx context.Context, conv Conversation, msgs []llm.Message) (Conversation, error) {
	err := db.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		var err error
		if conv.ID == "" {
			err = tx.QueryRowContext(ctx, `
INSERT INTO ai_conversations (tenant_id, user_id, session_id, user_type)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at, updated_at`,
				db.NullString(conv.TenantID), db.NullString(conv.UserID), db.NullString(conv.SessionID), conv.UserType,
			).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
		} else {
			err = tx.QueryRowContext(ctx,
				`UPDATE ai_conversations SET updated_at = now() WHERE id = $1 RETURNING updated_at`, conv.ID,
			).Scan(&conv.UpdatedAt)
		}
		if err != nil {
			return fmt.Errorf("save conversation: %w", err)
		}
		for _, m := range msgs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ai_messages (conversation_id, role, content) VALUES ($1, $2, $3)`,
				conv.ID, m.Role, m.Content); err != nil {
				return fmt.Errorf("insert message: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

func (r *PGRepo) Messages(ctx context.Context, conversationID string) ([]StoredMessage, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT conversation_id, role, content, created_at FROM ai_messages
WHERE conversation_id = $1 ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		if err := rows.Scan(&m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
