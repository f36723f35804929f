package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"opsbot/internal/domain/chat"
	"opsbot/internal/shared/utils/id"
)

// ConversationStore persists conversations and messages in Postgres.
type ConversationStore struct {
	db  DB
	now func() time.Time
}

// NewConversationStore creates a Postgres-backed conversation store.
func NewConversationStore(db DB) *ConversationStore {
	return &ConversationStore{db: db, now: time.Now}
}

const conversationColumns = `id, platform, thread_id, is_group, COALESCE(account_id, ''), reset_at, created_at, updated_at`

func scanConversation(row pgx.Row) (chat.Conversation, error) {
	var (
		conv     chat.Conversation
		platform string
	)
	if err := row.Scan(&conv.ID, &platform, &conv.Key.ThreadID, &conv.IsGroup, &conv.AccountID, &conv.ResetAt, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return chat.Conversation{}, err
	}
	conv.Key.Platform = chat.Platform(platform)
	return conv, nil
}

func (s *ConversationStore) EnsureConversation(ctx context.Context, key chat.ConversationKey, isGroup bool) (chat.Conversation, error) {
	now := s.now()
	row := s.db.QueryRow(ctx, `
INSERT INTO `+conversationsTable+` (id, platform, thread_id, is_group, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (platform, thread_id)
DO UPDATE SET is_group = `+conversationsTable+`.is_group
RETURNING `+conversationColumns, id.NewConversationID(), string(key.Platform), key.ThreadID, isGroup, now)
	conv, err := scanConversation(row)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("ensure conversation: %w", err)
	}
	return conv, nil
}

func (s *ConversationStore) GetConversation(ctx context.Context, key chat.ConversationKey) (chat.Conversation, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+conversationColumns+`
FROM `+conversationsTable+`
WHERE platform = $1 AND thread_id = $2
`, string(key.Platform), key.ThreadID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Conversation{}, chat.ErrNotFound
		}
		return chat.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (s *ConversationStore) ListMessages(ctx context.Context, key chat.ConversationKey, after *time.Time, limit int) ([]chat.Message, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.Query(ctx, `
SELECT role, content, created_at FROM (
    SELECT m.id, m.role, m.content, m.created_at
    FROM `+messagesTable+` m
    JOIN `+conversationsTable+` c ON c.id = m.conversation_id
    WHERE c.platform = $1 AND c.thread_id = $2
      AND ($3::timestamptz IS NULL OR m.created_at > $3)
    ORDER BY m.created_at DESC, m.id DESC
    LIMIT $4
) recent
ORDER BY created_at, id
`, string(key.Platform), key.ThreadID, nullableTime(after), limitArg)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			msg  chat.Message
			role string
		)
		if err := rows.Scan(&role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = chat.Role(role)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (s *ConversationStore) AppendMessages(ctx context.Context, key chat.ConversationKey, msgs ...chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.inTx(ctx, key, func(tx pgx.Tx, conversationID string) error {
		return insertMessages(ctx, tx, conversationID, msgs)
	})
}

func (s *ConversationStore) ResetConversation(ctx context.Context, key chat.ConversationKey, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE `+conversationsTable+`
SET reset_at = $3, updated_at = $4
WHERE platform = $1 AND thread_id = $2
`, string(key.Platform), key.ThreadID, at, s.now())
	if err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", key, chat.ErrNotFound)
	}
	return nil
}

func (s *ConversationStore) ReplaceMessages(ctx context.Context, key chat.ConversationKey, after *time.Time, msgs []chat.Message) error {
	return s.inTx(ctx, key, func(tx pgx.Tx, conversationID string) error {
		if _, err := tx.Exec(ctx, `
DELETE FROM `+messagesTable+`
WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR created_at > $2)
`, conversationID, nullableTime(after)); err != nil {
			return fmt.Errorf("delete active messages: %w", err)
		}
		return insertMessages(ctx, tx, conversationID, msgs)
	})
}

func (s *ConversationStore) SetConversationAccount(ctx context.Context, key chat.ConversationKey, accountID string) error {
	tag, err := s.db.Exec(ctx, `
UPDATE `+conversationsTable+`
SET account_id = NULLIF($3, ''), updated_at = $4
WHERE platform = $1 AND thread_id = $2
`, string(key.Platform), key.ThreadID, accountID, s.now())
	if err != nil {
		return fmt.Errorf("set conversation account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s: %w", key, chat.ErrNotFound)
	}
	return nil
}

func (s *ConversationStore) inTx(ctx context.Context, key chat.ConversationKey, fn func(tx pgx.Tx, conversationID string) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	var conversationID string
	if err := tx.QueryRow(ctx, `
SELECT id FROM `+conversationsTable+`
WHERE platform = $1 AND thread_id = $2
FOR UPDATE
`, string(key.Platform), key.ThreadID).Scan(&conversationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("conversation %s: %w", key, chat.ErrNotFound)
		}
		return fmt.Errorf("lock conversation: %w", err)
	}

	if err := fn(tx, conversationID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE `+conversationsTable+` SET updated_at = $2 WHERE id = $1`, conversationID, s.now()); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertMessages(ctx context.Context, q querier, conversationID string, msgs []chat.Message) error {
	for _, msg := range msgs {
		if _, err := q.Exec(ctx, `
INSERT INTO `+messagesTable+` (conversation_id, role, content, created_at)
VALUES ($1, $2, $3, $4)
`, conversationID, string(msg.Role), msg.Content, msg.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

var _ chat.ConversationStore = (*ConversationStore)(nil)
