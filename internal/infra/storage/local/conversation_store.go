package local

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/filestore"
	"opsbot/internal/shared/utils/id"
)

type conversationDoc struct {
	ID        string        `json:"id"`
	Platform  chat.Platform `json:"platform"`
	ThreadID  string        `json:"thread_id"`
	IsGroup   bool          `json:"is_group"`
	AccountID string        `json:"account_id,omitempty"`
	ResetAt   *time.Time    `json:"reset_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []messageDoc  `json:"messages"`
}

type messageDoc struct {
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore is a local (memory/file) chat.ConversationStore.
// When the file path is empty the store is in-memory only.
type ConversationStore struct {
	coll *filestore.Collection[string, conversationDoc]
	now  func() time.Time
}

// NewConversationMemoryStore creates an in-memory conversation store.
func NewConversationMemoryStore() *ConversationStore {
	return &ConversationStore{
		coll: filestore.NewCollection[string, conversationDoc](filestore.CollectionConfig{}),
		now:  time.Now,
	}
}

// NewConversationFileStore creates a file-backed conversation store under dir/conversations.json.
func NewConversationFileStore(dir string) (*ConversationStore, error) {
	trimmedDir := strings.TrimSpace(dir)
	if trimmedDir == "" {
		return nil, fmt.Errorf("conversation file store dir is required")
	}
	coll := filestore.NewCollection[string, conversationDoc](filestore.CollectionConfig{
		FilePath: filepath.Join(trimmedDir, "conversations.json"),
	})
	if err := coll.Load(); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	return &ConversationStore{coll: coll, now: time.Now}, nil
}

func (d conversationDoc) toConversation() chat.Conversation {
	return chat.Conversation{
		ID:        d.ID,
		Key:       chat.ConversationKey{Platform: d.Platform, ThreadID: d.ThreadID},
		IsGroup:   d.IsGroup,
		AccountID: d.AccountID,
		ResetAt:   d.ResetAt,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (s *ConversationStore) EnsureConversation(ctx context.Context, key chat.ConversationKey, isGroup bool) (chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return chat.Conversation{}, err
	}
	var out chat.Conversation
	err := s.coll.MutateWithRollback(func(items map[string]conversationDoc) error {
		doc, ok := items[key.String()]
		if !ok {
			now := s.now()
			doc = conversationDoc{
				ID:        id.NewConversationID(),
				Platform:  key.Platform,
				ThreadID:  key.ThreadID,
				IsGroup:   isGroup,
				CreatedAt: now,
				UpdatedAt: now,
			}
			items[key.String()] = doc
		}
		out = doc.toConversation()
		return nil
	})
	return out, err
}

func (s *ConversationStore) GetConversation(ctx context.Context, key chat.ConversationKey) (chat.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return chat.Conversation{}, err
	}
	doc, ok := s.coll.Get(key.String())
	if !ok {
		return chat.Conversation{}, chat.ErrNotFound
	}
	return doc.toConversation(), nil
}

func (s *ConversationStore) ListMessages(ctx context.Context, key chat.ConversationKey, after *time.Time, limit int) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []chat.Message
	s.coll.ReadLocked(func(items map[string]conversationDoc) {
		doc, ok := items[key.String()]
		if !ok {
			return
		}
		for _, m := range doc.Messages {
			if after != nil && !m.CreatedAt.After(*after) {
				continue
			}
			out = append(out, chat.Message{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *ConversationStore) AppendMessages(ctx context.Context, key chat.ConversationKey, msgs ...chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	return s.mutate(key, func(doc *conversationDoc) {
		for _, m := range msgs {
			doc.Messages = append(doc.Messages, toMessageDoc(m))
		}
	})
}

func (s *ConversationStore) ResetConversation(ctx context.Context, key chat.ConversationKey, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mutate(key, func(doc *conversationDoc) {
		resetAt := at
		doc.ResetAt = &resetAt
	})
}

func (s *ConversationStore) ReplaceMessages(ctx context.Context, key chat.ConversationKey, after *time.Time, msgs []chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mutate(key, func(doc *conversationDoc) {
		kept := make([]messageDoc, 0, len(doc.Messages)+len(msgs))
		for _, m := range doc.Messages {
			if after == nil || m.CreatedAt.After(*after) {
				continue
			}
			kept = append(kept, m)
		}
		for _, m := range msgs {
			kept = append(kept, toMessageDoc(m))
		}
		doc.Messages = kept
	})
}

func (s *ConversationStore) SetConversationAccount(ctx context.Context, key chat.ConversationKey, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mutate(key, func(doc *conversationDoc) {
		doc.AccountID = accountID
	})
}

func (s *ConversationStore) mutate(key chat.ConversationKey, fn func(doc *conversationDoc)) error {
	return s.coll.MutateWithRollback(func(items map[string]conversationDoc) error {
		doc, ok := items[key.String()]
		if !ok {
			return fmt.Errorf("conversation %s: %w", key, chat.ErrNotFound)
		}
		fn(&doc)
		doc.UpdatedAt = s.now()
		items[key.String()] = doc
		return nil
	})
}

func toMessageDoc(m chat.Message) messageDoc {
	return messageDoc{Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt}
}

var _ chat.ConversationStore = (*ConversationStore)(nil)
