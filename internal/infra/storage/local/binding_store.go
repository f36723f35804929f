package local

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/filestore"
	"opsbot/internal/shared/utils/id"
)

type bindingCodeDoc struct {
	Code      string        `json:"code"`
	AccountID string        `json:"account_id"`
	Platform  chat.Platform `json:"platform"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	UsedAt    *time.Time    `json:"used_at,omitempty"`
	UsedBy    string        `json:"used_by,omitempty"`
}

type bindingDoc struct {
	Platform  chat.Platform `json:"platform"`
	UserID    string        `json:"user_id"`
	AccountID string        `json:"account_id"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// BindingStore is a local (memory/file) chat.BindingStore.
type BindingStore struct {
	// mu serializes writes spanning both collections.
	mu       sync.Mutex
	codes    *filestore.Collection[string, bindingCodeDoc]
	bindings *filestore.Collection[string, bindingDoc]
}

// NewBindingMemoryStore creates an in-memory binding store.
func NewBindingMemoryStore() *BindingStore {
	return &BindingStore{
		codes:    filestore.NewCollection[string, bindingCodeDoc](filestore.CollectionConfig{}),
		bindings: filestore.NewCollection[string, bindingDoc](filestore.CollectionConfig{}),
	}
}

// NewBindingFileStore creates a file-backed binding store under dir.
func NewBindingFileStore(dir string) (*BindingStore, error) {
	trimmedDir := strings.TrimSpace(dir)
	if trimmedDir == "" {
		return nil, fmt.Errorf("binding file store dir is required")
	}
	s := &BindingStore{
		codes: filestore.NewCollection[string, bindingCodeDoc](filestore.CollectionConfig{
			FilePath: filepath.Join(trimmedDir, "binding_codes.json"),
		}),
		bindings: filestore.NewCollection[string, bindingDoc](filestore.CollectionConfig{
			FilePath: filepath.Join(trimmedDir, "bindings.json"),
		}),
	}
	if err := s.codes.Load(); err != nil {
		return nil, fmt.Errorf("load binding codes: %w", err)
	}
	if err := s.bindings.Load(); err != nil {
		return nil, fmt.Errorf("load bindings: %w", err)
	}
	return s, nil
}

func (d bindingCodeDoc) toCode() chat.BindingCode {
	return chat.BindingCode{
		Code:      d.Code,
		AccountID: d.AccountID,
		Platform:  d.Platform,
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
		UsedAt:    d.UsedAt,
		UsedBy:    d.UsedBy,
	}
}

func (d bindingDoc) toBinding() chat.Binding {
	return chat.Binding{
		Identity:  chat.Identity{Platform: d.Platform, UserID: d.UserID},
		AccountID: d.AccountID,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func (s *BindingStore) IssueCode(ctx context.Context, code chat.BindingCode, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.codes.MutateWithRollback(func(items map[string]bindingCodeDoc) error {
		for key, existing := range items {
			if existing.AccountID == code.AccountID && existing.UsedAt == nil && now.Before(existing.ExpiresAt) {
				existing.ExpiresAt = now
				items[key] = existing
			}
		}
		items[id.NewRawID()] = bindingCodeDoc{
			Code:      code.Code,
			AccountID: code.AccountID,
			Platform:  code.Platform,
			CreatedAt: code.CreatedAt,
			ExpiresAt: code.ExpiresAt,
		}
		return nil
	})
}

func (s *BindingStore) FindActiveCode(ctx context.Context, code string, now time.Time) (chat.BindingCode, error) {
	if err := ctx.Err(); err != nil {
		return chat.BindingCode{}, err
	}
	var (
		found chat.BindingCode
		ok    bool
	)
	s.codes.ReadLocked(func(items map[string]bindingCodeDoc) {
		_, found, ok = findActive(items, code, now)
	})
	if !ok {
		return chat.BindingCode{}, chat.ErrNotFound
	}
	return found, nil
}

func findActive(items map[string]bindingCodeDoc, code string, now time.Time) (string, chat.BindingCode, bool) {
	for key, doc := range items {
		if doc.Code != code {
			continue
		}
		if c := doc.toCode(); c.Active(now) {
			return key, c, true
		}
	}
	return "", chat.BindingCode{}, false
}

func (s *BindingStore) ConsumeCodeAndBind(ctx context.Context, code string, binding chat.Binding, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	identityKey := binding.Identity.String()
	var conflict bool
	s.bindings.ReadLocked(func(items map[string]bindingDoc) {
		for key, doc := range items {
			if key == identityKey {
				conflict = doc.AccountID != binding.AccountID
				continue
			}
			if doc.AccountID == binding.AccountID && doc.Platform == binding.Identity.Platform {
				conflict = true
			}
		}
	})
	if conflict {
		return chat.ErrBindingExists
	}

	var codeKey string
	err := s.codes.MutateWithRollback(func(items map[string]bindingCodeDoc) error {
		key, _, ok := findActive(items, code, now)
		if !ok {
			return chat.ErrNotFound
		}
		doc := items[key]
		usedAt := now
		doc.UsedAt = &usedAt
		doc.UsedBy = identityKey
		items[key] = doc
		codeKey = key
		return nil
	})
	if err != nil {
		return err
	}

	err = s.bindings.MutateWithRollback(func(items map[string]bindingDoc) error {
		doc, ok := items[identityKey]
		if !ok {
			doc = bindingDoc{
				Platform:  binding.Identity.Platform,
				UserID:    binding.Identity.UserID,
				AccountID: binding.AccountID,
				CreatedAt: now,
			}
		}
		doc.UpdatedAt = now
		items[identityKey] = doc
		return nil
	})
	if err != nil {
		_ = s.codes.MutateWithRollback(func(items map[string]bindingCodeDoc) error {
			doc := items[codeKey]
			doc.UsedAt = nil
			doc.UsedBy = ""
			items[codeKey] = doc
			return nil
		})
		return fmt.Errorf("save binding: %w", err)
	}
	return nil
}

func (s *BindingStore) GetBindingByIdentity(ctx context.Context, identity chat.Identity) (chat.Binding, error) {
	if err := ctx.Err(); err != nil {
		return chat.Binding{}, err
	}
	doc, ok := s.bindings.Get(identity.String())
	if !ok {
		return chat.Binding{}, chat.ErrNotFound
	}
	return doc.toBinding(), nil
}

func (s *BindingStore) GetBindingByAccount(ctx context.Context, accountID string, platform chat.Platform) (chat.Binding, error) {
	if err := ctx.Err(); err != nil {
		return chat.Binding{}, err
	}
	var (
		found chat.Binding
		ok    bool
	)
	s.bindings.ReadLocked(func(items map[string]bindingDoc) {
		for _, doc := range items {
			if doc.AccountID == accountID && doc.Platform == platform {
				found, ok = doc.toBinding(), true
				return
			}
		}
	})
	if !ok {
		return chat.Binding{}, chat.ErrNotFound
	}
	return found, nil
}

var _ chat.BindingStore = (*BindingStore)(nil)
