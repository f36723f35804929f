package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"opsbot/internal/domain/chat"
)

// BindingStore persists binding codes and identity bindings in Postgres.
type BindingStore struct {
	db DB
}

// NewBindingStore creates a Postgres-backed binding store.
func NewBindingStore(db DB) *BindingStore {
	return &BindingStore{db: db}
}

func (s *BindingStore) IssueCode(ctx context.Context, code chat.BindingCode, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	if _, err := tx.Exec(ctx, `
UPDATE `+bindingCodesTable+`
SET expires_at = $2
WHERE account_id = $1 AND used_at IS NULL AND expires_at > $2
`, code.AccountID, now); err != nil {
		return fmt.Errorf("invalidate binding codes: %w", err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO `+bindingCodesTable+` (code, account_id, platform, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
`, code.Code, code.AccountID, string(code.Platform), code.CreatedAt, code.ExpiresAt); err != nil {
		return fmt.Errorf("insert binding code: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *BindingStore) FindActiveCode(ctx context.Context, code string, now time.Time) (chat.BindingCode, error) {
	var (
		out      chat.BindingCode
		platform string
	)
	err := s.db.QueryRow(ctx, `
SELECT code, account_id, platform, created_at, expires_at
FROM `+bindingCodesTable+`
WHERE code = $1 AND used_at IS NULL AND expires_at > $2
ORDER BY created_at DESC
LIMIT 1
`, code, now).Scan(&out.Code, &out.AccountID, &platform, &out.CreatedAt, &out.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.BindingCode{}, chat.ErrNotFound
		}
		return chat.BindingCode{}, fmt.Errorf("find binding code: %w", err)
	}
	out.Platform = chat.Platform(platform)
	return out, nil
}

func (s *BindingStore) ConsumeCodeAndBind(ctx context.Context, code string, binding chat.Binding, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	tag, err := tx.Exec(ctx, `
UPDATE `+bindingCodesTable+`
SET used_at = $3, used_by = $4
WHERE code = $1 AND account_id = $2 AND used_at IS NULL AND expires_at > $3
`, code, binding.AccountID, now, binding.Identity.String())
	if err != nil {
		return fmt.Errorf("consume binding code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrNotFound
	}

	tag, err = tx.Exec(ctx, `
INSERT INTO `+bindingsTable+` (platform, user_id, account_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (platform, user_id)
DO UPDATE SET updated_at = EXCLUDED.updated_at
WHERE `+bindingsTable+`.account_id = EXCLUDED.account_id
`, string(binding.Identity.Platform), binding.Identity.UserID, binding.AccountID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return chat.ErrBindingExists
		}
		return fmt.Errorf("save binding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chat.ErrBindingExists
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *BindingStore) GetBindingByIdentity(ctx context.Context, identity chat.Identity) (chat.Binding, error) {
	return s.getBinding(ctx, `WHERE platform = $1 AND user_id = $2`, string(identity.Platform), identity.UserID)
}

func (s *BindingStore) GetBindingByAccount(ctx context.Context, accountID string, platform chat.Platform) (chat.Binding, error) {
	return s.getBinding(ctx, `WHERE account_id = $1 AND platform = $2`, accountID, string(platform))
}

func (s *BindingStore) getBinding(ctx context.Context, where string, args ...any) (chat.Binding, error) {
	var (
		out      chat.Binding
		platform string
	)
	err := s.db.QueryRow(ctx, `
SELECT platform, user_id, account_id, created_at, updated_at
FROM `+bindingsTable+`
`+where, args...).Scan(&platform, &out.Identity.UserID, &out.AccountID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Binding{}, chat.ErrNotFound
		}
		return chat.Binding{}, fmt.Errorf("get binding: %w", err)
	}
	out.Identity.Platform = chat.Platform(platform)
	return out, nil
}

var _ chat.BindingStore = (*BindingStore)(nil)
