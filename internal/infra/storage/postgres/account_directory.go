package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"opsbot/internal/domain/chat"
	jsonx "opsbot/internal/shared/json"
)

// AccountDirectory reads accounts mirrored into Postgres.
type AccountDirectory struct {
	db DB
}

// NewAccountDirectory creates a Postgres-backed account directory.
func NewAccountDirectory(db DB) *AccountDirectory {
	return &AccountDirectory{db: db}
}

func (d *AccountDirectory) GetAccount(ctx context.Context, accountID string) (chat.Account, error) {
	var (
		account chat.Account
		raw     []byte
	)
	err := d.db.QueryRow(ctx, `
SELECT id, role, permissions FROM `+accountsTable+` WHERE id = $1
`, accountID).Scan(&account.ID, &account.Role, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return chat.Account{}, chat.ErrNotFound
		}
		return chat.Account{}, fmt.Errorf("get account: %w", err)
	}
	if len(raw) > 0 {
		if err := jsonx.Unmarshal(raw, &account.Permissions); err != nil {
			return chat.Account{}, fmt.Errorf("decode account permissions: %w", err)
		}
	}
	return account, nil
}

// SyncAccounts upserts the given accounts.
func (d *AccountDirectory) SyncAccounts(ctx context.Context, accounts []chat.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // no-op if committed

	for _, account := range accounts {
		perms := account.Permissions
		if perms == nil {
			perms = map[string]bool{}
		}
		raw, err := jsonx.Marshal(perms)
		if err != nil {
			return fmt.Errorf("encode permissions for %s: %w", account.ID, err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO `+accountsTable+` (id, role, permissions, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id)
DO UPDATE SET role = EXCLUDED.role,
              permissions = EXCLUDED.permissions,
              updated_at = EXCLUDED.updated_at
`, account.ID, account.Role, raw); err != nil {
			return fmt.Errorf("upsert account %s: %w", account.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var _ chat.AccountDirectory = (*AccountDirectory)(nil)
