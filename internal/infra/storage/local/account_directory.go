package local

import (
	"context"
	"strings"

	"opsbot/internal/domain/chat"
)

// StaticAccountDirectory serves accounts declared in configuration.
type StaticAccountDirectory struct {
	accounts map[string]chat.Account
}

// NewStaticAccountDirectory indexes accounts by id. Later duplicates win.
func NewStaticAccountDirectory(accounts []chat.Account) *StaticAccountDirectory {
	index := make(map[string]chat.Account, len(accounts))
	for _, account := range accounts {
		accountID := strings.TrimSpace(account.ID)
		if accountID == "" {
			continue
		}
		account.ID = accountID
		index[accountID] = account
	}
	return &StaticAccountDirectory{accounts: index}
}

func (d *StaticAccountDirectory) GetAccount(ctx context.Context, accountID string) (chat.Account, error) {
	if err := ctx.Err(); err != nil {
		return chat.Account{}, err
	}
	account, ok := d.accounts[strings.TrimSpace(accountID)]
	if !ok {
		return chat.Account{}, chat.ErrNotFound
	}
	return account, nil
}

var _ chat.AccountDirectory = (*StaticAccountDirectory)(nil)
