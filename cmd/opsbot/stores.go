package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/storage/local"
	"opsbot/internal/infra/storage/postgres"
	"opsbot/internal/shared/config"
	"opsbot/internal/shared/logging"
)

const auditMemoryCapacity = 1024

// stores bundles the persistence ports for one storage driver.
type stores struct {
	conversations chat.ConversationStore
	bindings      chat.BindingStore
	groups        chat.GroupPolicyStore
	accounts      chat.AccountDirectory
	audit         chat.AuditStore

	pool *pgxpool.Pool
}

func (s *stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func configuredAccounts(cfg config.Config) []chat.Account {
	accounts := make([]chat.Account, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts = append(accounts, chat.Account{ID: a.ID, Role: a.Role, Permissions: a.Permissions})
	}
	return accounts
}

func openStores(ctx context.Context, cfg config.Config, logger logging.Logger) (*stores, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case config.StorageDriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.Storage.DatabaseURL, cfg.Storage.MaxConns, logger)
		if err != nil {
			return nil, err
		}
		return &stores{
			conversations: postgres.NewConversationStore(pool),
			bindings:      postgres.NewBindingStore(pool),
			groups:        postgres.NewGroupPolicyStore(pool),
			accounts:      postgres.NewAccountDirectory(pool),
			audit:         postgres.NewAuditStore(pool),
			pool:          pool,
		}, nil
	case config.StorageDriverFile:
		return openFileStores(cfg)
	default:
		audit, err := local.NewAuditMemoryStore(auditMemoryCapacity)
		if err != nil {
			return nil, err
		}
		return &stores{
			conversations: local.NewConversationMemoryStore(),
			bindings:      local.NewBindingMemoryStore(),
			groups:        local.NewGroupPolicyMemoryStore(),
			accounts:      local.NewStaticAccountDirectory(configuredAccounts(cfg)),
			audit:         audit,
		}, nil
	}
}

func openFileStores(cfg config.Config) (*stores, error) {
	dir := strings.TrimSpace(cfg.Storage.Dir)
	conversations, err := local.NewConversationFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	bindings, err := local.NewBindingFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open binding store: %w", err)
	}
	groups, err := local.NewGroupPolicyFileStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open group policy store: %w", err)
	}
	audit, err := local.NewAuditMemoryStore(auditMemoryCapacity)
	if err != nil {
		return nil, err
	}
	return &stores{
		conversations: conversations,
		bindings:      bindings,
		groups:        groups,
		accounts:      local.NewStaticAccountDirectory(configuredAccounts(cfg)),
		audit:         audit,
	}, nil
}

// syncAccounts mirrors configured accounts into the database directory.
func syncAccounts(ctx context.Context, s *stores, cfg config.Config) error {
	dir, ok := s.accounts.(*postgres.AccountDirectory)
	if !ok || len(cfg.Accounts) == 0 {
		return nil
	}
	return dir.SyncAccounts(ctx, configuredAccounts(cfg))
}
