package postgres

import (
	"context"
	"fmt"
)

const (
	conversationsTable = "bot_conversations"
	messagesTable      = "bot_messages"
	bindingCodesTable  = "bot_binding_codes"
	bindingsTable      = "bot_bindings"
	groupPoliciesTable = "bot_group_policies"
	accountsTable      = "bot_accounts"
	invocationsTable   = "bot_invocations"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ` + conversationsTable + ` (
    id TEXT PRIMARY KEY,
    platform TEXT NOT NULL,
    thread_id TEXT NOT NULL,
    is_group BOOLEAN NOT NULL DEFAULT false,
    account_id TEXT,
    reset_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (platform, thread_id)
);`,
	`CREATE TABLE IF NOT EXISTS ` + messagesTable + ` (
    id BIGSERIAL PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES ` + conversationsTable + `(id),
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_` + messagesTable + `_conversation_created ON ` + messagesTable + ` (conversation_id, created_at, id);`,
	`CREATE TABLE IF NOT EXISTS ` + bindingCodesTable + ` (
    id BIGSERIAL PRIMARY KEY,
    code TEXT NOT NULL,
    account_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    used_at TIMESTAMPTZ,
    used_by TEXT
);`,
	`CREATE INDEX IF NOT EXISTS idx_` + bindingCodesTable + `_code_unused ON ` + bindingCodesTable + ` (code) WHERE used_at IS NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_` + bindingCodesTable + `_account_unused ON ` + bindingCodesTable + ` (account_id) WHERE used_at IS NULL;`,
	`CREATE TABLE IF NOT EXISTS ` + bindingsTable + ` (
    platform TEXT NOT NULL,
    user_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (platform, user_id),
    UNIQUE (account_id, platform)
);`,
	`CREATE TABLE IF NOT EXISTS ` + groupPoliciesTable + ` (
    platform TEXT NOT NULL,
    group_id TEXT NOT NULL,
    enabled BOOLEAN NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (platform, group_id)
);`,
	`CREATE TABLE IF NOT EXISTS ` + accountsTable + ` (
    id TEXT PRIMARY KEY,
    role TEXT NOT NULL,
    permissions JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	`CREATE TABLE IF NOT EXISTS ` + invocationsTable + ` (
    id TEXT PRIMARY KEY,
    platform TEXT NOT NULL,
    thread_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    persona TEXT NOT NULL,
    model TEXT NOT NULL,
    prompt TEXT NOT NULL,
    history_length INTEGER NOT NULL,
    tools JSONB NOT NULL,
    raw_response TEXT NOT NULL,
    parsed_response TEXT NOT NULL,
    duration_ms BIGINT NOT NULL,
    input_tokens INTEGER NOT NULL,
    output_tokens INTEGER NOT NULL,
    success BOOLEAN NOT NULL,
    error_kind TEXT NOT NULL,
    error TEXT NOT NULL,
    context_kind TEXT NOT NULL,
    tool_calls JSONB NOT NULL,
    image_backend TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_` + invocationsTable + `_created_at ON ` + invocationsTable + ` (created_at);`,
}

// EnsureSchema creates every table the stores need.
func EnsureSchema(ctx context.Context, db DB) error {
	if db == nil {
		return fmt.Errorf("postgres schema: db not initialized")
	}
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
