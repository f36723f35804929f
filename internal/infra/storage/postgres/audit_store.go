package postgres

import (
	"context"
	"fmt"

	"opsbot/internal/domain/chat"
	jsonx "opsbot/internal/shared/json"
)

// AuditStore appends invocation records to Postgres.
type AuditStore struct {
	db DB
}

// NewAuditStore creates a Postgres-backed audit store.
func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

type toolCallRow struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Input      string `json:"input,omitempty"`
	Output     string `json:"output,omitempty"`
	IsError    bool   `json:"is_error"`
	DurationMS int64  `json:"duration_ms"`
}

func (s *AuditStore) AppendInvocation(ctx context.Context, rec chat.InvocationRecord) error {
	tools := rec.Tools
	if tools == nil {
		tools = []string{}
	}
	toolsJSON, err := jsonx.Marshal(tools)
	if err != nil {
		return fmt.Errorf("encode tools: %w", err)
	}
	calls := make([]toolCallRow, 0, len(rec.ToolCalls))
	for _, call := range rec.ToolCalls {
		calls = append(calls, toolCallRow{
			ID:         call.ID,
			Name:       call.Name,
			Input:      call.Input,
			Output:     call.Output,
			IsError:    call.IsError,
			DurationMS: call.Duration.Milliseconds(),
		})
	}
	callsJSON, err := jsonx.Marshal(calls)
	if err != nil {
		return fmt.Errorf("encode tool calls: %w", err)
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO `+invocationsTable+` (
    id, platform, thread_id, account_id, persona, model, prompt, history_length,
    tools, raw_response, parsed_response, duration_ms, input_tokens, output_tokens,
    success, error_kind, error, context_kind, tool_calls, image_backend, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
`,
		rec.ID, string(rec.Conversation.Platform), rec.Conversation.ThreadID, rec.AccountID, rec.Persona, rec.Model,
		rec.Prompt, rec.HistoryLength, toolsJSON, rec.RawResponse, rec.ParsedResponse, rec.Duration.Milliseconds(),
		rec.InputTokens, rec.OutputTokens, rec.Success, rec.ErrorKind, rec.Error, string(rec.Context),
		callsJSON, rec.ImageBackend, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

var _ chat.AuditStore = (*AuditStore)(nil)
