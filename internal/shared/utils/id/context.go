package id

import "context"

type contextKey string

const (
	conversationKey contextKey = "opsbot_conversation_id"
	accountKey      contextKey = "opsbot_account_id"
	logKey          contextKey = "opsbot_log_id"
)

// WithConversationID stores the conversation identifier on the context.
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	if conversationID == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationKey, conversationID)
}

// WithAccountID stores the bound account identifier on the context.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	if accountID == "" {
		return ctx
	}
	return context.WithValue(ctx, accountKey, accountID)
}

// WithLogID stores the log identifier on the context.
func WithLogID(ctx context.Context, logID string) context.Context {
	if logID == "" {
		return ctx
	}
	return context.WithValue(ctx, logKey, logID)
}

// ConversationIDFromContext extracts the conversation identifier from context.
func ConversationIDFromContext(ctx context.Context) string {
	return stringValue(ctx, conversationKey)
}

// AccountIDFromContext extracts the account identifier from context.
func AccountIDFromContext(ctx context.Context) string {
	return stringValue(ctx, accountKey)
}

// LogIDFromContext extracts the log identifier from context.
func LogIDFromContext(ctx context.Context) string {
	return stringValue(ctx, logKey)
}

// EnsureLogID guarantees a log identifier is present on the context.
// It returns the updated context and the resulting identifier.
func EnsureLogID(ctx context.Context, generator func() string) (context.Context, string) {
	if existing := LogIDFromContext(ctx); existing != "" {
		return ctx, existing
	}
	next := ""
	if generator != nil {
		next = generator()
	}
	if next == "" {
		return ctx, ""
	}
	ctx = WithLogID(ctx, next)
	return ctx, next
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
