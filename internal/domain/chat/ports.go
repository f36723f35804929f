package chat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBindingExists is returned when a binding write would break a uniqueness rule.
	ErrBindingExists = errors.New("binding already exists")
)

// ConversationStore persists conversations and their ordered messages.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, key ConversationKey, isGroup bool) (Conversation, error)
	GetConversation(ctx context.Context, key ConversationKey) (Conversation, error)
	// ListMessages returns the most recent limit messages created strictly after
	// the cursor, oldest first. A nil cursor lists everything; limit <= 0 means no limit.
	ListMessages(ctx context.Context, key ConversationKey, after *time.Time, limit int) ([]Message, error)
	AppendMessages(ctx context.Context, key ConversationKey, msgs ...Message) error
	ResetConversation(ctx context.Context, key ConversationKey, at time.Time) error
	// ReplaceMessages atomically swaps every message after the cursor for msgs.
	ReplaceMessages(ctx context.Context, key ConversationKey, after *time.Time, msgs []Message) error
	SetConversationAccount(ctx context.Context, key ConversationKey, accountID string) error
}

// BindingStore persists binding codes and identity bindings.
type BindingStore interface {
	// IssueCode invalidates unused codes of the account and stores code.
	IssueCode(ctx context.Context, code BindingCode, now time.Time) error
	FindActiveCode(ctx context.Context, code string, now time.Time) (BindingCode, error)
	// ConsumeCodeAndBind marks the code used only if it is still active and
	// writes the binding in the same unit of work. It returns ErrNotFound when
	// the code is no longer active and ErrBindingExists when the binding write
	// would break a uniqueness rule; neither case mutates anything.
	ConsumeCodeAndBind(ctx context.Context, code string, binding Binding, now time.Time) error
	GetBindingByIdentity(ctx context.Context, identity Identity) (Binding, error)
	GetBindingByAccount(ctx context.Context, accountID string, platform Platform) (Binding, error)
}

// GroupPolicyStore records which groups opted into the assistant.
type GroupPolicyStore interface {
	IsGroupEnabled(ctx context.Context, platform Platform, groupID string) (bool, error)
	SetGroupEnabled(ctx context.Context, platform Platform, groupID string, enabled bool) error
}

// AccountDirectory resolves accounts from the external account system.
type AccountDirectory interface {
	GetAccount(ctx context.Context, accountID string) (Account, error)
}

// AuditStore is the append-only sink for invocation records.
type AuditStore interface {
	AppendInvocation(ctx context.Context, rec InvocationRecord) error
}
