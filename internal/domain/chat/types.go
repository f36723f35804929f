package chat

import (
	"fmt"
	"strings"
	"time"
)

// Platform names a chat platform the bot is connected to.
type Platform string

const (
	PlatformLark   Platform = "lark"
	PlatformWeChat Platform = "wechat"
)

// Role tags a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSummary   Role = "system-summary"
)

// SummaryPrefix marks the content of a compaction summary.
const SummaryPrefix = "[Conversation summary] "

// ConversationKey identifies a conversation on its platform.
type ConversationKey struct {
	Platform Platform
	ThreadID string
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("%s:%s", k.Platform, k.ThreadID)
}

// Conversation is the persisted state of one chat thread.
type Conversation struct {
	ID        string
	Key       ConversationKey
	IsGroup   bool
	AccountID string
	ResetAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one history entry.
type Message struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// IsSummary reports whether the message is a compaction summary.
func (m Message) IsSummary() bool {
	return m.Role == RoleSummary
}

// Identity is a user as seen by a chat platform.
type Identity struct {
	Platform Platform
	UserID   string
}

func (i Identity) String() string {
	return fmt.Sprintf("%s:%s", i.Platform, i.UserID)
}

// BindingCode is a short-lived one-time code linking an external identity to an account.
type BindingCode struct {
	Code      string
	AccountID string
	Platform  Platform
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	UsedBy    string
}

// Active reports whether the code is unused and unexpired at now.
func (c BindingCode) Active(now time.Time) bool {
	return c.UsedAt == nil && now.Before(c.ExpiresAt)
}

// Binding links an external identity to an account.
type Binding struct {
	Identity  Identity
	AccountID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account is the slice of the external account system the bot needs.
type Account struct {
	ID          string
	Role        string
	Permissions map[string]bool
}

// ContextKind classifies where an invocation happened.
type ContextKind string

const (
	ContextPersonal ContextKind = "personal"
	ContextGroup    ContextKind = "group"
)

// ToolCall is the telemetry of one tool use inside an invocation.
type ToolCall struct {
	ID       string
	Name     string
	Input    string
	Output   string
	IsError  bool
	Duration time.Duration
}

// InvocationRecord is the immutable audit entry of one reasoning invocation.
type InvocationRecord struct {
	ID             string
	Conversation   ConversationKey
	AccountID      string
	Persona        string
	Model          string
	Prompt         string
	HistoryLength  int
	Tools          []string
	RawResponse    string
	ParsedResponse string
	Duration       time.Duration
	InputTokens    int
	OutputTokens   int
	Success        bool
	ErrorKind      string
	Error          string
	Context        ContextKind
	ToolCalls      []ToolCall
	ImageBackend   string
	CreatedAt      time.Time
}

// ArtifactKind is the type of a generated attachment.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactFile  ArtifactKind = "file"
)

// Artifact is a file or image produced during a turn.
type Artifact struct {
	Kind    ArtifactKind
	URL     string
	Path    string
	Name    string
	Data    []byte
	Backend string
}

// Location returns the URL when set, otherwise the sandboxed path.
func (a Artifact) Location() string {
	if strings.TrimSpace(a.URL) != "" {
		return a.URL
	}
	return a.Path
}

// DisplayName returns the artifact name, falling back to its location.
func (a Artifact) DisplayName() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return a.Location()
}
