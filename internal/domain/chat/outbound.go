package chat

import "context"

// Target addresses an outbound delivery.
type Target struct {
	Platform Platform
	ChatID   string
	IsGroup  bool
	// ReplyTo is the platform reply handle of the inbound message. Replies
	// are threaded under it; an empty handle means push delivery.
	ReplyTo string
	// UserID is the recipient for one-to-one push delivery.
	UserID string
}

// Push returns the target for push-style delivery without a reply handle.
func (t Target) Push() Target {
	t.ReplyTo = ""
	return t
}

// OutboundKind is the type of one delivery item.
type OutboundKind string

const (
	OutboundText  OutboundKind = "text"
	OutboundImage OutboundKind = "image"
	OutboundFile  OutboundKind = "file"
)

// OutboundItem is one message sent to a platform.
type OutboundItem struct {
	Kind     OutboundKind
	Text     string
	Artifact Artifact
}

// Adapter delivers messages to one chat platform. Implementations enforce
// their own per-request limits.
type Adapter interface {
	Platform() Platform
	SendText(ctx context.Context, target Target, text string) error
	SendImage(ctx context.Context, target Target, artifact Artifact) error
	SendFile(ctx context.Context, target Target, artifact Artifact) error
	SendBatch(ctx context.Context, target Target, items []OutboundItem) error
}

// ReplyResolver is the optional Adapter check of whether a platform message
// was sent by the bot.
type ReplyResolver interface {
	IsBotMessage(ctx context.Context, messageID string) bool
}

// ProgressReporter is the optional progress side channel of an Adapter.
type ProgressReporter interface {
	SendProgress(ctx context.Context, target Target, text string) (string, error)
	UpdateProgress(ctx context.Context, target Target, handle string, text string) error
	FinishProgress(ctx context.Context, target Target, handle string) error
}
