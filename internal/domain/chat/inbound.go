package chat

import "time"

// Inbound is one message received from a chat platform.
type Inbound struct {
	Platform Platform
	// ChatID is the platform thread the message arrived in.
	ChatID string
	// MessageID is the platform reply handle of the message.
	MessageID    string
	SenderID     string
	SenderName   string
	Text         string
	IsGroup      bool
	IsReplyToBot bool
	// ParentID is the message this one replies to, if any.
	ParentID   string
	ReceivedAt time.Time
}

func (m Inbound) Key() ConversationKey {
	return ConversationKey{Platform: m.Platform, ThreadID: m.ChatID}
}

func (m Inbound) Identity() Identity {
	return Identity{Platform: m.Platform, UserID: m.SenderID}
}

// Target addresses the reply to m.
func (m Inbound) Target() Target {
	return Target{
		Platform: m.Platform,
		ChatID:   m.ChatID,
		IsGroup:  m.IsGroup,
		ReplyTo:  m.MessageID,
		UserID:   m.SenderID,
	}
}

// ContextKind classifies the conversation m belongs to.
func (m Inbound) ContextKind() ContextKind {
	if m.IsGroup {
		return ContextGroup
	}
	return ContextPersonal
}
