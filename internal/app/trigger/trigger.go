package trigger

import (
	"strings"
)

// Reason explains why a message did or did not trigger the bot.
type Reason string

const (
	ReasonDirect  Reason = "direct"
	ReasonReply   Reason = "reply"
	ReasonMention Reason = "mention"
	ReasonNone    Reason = "none"
)

// Input is what the decision needs to know about an inbound message.
type Input struct {
	Text         string
	IsGroup      bool
	IsReplyToBot bool
	TriggerNames []string
}

// Decision is the outcome of Decide.
type Decision struct {
	Trigger bool
	Reason  Reason
	// Name is the matched trigger name for mention decisions.
	Name string
}

func (d Decision) String() string {
	if d.Reason == ReasonMention && d.Name != "" {
		return string(d.Reason) + ":" + d.Name
	}
	return string(d.Reason)
}

// Decide reports whether the bot should answer. One-to-one chats always
// trigger; group messages trigger on a reply to the bot or an @mention of a
// trigger name, matched case-insensitively anywhere in the text.
func Decide(in Input) Decision {
	if !in.IsGroup {
		return Decision{Trigger: true, Reason: ReasonDirect}
	}
	if in.IsReplyToBot {
		return Decision{Trigger: true, Reason: ReasonReply}
	}
	lower := strings.ToLower(in.Text)
	for _, name := range in.TriggerNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if strings.Contains(lower, "@"+strings.ToLower(name)) {
			return Decision{Trigger: true, Reason: ReasonMention, Name: name}
		}
	}
	return Decision{Reason: ReasonNone}
}

// StripMentions removes every case-insensitive "@name" occurrence of the
// trigger names and collapses the whitespace left behind.
func StripMentions(text string, names []string) string {
	out := text
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = removeFold(out, "@"+name)
	}
	return strings.Join(strings.Fields(out), " ")
}

func removeFold(s, token string) string {
	lowerToken := strings.ToLower(token)
	var b strings.Builder
	for {
		idx := indexFold(s, lowerToken)
		if idx < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:idx])
		b.WriteByte(' ')
		s = s[idx+len(token):]
	}
}

// indexFold finds lowerToken in s ignoring case. It compares byte-aligned
// windows so the returned index is valid for slicing s.
func indexFold(s, lowerToken string) int {
	n := len(lowerToken)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], lowerToken) {
			return i
		}
	}
	return -1
}
