package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/shared/logging"
	tokenutil "opsbot/internal/shared/token"
)

const (
	// CompactThreshold is the smallest active history that Compact rewrites.
	CompactThreshold = 12
	// CompactKeep is how many recent messages survive compaction verbatim.
	CompactKeep = 10
)

// Summarizer condenses a run of messages into prose.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []chat.Message) (string, error)
}

// Service assembles the context window of a conversation and maintains it
// through reset and compaction.
type Service struct {
	store      chat.ConversationStore
	summarizer Summarizer
	logger     logging.Logger
	now        func() time.Time
}

func NewService(store chat.ConversationStore, summarizer Summarizer, logger logging.Logger) *Service {
	return &Service{
		store:      store,
		summarizer: summarizer,
		logger:     logging.OrNop(logger),
		now:        time.Now,
	}
}

// WithClock returns a copy of the service using now as its time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	clone := *s
	clone.now = now
	return &clone
}

// History returns the most recent limit messages after the reset cursor,
// oldest first. Unknown conversations have an empty history.
func (s *Service) History(ctx context.Context, key chat.ConversationKey, limit int) ([]chat.Message, error) {
	conv, err := s.store.GetConversation(ctx, key)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load conversation %s: %w", key, err)
	}
	msgs, err := s.store.ListMessages(ctx, key, conv.ResetAt, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages %s: %w", key, err)
	}
	return msgs, nil
}

// Reset hides every existing message from future context. Stored messages
// are kept.
func (s *Service) Reset(ctx context.Context, key chat.ConversationKey) error {
	err := s.store.ResetConversation(ctx, key, s.now())
	if errors.Is(err, chat.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reset conversation %s: %w", key, err)
	}
	s.logger.Info("conversation %s reset", key)
	return nil
}

// Append records messages of a completed turn. Messages without a timestamp
// get the service clock, which is the clock Reset uses.
func (s *Service) Append(ctx context.Context, key chat.ConversationKey, msgs ...chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := s.now()
	stamped := make([]chat.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		stamped = append(stamped, msg)
	}
	if err := s.store.AppendMessages(ctx, key, stamped...); err != nil {
		return fmt.Errorf("append messages %s: %w", key, err)
	}
	return nil
}

// Compact replaces all but the last CompactKeep active messages with a
// single summary. It reports false without changes when the active history
// is shorter than CompactThreshold. A failing summarizer leaves the
// conversation untouched.
func (s *Service) Compact(ctx context.Context, key chat.ConversationKey) (bool, error) {
	if s.summarizer == nil {
		return false, fmt.Errorf("compact %s: no summarizer configured", key)
	}
	conv, err := s.store.GetConversation(ctx, key)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load conversation %s: %w", key, err)
	}
	msgs, err := s.store.ListMessages(ctx, key, conv.ResetAt, 0)
	if err != nil {
		return false, fmt.Errorf("list messages %s: %w", key, err)
	}
	if len(msgs) < CompactThreshold {
		return false, nil
	}

	older := msgs[:len(msgs)-CompactKeep]
	kept := msgs[len(msgs)-CompactKeep:]

	summary, err := s.summarizer.Summarize(ctx, older)
	if err != nil {
		return false, fmt.Errorf("compact %s: %w", key, err)
	}
	summary = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(summary), strings.TrimSpace(chat.SummaryPrefix)))

	replacement := make([]chat.Message, 0, len(kept)+1)
	replacement = append(replacement, chat.Message{
		Role:      chat.RoleSummary,
		Content:   chat.SummaryPrefix + summary,
		CreatedAt: older[len(older)-1].CreatedAt,
	})
	replacement = append(replacement, kept...)

	if err := s.store.ReplaceMessages(ctx, key, conv.ResetAt, replacement); err != nil {
		return false, fmt.Errorf("replace messages %s: %w", key, err)
	}
	s.logger.Info("conversation %s compacted: %d messages summarized, %d kept", key, len(older), len(kept))
	return true, nil
}

// EstimateTokens approximates the token footprint of msgs.
func EstimateTokens(msgs []chat.Message) int {
	total := 0
	for _, msg := range msgs {
		total += tokenutil.CountTokens(msg.Content)
	}
	return total
}
