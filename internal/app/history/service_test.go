package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/storage/local"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSummarizer struct {
	summary string
	err     error
	seen    []chat.Message
}

func (s *stubSummarizer) Summarize(_ context.Context, msgs []chat.Message) (string, error) {
	s.seen = append([]chat.Message(nil), msgs...)
	return s.summary, s.err
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T, summarizer Summarizer) (*Service, *local.ConversationStore, chat.ConversationKey, *time.Time) {
	t.Helper()
	store := local.NewConversationMemoryStore()
	key := chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: t.Name()}
	_, err := store.EnsureConversation(context.Background(), key, false)
	require.NoError(t, err)
	now := base
	svc := NewService(store, summarizer, nil).WithClock(func() time.Time { return now })
	return svc, store, key, &now
}

func appendN(t *testing.T, svc *Service, key chat.ConversationKey, n int, from int) {
	t.Helper()
	for i := 0; i < n; i++ {
		role := chat.RoleUser
		if (from+i)%2 == 1 {
			role = chat.RoleAssistant
		}
		msg := chat.Message{Role: role, Content: fmt.Sprintf("m%d", from+i), CreatedAt: base.Add(time.Duration(from+i) * time.Minute)}
		require.NoError(t, svc.Append(context.Background(), key, msg))
	}
}

func contents(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestHistoryReturnsMostRecentOldestFirst(t *testing.T) {
	svc, _, key, _ := newService(t, nil)
	appendN(t, svc, key, 5, 0)

	msgs, err := svc.History(context.Background(), key, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2", "m3", "m4"}, contents(msgs))
}

func TestHistoryUnknownConversationIsEmpty(t *testing.T) {
	svc, _, _, _ := newService(t, nil)
	msgs, err := svc.History(context.Background(), chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: "missing"}, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestResetHidesPriorMessages(t *testing.T) {
	svc, store, key, now := newService(t, nil)
	appendN(t, svc, key, 4, 0)

	*now = base.Add(10 * time.Minute)
	require.NoError(t, svc.Reset(context.Background(), key))

	msgs, err := svc.History(context.Background(), key, 40)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	*now = base.Add(11 * time.Minute)
	require.NoError(t, svc.Append(context.Background(), key, chat.Message{Role: chat.RoleUser, Content: "fresh"}))
	msgs, err = svc.History(context.Background(), key, 40)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, contents(msgs))

	all, err := store.ListMessages(context.Background(), key, nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5, "reset must not delete stored messages")
}

func TestResetUnknownConversationIsNoop(t *testing.T) {
	svc, _, _, _ := newService(t, nil)
	require.NoError(t, svc.Reset(context.Background(), chat.ConversationKey{Platform: chat.PlatformWeChat, ThreadID: "nobody"}))
}

func TestCompactBelowThresholdIsNoop(t *testing.T) {
	summarizer := &stubSummarizer{summary: "unused"}
	svc, _, key, _ := newService(t, summarizer)
	appendN(t, svc, key, CompactThreshold-1, 0)

	compacted, err := svc.Compact(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, compacted)
	assert.Nil(t, summarizer.seen)

	msgs, err := svc.History(context.Background(), key, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, CompactThreshold-1)
}

func TestCompactTwentyMessagesYieldsSummaryPlusTen(t *testing.T) {
	summarizer := &stubSummarizer{summary: "they planned the release"}
	svc, _, key, _ := newService(t, summarizer)
	appendN(t, svc, key, 20, 0)

	compacted, err := svc.Compact(context.Background(), key)
	require.NoError(t, err)
	require.True(t, compacted)
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9"}, contents(summarizer.seen))

	msgs, err := svc.History(context.Background(), key, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 11)
	assert.True(t, msgs[0].IsSummary())
	assert.Equal(t, chat.SummaryPrefix+"they planned the release", msgs[0].Content)
	assert.Equal(t, []string{"m10", "m11", "m12", "m13", "m14", "m15", "m16", "m17", "m18", "m19"}, contents(msgs[1:]))
	for _, m := range msgs[1:] {
		assert.False(t, m.IsSummary())
	}
}

func TestCompactTwiceKeepsSingleLeadingSummary(t *testing.T) {
	summarizer := &stubSummarizer{summary: chat.SummaryPrefix + "round one"}
	svc, _, key, _ := newService(t, summarizer)
	appendN(t, svc, key, 12, 0)

	compacted, err := svc.Compact(context.Background(), key)
	require.NoError(t, err)
	require.True(t, compacted)

	appendN(t, svc, key, 5, 12)
	summarizer.summary = "round two"
	compacted, err = svc.Compact(context.Background(), key)
	require.NoError(t, err)
	require.True(t, compacted)
	assert.True(t, summarizer.seen[0].IsSummary(), "previous summary feeds the next one")

	msgs, err := svc.History(context.Background(), key, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 11)
	summaries := 0
	for _, m := range msgs {
		if m.IsSummary() {
			summaries++
		}
	}
	assert.Equal(t, 1, summaries)
	assert.Equal(t, chat.SummaryPrefix+"round two", msgs[0].Content)
	assert.False(t, strings.Contains(msgs[0].Content, chat.SummaryPrefix+chat.SummaryPrefix))
}

func TestCompactFailureLeavesConversationUnchanged(t *testing.T) {
	summarizer := &stubSummarizer{err: errors.New("engine down")}
	svc, _, key, _ := newService(t, summarizer)
	appendN(t, svc, key, 15, 0)

	compacted, err := svc.Compact(context.Background(), key)
	require.Error(t, err)
	assert.False(t, compacted)

	msgs, err := svc.History(context.Background(), key, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 15)
}

func TestCompactOnlyConsidersMessagesAfterReset(t *testing.T) {
	summarizer := &stubSummarizer{summary: "post reset"}
	svc, store, key, now := newService(t, summarizer)
	appendN(t, svc, key, 5, 0)
	*now = base.Add(30 * time.Minute)
	require.NoError(t, svc.Reset(context.Background(), key))
	appendN(t, svc, key, 12, 40)

	compacted, err := svc.Compact(context.Background(), key)
	require.NoError(t, err)
	require.True(t, compacted)
	assert.Equal(t, []string{"m40", "m41"}, contents(summarizer.seen))

	all, err := store.ListMessages(context.Background(), key, nil, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5+11, "pre-reset rows are preserved")
}

func TestCompactWithoutSummarizer(t *testing.T) {
	svc, _, key, _ := newService(t, nil)
	_, err := svc.Compact(context.Background(), key)
	require.Error(t, err)
}
