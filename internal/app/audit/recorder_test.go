package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"opsbot/internal/domain/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryAuditStore struct {
	mu      sync.Mutex
	records []chat.InvocationRecord
	err     error
}

func (s *memoryAuditStore) AppendInvocation(_ context.Context, rec chat.InvocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

type recordingMetrics struct {
	invocations []string
	tools       []string
	failures    int
}

func (m *recordingMetrics) RecordInvocation(contextKind, outcome string, _ time.Duration, _, _ int) {
	m.invocations = append(m.invocations, contextKind+"/"+outcome)
}

func (m *recordingMetrics) RecordToolCall(tool string, failed bool) {
	if failed {
		tool += "!"
	}
	m.tools = append(m.tools, tool)
}

func (m *recordingMetrics) RecordAuditFailure() { m.failures++ }

type captureLogger struct {
	mu    sync.Mutex
	warns []string
	infos []string
}

func (l *captureLogger) Debug(string, ...any) {}
func (l *captureLogger) Info(format string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, format)
}
func (l *captureLogger) Warn(format string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, format)
}
func (l *captureLogger) Error(string, ...any) {}

func TestRecordStampsAndStores(t *testing.T) {
	store := &memoryAuditStore{}
	metrics := &recordingMetrics{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	auditLog := &captureLogger{}
	rec := NewRecorder(store, nil,
		WithMetrics(metrics),
		WithAuditLog(auditLog),
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return "inv-1" }),
	)

	rec.Record(context.Background(), chat.InvocationRecord{
		Conversation: chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: "oc_1"},
		Context:      chat.ContextGroup,
		Success:      true,
		RawResponse:  strings.Repeat("x", maxStoredText+10),
		ToolCalls: []chat.ToolCall{
			{Name: "Read"},
			{Name: "text_to_image", IsError: true},
		},
	})

	require.Len(t, store.records, 1)
	got := store.records[0]
	assert.Equal(t, "inv-1", got.ID)
	assert.Equal(t, now, got.CreatedAt)
	assert.Len(t, got.RawResponse, maxStoredText)
	assert.Equal(t, []string{"group/success"}, metrics.invocations)
	assert.Equal(t, []string{"Read", "text_to_image!"}, metrics.tools)
	assert.Len(t, auditLog.infos, 1)
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &memoryAuditStore{err: errors.New("disk full")}
	metrics := &recordingMetrics{}
	logger := &captureLogger{}
	auditLog := &captureLogger{}
	rec := NewRecorder(store, logger, WithMetrics(metrics), WithAuditLog(auditLog))

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), chat.InvocationRecord{
			ID:        "inv-keep",
			Success:   false,
			ErrorKind: "invocation_timeout",
			Context:   chat.ContextPersonal,
		})
	})
	assert.Equal(t, 1, metrics.failures)
	assert.Equal(t, []string{"personal/invocation_timeout"}, metrics.invocations)
	require.Len(t, logger.warns, 1)
	assert.Contains(t, logger.warns[0], "audit write")
	require.Len(t, auditLog.warns, 1, "failures are also kept in the audit log")
}

func TestRecordWithoutStore(t *testing.T) {
	rec := NewRecorder(nil, nil)
	assert.NotPanics(t, func() { rec.Record(context.Background(), chat.InvocationRecord{}) })
}

func TestRecordClipsLongTextOnRuneBoundary(t *testing.T) {
	store := &memoryAuditStore{}
	rec := NewRecorder(store, nil)

	long := "ab" + strings.Repeat("中", 30000)
	rec.Record(context.Background(), chat.InvocationRecord{Prompt: long, RawResponse: long, ParsedResponse: long})

	require.Len(t, store.records, 1)
	got := store.records[0]
	for _, text := range []string{got.Prompt, got.RawResponse, got.ParsedResponse} {
		assert.True(t, utf8.ValidString(text))
		assert.LessOrEqual(t, len(text), maxStoredText)
		assert.Greater(t, len(text), maxStoredText-utf8.UTFMax)
	}
}
