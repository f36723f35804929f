package audit

import (
	"context"
	"strings"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/shared/logging"
	"opsbot/internal/shared/utils"
	"opsbot/internal/shared/utils/id"
)

const maxStoredText = 64 * 1024

// Metrics is the slice of the metrics collector the recorder feeds.
type Metrics interface {
	RecordInvocation(contextKind, outcome string, duration time.Duration, inputTokens, outputTokens int)
	RecordToolCall(tool string, failed bool)
	RecordAuditFailure()
}

// Recorder writes one immutable record per reasoning invocation.
type Recorder struct {
	store    chat.AuditStore
	metrics  Metrics
	logger   logging.Logger
	auditLog logging.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Recorder)

func WithMetrics(metrics Metrics) Option {
	return func(r *Recorder) { r.metrics = metrics }
}

// WithAuditLog mirrors every record as one line on the given logger.
func WithAuditLog(logger logging.Logger) Option {
	return func(r *Recorder) { r.auditLog = logger }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(r *Recorder) { r.newID = gen }
}

func NewRecorder(store chat.AuditStore, logger logging.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: logging.OrNop(logger),
		now:    time.Now,
		newID:  id.NewInvocationID,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.auditLog = logging.OrNop(r.auditLog)
	return r
}

// Record persists rec. A store failure is logged and swallowed so that the
// user-facing turn is never affected by audit trouble.
func (r *Recorder) Record(ctx context.Context, rec chat.InvocationRecord) {
	if rec.ID == "" {
		rec.ID = r.newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}
	rec.Prompt = clip(rec.Prompt)
	rec.RawResponse = clip(rec.RawResponse)
	rec.ParsedResponse = clip(rec.ParsedResponse)
	rec.Tools = append([]string(nil), rec.Tools...)
	rec.ToolCalls = append([]chat.ToolCall(nil), rec.ToolCalls...)

	r.observe(rec)
	r.auditLog.Info("invocation id=%s conversation=%s account=%s context=%s model=%s success=%t error_kind=%s duration=%s tokens=%d/%d tools=%d image_backend=%s",
		rec.ID, rec.Conversation, rec.AccountID, rec.Context, rec.Model, rec.Success, valueOr(rec.ErrorKind, "-"),
		rec.Duration, rec.InputTokens, rec.OutputTokens, len(rec.ToolCalls), valueOr(rec.ImageBackend, "-"))

	if r.store == nil {
		return
	}
	if err := r.store.AppendInvocation(ctx, rec); err != nil {
		logging.FromContext(ctx, logging.Multi(r.logger, r.auditLog)).Warn("audit write for %s failed: %v", rec.ID, err)
		if r.metrics != nil {
			r.metrics.RecordAuditFailure()
		}
	}
}

func (r *Recorder) observe(rec chat.InvocationRecord) {
	if r.metrics == nil {
		return
	}
	outcome := "success"
	if !rec.Success {
		outcome = valueOr(rec.ErrorKind, "failure")
	}
	r.metrics.RecordInvocation(string(rec.Context), outcome, rec.Duration, rec.InputTokens, rec.OutputTokens)
	for _, call := range rec.ToolCalls {
		r.metrics.RecordToolCall(call.Name, call.IsError)
	}
}

func clip(s string) string {
	return utils.TruncateUTF8(s, maxStoredText)
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
