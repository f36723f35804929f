package logging

import (
	"context"
	"strings"

	"opsbot/internal/shared/utils"
	"opsbot/internal/shared/utils/id"
)

// Field is a key=value tag rendered ahead of every line of a logger.
type Field struct {
	Key   string
	Value string
}

// F builds a Field.
func F(key, value string) Field {
	return Field{Key: key, Value: value}
}

// With returns a logger whose lines start with the non-empty fields.
// Nested calls accumulate fields in order.
func With(logger Logger, fields ...Field) Logger {
	logger = OrNop(logger)
	prefix := renderFields(fields)
	if prefix == "" {
		return logger
	}
	if inner, ok := logger.(*fieldLogger); ok {
		return &fieldLogger{logger: inner.logger, prefix: inner.prefix + prefix}
	}
	return &fieldLogger{logger: logger, prefix: prefix}
}

type utilsLogIDCapable interface {
	WithLogID(string) *utils.Logger
}

// WithLogID returns a logger that tags log lines with a log id. File-backed
// loggers render it in their own header.
func WithLogID(logger Logger, logID string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	if logID == "" {
		return logger
	}
	if capable, ok := logger.(utilsLogIDCapable); ok {
		return capable.WithLogID(logID)
	}
	return With(logger, F("logid", logID))
}

// FromContext tags logger with the log id, conversation and account carried
// by ctx. Missing values are skipped.
func FromContext(ctx context.Context, logger Logger) Logger {
	logger = WithLogID(logger, id.LogIDFromContext(ctx))
	return With(logger,
		F("conv", id.ConversationIDFromContext(ctx)),
		F("account", id.AccountIDFromContext(ctx)),
	)
}

func renderFields(fields []Field) string {
	var b strings.Builder
	for _, f := range fields {
		if f.Key == "" || f.Value == "" {
			continue
		}
		b.WriteString(f.Key)
		b.WriteByte('=')
		// The prefix becomes part of a format string.
		b.WriteString(strings.ReplaceAll(f.Value, "%", "%%"))
		b.WriteByte(' ')
	}
	return b.String()
}

type fieldLogger struct {
	logger Logger
	prefix string
}

func (l *fieldLogger) Debug(format string, args ...any) { l.logger.Debug(l.prefix+format, args...) }
func (l *fieldLogger) Info(format string, args ...any)  { l.logger.Info(l.prefix+format, args...) }
func (l *fieldLogger) Warn(format string, args ...any)  { l.logger.Warn(l.prefix+format, args...) }
func (l *fieldLogger) Error(format string, args ...any) { l.logger.Error(l.prefix+format, args...) }
