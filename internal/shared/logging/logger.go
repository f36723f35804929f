package logging

import (
	"reflect"

	"opsbot/internal/shared/utils"
)

// Logger is the printf-style logger every opsbot component takes.
// *utils.Logger satisfies it.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}

// Nop returns a logger that drops everything.
func Nop() Logger { return discard{} }

// IsNil treats a typed nil, such as a nil *utils.Logger stored in the
// interface, the same as a nil interface.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

// Or returns logger, or fallback when logger is nil.
func Or(logger, fallback Logger) Logger {
	if IsNil(logger) {
		return fallback
	}
	return logger
}

// OrNop is Or with a discarding fallback.
func OrNop(logger Logger) Logger { return Or(logger, discard{}) }

// NewComponentLogger writes to opsbot-service.log tagged with component.
func NewComponentLogger(component string) Logger {
	return utils.NewComponentLogger(component)
}

// NewAuditLogger writes to opsbot-audit.log tagged with component.
func NewAuditLogger(component string) Logger {
	return utils.NewCategorizedLogger(utils.LogCategoryAudit, component)
}

// fanout sends every line to each logger in order.
type fanout struct {
	loggers []Logger
}

// Multi combines loggers into one. Nil entries are skipped and nested
// fan-outs are flattened; a single survivor is returned as is.
func Multi(loggers ...Logger) Logger {
	var out []Logger
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if nested, ok := logger.(*fanout); ok {
			out = append(out, nested.loggers...)
			continue
		}
		out = append(out, logger)
	}
	switch len(out) {
	case 0:
		return discard{}
	case 1:
		return out[0]
	}
	return &fanout{loggers: out}
}

func (f *fanout) Debug(format string, args ...any) {
	for _, l := range f.loggers {
		l.Debug(format, args...)
	}
}

func (f *fanout) Info(format string, args ...any) {
	for _, l := range f.loggers {
		l.Info(format, args...)
	}
}

func (f *fanout) Warn(format string, args ...any) {
	for _, l := range f.loggers {
		l.Warn(format, args...)
	}
}

func (f *fanout) Error(format string, args ...any) {
	for _, l := range f.loggers {
		l.Error(format, args...)
	}
}
