package logging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"opsbot/internal/shared/utils"
	"opsbot/internal/shared/utils/id"
)

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingLogger) record(level, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, level+" "+fmt.Sprintf(format, args...))
}

func (r *recordingLogger) Debug(format string, args ...any) { r.record("DEBUG", format, args...) }
func (r *recordingLogger) Info(format string, args ...any)  { r.record("INFO", format, args...) }
func (r *recordingLogger) Warn(format string, args ...any)  { r.record("WARN", format, args...) }
func (r *recordingLogger) Error(format string, args ...any) { r.record("ERROR", format, args...) }

func TestOrNopHandlesTypedNilPointers(t *testing.T) {
	var legacy *utils.Logger
	var logger Logger = legacy
	if !IsNil(logger) {
		t.Fatalf("expected typed nil pointer to be detected")
	}
	safe := OrNop(logger)
	if IsNil(safe) {
		t.Fatalf("expected OrNop to return a usable logger")
	}
	safe.Info("hello %s", "world") // should not panic
}

func TestMultiFansOutAndSkipsNil(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	var typedNil *recordingLogger

	logger := Multi(a, nil, typedNil, Multi(b))
	logger.Warn("disk %d%%", 91)

	for _, rec := range []*recordingLogger{a, b} {
		if len(rec.lines) != 1 || rec.lines[0] != "WARN disk 91%" {
			t.Fatalf("unexpected lines: %#v", rec.lines)
		}
	}
}

func TestMultiCollapsesSingleLogger(t *testing.T) {
	a := &recordingLogger{}
	if got := Multi(nil, a); got != Logger(a) {
		t.Fatalf("expected single logger to be returned directly")
	}
}

func TestFromContextPrefixesLogID(t *testing.T) {
	rec := &recordingLogger{}
	ctx := id.WithLogID(context.Background(), "log-abc")

	FromContext(ctx, rec).Info("turn done")

	if len(rec.lines) != 1 || !strings.Contains(rec.lines[0], "logid=log-abc turn done") {
		t.Fatalf("unexpected lines: %#v", rec.lines)
	}
}

func TestFromContextWithoutLogID(t *testing.T) {
	rec := &recordingLogger{}
	FromContext(context.Background(), rec).Info("plain")
	if rec.lines[0] != "INFO plain" {
		t.Fatalf("unexpected line: %q", rec.lines[0])
	}
}

func TestFromContextAddsConversationAndAccount(t *testing.T) {
	rec := &recordingLogger{}
	ctx := id.WithLogID(context.Background(), "log-1")
	ctx = id.WithConversationID(ctx, "lark:oc_1")
	ctx = id.WithAccountID(ctx, "acct-7")

	FromContext(ctx, rec).Warn("slow turn")

	if want := "WARN logid=log-1 conv=lark:oc_1 account=acct-7 slow turn"; rec.lines[0] != want {
		t.Fatalf("got %q, want %q", rec.lines[0], want)
	}
}

func TestWithAccumulatesAndEscapesPercent(t *testing.T) {
	rec := &recordingLogger{}
	logger := With(With(rec, F("a", "1")), F("b", "50%"), F("skip", ""))

	logger.Info("done %d", 3)

	if want := "INFO a=1 b=50% done 3"; rec.lines[0] != want {
		t.Fatalf("got %q, want %q", rec.lines[0], want)
	}
	if With(rec) != Logger(rec) {
		t.Fatal("With without fields should return the logger unchanged")
	}
}

func TestOrPrefersTheGivenLogger(t *testing.T) {
	given := &recordingLogger{}
	fallback := &recordingLogger{}
	var typedNil *recordingLogger

	Or(given, fallback).Info("a")
	Or(typedNil, fallback).Info("b")

	if len(given.lines) != 1 || len(fallback.lines) != 1 || fallback.lines[0] != "INFO b" {
		t.Fatalf("unexpected routing: given=%#v fallback=%#v", given.lines, fallback.lines)
	}
}
