package id

import (
	"context"
	"strings"
	"testing"
)

func TestConversationAndAccountIDs(t *testing.T) {
	ctx := context.Background()
	ctx = WithConversationID(ctx, "conv-1")
	ctx = WithAccountID(ctx, "acct-1")

	if got := ConversationIDFromContext(ctx); got != "conv-1" {
		t.Fatalf("expected conv-1, got %s", got)
	}
	if got := AccountIDFromContext(ctx); got != "acct-1" {
		t.Fatalf("expected acct-1, got %s", got)
	}

	// empty values should be ignored
	ctx = WithAccountID(ctx, "")
	if got := AccountIDFromContext(ctx); got != "acct-1" {
		t.Fatalf("expected stored account to remain acct-1, got %s", got)
	}
}

func TestEnsureLogIDKeepsExisting(t *testing.T) {
	ctx := WithLogID(context.Background(), "log-existing")
	ctx, got := EnsureLogID(ctx, NewLogID)
	if got != "log-existing" {
		t.Fatalf("expected existing log id, got %s", got)
	}
	if LogIDFromContext(ctx) != "log-existing" {
		t.Fatalf("context lost log id")
	}
}

func TestEnsureLogIDGenerates(t *testing.T) {
	ctx, got := EnsureLogID(context.Background(), NewLogID)
	if !strings.HasPrefix(got, "log-") {
		t.Fatalf("expected log- prefix, got %s", got)
	}
	if LogIDFromContext(ctx) != got {
		t.Fatalf("expected context to carry %s", got)
	}
}

func TestNilContextReturnsEmpty(t *testing.T) {
	//nolint:staticcheck // nil context is tolerated by the helpers
	if got := LogIDFromContext(nil); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
