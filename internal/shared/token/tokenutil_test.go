package tokenutil

import (
	"strings"
	"testing"
)

func TestEstimateFast(t *testing.T) {
	if got := EstimateFast("   "); got != 0 {
		t.Fatalf("expected 0 for blank text, got %d", got)
	}
	if got := EstimateFast("a b c d e"); got != 5 {
		t.Fatalf("expected word count to dominate, got %d", got)
	}
	if got := EstimateFast(strings.Repeat("x", 40)); got != 10 {
		t.Fatalf("expected runes/4, got %d", got)
	}
}

func TestCountTokensPositive(t *testing.T) {
	if got := CountTokens("restart the nginx service on web-01"); got <= 0 {
		t.Fatalf("expected positive token count, got %d", got)
	}
}

func TestTruncateToTokensKeepsTail(t *testing.T) {
	text := strings.Repeat("alpha ", 200) + "omega"
	got := TruncateToTokens(text, 10)
	if !strings.HasPrefix(got, "...") {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	if !strings.HasSuffix(got, "omega") {
		t.Fatalf("expected tail to be kept, got %q", got)
	}
	if TruncateToTokens("short", 10) != "short" {
		t.Fatalf("short text must be unchanged")
	}
}
