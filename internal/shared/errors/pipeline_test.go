package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestKindOfClassifiesWrappedErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"not bound", fmt.Errorf("check: %w", ErrIdentityNotBound), KindIdentityNotBound},
		{"group", ErrGroupNotPermitted, KindGroupNotPermitted},
		{"code", ErrBindingCodeInvalidOrExpired, KindBindingCodeInvalidOrExpired},
		{"conflict", &BindingConflictError{Reason: ConflictIdentityBoundElsewhere}, KindBindingConflict},
		{"timeout", &InvocationTimeoutError{Timeout: time.Second}, KindInvocationTimeout},
		{"unavailable", &InvocationUnavailableError{Err: errors.New("exec: not found")}, KindInvocationUnavailable},
		{"delivery", &DeliveryFailedError{Sent: 1, Failed: 2}, KindDeliveryFailed},
		{"image", &ImageGenerationExhaustedError{}, KindImageGenerationExhausted},
		{"other", errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestInvocationTimeoutMatchesDeadlineExceeded(t *testing.T) {
	err := &InvocationTimeoutError{Timeout: 30 * time.Second}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout to match context.DeadlineExceeded")
	}
	if !strings.Contains(err.Error(), "30s") {
		t.Fatalf("expected timeout in message, got %q", err.Error())
	}
}

func TestImageGenerationExhaustedCarriesBothReasons(t *testing.T) {
	err := &ImageGenerationExhaustedError{
		PrimaryReason:  "overloaded",
		Backend:        "seedream",
		FallbackReason: "quota exceeded",
	}
	msg := err.Error()
	for _, want := range []string{"primary: overloaded", "fallback (seedream): quota exceeded"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestIsAccessDenied(t *testing.T) {
	if !IsAccessDenied(ErrIdentityNotBound) || !IsAccessDenied(ErrGroupNotPermitted) {
		t.Fatalf("expected access errors to be detected")
	}
	if IsAccessDenied(ErrBindingConflict) {
		t.Fatalf("conflict is not an access denial")
	}
}

func TestDeliveryFailedUnwraps(t *testing.T) {
	root := errors.New("rate limited")
	err := &DeliveryFailedError{Sent: 3, Failed: 2, Err: root}
	if !errors.Is(err, root) {
		t.Fatalf("expected root cause to be reachable")
	}
	if !strings.Contains(err.Error(), "3 sent, 2 failed") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
