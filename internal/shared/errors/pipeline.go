package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the audit label of a pipeline failure.
type Kind string

const (
	KindNone                        Kind = ""
	KindIdentityNotBound            Kind = "identity_not_bound"
	KindGroupNotPermitted           Kind = "group_not_permitted"
	KindBindingCodeInvalidOrExpired Kind = "binding_code_invalid_or_expired"
	KindBindingConflict             Kind = "binding_conflict"
	KindInvocationTimeout           Kind = "invocation_timeout"
	KindInvocationUnavailable       Kind = "invocation_unavailable"
	KindDeliveryFailed              Kind = "delivery_failed"
	KindImageGenerationExhausted    Kind = "image_generation_exhausted"
	KindInternal                    Kind = "internal"
)

var (
	ErrIdentityNotBound            = errors.New("external identity is not bound to an account")
	ErrGroupNotPermitted           = errors.New("group has not enabled the assistant")
	ErrBindingCodeInvalidOrExpired = errors.New("binding code is invalid or expired")
	ErrBindingConflict             = errors.New("binding conflict")
	ErrInvocationTimeout           = errors.New("reasoning invocation timed out")
	ErrInvocationUnavailable       = errors.New("reasoning engine unavailable")
	ErrDeliveryFailed              = errors.New("response delivery failed")
	ErrImageGenerationExhausted    = errors.New("image generation exhausted")
)

// ConflictReason tells which binding invariant a bind attempt would break.
type ConflictReason string

const (
	ConflictIdentityBoundElsewhere ConflictReason = "identity-bound-elsewhere"
	ConflictAccountBoundOnPlatform ConflictReason = "account-bound-on-platform"
)

// BindingConflictError is returned when a bind would violate a one-to-one rule.
type BindingConflictError struct {
	Reason    ConflictReason
	Platform  string
	AccountID string
}

func (e *BindingConflictError) Error() string {
	switch e.Reason {
	case ConflictIdentityBoundElsewhere:
		return fmt.Sprintf("binding conflict: identity on %s is already bound to another account", e.Platform)
	case ConflictAccountBoundOnPlatform:
		return fmt.Sprintf("binding conflict: account %s already has an identity bound on %s", e.AccountID, e.Platform)
	default:
		return "binding conflict"
	}
}

func (e *BindingConflictError) Is(target error) bool {
	return target == ErrBindingConflict
}

// InvocationTimeoutError reports that the engine did not finish within its deadline.
type InvocationTimeoutError struct {
	Timeout time.Duration
}

func (e *InvocationTimeoutError) Error() string {
	if e.Timeout <= 0 {
		return ErrInvocationTimeout.Error()
	}
	return fmt.Sprintf("%s after %s", ErrInvocationTimeout.Error(), e.Timeout)
}

func (e *InvocationTimeoutError) Is(target error) bool {
	return target == ErrInvocationTimeout || target == context.DeadlineExceeded
}

// InvocationUnavailableError reports a missing binary, crash or non-zero exit.
type InvocationUnavailableError struct {
	Err    error
	Detail string
}

func (e *InvocationUnavailableError) Error() string {
	var b strings.Builder
	b.WriteString(ErrInvocationUnavailable.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if detail := strings.TrimSpace(e.Detail); detail != "" {
		b.WriteString(" (")
		b.WriteString(detail)
		b.WriteString(")")
	}
	return b.String()
}

func (e *InvocationUnavailableError) Unwrap() error {
	return e.Err
}

func (e *InvocationUnavailableError) Is(target error) bool {
	return target == ErrInvocationUnavailable
}

// DeliveryFailedError reports partial or total failure to deliver response items.
type DeliveryFailedError struct {
	Sent   int
	Failed int
	Err    error
}

func (e *DeliveryFailedError) Error() string {
	msg := fmt.Sprintf("%s: %d sent, %d failed", ErrDeliveryFailed.Error(), e.Sent, e.Failed)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryFailedError) Unwrap() error {
	return e.Err
}

func (e *DeliveryFailedError) Is(target error) bool {
	return target == ErrDeliveryFailed
}

// ImageGenerationExhaustedError carries the reasons of both the primary and the fallback attempt.
type ImageGenerationExhaustedError struct {
	PrimaryReason  string
	Backend        string
	FallbackReason string
}

func (e *ImageGenerationExhaustedError) Error() string {
	primary := strings.TrimSpace(e.PrimaryReason)
	if primary == "" {
		primary = "unknown error"
	}
	fallback := strings.TrimSpace(e.FallbackReason)
	if fallback == "" {
		fallback = "unknown error"
	}
	backend := e.Backend
	if backend == "" {
		backend = "none"
	}
	return fmt.Sprintf("%s: primary: %s; fallback (%s): %s",
		ErrImageGenerationExhausted.Error(), primary, backend, fallback)
}

func (e *ImageGenerationExhaustedError) Is(target error) bool {
	return target == ErrImageGenerationExhausted
}

// KindOf classifies err into its audit label.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrIdentityNotBound):
		return KindIdentityNotBound
	case errors.Is(err, ErrGroupNotPermitted):
		return KindGroupNotPermitted
	case errors.Is(err, ErrBindingCodeInvalidOrExpired):
		return KindBindingCodeInvalidOrExpired
	case errors.Is(err, ErrBindingConflict):
		return KindBindingConflict
	case errors.Is(err, ErrInvocationTimeout):
		return KindInvocationTimeout
	case errors.Is(err, ErrInvocationUnavailable):
		return KindInvocationUnavailable
	case errors.Is(err, ErrDeliveryFailed):
		return KindDeliveryFailed
	case errors.Is(err, ErrImageGenerationExhausted):
		return KindImageGenerationExhausted
	default:
		return KindInternal
	}
}

// IsAccessDenied reports whether err is one of the access check failures.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrIdentityNotBound) || errors.Is(err, ErrGroupNotPermitted)
}
