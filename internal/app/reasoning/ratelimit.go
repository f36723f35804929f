package reasoning

import (
	"context"
	"errors"
	"strings"
	"sync"

	boterrors "opsbot/internal/shared/errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const defaultLimiterBuckets = 4096

// ErrRateLimited is wrapped into InvocationUnavailableError when an account
// exceeds its invocation rate.
var ErrRateLimited = errors.New("reasoning rate limit exceeded for account")

type rateLimitedInvoker struct {
	base    Invoker
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

// WithAccountRateLimit wraps base with a per-account limiter when a positive
// limit is supplied. A burst less than 1 is coerced to 1. Idle accounts are
// evicted once more than maxBuckets accounts are tracked.
func WithAccountRateLimit(base Invoker, limit rate.Limit, burst int, maxBuckets int) Invoker {
	if limit <= 0 {
		return base
	}
	if burst < 1 {
		burst = 1
	}
	if maxBuckets <= 0 {
		maxBuckets = defaultLimiterBuckets
	}
	buckets, err := lru.New[string, *rate.Limiter](maxBuckets)
	if err != nil {
		return base
	}
	return &rateLimitedInvoker{base: base, limit: limit, burst: burst, buckets: buckets}
}

func (r *rateLimitedInvoker) Invoke(ctx context.Context, req Request) (Result, error) {
	if !r.limiterFor(req.AccountID).Allow() {
		return Result{Model: req.Model}, &boterrors.InvocationUnavailableError{Err: ErrRateLimited}
	}
	return r.base.Invoke(ctx, req)
}

func (r *rateLimitedInvoker) limiterFor(accountID string) *rate.Limiter {
	key := strings.TrimSpace(accountID)
	if key == "" {
		key = "anonymous"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.buckets.Get(key)
	if !ok {
		limiter = rate.NewLimiter(r.limit, r.burst)
		r.buckets.Add(key, limiter)
	}
	return limiter
}
