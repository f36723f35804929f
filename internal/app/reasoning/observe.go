package reasoning

import "context"

// InvocationObserver sees an engine call made on behalf of a caller, such as
// the one behind a summary. err is the outcome the helper reports.
type InvocationObserver func(req Request, res Result, err error)

type observerKey struct{}

// WithInvocationObserver returns a copy of ctx whose helper engine calls are
// reported to observe.
func WithInvocationObserver(ctx context.Context, observe InvocationObserver) context.Context {
	if observe == nil {
		return ctx
	}
	return context.WithValue(ctx, observerKey{}, observe)
}

func notifyObserver(ctx context.Context, req Request, res Result, err error) {
	observe, _ := ctx.Value(observerKey{}).(InvocationObserver)
	if observe != nil {
		observe(req, res, err)
	}
}
