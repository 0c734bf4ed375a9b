package jobs

import "context"

type notifierKey struct{}

// WithNotifier attaches a progress notifier to the context so that code
// several layers away from the transport can submit jobs that report
// progress back to the connection that asked for them.
func WithNotifier(ctx context.Context, n ProgressNotifier) context.Context {
	if n == nil {
		return ctx
	}
	return context.WithValue(ctx, notifierKey{}, n)
}

// NotifierFromContext returns the notifier attached by WithNotifier, or
// nil when the caller has no progress channel.
func NotifierFromContext(ctx context.Context) ProgressNotifier {
	n, _ := ctx.Value(notifierKey{}).(ProgressNotifier)
	return n
}
