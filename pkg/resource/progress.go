package resource

import "context"

// ProgressFunc observes a result whenever its status or execution handle
// changes before the run ends. It is called on the run's goroutine and must
// not keep r.
type ProgressFunc func(ctx context.Context, r *Result)

type progressKey struct{}

// WithProgress returns a context whose adapter runs report to fn.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress hands r to the ProgressFunc carried by ctx, if any.
func ReportProgress(ctx context.Context, r *Result) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok && fn != nil && r != nil {
		fn(ctx, r)
	}
}
