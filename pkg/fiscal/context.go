package fiscal

import "context"

// ctxKey is an unexported type used as the context key for Context.
type ctxKey struct{}

// Context carries the resolved fiscal year through request context.
type Context struct {
	Exercice int
	// Explicit is true when the request named the exercice itself.
	Explicit bool
}

// WithContext returns a new context with fc attached.
func WithContext(ctx context.Context, fc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, fc)
}

// FromContext retrieves the fiscal Context. Returns the zero value and false
// if none is set.
func FromContext(ctx context.Context) (Context, bool) {
	fc, ok := ctx.Value(ctxKey{}).(Context)
	return fc, ok
}

// ExerciceFromContext returns the exercice from ctx, or 0 if none is set.
func ExerciceFromContext(ctx context.Context) int {
	fc, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return fc.Exercice
}
