package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey struct{}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// Ctx retrieves the logger from the context, falling back to the global one.
func Ctx(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return L()
	}
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return L()
}

// ForConnection returns a child of the context logger tagged with the
// connection id, and the context carrying it.
func ForConnection(ctx context.Context, connectionID string) (context.Context, zerolog.Logger) {
	l := Ctx(ctx).With().Str(FieldConnectionID, connectionID).Logger()
	return WithLogger(ctx, l), l
}
