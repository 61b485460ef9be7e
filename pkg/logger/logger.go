package logger

import (
	"context"

	"go.uber.org/zap"
)

type Sugared = *zap.SugaredLogger

type ctxLoggerKey struct{}

func New(env string) Sugared {
	var z *zap.Logger
	if env == "prod" {
		z, _ = zap.NewProduction()
	} else {
		z, _ = zap.NewDevelopment()
	}
	return z.Sugar()
}

// Nop returns a logger that discards everything. Used by tests and by
// components constructed without a logger.
func Nop() Sugared { return zap.NewNop().Sugar() }

// Into stores a request-scoped logger in ctx.
func Into(ctx context.Context, l Sugared) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, l)
}

// FromContext returns the request-scoped logger, or fallback when none was stored.
func FromContext(ctx context.Context, fallback Sugared) Sugared {
	if l, ok := ctx.Value(ctxLoggerKey{}).(Sugared); ok && l != nil {
		return l
	}
	if fallback == nil {
		return Nop()
	}
	return fallback
}
