package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/run"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors wrapping flowwork.ErrPanicked and logged
// with a stack trace. The engine treats them like any other tick error and
// rolls the tick back.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) (retErr error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("tick panicked",
					slog.String("run_name", r.Name),
					slog.String("run_id", r.ID.String()),
					slog.Any("panic", p),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("%w: run %s: %v", flowwork.ErrPanicked, r.Name, p)
			}
		}()
		return next(ctx)
	}
}
