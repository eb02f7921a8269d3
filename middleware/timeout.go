package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/flowwork"
	"github.com/xraph/flowwork/run"
)

// Timeout returns middleware that enforces a per-tick deadline. Units see
// the deadline through work.Context.Context(). A tick that fails after the
// deadline passed reports flowwork.ErrTickTimeout. A zero d disables it.
func Timeout(d time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		err := next(ctx)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			logger.Warn("tick exceeded deadline",
				slog.String("run_id", r.ID.String()),
				slog.Duration("timeout", d),
			)
			return fmt.Errorf("%w after %s: %w", flowwork.ErrTickTimeout, d, err)
		}
		return err
	}
}
