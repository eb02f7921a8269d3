package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/flowwork/run"
)

// Logging returns middleware that logs each tick at Debug and tick errors
// at Error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) error {
		logger.Debug("tick started",
			slog.String("run_name", r.Name),
			slog.String("run_id", r.ID.String()),
			slog.Int("tick", r.Ticks+1),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("tick failed",
				slog.String("run_name", r.Name),
				slog.String("run_id", r.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("tick completed",
				slog.String("run_name", r.Name),
				slog.String("run_id", r.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
