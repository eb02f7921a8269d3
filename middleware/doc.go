// Package middleware provides composable middleware for run ticks.
//
// A [Middleware] is a function that wraps a tick handler. Middleware are
// composed into a chain using [Chain] and applied around each tick the
// engine performs. They are applied right-to-left: the first middleware in
// the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs run name, tick number, duration and error
//   - [Recover]: catches panics and converts them to flowwork.ErrPanicked
//   - [Timeout]: cancels the tick context after a configured duration
//   - [Tracing]: wraps the tick in an OpenTelemetry span
//   - [Metrics]: records per-tick duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, r *run.Run, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// The run passed to middleware is a snapshot taken before the tick and
// must not be mutated. Middleware MUST call next to continue the chain
// unless intentionally short-circuiting.
package middleware
