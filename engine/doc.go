// Package engine drives resumable step trees.
//
// A run is the durable record of one root step. The engine persists it
// through a run.Store and advances it one tick at a time: every tick
// decodes the tree, executes or resumes the root inside Store.Transact and
// writes the tree back. A unit error rolls the whole tick back, so the
// next tick starts from the last committed tree.
//
// # Building an Engine
//
//	eng, err := engine.New(
//	    engine.WithStore(pgStore),
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(audithook.New(recorder)),
//	    engine.WithRateLimit(queue.Config{Name: "nightly-backup", MaxConcurrency: 2}),
//	)
//
// # Driving Runs
//
//	r, err := eng.Start(ctx, "deploy", root, map[string]string{"region": "eu"})
//	r, err = eng.Tick(ctx, r.ID)          // usually done by the worker pool
//	r, err = eng.Abort(ctx, r.ID)         // finally stages still run
//	next, plan, err := eng.Retry(ctx, r.ID, true) // dry run
//
// Waiting runs are rescheduled with the backoff strategy; the worker pool
// started by [Engine.StartWorkers] claims them when due.
//
// # Options
//
//   - [WithStore]: the run store (required)
//   - [WithConfig]: pool and tick settings
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add middleware to the tick chain
//   - [WithResolver]: resolve side links in progress reports
//   - [WithBackoff]: delay strategy between waiting ticks
//   - [WithRateLimit]: per-lane admission limits
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
