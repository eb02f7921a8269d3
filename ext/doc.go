// Package ext defines the extension system for flowwork.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, streaming progress, writing audit logs.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnRunFailed(ctx context.Context, r *run.Run, elapsed time.Duration) error {
//	    log.Printf("run %s failed after %s: %s", r.ID, elapsed, r.Message)
//	    return nil
//	}
//
// # Run Lifecycle Hooks
//
//   - [RunStarted]: run was created
//   - [RunWaiting]: a tick left the run waiting
//   - [RunSucceeded]: run finished successfully
//   - [RunFailed]: run finished with a failure
//   - [RunAborted]: aborted run finished
//   - [RunRetried]: a finished run was retried as a new run
//   - [TickFailed]: a unit returned an error and the tick was rolled back
//
// # Step Lifecycle Hooks
//
//   - [StepStarted]: a step executed for the first time
//   - [StepFinished]: a step became terminal
//   - [StepTimedOut]: a step ran past its timeout
//
// Step hooks fire inside the tick transaction. A tick that is rolled back
// may therefore report steps whose state was never committed.
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
