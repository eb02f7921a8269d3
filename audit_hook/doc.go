// Package audithook is a flowwork extension that bridges run lifecycle
// events to an immutable audit trail backend.
//
// Every run and step lifecycle hook emits a structured audit event through
// the [Recorder] interface. The extension assigns a severity (info for
// normal progress, warning for failed ticks and timeouts, critical for
// failed or aborted runs) and metadata such as the run name, attempt and
// elapsed time.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return auditLog.Write(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionRunFailed,
//	        audithook.ActionRunAborted,
//	        audithook.ActionStepTimedOut,
//	    ),
//	)
package audithook
