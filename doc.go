// Package flowwork is a resumable workflow-execution engine for Go.
//
// A run is a tree of steps: leaf units of work composed into ordered
// sequences (with an always-run finally step) and independent fan-out
// groups. The tree is persisted between ticks so a run can suspend on a
// waiting outcome, survive a process restart, and be resumed by whichever
// worker next claims it. Failed or aborted runs can be retried without
// re-executing steps that already succeeded.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStore(pgStore),
//	    engine.WithLogger(logger),
//	)
//	root := work.NewStep(work.NewSequence([]*work.Step{
//	    work.NewStep(&provision{}),
//	    work.NewStep(&deploy{}, work.WithTimeout(10*time.Minute)),
//	}, work.WithFinally(work.NewStep(&cleanup{}))))
//	r, err := eng.Start(ctx, "deploy", root, nil)
//
// # Architecture
//
// Package work holds the execution core (steps, sequences, scatter groups,
// retry reconstruction). Package engine drives runs tick by tick inside a
// store transaction; package worker polls the store for due runs. Stores
// for memory, Redis, PostgreSQL, MongoDB and Bun live under store/.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package flowwork
