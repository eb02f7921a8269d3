// Package queue admits run ticks through lanes with token-bucket rate
// limiting and concurrency caps.
//
// Every run belongs to the lane named after the run (run.Run.Name). The
// worker pool asks the [Manager] for admission before each tick and skips
// the tick (leaving the run due) when the lane is saturated.
//
// # Lane Configuration
//
//	queue.Config{
//	    Name:           "nightly-backup",
//	    MaxConcurrency: 2,  // at most 2 backup runs tick at once
//	    RateLimit:      5,  // at most 5 ticks/s across backup runs
//	    RateBurst:      10,
//	}
//
// A config named [Wildcard] is the template for lanes without their own
// config: each such lane gets private limits built from it. [Manager.SetGlobal]
// adds a pool-wide limit checked before any lane.
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(r.Name) {
//	    defer m.Release(r.Name)
//	    // tick the run
//	}
//
// Lanes without any config have no limits beyond the pool-wide ones.
package queue
