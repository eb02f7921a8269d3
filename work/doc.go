// Package work is the execution core: units of work, the Step lifecycle
// wrapper, and the two composite strategies (Sequence and Scatter).
//
// Nothing in this package blocks or spawns goroutines. A driver calls
// Execute on the root step, and while the root reports Waiting it calls
// Execute again on a later tick. Every call must come from a single owner
// per run; the tree is not safe for concurrent use.
//
// Precondition violations (executing a finished step, retrying a waiting
// one) are programming errors and panic. Errors returned by units are
// recorded on the step and returned so the caller can roll back.
package work
