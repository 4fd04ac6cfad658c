// Package queue provides the exclusive-execution request queue used to
// serialize all traffic to a hardware signer.
//
// A device can run exactly one operation at a time. Queue enforces this
// structurally: a single worker goroutine pulls Requests in FIFO order and
// does not start the next one until the current Execute returns.
//
// # Clearing
//
// Clear drops Requests that have not started. A Request that is already
// executing always runs to completion; callers neutralize its result with
// their own guards (epoch or status checks), not by cancellation.
//
// # Failures
//
// Execute is expected to route its own failures. A returned error or a panic
// is logged and reported to the observer, and the queue moves on.
package queue
