// Package engine implements the background task processing engine: a
// polling dispatcher that drains batches of eligible tasks from the shared
// store, a bounded pool of concurrent executors, an exponential-backoff
// retry policy, and a per-task-type circuit breaker.
//
// Multiple dispatcher processes may run against the same store; exclusivity
// for any single task comes from the store's atomic conditional status
// transition, not from cross-process coordination. The circuit breaker and
// concurrency limiter are process-local by design.
//
// Handlers must be idempotent: a handler that exceeds its timeout is
// abandoned, not aborted, so its external side effects may still land after
// the engine has scheduled a retry.
package engine
