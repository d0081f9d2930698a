// Package pipeline drives the end-to-end split, dispatch, retry, and merge
// flow over a chunking strategy and a worker backend.
//
// Process splits the input payload, creates one task per chunk, and
// dispatches tasks in waves of at most Config.MaxConcurrency concurrently
// outstanding worker calls. Each call races a timeout; transient failures
// are retried up to Config.RetryAttempts before the task is recorded as
// permanently failed. If any task fails permanently the whole Process call
// fails with an aggregate error, even when most chunks succeeded; partial
// results are never returned.
//
// Merge order is always by chunk index, independent of completion order,
// so the pipeline is deterministic from the caller's point of view despite
// parallel execution.
//
// Bookkeeping (task queues, stats) runs on the goroutine calling Process;
// only the worker calls themselves are concurrent. Stats reads are safe
// from other goroutines, which lets hooks and progress UIs poll mid-run.
package pipeline
