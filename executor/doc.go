// Package executor runs long-running answer jobs in the background.
//
// Submitted jobs are recorded by a jobs.Tracker and placed on a bounded
// queue. A dispatcher hands queued jobs to a worker pool, which runs them
// through an answer Runner while reporting step progress back to the
// tracker. Cancellation is cooperative: the run stops at the next step
// boundary after its job is cancelled. A model call already in flight is
// allowed to finish and its result is discarded.
package executor
