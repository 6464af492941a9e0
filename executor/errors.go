package executor

import "errors"

var (
	// ErrTrackerRequired is returned when a job tracker is not provided.
	ErrTrackerRequired = errors.New("job tracker required")

	// ErrRunnerRequired is returned when a runner is not provided.
	ErrRunnerRequired = errors.New("runner required")

	// ErrClosed is returned by Submit after Close has been called.
	ErrClosed = errors.New("executor closed")

	// ErrInterrupted is recorded on processing jobs whose executor stopped
	// renewing their lease.
	ErrInterrupted = errors.New("interrupted by restart")
)
