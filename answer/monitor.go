package answer

import "context"

// Progress describes how far a run has advanced.
type Progress struct {
	Percent int
	Step    string
}

// Monitor observes step boundaries of a run.
// Returning an error from Checkpoint stops the run before the next step.
type Monitor interface {
	Checkpoint(ctx context.Context, progress Progress) error
}

// MonitorFunc adapts a function to the Monitor interface.
type MonitorFunc func(ctx context.Context, progress Progress) error

// Checkpoint calls f.
func (f MonitorFunc) Checkpoint(ctx context.Context, progress Progress) error {
	return f(ctx, progress)
}

type noopMonitor struct{}

func (noopMonitor) Checkpoint(context.Context, Progress) error { return nil }

// Progress values reported at step boundaries. Completion (100) is
// reported by the caller once the result is stored.
const (
	progressAutoSelect = 5

	progressDocsRetrieve = 10
	progressDocsGenerate = 40

	progressWebSearch = 10

	progressBothGather     = 10
	progressBothSynthesize = 60

	progressPlanStart     = 10
	progressPlanDone      = 20
	progressExtractStart  = 25
	progressExtractDone   = 40
	progressSearchStart   = 45
	progressSearchDone    = 80
	progressSynthesizeRun = 85
)
