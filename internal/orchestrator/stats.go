package orchestrator

import "github.com/petrijr/stepchain/pkg/api"

// Statistics builds an immutable monitoring row for this instance. The
// completed count is the number of steps whose engine reports complete;
// the success and error counts are independent per-unit sums across all
// engines, so they need not match the step count.
func (p *Instance) Statistics() api.Statistics {
	var (
		completed  int64
		successful int
		errs       int
	)
	for _, sd := range p.steps {
		if sd.engine.IsComplete() {
			completed++
		}
		successful += sd.engine.SuccessCount()
		errs += sd.engine.ErrorCount()
	}

	return api.Statistics{
		ID:          p.id,
		TaskName:    p.Name(),
		Started:     len(p.steps),
		Completed:   completed,
		Successful:  successful,
		Errors:      errs,
		Runtime:     p.info.Runtime(),
		PctComplete: p.UpdateProgress(),
	}
}
