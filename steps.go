package stepchain

import (
	"context"
	"time"
)

// Single returns a StepBuilder that submits one unit of work operating on
// the given path.
func Single(path string, work Work) StepBuilder {
	return func(ctx context.Context, engine TaskEngine) error {
		engine.Submit(path, work)
		return nil
	}
}

// ForEach returns a StepBuilder that submits one unit of work per path.
// Units run concurrently up to the engine's worker count.
func ForEach(paths []string, fn func(ctx context.Context, path string) error) StepBuilder {
	return func(ctx context.Context, engine TaskEngine) error {
		for _, path := range paths {
			p := path
			engine.Submit(p, func(ctx context.Context) error {
				return fn(ctx, p)
			})
		}
		return nil
	}
}

// Collect returns a StepBuilder that calls collect to discover work paths
// and then submits one unit per discovered path. Discovery runs inside the
// step's builder unit, so the step fails if discovery fails.
func Collect(collect func(ctx context.Context) ([]string, error), fn func(ctx context.Context, path string) error) StepBuilder {
	return func(ctx context.Context, engine TaskEngine) error {
		paths, err := collect(ctx)
		if err != nil {
			return err
		}
		for _, path := range paths {
			p := path
			engine.Submit(p, func(ctx context.Context) error {
				return fn(ctx, p)
			})
		}
		return nil
	}
}

// SleepWork returns a Work that waits for the given duration before
// returning. It is context-aware: if the context is cancelled during the
// sleep, it returns ctx.Err.
func SleepWork(d time.Duration) Work {
	return func(ctx context.Context) error {
		if d <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}
}
