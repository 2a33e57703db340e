package taskpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petrijr/stepchain/pkg/api"
)

// RetryPolicy controls how a single work unit is retried when it returns an
// error. MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
//
// InitialBackoff is the delay before the first retry, growing by
// BackoffMultiplier (default 2.0 if <= 0) per attempt and capped at
// MaxBackoff when that is > 0.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

type task struct {
	path string
	work api.Work
}

// Pool is an api.TaskEngine backed by a fixed pool of worker goroutines.
//
// A pool completes when every submitted unit has finished. The intended use
// is that the first submitted unit is the step's builder, which may submit
// further units before it returns; that way the completed/added counts can
// only converge once all work is done.
type Pool struct {
	label     string
	principal string

	tasks  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	retry  *RetryPolicy
	logger *slog.Logger

	added     atomic.Int64
	completed atomic.Int64
	successes atomic.Int64
	errors    atomic.Int64
	complete  atomic.Bool

	mu       sync.Mutex
	failures []api.Failure

	onSuccess []func()
	onFailure []func([]api.Failure)
	onFinish  []func()

	finishOnce sync.Once
}

// Ensure Pool implements the task engine contract.
var _ api.TaskEngine = (*Pool)(nil)

func newPool(label, principal string, concurrency, queueCapacity int, retry *RetryPolicy, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		label:     label,
		principal: principal,
		tasks:     make(chan task, queueCapacity),
		ctx:       ctx,
		cancel:    cancel,
		retry:     retry,
		logger:    logger,
	}

	p.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) Label() string        { return p.label }
func (p *Pool) AddedCount() int      { return int(p.added.Load()) }
func (p *Pool) CompletedCount() int  { return int(p.completed.Load()) }
func (p *Pool) SuccessCount() int    { return int(p.successes.Load()) }
func (p *Pool) ErrorCount() int      { return int(p.errors.Load()) }
func (p *Pool) IsComplete() bool     { return p.complete.Load() }

// Failures returns a copy of the ordered failures observed so far.
func (p *Pool) Failures() []api.Failure {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]api.Failure, len(p.failures))
	copy(out, p.failures)
	return out
}

func (p *Pool) OnSuccess(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSuccess = append(p.onSuccess, fn)
}

func (p *Pool) OnFailure(fn func([]api.Failure)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailure = append(p.onFailure, fn)
}

func (p *Pool) OnFinish(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFinish = append(p.onFinish, fn)
}

// Submit enqueues one unit of work operating on path.
func (p *Pool) Submit(path string, work api.Work) {
	p.added.Add(1)
	t := task{path: path, work: work}
	select {
	case p.tasks <- t:
	default:
		// Queue full. Hand off asynchronously so a worker submitting
		// follow-up units can never deadlock against its own pool.
		go func() {
			select {
			case p.tasks <- t:
			case <-p.ctx.Done():
			}
		}()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-p.tasks:
			p.runOne(t)
		}
	}
}

func (p *Pool) runOne(t task) {
	err := p.runWithRetry(t)
	if err != nil {
		p.errors.Add(1)
		p.mu.Lock()
		p.failures = append(p.failures, api.Failure{
			Time: time.Now(),
			Path: t.path,
			Err:  err,
		})
		p.mu.Unlock()
		p.logger.Error("work unit failed",
			slog.String("engine", p.label),
			slog.String("path", t.path),
			slog.Any("error", err),
		)
	} else {
		p.successes.Add(1)
	}
	p.completed.Add(1)
	p.checkComplete()
}

func (p *Pool) runWithRetry(t task) error {
	maxAttempts := 1
	var backoff, maxBackoff time.Duration
	multiplier := 2.0

	if p.retry != nil {
		if p.retry.MaxAttempts > 0 {
			maxAttempts = p.retry.MaxAttempts
		}
		backoff = p.retry.InitialBackoff
		maxBackoff = p.retry.MaxBackoff
		if p.retry.BackoffMultiplier > 0 {
			multiplier = p.retry.BackoffMultiplier
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		default:
		}

		lastErr = t.work(p.ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		if backoff > 0 {
			delay := backoff
			if maxBackoff > 0 && delay > maxBackoff {
				delay = maxBackoff
			}
			select {
			case <-p.ctx.Done():
				return p.ctx.Err()
			case <-time.After(delay):
			}
			next := time.Duration(float64(backoff) * multiplier)
			if maxBackoff > 0 && next > maxBackoff {
				backoff = maxBackoff
			} else {
				backoff = next
			}
		}
	}
	return lastErr
}

func (p *Pool) checkComplete() {
	// Counts can only converge once the builder unit has returned and
	// every unit it spawned has finished.
	if p.completed.Load() != p.added.Load() {
		return
	}
	p.finishOnce.Do(func() {
		p.complete.Store(true)

		p.mu.Lock()
		success := append([]func(){}, p.onSuccess...)
		failure := append([]func([]api.Failure){}, p.onFailure...)
		finish := append([]func(){}, p.onFinish...)
		failures := make([]api.Failure, len(p.failures))
		copy(failures, p.failures)
		p.mu.Unlock()

		if len(failures) == 0 {
			for _, fn := range success {
				fn()
			}
		} else {
			for _, fn := range failure {
				fn(failures)
			}
		}
		for _, fn := range finish {
			fn()
		}
	})
}

// stop cancels the pool's context and waits for the workers to exit.
// Pending queued work is discarded.
func (p *Pool) stop() {
	p.cancel()
	p.wg.Wait()
}
