package taskpool

import (
	"log/slog"
	"sync"

	"github.com/petrijr/stepchain/pkg/api"
)

// Factory creates and releases pooled task engines. It tracks every engine
// it has handed out so a caller can release them all on shutdown.
type Factory struct {
	defaultConcurrency int
	queueCapacity      int
	retry              *RetryPolicy
	logger             *slog.Logger

	mu      sync.Mutex
	engines map[*Pool]struct{}
}

// Ensure Factory implements the factory contract.
var _ api.EngineFactory = (*Factory)(nil)

// Option configures a Factory.
type Option func(*Factory)

// WithDefaultConcurrency sets the worker count used when Create is called
// with concurrency <= 0.
func WithDefaultConcurrency(n int) Option {
	return func(f *Factory) { f.defaultConcurrency = n }
}

// WithQueueCapacity sets the buffered queue capacity of created pools.
func WithQueueCapacity(n int) Option {
	return func(f *Factory) { f.queueCapacity = n }
}

// WithRetryPolicy applies a per-unit retry policy to every created pool.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(f *Factory) {
		r := p
		f.retry = &r
	}
}

// WithLogger sets the logger used by created pools.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// NewFactory creates a Factory with the given options.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		defaultConcurrency: 1,
		engines:            make(map[*Pool]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Factory) Create(label, principal string, concurrency int) (api.TaskEngine, error) {
	if concurrency <= 0 {
		concurrency = f.defaultConcurrency
	}
	p := newPool(label, principal, concurrency, f.queueCapacity, f.retry, f.logger)

	f.mu.Lock()
	f.engines[p] = struct{}{}
	f.mu.Unlock()
	return p, nil
}

func (f *Factory) Release(engine api.TaskEngine) {
	p, ok := engine.(*Pool)
	if !ok {
		return
	}
	f.mu.Lock()
	_, tracked := f.engines[p]
	delete(f.engines, p)
	f.mu.Unlock()

	if tracked {
		p.stop()
	}
}

// Active returns the number of engines created and not yet released.
func (f *Factory) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

// ReleaseAll releases every engine still tracked by the factory.
func (f *Factory) ReleaseAll() {
	f.mu.Lock()
	engines := make([]*Pool, 0, len(f.engines))
	for p := range f.engines {
		engines = append(engines, p)
	}
	f.engines = make(map[*Pool]struct{})
	f.mu.Unlock()

	for _, p := range engines {
		p.stop()
	}
}
