package stepchain

import (
	"database/sql"
	"log/slog"

	"github.com/petrijr/stepchain/internal/orchestrator"
	"github.com/petrijr/stepchain/internal/persistence"
	"github.com/petrijr/stepchain/pkg/api"
	"github.com/petrijr/stepchain/pkg/taskpool"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	ProcessInstance      = api.ProcessInstance
	ProcessDefinition    = api.ProcessDefinition
	StepBuilder          = api.StepBuilder
	TaskEngine           = api.TaskEngine
	EngineFactory        = api.EngineFactory
	Work                 = api.Work
	StatusRecord         = api.StatusRecord
	Failure              = api.Failure
	Statistics           = api.Statistics
	Store                = api.Store
	Conn                 = api.Conn
	Record               = api.Record
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	WithConn             = api.WithConn
)

// Re-export status texts and the pre-run sentinel for convenience.

const (
	StatusCompleted = api.StatusCompleted
	StatusAborted   = api.StatusAborted
	StatusWaiting   = api.StatusWaiting

	PreRunStep = api.PreRunStep
)

// Store constructors
// These wrap the internal/persistence package so external callers
// never need to import internal packages.

// NewMemoryStore returns a non-durable Store backed entirely by memory.
// Best for tests and local development.
func NewMemoryStore() Store {
	return persistence.NewMemoryStore()
}

// NewSQLiteStore returns a Store that persists status and failure records
// in a SQLite database. The caller is responsible for importing a SQLite
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
func NewSQLiteStore(db *sql.DB) (Store, error) {
	return persistence.NewSQLiteStore(db)
}

// config collects the options applied by NewProcess.
type config struct {
	description      string
	store            api.Store
	factory          api.EngineFactory
	observer         api.Observer
	logger           *slog.Logger
	idGen            func() string
	servicePrincipal string
	basePath         string
	concurrency      int
}

// Option configures NewProcess.
type Option func(*config)

// WithDescription sets the human-readable description of the instance.
func WithDescription(desc string) Option {
	return func(c *config) { c.description = desc }
}

// WithStore sets the status store. Defaults to NewMemoryStore().
func WithStore(store Store) Option {
	return func(c *config) { c.store = store }
}

// WithEngineFactory sets the task engine factory. Defaults to a
// taskpool.Factory with default settings.
func WithEngineFactory(f EngineFactory) Option {
	return func(c *config) { c.factory = f }
}

// WithObserver sets the lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(c *config) { c.observer = obs }
}

// WithLogger sets the slog logger used for internal error reporting.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithIDGenerator sets the instance id generator. Defaults to random UUIDs.
func WithIDGenerator(gen func() string) Option {
	return func(c *config) { c.idGen = gen }
}

// WithServicePrincipal sets the identity used for status and error writes.
func WithServicePrincipal(principal string) Option {
	return func(c *config) { c.servicePrincipal = principal }
}

// WithBasePath sets the storage root for instances.
func WithBasePath(base string) Option {
	return func(c *config) { c.basePath = base }
}

// WithConcurrency sets the per-step engine worker count.
func WithConcurrency(n int) Option {
	return func(c *config) { c.concurrency = n }
}

// DefaultServicePrincipal is the service identity used for status writes
// when none is configured.
const DefaultServicePrincipal = "stepchain-service"

// NewProcess creates a process instance for the given definition. The
// instance is inert until Run is called, and Run may be called at most
// once.
func NewProcess(def ProcessDefinition, opts ...Option) ProcessInstance {
	c := &config{
		servicePrincipal: DefaultServicePrincipal,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.factory == nil {
		c.factory = taskpool.NewFactory()
	}

	return orchestrator.New(orchestrator.Config{
		Definition:       def,
		Description:      c.description,
		Store:            c.store,
		Factory:          c.factory,
		Observer:         c.observer,
		Logger:           c.logger,
		IDGen:            c.idGen,
		ServicePrincipal: c.servicePrincipal,
		BasePath:         c.basePath,
		Concurrency:      c.concurrency,
	})
}
