package persistence

import (
	"context"
	"maps"
	"sync"

	"github.com/petrijr/stepchain/pkg/api"
)

// MemoryStore is a goroutine-safe, non-durable api.Store backed by maps.
// Connections buffer their writes and apply them atomically on Commit;
// closing an uncommitted connection discards its changes.
type MemoryStore struct {
	mu      sync.RWMutex
	paths   map[string]struct{}
	records map[string]api.Record
}

// NewMemoryStore creates a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		paths:   make(map[string]struct{}),
		records: make(map[string]api.Record),
	}
}

// Ensure MemoryStore implements the store port.
var _ api.Store = (*MemoryStore)(nil)

func (s *MemoryStore) Open(ctx context.Context, principal string) (api.Conn, error) {
	return &memoryConn{store: s, principal: principal}, nil
}

// PathExists reports whether the given path has been created and committed.
func (s *MemoryStore) PathExists(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.paths[path]
	return ok
}

// Load returns a copy of the committed record at path.
func (s *MemoryStore) Load(path string) (api.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[path]
	if !ok {
		return nil, ErrPathNotFound
	}
	return maps.Clone(rec), nil
}

// Paths returns every committed path. Order is unspecified.
func (s *MemoryStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	return out
}

type memoryConn struct {
	store     *MemoryStore
	principal string

	pending map[string]api.Record // nil value = ensure path only
	closed  bool
}

var _ api.Conn = (*memoryConn)(nil)

func (c *memoryConn) EnsurePath(ctx context.Context, path string) error {
	if c.closed {
		return ErrConnClosed
	}
	if c.store.PathExists(path) {
		return nil
	}
	if c.pending == nil {
		c.pending = make(map[string]api.Record)
	}
	for _, a := range Ancestors(path) {
		if _, ok := c.pending[a]; !ok && !c.store.PathExists(a) {
			c.pending[a] = nil
		}
	}
	if _, ok := c.pending[path]; !ok {
		c.pending[path] = nil
	}
	return nil
}

func (c *memoryConn) Save(ctx context.Context, path string, rec api.Record) error {
	if c.closed {
		return ErrConnClosed
	}
	if err := c.EnsurePath(ctx, path); err != nil {
		return err
	}
	if c.pending == nil {
		c.pending = make(map[string]api.Record)
	}
	c.pending[path] = maps.Clone(rec)
	return nil
}

func (c *memoryConn) Dirty() bool {
	return len(c.pending) > 0
}

func (c *memoryConn) Commit(ctx context.Context) error {
	if c.closed {
		return ErrConnClosed
	}
	if len(c.pending) == 0 {
		return nil
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for path, rec := range c.pending {
		c.store.paths[path] = struct{}{}
		if rec != nil {
			c.store.records[path] = rec
		}
	}
	c.pending = nil
	return nil
}

func (c *memoryConn) Close() error {
	c.pending = nil
	c.closed = true
	return nil
}
