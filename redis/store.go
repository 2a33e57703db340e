// Package redis provides a Redis-backed implementation of the stepchain
// status store port.
package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	corep "github.com/petrijr/stepchain/internal/persistence"
	"github.com/petrijr/stepchain/pkg/api"
)

// Store is an api.Store backed by Redis. It uses a simple key structure:
//
//	<prefix>paths           => SET of all known paths
//	<prefix>rec:<path>      => gob-encoded record
//
// Connections buffer their writes and apply them in one transactional
// pipeline on Commit, so the commit-if-dirty discipline of the store port
// maps to a single MULTI/EXEC round trip.
type Store struct {
	client *redis.Client
	prefix string
}

// Ensure Store implements the store port.
var _ api.Store = (*Store)(nil)

// NewStore creates a Redis-backed store. prefix is optional but
// recommended (e.g. "stepchain:").
func NewStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "stepchain:"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) keyPaths() string            { return s.prefix + "paths" }
func (s *Store) keyRecord(path string) string { return s.prefix + "rec:" + path }

func (s *Store) Open(ctx context.Context, principal string) (api.Conn, error) {
	return &conn{store: s, principal: principal}, nil
}

// PathExists reports whether the given path has been committed.
func (s *Store) PathExists(ctx context.Context, path string) (bool, error) {
	return s.client.SIsMember(ctx, s.keyPaths(), path).Result()
}

// Load returns the committed record at path.
func (s *Store) Load(ctx context.Context, path string) (api.Record, error) {
	data, err := s.client.Get(ctx, s.keyRecord(path)).Bytes()
	if err == redis.Nil {
		return nil, corep.ErrPathNotFound
	}
	if err != nil {
		return nil, err
	}
	return corep.DecodeRecord(data)
}

type conn struct {
	store     *Store
	principal string

	paths   []string
	records map[string][]byte
	closed  bool
}

var _ api.Conn = (*conn)(nil)

func (c *conn) EnsurePath(ctx context.Context, path string) error {
	if c.closed {
		return corep.ErrConnClosed
	}
	c.paths = append(c.paths, corep.Ancestors(path)...)
	c.paths = append(c.paths, path)
	return nil
}

func (c *conn) Save(ctx context.Context, path string, rec api.Record) error {
	if c.closed {
		return corep.ErrConnClosed
	}
	if err := c.EnsurePath(ctx, path); err != nil {
		return err
	}
	data, err := corep.EncodeRecord(rec)
	if err != nil {
		return err
	}
	if c.records == nil {
		c.records = make(map[string][]byte)
	}
	c.records[path] = data
	return nil
}

func (c *conn) Dirty() bool {
	return len(c.paths) > 0 || len(c.records) > 0
}

func (c *conn) Commit(ctx context.Context) error {
	if c.closed {
		return corep.ErrConnClosed
	}
	if !c.Dirty() {
		return nil
	}
	pipe := c.store.client.TxPipeline()
	for _, p := range c.paths {
		pipe.SAdd(ctx, c.store.keyPaths(), p)
	}
	for path, data := range c.records {
		pipe.Set(ctx, c.store.keyRecord(path), data, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	c.paths = nil
	c.records = nil
	return nil
}

func (c *conn) Close() error {
	c.paths = nil
	c.records = nil
	c.closed = true
	return nil
}
