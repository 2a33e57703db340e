// Package postgres provides a PostgreSQL-backed implementation of the
// stepchain status store port.
package postgres

import (
	"context"
	"database/sql"
	"errors"

	corep "github.com/petrijr/stepchain/internal/persistence"
	"github.com/petrijr/stepchain/pkg/api"
)

// Store is an api.Store backed by PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver. The caller is
// responsible for importing the driver for its side effects, e.g.:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//
// and providing a DSN via sql.Open. Each connection maps to one SQL
// transaction, so the commit-if-dirty discipline of the store port
// translates directly to transactional writes.
type Store struct {
	db *sql.DB
}

// Ensure Store implements the store port.
var _ api.Store = (*Store)(nil)

// NewStore initializes the required schema in the given database and
// returns a new Store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS stepchain_paths (
			path TEXT PRIMARY KEY
		);
		CREATE TABLE IF NOT EXISTS stepchain_records (
			path TEXT PRIMARY KEY,
			data BYTEA NOT NULL
		);`,
	)
	return err
}

func (s *Store) Open(ctx context.Context, principal string) (api.Conn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &conn{tx: tx, principal: principal}, nil
}

// PathExists reports whether the given path has been committed.
func (s *Store) PathExists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM stepchain_paths WHERE path = $1`, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load returns the committed record at path.
func (s *Store) Load(ctx context.Context, path string) (api.Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM stepchain_records WHERE path = $1`, path).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, corep.ErrPathNotFound
	}
	if err != nil {
		return nil, err
	}
	return corep.DecodeRecord(data)
}

type conn struct {
	tx        *sql.Tx
	principal string
	dirty     bool
	done      bool
}

var _ api.Conn = (*conn)(nil)

func (c *conn) EnsurePath(ctx context.Context, path string) error {
	if c.done {
		return corep.ErrConnClosed
	}
	for _, p := range append(corep.Ancestors(path), path) {
		if _, err := c.tx.ExecContext(ctx,
			`INSERT INTO stepchain_paths (path) VALUES ($1) ON CONFLICT (path) DO NOTHING`, p); err != nil {
			return err
		}
	}
	c.dirty = true
	return nil
}

func (c *conn) Save(ctx context.Context, path string, rec api.Record) error {
	if c.done {
		return corep.ErrConnClosed
	}
	if err := c.EnsurePath(ctx, path); err != nil {
		return err
	}
	data, err := corep.EncodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = c.tx.ExecContext(ctx, `
		INSERT INTO stepchain_records (path, data) VALUES ($1, $2)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data`,
		path, data,
	)
	if err != nil {
		return err
	}
	c.dirty = true
	return nil
}

func (c *conn) Dirty() bool {
	return c.dirty
}

func (c *conn) Commit(ctx context.Context) error {
	if c.done {
		return corep.ErrConnClosed
	}
	c.done = true
	c.dirty = false
	return c.tx.Commit()
}

func (c *conn) Close() error {
	if c.done {
		return nil
	}
	c.done = true
	return c.tx.Rollback()
}
