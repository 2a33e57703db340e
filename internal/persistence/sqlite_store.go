package persistence

import (
	"context"
	"database/sql"

	"github.com/petrijr/stepchain/pkg/api"
)

// SQLiteStore is an api.Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// Each connection maps to one SQL transaction, so the commit-if-dirty
// discipline of the store port translates directly to transactional writes.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the store port.
var _ api.Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS paths (
			path TEXT PRIMARY KEY
		);
		CREATE TABLE IF NOT EXISTS records (
			path TEXT PRIMARY KEY,
			data BLOB NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) Open(ctx context.Context, principal string) (api.Conn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteConn{tx: tx, principal: principal}, nil
}

// PathExists reports whether the given path has been committed.
func (s *SQLiteStore) PathExists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM paths WHERE path = ?`, path).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load returns the committed record at path.
func (s *SQLiteStore) Load(ctx context.Context, path string) (api.Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE path = ?`, path).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrPathNotFound
	}
	if err != nil {
		return nil, err
	}
	return DecodeRecord(data)
}

type sqliteConn struct {
	tx        *sql.Tx
	principal string
	dirty     bool
	done      bool
}

var _ api.Conn = (*sqliteConn)(nil)

func (c *sqliteConn) EnsurePath(ctx context.Context, path string) error {
	if c.done {
		return ErrConnClosed
	}
	for _, p := range append(Ancestors(path), path) {
		if _, err := c.tx.ExecContext(ctx,
			`INSERT INTO paths (path) VALUES (?) ON CONFLICT(path) DO NOTHING`, p); err != nil {
			return err
		}
	}
	c.dirty = true
	return nil
}

func (c *sqliteConn) Save(ctx context.Context, path string, rec api.Record) error {
	if c.done {
		return ErrConnClosed
	}
	if err := c.EnsurePath(ctx, path); err != nil {
		return err
	}
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = c.tx.ExecContext(ctx, `
		INSERT INTO records (path, data) VALUES (?, ?)
		ON CONFLICT(path) DO UPDATE SET data = excluded.data`,
		path, data,
	)
	if err != nil {
		return err
	}
	c.dirty = true
	return nil
}

func (c *sqliteConn) Dirty() bool {
	return c.dirty
}

func (c *sqliteConn) Commit(ctx context.Context) error {
	if c.done {
		return ErrConnClosed
	}
	c.done = true
	c.dirty = false
	return c.tx.Commit()
}

func (c *sqliteConn) Close() error {
	if c.done {
		return nil
	}
	c.done = true
	// Rolling back discards uncommitted changes, matching the
	// close-without-commit contract of the store port.
	return c.tx.Rollback()
}
