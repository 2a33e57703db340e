package api

import "context"

// Record is a flat key/value record as persisted at one storage path.
// Values must be simple scalars (strings, numbers, booleans, times) so any
// backend can store them without schema knowledge.
type Record map[string]any

// Conn is one scoped connection to a status store. The intended discipline
// is acquire, use, commit-if-dirty, close on every exit path; the WithConn
// helper in this package enforces it.
//
// Connections are not safe for concurrent use.
type Conn interface {
	// EnsurePath creates the given path (and any missing ancestors) if
	// it does not exist yet.
	EnsurePath(ctx context.Context, path string) error

	// Save writes the record at the given path, creating the path if
	// needed and replacing any record already stored there.
	Save(ctx context.Context, path string, rec Record) error

	// Dirty reports whether the connection holds uncommitted changes.
	Dirty() bool

	// Commit durably applies all pending changes.
	Commit(ctx context.Context) error

	// Close releases the connection. Uncommitted changes are discarded.
	// Close is idempotent.
	Close() error
}

// Store hands out scoped connections to a status/error store.
//
// The orchestrator opens connections under a system/service principal,
// independent of the requesting user, because status bookkeeping must
// succeed regardless of the requester's permissions.
type Store interface {
	Open(ctx context.Context, principal string) (Conn, error)
}

// WithConn runs fn within a scoped connection: it opens a connection under
// the given principal, invokes fn, commits if the connection is dirty, and
// closes it on every exit path.
func WithConn(ctx context.Context, store Store, principal string, fn func(Conn) error) error {
	conn, err := store.Open(ctx, principal)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := fn(conn); err != nil {
		return err
	}
	if conn.Dirty() {
		return conn.Commit(ctx)
	}
	return nil
}
