// Package mongo provides a MongoDB-backed implementation of the stepchain
// status store port.
package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	corep "github.com/petrijr/stepchain/internal/persistence"
	"github.com/petrijr/stepchain/pkg/api"
)

// Store is an api.Store backed by MongoDB. Each storage path is one
// document keyed by _id, with the gob-encoded record in a binary field:
//
//	{_id: <path>, data: <blob>}
//
// Path-only entries (from EnsurePath) carry no data field. Connections
// buffer their writes and apply them as one bulk upsert on Commit.
type Store struct {
	coll *mongo.Collection
}

// Ensure Store implements the store port.
var _ api.Store = (*Store)(nil)

// NewStore creates a Mongo-backed store. dbName defaults to "stepchain"
// if empty, collName defaults to "paths".
func NewStore(client *mongo.Client, dbName, collName string) *Store {
	if dbName == "" {
		dbName = "stepchain"
	}
	if collName == "" {
		collName = "paths"
	}
	return &Store{coll: client.Database(dbName).Collection(collName)}
}

func (s *Store) Open(ctx context.Context, principal string) (api.Conn, error) {
	return &conn{store: s, principal: principal}, nil
}

// PathExists reports whether the given path has been committed.
func (s *Store) PathExists(ctx context.Context, path string) (bool, error) {
	err := s.coll.FindOne(ctx, bson.M{"_id": path}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Load returns the committed record at path.
func (s *Store) Load(ctx context.Context, path string) (api.Record, error) {
	var doc struct {
		Data []byte `bson:"data"`
	}
	err := s.coll.FindOne(ctx, bson.M{"_id": path}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, corep.ErrPathNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(doc.Data) == 0 {
		// Path exists but carries no record.
		return nil, corep.ErrPathNotFound
	}
	return corep.DecodeRecord(doc.Data)
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

	models := make([]mongo.WriteModel, 0, len(c.paths)+len(c.records))
	for _, p := range c.paths {
		if _, hasData := c.records[p]; hasData {
			continue
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": p}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{"_id": p}}).
			SetUpsert(true))
	}
	for path, data := range c.records {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": path}).
			SetUpdate(bson.M{"$set": bson.M{"data": data}}).
			SetUpsert(true))
	}

	_, err := c.store.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
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
