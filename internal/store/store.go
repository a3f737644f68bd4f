// Package store is the thin adapter between the document services and a
// document collection. Two implementations exist: MongoCollection for
// production and MemoryCollection for unit tests and local runs.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNoDocuments is returned by FindOne when nothing matches the filter.
	ErrNoDocuments = errors.New("no documents in result")
	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = errors.New("duplicate key")
)

// SortField is one (field, direction) pair. Direction is 1 or -1.
type SortField struct {
	Field     string
	Direction int
}

// Sort is an ordered list of sort fields.
type Sort []SortField

// D converts the sort to the bson form understood by the driver.
func (s Sort) D() bson.D {
	d := make(bson.D, 0, len(s))
	for _, f := range s {
		d = append(d, bson.E{Key: f.Field, Value: f.Direction})
	}
	return d
}

// FindOptions controls Find. Zero Limit means no limit.
type FindOptions struct {
	Sort      Sort
	Skip      int64
	Limit     int64
	Collation *options.Collation
}

// Collection is the minimal set of operations the document services need
// from a collection. Implementations must be safe for concurrent use.
type Collection interface {
	Name() string
	InsertOne(ctx context.Context, doc interface{}) error
	FindOne(ctx context.Context, filter bson.M) (bson.Raw, error)
	Find(ctx context.Context, filter bson.M, opts FindOptions) ([]bson.Raw, error)
	ReplaceOne(ctx context.Context, filter bson.M, doc interface{}) (int64, error)
	DeleteOne(ctx context.Context, filter bson.M) (int64, error)
	CreateIndexes(ctx context.Context, models []mongo.IndexModel) error
}
