package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollection implements Collection on top of a driver collection.
// The driver's internal _id is never returned to callers.
type MongoCollection struct {
	col *mongo.Collection
}

var noID = bson.M{"_id": 0}

func NewMongoCollection(col *mongo.Collection) *MongoCollection {
	return &MongoCollection{col: col}
}

func (m *MongoCollection) Name() string { return m.col.Name() }

func (m *MongoCollection) InsertOne(ctx context.Context, doc interface{}) error {
	if _, err := m.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w: %v", m.Name(), ErrDuplicateKey, err)
		}
		return err
	}
	return nil
}

func (m *MongoCollection) FindOne(ctx context.Context, filter bson.M) (bson.Raw, error) {
	raw, err := m.col.FindOne(ctx, filter, options.FindOne().SetProjection(noID)).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoDocuments
		}
		return nil, err
	}
	return raw, nil
}

func (m *MongoCollection) Find(ctx context.Context, filter bson.M, fo FindOptions) ([]bson.Raw, error) {
	opts := options.Find().SetProjection(noID)
	if len(fo.Sort) > 0 {
		opts.SetSort(fo.Sort.D())
	}
	if fo.Skip > 0 {
		opts.SetSkip(fo.Skip)
	}
	if fo.Limit > 0 {
		opts.SetLimit(fo.Limit)
	}
	if fo.Collation != nil {
		opts.SetCollation(fo.Collation)
	}
	cur, err := m.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []bson.Raw{}
	for cur.Next(ctx) {
		// cur.Current is reused by the driver between iterations
		raw := make(bson.Raw, len(cur.Current))
		copy(raw, cur.Current)
		out = append(out, raw)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoCollection) ReplaceOne(ctx context.Context, filter bson.M, doc interface{}) (int64, error) {
	res, err := m.col.ReplaceOne(ctx, filter, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return 0, fmt.Errorf("%s: %w: %v", m.Name(), ErrDuplicateKey, err)
		}
		return 0, err
	}
	return res.MatchedCount, nil
}

func (m *MongoCollection) DeleteOne(ctx context.Context, filter bson.M) (int64, error) {
	res, err := m.col.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// CreateIndexes is idempotent: Mongo ignores an index that already exists
// with the same keys and options.
func (m *MongoCollection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) error {
	if len(models) == 0 {
		return nil
	}
	if _, err := m.col.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create indexes on %s: %w", m.Name(), err)
	}
	return nil
}
