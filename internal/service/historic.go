package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/als-computing/splash-server/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// HistoricIndexes is the unique (uid, version) index of a history collection.
func HistoricIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{{
		Keys:    bson.D{{Key: FieldUID, Value: 1}, {Key: "splash_md.version", Value: 1}},
		Options: options.Index().SetUnique(true),
	}}
}

// HistoricService stores superseded revisions of versioned documents. It
// only accepts whole snapshots; revisions are never updated or removed.
type HistoricService struct {
	col store.Collection
	log *zap.Logger
}

func NewHistoricService(ctx context.Context, col store.Collection, opts ...Option) (*HistoricService, error) {
	s := newSettings(opts)
	if err := col.CreateIndexes(ctx, HistoricIndexes()); err != nil {
		return nil, fmt.Errorf("create indexes on %s: %w", col.Name(), err)
	}
	return &HistoricService{col: col, log: s.log.With(zap.String("collection", col.Name()))}, nil
}

// InsertSnapshot stores doc as it is. A second snapshot of the same
// (uid, version) fails with store.ErrDuplicateKey.
func (h *HistoricService) InsertSnapshot(ctx context.Context, doc *Document) error {
	if err := h.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert into %s: %w", h.col.Name(), err)
	}
	h.log.Debug("snapshot stored", zap.String("uid", doc.UID), zap.Int("version", doc.Metadata.VersionNumber()))
	return nil
}

// RetrieveVersion returns ErrVersionNotFound when the revision is absent.
func (h *HistoricService) RetrieveVersion(ctx context.Context, uid string, version int) (*Document, error) {
	raw, err := h.col.FindOne(ctx, bson.M{FieldUID: uid, "splash_md.version": version})
	if errors.Is(err, store.ErrNoDocuments) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", h.col.Name(), err)
	}
	return decodeDocument(raw)
}

// ListVersions returns the stored revisions of uid, oldest first.
func (h *HistoricService) ListVersions(ctx context.Context, uid string) ([]*Document, error) {
	raws, err := h.col.Find(ctx, bson.M{FieldUID: uid}, store.FindOptions{
		Sort: store.Sort{{Field: "splash_md.version", Direction: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", h.col.Name(), err)
	}
	out := make([]*Document, 0, len(raws))
	for _, r := range raws {
		d, err := decodeDocument(r)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// HasRevisions reports whether any revision of uid was stored.
func (h *HistoricService) HasRevisions(ctx context.Context, uid string) (bool, error) {
	_, err := h.col.FindOne(ctx, bson.M{FieldUID: uid})
	if errors.Is(err, store.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find in %s: %w", h.col.Name(), err)
	}
	return true, nil
}
