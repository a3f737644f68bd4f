package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/als-computing/splash-server/internal/store"
	"github.com/als-computing/splash-server/pkg/metrics"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// HistorySuffix names the history collection of a versioned resource.
const HistorySuffix = "_old"

// VersionedService keeps exactly one current revision per uid in the
// primary collection and every superseded revision in the history
// collection.
type VersionedService struct {
	base    *BaseService
	history *HistoricService
	guards  []Guard
	log     *zap.Logger
}

var _ DocumentService = (*VersionedService)(nil)

// NewVersionedService wires a primary collection and its history collection.
func NewVersionedService(ctx context.Context, col, historyCol store.Collection, indexes []mongo.IndexModel, opts ...Option) (*VersionedService, error) {
	base, err := NewBaseService(ctx, col, indexes, opts...)
	if err != nil {
		return nil, err
	}
	history, err := NewHistoricService(ctx, historyCol, opts...)
	if err != nil {
		return nil, err
	}
	return &VersionedService{
		base:    base,
		history: history,
		guards:  []Guard{CheckNoUID, CheckBaseMetadata, CheckVersionedMetadata},
		log:     base.log,
	}, nil
}

// Base exposes the primary service for resource specific queries.
func (v *VersionedService) Base() *BaseService { return v.base }

// History exposes the history service.
func (v *VersionedService) History() *HistoricService { return v.history }

// Create stores the first revision with version 1.
func (v *VersionedService) Create(ctx context.Context, user Principal, data bson.M) (ack *Ack, err error) {
	defer func() { v.base.observe("create", err) }()
	if err := runGuards(data, v.guards); err != nil {
		return nil, err
	}
	first := 1
	return v.base.create(ctx, user, data, &first)
}

func (v *VersionedService) RetrieveOne(ctx context.Context, user Principal, uid string) (*Document, error) {
	return v.base.RetrieveOne(ctx, user, uid)
}

func (v *VersionedService) RetrieveMultiple(ctx context.Context, user Principal, opts ListOptions) ([]*Document, error) {
	return v.base.RetrieveMultiple(ctx, user, opts)
}

func (v *VersionedService) RetrieveArchived(ctx context.Context, user Principal, page, pageSize int) ([]*Document, error) {
	return v.base.RetrieveArchived(ctx, user, page, pageSize)
}

// Update writes a new revision and moves the previous one into history.
// When the primary write commits but the snapshot cannot be stored, the Ack
// is returned together with an error wrapping ErrHistoryWrite.
func (v *VersionedService) Update(ctx context.Context, user Principal, data bson.M, uid, etag string) (ack *Ack, err error) {
	defer func() { v.base.observe("update", err) }()
	if err := runGuards(data, v.guards); err != nil {
		return nil, err
	}
	cur, err := v.base.RetrieveOne(ctx, user, uid)
	if err != nil {
		return nil, err
	}
	return v.update(ctx, user, data, uid, etag, mutation{current: cur})
}

func (v *VersionedService) update(ctx context.Context, user Principal, data bson.M, uid, etag string, m mutation) (*Ack, error) {
	cur := m.current
	prev := cur.Metadata.VersionNumber()
	if prev < 1 {
		prev = 1
	}
	next := prev + 1
	m.version = &next
	ack, err := v.base.update(ctx, user, data, uid, etag, m)
	if err != nil {
		return nil, err
	}

	snapshot := *cur
	snapshot.Metadata = cur.Metadata.clone()
	snapshot.Metadata.Version = &prev
	if err := v.history.InsertSnapshot(ctx, &snapshot); err != nil {
		metrics.HistoryWriteFailures.WithLabelValues(v.base.col.Name()).Inc()
		v.log.Error("history snapshot lost", zap.String("uid", uid), zap.Int("version", prev), zap.Error(err))
		return ack, fmt.Errorf("%w: uid %s version %d: %v", ErrHistoryWrite, uid, prev, err)
	}
	return ack, nil
}

// ArchiveAction archives or restores through the versioned update path, so
// the flag change produces a new revision.
func (v *VersionedService) ArchiveAction(ctx context.Context, user Principal, action ArchiveAction, uid, etag string) (ack *Ack, err error) {
	defer func() { v.base.observe("archive_action", err) }()
	cur, archived, err := v.base.prepareArchive(ctx, user, action, uid)
	if err != nil {
		return nil, err
	}
	return v.update(ctx, user, nil, uid, etag, mutation{current: cur, archived: &archived, keepBody: true})
}

// Delete is not supported for versioned documents.
func (v *VersionedService) Delete(ctx context.Context, user Principal, uid string) error {
	return ErrNotImplemented
}

// RetrieveVersion returns the document as it was at version.
func (v *VersionedService) RetrieveVersion(ctx context.Context, user Principal, uid string, version int) (*Document, error) {
	if version < 1 {
		return nil, ErrVersionNotPositive
	}
	cur, err := v.base.RetrieveOne(ctx, user, uid)
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return nil, err
	}
	if cur != nil && cur.Metadata.VersionNumber() == version {
		return cur, nil
	}
	doc, err := v.history.RetrieveVersion(ctx, uid, version)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, ErrVersionNotFound) {
		return nil, err
	}
	if cur != nil {
		return nil, ErrVersionNotFound
	}
	exists, err := v.history.HasRevisions(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrObjectNotFound
	}
	return nil, ErrVersionNotFound
}

// GetNumVersions returns the current version number.
func (v *VersionedService) GetNumVersions(ctx context.Context, user Principal, uid string) (int, error) {
	cur, err := v.base.RetrieveOne(ctx, user, uid)
	if err != nil {
		return 0, err
	}
	return cur.Metadata.VersionNumber(), nil
}

// ListVersions returns every revision of uid, oldest first, ending with the
// current one.
func (v *VersionedService) ListVersions(ctx context.Context, user Principal, uid string) ([]*Document, error) {
	cur, err := v.base.RetrieveOne(ctx, user, uid)
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return nil, err
	}
	revs, err := v.history.ListVersions(ctx, uid)
	if err != nil {
		return nil, err
	}
	if cur != nil {
		revs = append(revs, cur)
	}
	if len(revs) == 0 {
		return nil, ErrObjectNotFound
	}
	return revs, nil
}
