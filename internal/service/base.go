package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/als-computing/splash-server/internal/store"
	"github.com/als-computing/splash-server/pkg/metrics"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const DefaultPageSize = 10

// ArchiveAction is the operation requested through ArchiveAction.
type ArchiveAction string

const (
	Archive ArchiveAction = "archive"
	Restore ArchiveAction = "restore"
)

// ListOptions controls RetrieveMultiple. The zero value lists the first
// page of non-archived documents, most recently edited first.
type ListOptions struct {
	Page     int
	PageSize int
	Query    bson.M
	Sort     store.Sort
	// ExcludeArchived defaults to true when nil.
	ExcludeArchived *bool
	Collation       *options.Collation
}

// DocumentService is the surface shared by the base and versioned services.
type DocumentService interface {
	Create(ctx context.Context, user Principal, data bson.M) (*Ack, error)
	RetrieveOne(ctx context.Context, user Principal, uid string) (*Document, error)
	RetrieveMultiple(ctx context.Context, user Principal, opts ListOptions) ([]*Document, error)
	RetrieveArchived(ctx context.Context, user Principal, page, pageSize int) ([]*Document, error)
	Update(ctx context.Context, user Principal, data bson.M, uid, etag string) (*Ack, error)
	ArchiveAction(ctx context.Context, user Principal, action ArchiveAction, uid, etag string) (*Ack, error)
	Delete(ctx context.Context, user Principal, uid string) error
}

type settings struct {
	clock func() time.Time
	newID func() string
	log   *zap.Logger
}

// Option configures a service.
type Option func(*settings)

// WithClock overrides the time source; values are truncated to the second.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) { s.clock = clock }
}

// WithLogger sets the structured logger used for mutations and conflicts.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithIDGenerator overrides uid and etag generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *settings) { s.newID = gen }
}

func newSettings(opts []Option) settings {
	s := settings{clock: time.Now, newID: uuid.NewString, log: zap.NewNop()}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// DefaultIndexes are the indexes of every primary collection.
func DefaultIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: FieldUID, Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "splash_md.creator", Value: 1}}},
		{Keys: bson.D{{Key: "splash_md.last_edit", Value: -1}, {Key: FieldUID, Value: -1}}},
	}
}

// BaseService implements create/retrieve/update/archive over one collection
// with etag based optimistic concurrency.
type BaseService struct {
	col    store.Collection
	guards []Guard
	clock  func() time.Time
	newID  func() string
	log    *zap.Logger
}

var _ DocumentService = (*BaseService)(nil)

// NewBaseService creates the given indexes and returns the service.
func NewBaseService(ctx context.Context, col store.Collection, indexes []mongo.IndexModel, opts ...Option) (*BaseService, error) {
	s := newSettings(opts)
	if len(indexes) > 0 {
		if err := col.CreateIndexes(ctx, indexes); err != nil {
			return nil, fmt.Errorf("create indexes on %s: %w", col.Name(), err)
		}
	}
	return &BaseService{
		col:    col,
		guards: []Guard{CheckNoUID, CheckBaseMetadata},
		clock:  s.clock,
		newID:  s.newID,
		log:    s.log.With(zap.String("collection", col.Name())),
	}, nil
}

// Collection returns the underlying collection.
func (s *BaseService) Collection() store.Collection { return s.col }

func (s *BaseService) now() time.Time {
	return s.clock().UTC().Truncate(time.Second)
}

func (s *BaseService) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = Code(err)
	}
	metrics.DocumentOperations.WithLabelValues(s.col.Name(), op, outcome).Inc()
}

func (s *BaseService) Create(ctx context.Context, user Principal, data bson.M) (ack *Ack, err error) {
	defer func() { s.observe("create", err) }()
	if err := runGuards(data, s.guards); err != nil {
		return nil, err
	}
	return s.create(ctx, user, data, nil)
}

func (s *BaseService) create(ctx context.Context, user Principal, data bson.M, version *int) (*Ack, error) {
	extra, err := metadataOf(data)
	if err != nil {
		return nil, err
	}
	now := s.now()
	md := SystemMetadata{
		Creator:    actorID(user),
		CreateDate: now,
		LastEdit:   now,
		EditRecord: []EditRecord{},
		Etag:       s.newID(),
		Version:    version,
		Extra:      mergeExtra(nil, extra),
	}
	doc := Document{UID: s.newID(), Metadata: md, Body: stripReserved(data)}
	if err := s.col.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", s.col.Name(), err)
	}
	s.log.Debug("document created", zap.String("uid", doc.UID), zap.String("creator", md.Creator))
	return &Ack{UID: doc.UID, Metadata: md.clone()}, nil
}

// RetrieveOne returns ErrObjectNotFound when no document has the uid.
func (s *BaseService) RetrieveOne(ctx context.Context, user Principal, uid string) (*Document, error) {
	return s.findOne(ctx, bson.M{FieldUID: uid})
}

func (s *BaseService) findOne(ctx context.Context, filter bson.M) (*Document, error) {
	raw, err := s.col.FindOne(ctx, filter)
	if errors.Is(err, store.ErrNoDocuments) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", s.col.Name(), err)
	}
	return decodeDocument(raw)
}

// FindOne returns the first document matching filter. Resource services use
// it for lookups by secondary keys.
func (s *BaseService) FindOne(ctx context.Context, filter bson.M) (*Document, error) {
	return s.findOne(ctx, filter)
}

func decodeDocument(raw bson.Raw) (*Document, error) {
	var d Document
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BaseService) RetrieveMultiple(ctx context.Context, user Principal, opts ListOptions) ([]*Document, error) {
	if opts.Page < 1 {
		return nil, ErrBadPageArgument
	}
	pageSize := opts.PageSize
	if pageSize < 0 {
		return nil, ErrBadPageSizeArgument
	}
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	// skip = pageSize*(page-1) must fit in an int64
	if int64(opts.Page-1) > math.MaxInt64/int64(pageSize) {
		return nil, ErrBadPageArgument
	}
	sort, err := normalizeSort(opts.Sort)
	if err != nil {
		return nil, err
	}
	if err := checkCollation(opts.Collation); err != nil {
		return nil, err
	}
	query := opts.Query
	if opts.ExcludeArchived == nil || *opts.ExcludeArchived {
		query = excludeArchived(query)
	}
	if query == nil {
		query = bson.M{}
	}
	raws, err := s.col.Find(ctx, query, store.FindOptions{
		Sort:      sort,
		Skip:      int64(pageSize) * int64(opts.Page-1),
		Limit:     int64(pageSize),
		Collation: opts.Collation,
	})
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", s.col.Name(), err)
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

// RetrieveArchived lists archived documents only.
func (s *BaseService) RetrieveArchived(ctx context.Context, user Principal, page, pageSize int) ([]*Document, error) {
	include := false
	return s.RetrieveMultiple(ctx, user, ListOptions{
		Page:            page,
		PageSize:        pageSize,
		Query:           bson.M{"splash_md.archived": true},
		ExcludeArchived: &include,
	})
}

func defaultSort() store.Sort {
	return store.Sort{{Field: "splash_md.last_edit", Direction: -1}, {Field: FieldUID, Direction: -1}}
}

// normalizeSort validates the caller's sort and appends the uid tiebreak.
func normalizeSort(in store.Sort) (store.Sort, error) {
	if len(in) == 0 {
		return defaultSort(), nil
	}
	out := make(store.Sort, 0, len(in)+1)
	hasUID := false
	for _, f := range in {
		if f.Field == "" || (f.Direction != 1 && f.Direction != -1) {
			return nil, ErrBadSortArgument
		}
		if f.Field == FieldUID {
			hasUID = true
		}
		out = append(out, f)
	}
	if !hasUID {
		out = append(out, store.SortField{Field: FieldUID, Direction: -1})
	}
	return out, nil
}

func checkCollation(c *options.Collation) error {
	if c == nil {
		return nil
	}
	if c.Locale == "" || c.Strength < 1 || c.Strength > 5 {
		return ErrBadCollationArgument
	}
	return nil
}

func excludeArchived(query bson.M) bson.M {
	cond := bson.M{"splash_md.archived": bson.M{"$ne": true}}
	if len(query) == 0 {
		return cond
	}
	return bson.M{"$and": bson.A{query, cond}}
}

// mutation carries the service-owned changes an update applies on top of
// the caller's payload.
type mutation struct {
	version  *int
	archived *bool
	// current avoids a second read when the caller already fetched it.
	current *Document
	// keepBody reuses the stored body instead of the payload.
	keepBody bool
}

// Update replaces the document body. etag may be empty to skip the
// precondition.
func (s *BaseService) Update(ctx context.Context, user Principal, data bson.M, uid, etag string) (ack *Ack, err error) {
	defer func() { s.observe("update", err) }()
	if err := runGuards(data, s.guards); err != nil {
		return nil, err
	}
	return s.update(ctx, user, data, uid, etag, mutation{})
}

func (s *BaseService) update(ctx context.Context, user Principal, data bson.M, uid, etag string, m mutation) (*Ack, error) {
	extra, err := metadataOf(data)
	if err != nil {
		return nil, err
	}
	cur := m.current
	if cur == nil {
		if cur, err = s.RetrieveOne(ctx, user, uid); err != nil {
			return nil, err
		}
	}
	if etag != "" && etag != cur.Metadata.Etag {
		return nil, s.conflict(etag, cur.Metadata)
	}

	md := cur.Metadata.clone()
	md.Extra = mergeExtra(md.Extra, extra)
	if m.archived != nil {
		a := *m.archived
		md.Archived = &a
	}
	if m.version != nil {
		v := *m.version
		md.Version = &v
	}
	now := s.now()
	md.LastEdit = now
	md.EditRecord = append(md.EditRecord, EditRecord{Date: now, User: actorID(user)})
	md.Etag = s.newID()

	body := stripReserved(data)
	if m.keepBody {
		body = cur.Body
	}
	filter := bson.M{FieldUID: uid}
	if cur.Metadata.Etag != "" {
		filter["splash_md.etag"] = cur.Metadata.Etag
	}
	matched, err := s.col.ReplaceOne(ctx, filter, Document{UID: uid, Metadata: md, Body: body})
	if err != nil {
		return nil, fmt.Errorf("replace in %s: %w", s.col.Name(), err)
	}
	if matched == 0 {
		latest, err := s.RetrieveOne(ctx, user, uid)
		if err != nil {
			return nil, err
		}
		return nil, s.conflict(cur.Metadata.Etag, latest.Metadata)
	}
	s.log.Debug("document updated", zap.String("uid", uid), zap.String("etag", md.Etag))
	return &Ack{UID: uid, Metadata: md}, nil
}

func (s *BaseService) conflict(supplied string, current SystemMetadata) error {
	metrics.EtagConflicts.WithLabelValues(s.col.Name()).Inc()
	s.log.Info("etag mismatch", zap.String("supplied", supplied), zap.String("current", current.Etag))
	return newEtagMismatch(supplied, current)
}

// ArchiveAction archives or restores a document without touching its body.
func (s *BaseService) ArchiveAction(ctx context.Context, user Principal, action ArchiveAction, uid, etag string) (ack *Ack, err error) {
	defer func() { s.observe("archive_action", err) }()
	cur, archived, err := s.prepareArchive(ctx, user, action, uid)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, user, nil, uid, etag, mutation{archived: &archived, current: cur, keepBody: true})
}

// prepareArchive validates the action against the stored state and returns
// the target value of the archived flag.
func (s *BaseService) prepareArchive(ctx context.Context, user Principal, action ArchiveAction, uid string) (*Document, bool, error) {
	if action != Archive && action != Restore {
		return nil, false, ErrBadArchiveAction
	}
	cur, err := s.RetrieveOne(ctx, user, uid)
	if err != nil {
		return nil, false, err
	}
	archived := cur.Metadata.IsArchived()
	if action == Archive && archived {
		return nil, false, ErrArchiveConflict
	}
	if action == Restore && !archived {
		return nil, false, ErrRestoreConflict
	}
	return cur, action == Archive, nil
}

// Delete removes the document by uid.
func (s *BaseService) Delete(ctx context.Context, user Principal, uid string) (err error) {
	defer func() { s.observe("delete", err) }()
	n, err := s.col.DeleteOne(ctx, bson.M{FieldUID: uid})
	if err != nil {
		return fmt.Errorf("delete in %s: %w", s.col.Name(), err)
	}
	if n == 0 {
		return ErrObjectNotFound
	}
	return nil
}

// mergeExtra copies caller supplied splash_md subfields into dst, skipping
// fields the service owns.
func mergeExtra(dst, src map[string]interface{}) map[string]interface{} {
	for k, v := range src {
		if isKnownMetadataField(k) {
			continue
		}
		if dst == nil {
			dst = map[string]interface{}{}
		}
		dst[k] = v
	}
	return dst
}

func isKnownMetadataField(k string) bool {
	for _, f := range knownMetadataFields {
		if f == k {
			return true
		}
	}
	return false
}
