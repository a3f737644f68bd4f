// Package pages stores versioned documentation pages.
package pages

import (
	"context"

	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	CollectionName        = "pages"
	HistoryCollectionName = CollectionName + service.HistorySuffix
)

// ReferenceDoi links a page to a stored reference.
type ReferenceDoi struct {
	UID    string `bson:"uid" json:"uid" validate:"required"`
	InText bool   `bson:"in_text" json:"in_text"`
}

type NewPage struct {
	PageType      string         `bson:"page_type" json:"page_type" validate:"required"`
	Title         string         `bson:"title" json:"title" validate:"required"`
	Documentation string         `bson:"documentation" json:"documentation" validate:"required"`
	References    []ReferenceDoi `bson:"references" json:"references" validate:"dive"`
}

type Page struct {
	service.Envelope `bson:",inline"`
	NewPage          `bson:",inline"`
}

func Indexes() []mongo.IndexModel {
	return append(service.DefaultIndexes(),
		mongo.IndexModel{Keys: bson.D{{Key: "title", Value: "text"}, {Key: "documentation", Value: "text"}}},
		mongo.IndexModel{Keys: bson.D{{Key: "title", Value: 1}, {Key: "splash_md.last_edit", Value: -1}}},
	)
}

// DefaultSort lists pages by title, then most recent edit.
func DefaultSort() store.Sort {
	return store.Sort{{Field: "title", Direction: 1}, {Field: "splash_md.last_edit", Direction: -1}}
}

type Service struct {
	*service.Typed[NewPage, Page]
	docs *service.VersionedService
}

func NewService(ctx context.Context, col, history store.Collection, opts ...service.Option) (*Service, error) {
	docs, err := service.NewVersionedService(ctx, col, history, Indexes(), opts...)
	if err != nil {
		return nil, err
	}
	return &Service{Typed: service.NewTyped[NewPage, Page](docs), docs: docs}, nil
}

// Versioned exposes the underlying versioned document service.
func (s *Service) Versioned() *service.VersionedService { return s.docs }

// RetrieveMultiple applies the page ordering unless the caller chose one.
func (s *Service) RetrieveMultiple(ctx context.Context, user service.Principal, opts service.ListOptions) ([]*Page, error) {
	if len(opts.Sort) == 0 {
		opts.Sort = DefaultSort()
	}
	return s.Typed.RetrieveMultiple(ctx, user, opts)
}

func (s *Service) RetrieveByPageType(ctx context.Context, user service.Principal, pageType string, page, pageSize int) ([]*Page, error) {
	return s.RetrieveMultiple(ctx, user, service.ListOptions{
		Page:     page,
		PageSize: pageSize,
		Query:    bson.M{"page_type": pageType},
	})
}

func (s *Service) RetrieveVersion(ctx context.Context, user service.Principal, uid string, version int) (*Page, error) {
	doc, err := s.docs.RetrieveVersion(ctx, user, uid, version)
	if err != nil {
		return nil, err
	}
	return service.DecodeAs[Page](doc)
}

func (s *Service) GetNumVersions(ctx context.Context, user service.Principal, uid string) (int, error) {
	return s.docs.GetNumVersions(ctx, user, uid)
}

func (s *Service) ListVersions(ctx context.Context, user service.Principal, uid string) ([]*Page, error) {
	docs, err := s.docs.ListVersions(ctx, user, uid)
	if err != nil {
		return nil, err
	}
	return service.DecodeAll[Page](docs)
}
