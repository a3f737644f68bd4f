// Package references stores bibliographic references keyed by DOI. The
// payload is open: any CSL-JSON field may accompany the required ones.
package references

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "references"

// ErrLookupKey is returned when RetrieveOne gets neither or both keys.
var ErrLookupKey = errors.New("exactly one of uid or doi must be given")

// NewReference is a CSL-JSON like payload with a required DOI and origin_url.
type NewReference bson.M

func (r NewReference) Validate() error {
	for _, k := range []string{"DOI", "origin_url"} {
		v, ok := r[k].(string)
		if !ok || v == "" {
			return fmt.Errorf("field %q is required", k)
		}
	}
	return nil
}

// Reference is a stored reference. It keeps every field of the payload.
type Reference = service.Document

// DOI returns the reference's DOI.
func DOI(r *Reference) string {
	s, _ := r.Body["DOI"].(string)
	return s
}

func Indexes() []mongo.IndexModel {
	return append(service.DefaultIndexes(),
		mongo.IndexModel{Keys: bson.D{{Key: "$**", Value: "text"}}},
		mongo.IndexModel{Keys: bson.D{{Key: "DOI", Value: 1}}, Options: options.Index().SetUnique(true)},
	)
}

// searchFields are matched by Search.
var searchFields = []string{
	"title",
	"author.given",
	"author.family",
	"author.literal",
	"author.dropping-particle",
	"author.non-dropping-particle",
	"author.suffix",
}

type Service struct {
	*service.Typed[NewReference, Reference]
	docs *service.BaseService
}

func NewService(ctx context.Context, col store.Collection, opts ...service.Option) (*Service, error) {
	docs, err := service.NewBaseService(ctx, col, Indexes(), opts...)
	if err != nil {
		return nil, err
	}
	return &Service{Typed: service.NewTyped[NewReference, Reference](docs), docs: docs}, nil
}

// RetrieveOne looks a reference up by uid or by DOI.
func (s *Service) RetrieveOne(ctx context.Context, user service.Principal, uid, doi string) (*Reference, error) {
	if (uid == "") == (doi == "") {
		return nil, ErrLookupKey
	}
	if uid != "" {
		return s.docs.RetrieveOne(ctx, user, uid)
	}
	return s.docs.FindOne(ctx, bson.M{"DOI": doi})
}

// Search matches text case-insensitively against the title and author
// name parts. text is matched literally.
func (s *Service) Search(ctx context.Context, user service.Principal, text string, page, pageSize int) ([]*Reference, error) {
	pattern := bson.M{"$regex": regexp.QuoteMeta(text), "$options": "i"}
	or := make(bson.A, 0, len(searchFields))
	for _, f := range searchFields {
		or = append(or, bson.M{f: pattern})
	}
	return s.RetrieveMultiple(ctx, user, service.ListOptions{
		Page:     page,
		PageSize: pageSize,
		Query:    bson.M{"$or": or},
	})
}
