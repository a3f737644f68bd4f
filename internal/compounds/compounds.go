// Package compounds stores chemical compound records and their documentation.
package compounds

import (
	"context"

	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/internal/store"
	"go.mongodb.org/mongo-driver/bson"
)

const CollectionName = "compounds"

// Metadata is a titled note about the compound.
type Metadata struct {
	Title string `bson:"title" json:"title" validate:"required"`
	Text  string `bson:"text" json:"text" validate:"required"`
}

type Section struct {
	Title string `bson:"title" json:"title" validate:"required"`
	Text  string `bson:"text" json:"text" validate:"required"`
}

type Documentation struct {
	Sections []Section `bson:"sections" json:"sections" validate:"dive"`
}

type NewCompound struct {
	Species       string        `bson:"species" json:"species" validate:"required"`
	Entries       []Metadata    `bson:"metadata" json:"metadata" validate:"required,dive"`
	Documentation Documentation `bson:"documentation" json:"documentation"`
}

type Compound struct {
	service.Envelope `bson:",inline"`
	NewCompound      `bson:",inline"`
}

type Service struct {
	*service.Typed[NewCompound, Compound]
}

func NewService(ctx context.Context, col store.Collection, opts ...service.Option) (*Service, error) {
	docs, err := service.NewBaseService(ctx, col, service.DefaultIndexes(), opts...)
	if err != nil {
		return nil, err
	}
	return &Service{Typed: service.NewTyped[NewCompound, Compound](docs)}, nil
}

// RetrieveBySpecies lists compounds of one species.
func (s *Service) RetrieveBySpecies(ctx context.Context, user service.Principal, species string, page, pageSize int) ([]*Compound, error) {
	return s.RetrieveMultiple(ctx, user, service.ListOptions{
		Page:     page,
		PageSize: pageSize,
		Query:    bson.M{"species": species},
	})
}
