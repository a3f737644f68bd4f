// Package teams stores teams and their member roles.
package teams

import (
	"context"

	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "teams"

// NewTeam is the create/update payload. Members maps user uid to roles.
type NewTeam struct {
	Name    string              `bson:"name" json:"name" validate:"required"`
	Members map[string][]string `bson:"members" json:"members" validate:"required"`
}

// Team is a stored team.
type Team struct {
	service.Envelope `bson:",inline"`
	NewTeam          `bson:",inline"`
}

func Indexes() []mongo.IndexModel {
	return append(service.DefaultIndexes(), mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
}

type Service struct {
	*service.Typed[NewTeam, Team]
}

func NewService(ctx context.Context, col store.Collection, opts ...service.Option) (*Service, error) {
	docs, err := service.NewBaseService(ctx, col, Indexes(), opts...)
	if err != nil {
		return nil, err
	}
	return &Service{Typed: service.NewTyped[NewTeam, Team](docs)}, nil
}

// GetUserTeams lists the teams userUID is a member of.
func (s *Service) GetUserTeams(ctx context.Context, user service.Principal, userUID string) ([]*Team, error) {
	return s.RetrieveMultiple(ctx, user, service.ListOptions{
		Page:  1,
		Query: bson.M{"members." + userUID: bson.M{"$exists": true}},
	})
}

// RolesOf returns the roles userUID holds in the team.
func (t *Team) RolesOf(userUID string) []string {
	return t.Members[userUID]
}
