// Package users stores splash users and resolves them from identity
// provider claims.
package users

import (
	"context"
	"errors"
	"strings"

	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/internal/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const CollectionName = "users"

var (
	ErrUserNotFound               = errors.New("no user registered for this authenticator")
	ErrMultipleUsersAuthenticator = errors.New("more than one user registered for this authenticator")
	ErrEmailNotVerified           = errors.New("identity provider has not verified the email")
)

// Authenticator links a user to an identity provider account.
type Authenticator struct {
	Issuer  string `bson:"issuer" json:"issuer" validate:"required"`
	Email   string `bson:"email" json:"email" validate:"required,email"`
	Subject string `bson:"subject,omitempty" json:"subject,omitempty"`
}

type NewUser struct {
	GivenName      string          `bson:"given_name" json:"given_name" validate:"required"`
	FamilyName     string          `bson:"family_name" json:"family_name" validate:"required"`
	Email          string          `bson:"email,omitempty" json:"email,omitempty" validate:"omitempty,email"`
	Authenticators []Authenticator `bson:"authenticators,omitempty" json:"authenticators,omitempty" validate:"dive"`
}

// User is a stored user and the principal requests run as.
type User struct {
	service.Envelope `bson:",inline"`
	NewUser          `bson:",inline"`
	Disabled         *bool `bson:"disabled,omitempty" json:"disabled,omitempty"`
}

// PrincipalID is the user's uid. It is safe on a nil *User.
func (u *User) PrincipalID() string {
	if u == nil {
		return ""
	}
	return u.UID
}

// IsDisabled reports whether the account was switched off.
func (u *User) IsDisabled() bool {
	return u != nil && u.Disabled != nil && *u.Disabled
}

// DisplayName joins the given and family names.
func (u *User) DisplayName() string {
	return strings.TrimSpace(u.GivenName + " " + u.FamilyName)
}

func Indexes() []mongo.IndexModel {
	return append(service.DefaultIndexes(), mongo.IndexModel{
		Keys: bson.D{
			{Key: "given_name", Value: "text"},
			{Key: "family_name", Value: "text"},
			{Key: "email", Value: "text"},
		},
	})
}

// Service encapsulates user-related business logic
type Service struct {
	*service.Typed[NewUser, User]
}

func NewService(ctx context.Context, col store.Collection, opts ...service.Option) (*Service, error) {
	docs, err := service.NewBaseService(ctx, col, Indexes(), opts...)
	if err != nil {
		return nil, err
	}
	return &Service{Typed: service.NewTyped[NewUser, User](docs)}, nil
}

// GetUserAuthenticator finds the single user with an authenticator for email.
func (s *Service) GetUserAuthenticator(ctx context.Context, user service.Principal, email string) (*User, error) {
	return s.findAuthenticator(ctx, user, bson.M{"email": email})
}

func (s *Service) findAuthenticator(ctx context.Context, user service.Principal, match bson.M) (*User, error) {
	found, err := s.RetrieveMultiple(ctx, user, service.ListOptions{
		Page:     1,
		PageSize: 2,
		Query:    bson.M{"authenticators": bson.M{"$elemMatch": match}},
	})
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, ErrUserNotFound
	case 1:
		return found[0], nil
	}
	return nil, ErrMultipleUsersAuthenticator
}

// UserFromClaims resolves verified id-token claims to a registered user.
// The provider must have verified the email, and when the token names an
// issuer the authenticator must have been registered for it.
func (s *Service) UserFromClaims(ctx context.Context, claims map[string]interface{}) (*User, error) {
	email, _ := claims["email"].(string)
	if email == "" {
		return nil, ErrUserNotFound
	}
	if !emailVerified(claims["email_verified"]) {
		return nil, ErrEmailNotVerified
	}
	match := bson.M{"email": email}
	if iss, _ := claims["iss"].(string); iss != "" {
		match["issuer"] = bson.M{"$in": issuerForms(iss)}
	}
	return s.findAuthenticator(ctx, nil, match)
}

// Some providers send email_verified as a string.
func emailVerified(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}

// issuerForms lists iss with and without its https scheme; Google uses both.
func issuerForms(iss string) bson.A {
	bare := strings.TrimSuffix(strings.TrimPrefix(iss, "https://"), "/")
	return bson.A{iss, bare, "https://" + bare}
}

// InsecureGetUser loads a user without a requesting principal. It is meant
// for authentication, before a principal exists.
func (s *Service) InsecureGetUser(ctx context.Context, uid string) (*User, error) {
	return s.RetrieveOne(ctx, nil, uid)
}
