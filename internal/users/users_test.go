package users

import (
	"context"
	"testing"

	"github.com/als-computing/splash-server/internal/service"
	"github.com/als-computing/splash-server/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), store.NewMemoryCollection(CollectionName))
	require.NoError(t, err)
	return svc
}

func elrond() NewUser {
	return NewUser{
		GivenName:  "Elrond",
		FamilyName: "Half-elven",
		Email:      "elrond@rivendell.me",
		Authenticators: []Authenticator{
			{Issuer: "accounts.google.com", Email: "elrond@rivendell.me", Subject: "g-1"},
		},
	}
}

func TestGetUserAuthenticator(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	ack, err := svc.Create(ctx, nil, elrond())
	require.NoError(t, err)

	u, err := svc.GetUserAuthenticator(ctx, nil, "elrond@rivendell.me")
	require.NoError(t, err)
	assert.Equal(t, ack.UID, u.PrincipalID())
	assert.Equal(t, "Elrond Half-elven", u.DisplayName())

	_, err = svc.GetUserAuthenticator(ctx, nil, "sauron@barad-dur.me")
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.Create(ctx, nil, elrond())
	require.NoError(t, err)
	_, err = svc.GetUserAuthenticator(ctx, nil, "elrond@rivendell.me")
	require.ErrorIs(t, err, ErrMultipleUsersAuthenticator)
}

func TestUserFromClaims(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Create(ctx, nil, elrond())
	require.NoError(t, err)

	u, err := svc.UserFromClaims(ctx, map[string]interface{}{"email": "elrond@rivendell.me", "email_verified": true, "sub": "g-1"})
	require.NoError(t, err)
	assert.Equal(t, "Elrond", u.GivenName)

	u, err = svc.UserFromClaims(ctx, map[string]interface{}{"email": "elrond@rivendell.me", "email_verified": "true", "iss": "https://accounts.google.com"})
	require.NoError(t, err)
	assert.Equal(t, "Elrond", u.GivenName)

	_, err = svc.UserFromClaims(ctx, map[string]interface{}{"sub": "g-1", "email_verified": true})
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserFromClaimsRequiresVerifiedEmail(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Create(ctx, nil, elrond())
	require.NoError(t, err)

	for _, v := range []interface{}{nil, false, "false", 1} {
		claims := map[string]interface{}{"email": "elrond@rivendell.me", "sub": "attacker"}
		if v != nil {
			claims["email_verified"] = v
		}
		_, err := svc.UserFromClaims(ctx, claims)
		require.ErrorIs(t, err, ErrEmailNotVerified, "email_verified=%v", v)
	}
}

func TestUserFromClaimsMatchesIssuer(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Create(ctx, nil, elrond())
	require.NoError(t, err)

	_, err = svc.UserFromClaims(ctx, map[string]interface{}{
		"email": "elrond@rivendell.me", "email_verified": true, "iss": "https://orcid.org",
	})
	require.ErrorIs(t, err, ErrUserNotFound)

	// email and issuer must come from the same authenticator
	other := elrond()
	other.GivenName = "Elros"
	other.Authenticators = []Authenticator{
		{Issuer: "https://orcid.org", Email: "elros@numenor.me"},
		{Issuer: "accounts.google.com", Email: "elros@gmail.com"},
	}
	_, err = svc.Create(ctx, nil, other)
	require.NoError(t, err)
	_, err = svc.UserFromClaims(ctx, map[string]interface{}{
		"email": "elros@gmail.com", "email_verified": true, "iss": "https://orcid.org",
	})
	require.ErrorIs(t, err, ErrUserNotFound)
	u, err := svc.UserFromClaims(ctx, map[string]interface{}{
		"email": "elros@numenor.me", "email_verified": true, "iss": "https://orcid.org",
	})
	require.NoError(t, err)
	assert.Equal(t, "Elros", u.GivenName)
}

func TestUserIsPrincipal(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	ack, err := svc.Create(ctx, nil, elrond())
	require.NoError(t, err)
	require.Equal(t, service.NoPrincipal, ack.Metadata.Creator)

	creator, err := svc.InsecureGetUser(ctx, ack.UID)
	require.NoError(t, err)
	assert.False(t, creator.IsDisabled())

	next := elrond()
	next.GivenName = "Elros"
	ack2, err := svc.Create(ctx, creator, next)
	require.NoError(t, err)
	assert.Equal(t, ack.UID, ack2.Metadata.Creator)

	var nobody *User
	assert.Equal(t, "", nobody.PrincipalID())
	ack3, err := svc.Create(ctx, nobody, elrond())
	require.NoError(t, err)
	assert.Equal(t, service.NoPrincipal, ack3.Metadata.Creator)

	_, err = svc.InsecureGetUser(ctx, "missing")
	require.ErrorIs(t, err, service.ErrObjectNotFound)
}

func TestUserValidation(t *testing.T) {
	svc := newService(t)
	bad := elrond()
	bad.Email = "not-an-email"
	_, err := svc.Create(context.Background(), nil, bad)
	require.ErrorIs(t, err, service.ErrBadPayload)

	bad = elrond()
	bad.Authenticators[0].Issuer = ""
	_, err = svc.Create(context.Background(), nil, bad)
	require.ErrorIs(t, err, service.ErrBadPayload)
}
