// Package tokens issues and verifies splash access tokens: HS256 JWTs whose
// subject is the user's uid.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/als-computing/splash-server/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid access token")

// Claims are the verified contents of an access token.
type Claims struct {
	Subject   string
	ID        string
	ExpiresAt time.Time
}

// Issuer signs and parses access tokens with one shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// NewIssuerFromConfig uses the auth section of cfg.
func NewIssuerFromConfig(cfg *config.Config) *Issuer {
	return NewIssuer(cfg.Auth.TokenSecret, cfg.Auth.AccessTokenTTL)
}

// TTL is the lifetime of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue creates a signed token for userUID.
func (i *Issuer) Issue(userUID string) (string, error) {
	if userUID == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   userUID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Parse verifies signature, algorithm and expiry.
func (i *Issuer) Parse(token string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &rc, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if rc.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	c := &Claims{Subject: rc.Subject, ID: rc.ID}
	if rc.ExpiresAt != nil {
		c.ExpiresAt = rc.ExpiresAt.Time
	}
	return c, nil
}
