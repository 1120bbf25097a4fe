package identity

import (
	"errors"
	"time"

	"tenantcore/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the access-token claims understood by the core. The subject is
// the identity id.
type Claims struct {
	Email          string `json:"email,omitempty"`
	IssuedAtMillis int64  `json:"iat_ms,omitempty"`
	jwt.RegisteredClaims
}

// IdentityID parses the subject.
func (c *Claims) IdentityID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, apperr.Authentication("token subject is not an identity id")
	}
	return id, nil
}

// issuedAt prefers the millisecond claim so a revocation in the same second
// as a later sign-in does not reject the new token.
func (c *Claims) issuedAt() time.Time {
	if c.IssuedAtMillis > 0 {
		return time.UnixMilli(c.IssuedAtMillis)
	}
	if c.IssuedAt != nil {
		return c.IssuedAt.Time
	}
	return time.Time{}
}

type tokenSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func (s tokenSigner) sign(id uuid.UUID, email string, now time.Time) (string, error) {
	claims := Claims{
		Email:          email,
		IssuedAtMillis: now.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s tokenSigner) parse(token string, now time.Time) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, tokenError(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, apperr.Authentication("invalid token")
	}
	return claims, nil
}

func tokenError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apperr.Wrap(err, apperr.CodeAuthentication, "token expired")
	}
	return apperr.Wrap(err, apperr.CodeAuthentication, "invalid token")
}
