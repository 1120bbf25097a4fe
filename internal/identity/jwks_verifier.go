package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/logger"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSVerifier validates tokens issued by an external identity provider
// against its published key set.
type JWKSVerifier struct {
	jwks   *keyfunc.JWKS
	issuer string
}

// NewJWKSVerifier fetches the key set at url and refreshes it in the background.
func NewJWKSVerifier(url, issuer string, refresh time.Duration, log logger.Logger) (*JWKSVerifier, error) {
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		RefreshInterval:   refresh,
		RefreshRateLimit:  time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			log.Warn("failed to refresh JWKS", logger.String("url", url), logger.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", url, err)
	}
	return &JWKSVerifier{jwks: jwks, issuer: issuer}, nil
}

// NewStaticJWKSVerifier uses a fixed key set.
func NewStaticJWKSVerifier(raw json.RawMessage, issuer string) (*JWKSVerifier, error) {
	jwks, err := keyfunc.NewJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return &JWKSVerifier{jwks: jwks, issuer: issuer}, nil
}

func (v *JWKSVerifier) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.FromContext(err, "verify token")
	}
	var opts []jwt.ParserOption
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, v.jwks.Keyfunc, opts...)
	if err != nil {
		return nil, tokenError(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, apperr.Authentication("invalid token")
	}
	if _, err := claims.IdentityID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// Close stops the background refresh.
func (v *JWKSVerifier) Close() {
	v.jwks.EndBackground()
}
