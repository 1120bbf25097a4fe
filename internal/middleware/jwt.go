package middleware

import (
	"errors"

	"tenantcore/internal/apperr"
	"tenantcore/internal/common"
	"tenantcore/internal/identity"
	"tenantcore/internal/logger"
	"tenantcore/internal/services"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	// TenantHeader selects the tenant a platform admin acts in.
	TenantHeader = "X-Tenant-ID"

	claimsKey  = "identity_claims"
	managerKey = "session_manager"
)

// SessionFactory builds a request-scoped session manager.
type SessionFactory func() *services.SessionManager

// Authenticator turns a bearer token into a resolved session.
type Authenticator struct {
	verifier   identity.TokenVerifier
	newSession SessionFactory
	log        logger.Logger
}

func NewAuthenticator(verifier identity.TokenVerifier, newSession SessionFactory, log logger.Logger) *Authenticator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Authenticator{verifier: verifier, newSession: newSession, log: log}
}

// RequireSession validates the bearer token, restores the session of its
// identity and, when the tenant header is present, switches into that tenant.
// The session is then available from the request context.
func (a *Authenticator) RequireSession() echo.MiddlewareFunc {
	bearer := echojwt.WithConfig(echojwt.Config{
		ContextKey: claimsKey,
		ParseTokenFunc: func(c echo.Context, auth string) (interface{}, error) {
			claims, err := a.verifier.VerifyToken(c.Request().Context(), auth)
			if err != nil {
				return nil, err
			}
			return claims, nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			var ae *apperr.Error
			if !errors.As(err, &ae) {
				err = apperr.Authentication("missing or invalid bearer token")
			}
			return common.SendError(c, err)
		},
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return bearer(a.resolve(next))
	}
}

func (a *Authenticator) resolve(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := ClaimsFromContext(c)
		if !ok {
			return common.SendError(c, apperr.Authentication("missing bearer token"))
		}
		id, err := claims.IdentityID()
		if err != nil {
			return common.SendError(c, err)
		}

		ctx := common.WithIdentityID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		mgr := a.newSession()
		defer mgr.Close()

		if _, err := mgr.Restore(ctx, id); err != nil {
			a.log.Debug("Session restore rejected",
				logger.String("identity_id", id.String()),
				logger.Error(err),
			)
			return common.SendError(c, err)
		}
		if raw := c.Request().Header.Get(TenantHeader); raw != "" {
			tenantID, err := common.ValidateUUID(raw, TenantHeader)
			if err != nil {
				return common.SendError(c, err)
			}
			if _, err := mgr.SwitchTenant(ctx, tenantID); err != nil {
				return common.SendError(c, err)
			}
		}

		c.SetRequest(c.Request().WithContext(mgr.Context(ctx)))
		c.Set(managerKey, mgr)
		return next(c)
	}
}

// ClaimsFromContext returns the verified token claims of the request.
func ClaimsFromContext(c echo.Context) (*identity.Claims, bool) {
	claims, ok := c.Get(claimsKey).(*identity.Claims)
	return claims, ok
}

// ManagerFromContext returns the request-scoped session manager.
func ManagerFromContext(c echo.Context) (*services.SessionManager, bool) {
	mgr, ok := c.Get(managerKey).(*services.SessionManager)
	return mgr, ok
}

var _ jwt.Claims = (*identity.Claims)(nil)
