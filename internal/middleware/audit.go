package middleware

import (
	"net/http"
	"strings"
	"time"

	"tenantcore/internal/common"
	"tenantcore/internal/logger"

	"github.com/labstack/echo/v4"
)

// AuditMiddleware writes an audit line for every request that changes state
// or fails, tagged with the acting user and tenant.
type AuditMiddleware struct {
	log logger.Logger
}

func NewAuditMiddleware(log logger.Logger) *AuditMiddleware {
	return &AuditMiddleware{log: log}
}

func (m *AuditMiddleware) AuditRequest() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			method := c.Request().Method
			if !shouldAudit(method, c.Path(), status) {
				return err
			}

			fields := []logger.Field{
				logger.String("method", method),
				logger.String("route", c.Path()),
				logger.Int("status", status),
				logger.String("ip", c.RealIP()),
				logger.Duration("latency", time.Since(start)),
			}
			ctx := c.Request().Context()
			if id, ok := common.GetIdentityIDFromContext(ctx); ok {
				fields = append(fields, logger.String("identity_id", id.String()))
			}
			if s, ok := common.SessionFromContext(ctx); ok && s.Authenticated() {
				fields = append(fields, logger.String("user_id", s.User.ID.String()), logger.String("role", string(s.User.Role)))
				if s.Tenant != nil {
					fields = append(fields, logger.String("tenant_id", s.Tenant.ID.String()))
				}
			}
			if err != nil {
				fields = append(fields, logger.Error(err))
			}

			if status >= http.StatusInternalServerError {
				m.log.Error("Request failed", fields...)
			} else {
				m.log.Info("Request audited", fields...)
			}
			return err
		}
	}
}

func shouldAudit(method, path string, status int) bool {
	for _, prefix := range []string{"/health", "/metrics", "/swagger"} {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	if status >= http.StatusBadRequest {
		return true
	}
	return method != http.MethodGet && method != http.MethodHead && method != http.MethodOptions
}
