package middleware

import (
	"net/http"
	"strconv"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/caching"
	"tenantcore/internal/common"
	"tenantcore/internal/logger"
	"tenantcore/internal/models"
	"tenantcore/internal/services"

	"github.com/labstack/echo/v4"
)

type RBACMiddleware struct {
	rbacService services.RBACService
}

func NewRBACMiddleware(rbacService services.RBACService) *RBACMiddleware {
	return &RBACMiddleware{
		rbacService: rbacService,
	}
}

// RequireRole admits callers holding one of roles.
func (m *RBACMiddleware) RequireRole(roles ...models.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if _, err := common.CallerFromContext(ctx); err != nil {
				return common.SendError(c, err)
			}
			if !m.rbacService.HasRole(ctx, roles...) {
				return common.SendError(c, apperr.Authorization("insufficient role"))
			}
			return next(c)
		}
	}
}

// RequireTenantAdmin admits platform admins, and tenant admins of the tenant
// named by the path parameter.
func (m *RBACMiddleware) RequireTenantAdmin(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			caller, err := common.CallerFromContext(ctx)
			if err != nil {
				return common.SendError(c, err)
			}
			if m.rbacService.HasRole(ctx, models.RolePlatformAdmin) {
				return next(c)
			}
			tenantID, err := common.ValidateUUID(c.Param(param), param)
			if err != nil {
				return common.SendError(c, err)
			}
			if !m.rbacService.HasRole(ctx, models.RoleTenantAdmin) || !caller.BelongsTo(tenantID) {
				return common.SendError(c, apperr.Authorization("not an administrator of this tenant"))
			}
			return next(c)
		}
	}
}

// RateLimit allows limit requests per client address within window. The
// limiter fails open when the cache is unreachable.
func RateLimit(cache caching.CacheService, scope string, limit int, window time.Duration, log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ratelimit:" + scope + ":" + c.RealIP()
			limited, err := cache.IsRateLimited(c.Request().Context(), key, limit, window)
			if err != nil {
				log.Warn("Rate limiter unavailable",
					logger.String("scope", scope),
					logger.Error(err),
				)
				return next(c)
			}
			if limited {
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(window/time.Second)))
				return c.JSON(http.StatusTooManyRequests, common.CreateErrorResponse("RATE_LIMITED", "too many requests, retry later", nil))
			}
			return next(c)
		}
	}
}
