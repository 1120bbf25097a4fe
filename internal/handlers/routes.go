package handlers

import (
	"tenantcore/internal/middleware"
	"tenantcore/internal/models"

	"github.com/labstack/echo/v4"
)

// Routes wires the handlers onto an echo instance under /v1.
type Routes struct {
	Auth    *AuthHandlers
	Users   *UserHandlers
	Tenants *TenantHandlers
	Health  *HealthHandlers

	Authenticator *middleware.Authenticator
	RBAC          *middleware.RBACMiddleware
	Versions      *middleware.VersionMiddleware
	// LoginLimiter guards the credential endpoints when set.
	LoginLimiter echo.MiddlewareFunc
}

func (r Routes) Register(e *echo.Echo) {
	r.registerHealth(e)

	v1 := e.Group("/v1")
	if r.Versions != nil {
		v1.Use(r.Versions.VersionHeader("v1"))
	}

	var limited []echo.MiddlewareFunc
	if r.LoginLimiter != nil {
		limited = append(limited, r.LoginLimiter)
	}
	auth := v1.Group("/auth")
	auth.POST("/signup", r.Auth.Signup, limited...)
	auth.POST("/login", r.Auth.Login, limited...)
	auth.POST("/password/reset", r.Auth.RequestPasswordReset, limited...)
	auth.POST("/password/complete", r.Auth.CompletePassword, limited...)

	session := r.Authenticator.RequireSession()
	auth.POST("/logout", r.Auth.Logout, session)
	auth.GET("/session", r.Auth.Session, session)
	auth.POST("/switch-tenant", r.Auth.SwitchTenant, session)
	auth.PATCH("/profile", r.Auth.UpdateProfile, session)

	users := v1.Group("/users", session)
	users.GET("", r.Users.ListUsers)
	users.POST("", r.Users.CreateUser)
	users.POST("/invite", r.Users.InviteUser)
	users.GET("/:id", r.Users.GetUser)
	users.PATCH("/:id", r.Users.UpdateUser)
	users.DELETE("/:id", r.Users.DeleteUser)

	platformOnly := r.RBAC.RequireRole(models.RolePlatformAdmin)
	ownTenant := r.RBAC.RequireTenantAdmin("id")
	tenants := v1.Group("/tenants", session)
	tenants.GET("", r.Tenants.ListTenants, platformOnly)
	tenants.POST("", r.Tenants.CreateTenant, platformOnly)
	tenants.GET("/:id", r.Tenants.GetTenant, ownTenant)
	tenants.GET("/:id/stats", r.Tenants.GetTenantStats, ownTenant)
	tenants.PATCH("/:id", r.Tenants.UpdateTenant, platformOnly)
	tenants.DELETE("/:id", r.Tenants.DeleteTenant, platformOnly)
	tenants.POST("/:id/suspend", r.Tenants.SuspendTenant, platformOnly)
	tenants.POST("/:id/activate", r.Tenants.ActivateTenant, platformOnly)
	tenants.POST("/:id/cancel", r.Tenants.CancelTenant, platformOnly)
	tenants.PUT("/:id/logo", r.Tenants.UploadLogo, ownTenant)
	tenants.GET("/:id/logo", r.Tenants.GetLogo, ownTenant)
}

func (r Routes) registerHealth(e *echo.Echo) {
	if r.Health == nil {
		return
	}
	e.GET("/health", r.Health.HealthCheck)
	e.GET("/health/ready", r.Health.ReadinessCheck)
}
