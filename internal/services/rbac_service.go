package services

import (
	"context"
	"slices"

	"tenantcore/internal/common"
	"tenantcore/internal/metrics"
	"tenantcore/internal/models"
)

// HasRole reports whether profile holds one of roles.
func HasRole(profile *models.UserProfile, roles ...models.Role) bool {
	return profile != nil && slices.Contains(roles, profile.Role)
}

// HasPermission decides a {resource, action} request. Platform and tenant
// admins are allowed everything; tenant scoping is enforced by the directory
// services, not here. Other roles need an explicit grant of the action or of
// manage on the resource.
func HasPermission(profile *models.UserProfile, resource string, action models.Action) bool {
	if profile == nil {
		return false
	}
	if profile.Role == models.RolePlatformAdmin || profile.Role == models.RoleTenantAdmin {
		return true
	}
	for _, p := range profile.Permissions {
		if p.Resource == resource && (p.Action == action || p.Action == models.ActionManage) {
			return true
		}
	}
	return false
}

// CanAccess reports read access to resource.
func CanAccess(profile *models.UserProfile, resource string) bool {
	return HasPermission(profile, resource, models.ActionRead) || HasPermission(profile, resource, models.ActionManage)
}

// RBACService evaluates the same rules against the session carried in ctx.
type RBACService interface {
	HasRole(ctx context.Context, roles ...models.Role) bool
	HasPermission(ctx context.Context, resource string, action models.Action) bool
	CanAccess(ctx context.Context, resource string) bool
}

type rbacService struct {
	metrics *metrics.Metrics
}

func NewRBACService(m *metrics.Metrics) RBACService {
	return &rbacService{metrics: m}
}

func caller(ctx context.Context) *models.UserProfile {
	s, ok := common.SessionFromContext(ctx)
	if !ok {
		return nil
	}
	return s.User
}

func (s *rbacService) HasRole(ctx context.Context, roles ...models.Role) bool {
	allowed := HasRole(caller(ctx), roles...)
	s.metrics.ObserveAuthz("role", "", allowed)
	return allowed
}

func (s *rbacService) HasPermission(ctx context.Context, resource string, action models.Action) bool {
	allowed := HasPermission(caller(ctx), resource, action)
	s.metrics.ObserveAuthz("permission:"+string(action), resource, allowed)
	return allowed
}

func (s *rbacService) CanAccess(ctx context.Context, resource string) bool {
	allowed := CanAccess(caller(ctx), resource)
	s.metrics.ObserveAuthz("access", resource, allowed)
	return allowed
}
