package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleTenantAdmin   Role = "tenant_admin"
	RoleMemberBasic   Role = "member_basic"
	RoleEndUser       Role = "end_user"
)

// Roles is the closed set of roles, highest privilege first.
var Roles = []Role{RolePlatformAdmin, RoleTenantAdmin, RoleMemberBasic, RoleEndUser}

// ParseRole accepts exactly the closed role set.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Rank orders roles by privilege; unknown roles rank 0.
func (r Role) Rank() int {
	switch r {
	case RolePlatformAdmin:
		return 4
	case RoleTenantAdmin:
		return 3
	case RoleMemberBasic:
		return 2
	case RoleEndUser:
		return 1
	}
	return 0
}

// TenantScoped reports whether the role must belong to exactly one tenant.
func (r Role) TenantScoped() bool {
	return r != RolePlatformAdmin
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusPending   UserStatus = "pending"
	UserStatusSuspended UserStatus = "suspended"
)

func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusActive, UserStatusPending, UserStatusSuspended:
		return true
	}
	return false
}

type UserProfile struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	TenantID    *uuid.UUID   `json:"tenant_id,omitempty" db:"tenant_id"`
	Email       string       `json:"email" db:"email"`
	FullName    string       `json:"full_name" db:"full_name"`
	Phone       string       `json:"phone,omitempty" db:"phone"`
	Role        Role         `json:"role" db:"role"`
	Status      UserStatus   `json:"status" db:"status"`
	Permissions []Permission `json:"permissions" db:"permissions"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

// BelongsTo reports whether the profile is scoped to tenantID.
func (u *UserProfile) BelongsTo(tenantID uuid.UUID) bool {
	return u != nil && u.TenantID != nil && *u.TenantID == tenantID
}

func (u *UserProfile) Clone() *UserProfile {
	if u == nil {
		return nil
	}
	cp := *u
	if u.TenantID != nil {
		id := *u.TenantID
		cp.TenantID = &id
	}
	if u.Permissions != nil {
		cp.Permissions = append([]Permission(nil), u.Permissions...)
	}
	return &cp
}

type UserFilter struct {
	TenantID *uuid.UUID   `json:"tenant_id,omitempty"`
	Roles    []Role       `json:"roles,omitempty"`
	Statuses []UserStatus `json:"statuses,omitempty"`
	Search   string       `json:"search,omitempty"`
	Limit    int          `json:"limit,omitempty"`
	Offset   int          `json:"offset,omitempty"`
}

// UserCount is one row of a per-tenant role/status breakdown.
type UserCount struct {
	Role   Role       `json:"role" db:"role"`
	Status UserStatus `json:"status" db:"status"`
	Count  int        `json:"count" db:"count"`
}
