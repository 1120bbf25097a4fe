package models

import (
	"time"

	"github.com/google/uuid"
)

type TenantStatus string

const (
	TenantStatusTrial     TenantStatus = "trial"
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusCancelled TenantStatus = "cancelled"
)

func (s TenantStatus) Valid() bool {
	switch s {
	case TenantStatusTrial, TenantStatusActive, TenantStatusSuspended, TenantStatusCancelled:
		return true
	}
	return false
}

// TrialPeriod is the length of the trial granted to a tenant created at owner sign-up.
const TrialPeriod = 30 * 24 * time.Hour

const (
	PlanTrial        = "trial"
	PlanStarter      = "starter"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

const (
	SubscriptionTrialing     = "trialing"
	SubscriptionActive       = "active"
	SubscriptionTrialExpired = "trial_expired"
	SubscriptionCancelled    = "cancelled"
)

// TenantTransition is one allowed status change.
type TenantTransition struct {
	Src TenantStatus
	Dst TenantStatus
}

// TenantTransitions lists every allowed status change. Nothing leaves cancelled.
var TenantTransitions = []TenantTransition{
	{Src: TenantStatusTrial, Dst: TenantStatusActive},
	{Src: TenantStatusActive, Dst: TenantStatusSuspended},
	{Src: TenantStatusSuspended, Dst: TenantStatusActive},
	{Src: TenantStatusTrial, Dst: TenantStatusCancelled},
	{Src: TenantStatusActive, Dst: TenantStatusCancelled},
	{Src: TenantStatusSuspended, Dst: TenantStatusCancelled},
}

// CanTransition reports whether a tenant may move from src to dst.
// Staying in the same status is always allowed.
func CanTransition(src, dst TenantStatus) bool {
	if src == dst {
		return true
	}
	for _, t := range TenantTransitions {
		if t.Src == src && t.Dst == dst {
			return true
		}
	}
	return false
}

type TenantFeatures struct {
	CMSEnabled       bool `json:"cms_enabled"`
	AnalyticsEnabled bool `json:"analytics_enabled"`
}

type TenantLimits struct {
	MaxUsers     int `json:"max_users"`
	MaxEvents    int `json:"max_events"`
	MaxStorageMB int `json:"max_storage_mb"`
}

type TenantBranding struct {
	PrimaryColor string `json:"primary_color,omitempty"`
	LogoObject   string `json:"logo_object,omitempty"`
}

type TenantSettings struct {
	Features TenantFeatures `json:"features"`
	Limits   TenantLimits   `json:"limits"`
	Branding TenantBranding `json:"branding"`
}

// DefaultTenantSettings are applied to tenants created without explicit settings.
func DefaultTenantSettings() TenantSettings {
	return TenantSettings{
		Features: TenantFeatures{CMSEnabled: true, AnalyticsEnabled: false},
		Limits:   TenantLimits{MaxUsers: 5, MaxEvents: 50, MaxStorageMB: 1024},
	}
}

type Tenant struct {
	ID                 uuid.UUID      `json:"id" db:"id"`
	Name               string         `json:"name" db:"name"`
	Slug               string         `json:"slug" db:"slug"`
	Status             TenantStatus   `json:"status" db:"status"`
	Plan               string         `json:"plan" db:"plan"`
	SubscriptionStatus string         `json:"subscription_status" db:"subscription_status"`
	TrialEndsAt        *time.Time     `json:"trial_ends_at,omitempty" db:"trial_ends_at"`
	Settings           TenantSettings `json:"settings" db:"settings"`
	Billing            map[string]any `json:"billing,omitempty" db:"billing"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at" db:"updated_at"`
}

// IsUsable reports whether members of the tenant may sign in: the tenant is
// active, or in a trial whose window has not elapsed.
func (t *Tenant) IsUsable(now time.Time) bool {
	if t == nil {
		return false
	}
	switch t.Status {
	case TenantStatusActive:
		return true
	case TenantStatusTrial:
		return t.TrialEndsAt == nil || now.Before(*t.TrialEndsAt)
	}
	return false
}

// Clone returns a deep copy so snapshots never share mutable state.
func (t *Tenant) Clone() *Tenant {
	if t == nil {
		return nil
	}
	cp := *t
	if t.TrialEndsAt != nil {
		ends := *t.TrialEndsAt
		cp.TrialEndsAt = &ends
	}
	if t.Billing != nil {
		cp.Billing = make(map[string]any, len(t.Billing))
		for k, v := range t.Billing {
			cp.Billing[k] = v
		}
	}
	return &cp
}

type TenantFilter struct {
	Statuses []TenantStatus `json:"statuses,omitempty"`
	Plans    []string       `json:"plans,omitempty"`
	Search   string         `json:"search,omitempty"`
	Limit    int            `json:"limit,omitempty"`
	Offset   int            `json:"offset,omitempty"`
}

type TenantStats struct {
	TenantID       uuid.UUID          `json:"tenant_id"`
	TotalUsers     int                `json:"total_users"`
	UsersByRole    map[Role]int       `json:"users_by_role"`
	UsersByStatus  map[UserStatus]int `json:"users_by_status"`
	TotalEvents    int                `json:"total_events"`
	EventsByStatus map[string]int     `json:"events_by_status"`
}
