package services

import (
	"context"
	"time"

	"tenantcore/internal/common"
	"tenantcore/internal/models"
	"tenantcore/internal/repositories"

	"github.com/google/uuid"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func seedTenant(store *repositories.MemoryStore, slug string, status models.TenantStatus) *models.Tenant {
	t := &models.Tenant{
		ID:                 uuid.New(),
		Name:               slug,
		Slug:               slug,
		Status:             status,
		Plan:               models.PlanStarter,
		SubscriptionStatus: models.SubscriptionActive,
		Settings:           models.DefaultTenantSettings(),
		CreatedAt:          testNow.Add(-time.Hour),
		UpdatedAt:          testNow.Add(-time.Hour),
	}
	if status == models.TenantStatusTrial {
		ends := testNow.Add(10 * 24 * time.Hour)
		t.TrialEndsAt = &ends
		t.Plan = models.PlanTrial
		t.SubscriptionStatus = models.SubscriptionTrialing
	}
	if err := store.Tenants().Create(context.Background(), t); err != nil {
		panic(err)
	}
	return t
}

func seedUser(store *repositories.MemoryStore, tenantID *uuid.UUID, email string, role models.Role, perms ...models.Permission) *models.UserProfile {
	if perms == nil {
		perms = []models.Permission{}
	}
	u := &models.UserProfile{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Email:       email,
		FullName:    email,
		Role:        role,
		Status:      models.UserStatusActive,
		Permissions: perms,
		CreatedAt:   testNow.Add(-time.Minute),
		UpdatedAt:   testNow.Add(-time.Minute),
	}
	if err := store.Users().Create(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

// as returns a context signed in as profile.
func as(profile *models.UserProfile, tenant *models.Tenant) context.Context {
	return common.WithSession(context.Background(), models.Session{
		State:  models.SessionAuthenticated,
		User:   profile,
		Tenant: tenant,
	})
}

func ptr[T any](v T) *T { return &v }
