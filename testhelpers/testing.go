// Package testhelpers starts a migrated Postgres for integration tests and
// builds fixture rows.
package testhelpers

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"tenantcore/internal/models"
	"tenantcore/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestDB holds the database connection for testing
type TestDB struct {
	Pool *pgxpool.Pool
	DSN  string
}

// SetupTestDB returns a migrated database. TEST_DATABASE_URL selects an
// existing server; otherwise a throwaway container is started. Skipped in
// short mode.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("tenantcore_test"),
			postgres.WithUsername("postgres"),
			postgres.WithPassword("postgres"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			t.Skipf("Postgres container unavailable: %v", err)
		}
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(container); err != nil {
				t.Logf("terminate container: %v", err)
			}
		})

		dsn, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			t.Fatalf("Failed to read container DSN: %v", err)
		}
	}

	if err := database.Migrate(ctx, dsn, "up"); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	pool, err := database.NewPool(ctx, dsn, database.PoolConfig{MaxConns: 4})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	db := &TestDB{Pool: pool, DSN: dsn}
	db.Truncate(t)
	return db
}

// Truncate empties every table the migrations create.
func (db *TestDB) Truncate(t *testing.T) {
	t.Helper()
	_, err := db.Pool.Exec(context.Background(), `TRUNCATE events, identities, user_profiles, tenants CASCADE`)
	if err != nil {
		t.Fatalf("Failed to truncate test database: %v", err)
	}
}

// NewTenant builds an active tenant with a unique slug.
func NewTenant(name string) *models.Tenant {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.New()
	return &models.Tenant{
		ID:                 id,
		Name:               name,
		Slug:               fmt.Sprintf("%s-%s", strings.ToLower(strings.ReplaceAll(name, " ", "-")), id.String()[:8]),
		Status:             models.TenantStatusActive,
		Plan:               models.PlanStarter,
		SubscriptionStatus: models.SubscriptionActive,
		Settings:           models.TenantSettings{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// NewTrialTenant builds a trial tenant whose window ends at trialEnd.
func NewTrialTenant(name string, trialEnd time.Time) *models.Tenant {
	t := NewTenant(name)
	end := trialEnd.UTC().Truncate(time.Microsecond)
	t.Status = models.TenantStatusTrial
	t.Plan = models.PlanTrial
	t.SubscriptionStatus = models.SubscriptionTrialing
	t.TrialEndsAt = &end
	return t
}

// NewUser builds an active profile. A nil tenantID yields a platform admin.
func NewUser(email string, tenantID *uuid.UUID, role models.Role) *models.UserProfile {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if tenantID == nil {
		role = models.RolePlatformAdmin
	}
	return &models.UserProfile{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Email:       email,
		FullName:    "Test " + strings.Split(email, "@")[0],
		Role:        role,
		Status:      models.UserStatusActive,
		Permissions: []models.Permission{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
