package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/caching"
	"tenantcore/internal/logger"
	"tenantcore/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemoryStoreTestSuite struct {
	suite.Suite
	store   *MemoryStore
	ctx     context.Context
	now     time.Time
	tenantA *models.Tenant
	tenantB *models.Tenant
}

func (s *MemoryStoreTestSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.tenantA = s.createTenant("alpha", models.TenantStatusActive, s.now)
	s.tenantB = s.createTenant("beta", models.TenantStatusTrial, s.now.Add(time.Minute))
}

func TestMemoryStoreTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreTestSuite))
}

func (s *MemoryStoreTestSuite) createTenant(slug string, status models.TenantStatus, created time.Time) *models.Tenant {
	t := &models.Tenant{ID: uuid.New(), Name: slug, Slug: slug, Status: status, CreatedAt: created, UpdatedAt: created}
	s.Require().NoError(s.store.Tenants().Create(s.ctx, t))
	return t
}

func (s *MemoryStoreTestSuite) createUser(email string, tenantID *uuid.UUID, role models.Role) *models.UserProfile {
	u := &models.UserProfile{ID: uuid.New(), TenantID: tenantID, Email: email, Role: role, Status: models.UserStatusActive, CreatedAt: s.now}
	s.Require().NoError(s.store.Users().Create(s.ctx, u))
	return u
}

func (s *MemoryStoreTestSuite) TestTenantSlugIsUnique() {
	err := s.store.Tenants().Create(s.ctx, &models.Tenant{ID: uuid.New(), Slug: "alpha"})
	s.ErrorIs(err, apperr.ErrConflict)
}

func (s *MemoryStoreTestSuite) TestReadsReturnCopies() {
	got, err := s.store.Tenants().GetByID(s.ctx, s.tenantA.ID)
	s.Require().NoError(err)
	got.Name = "changed"

	again, _ := s.store.Tenants().GetByID(s.ctx, s.tenantA.ID)
	s.Equal("alpha", again.Name)
}

func (s *MemoryStoreTestSuite) TestTenantListOrderAndFilter() {
	all, err := s.store.Tenants().List(s.ctx, models.TenantFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal("beta", all[0].Slug)

	active, _ := s.store.Tenants().List(s.ctx, models.TenantFilter{Statuses: []models.TenantStatus{models.TenantStatusActive}})
	s.Require().Len(active, 1)
	s.Equal("alpha", active[0].Slug)

	paged, _ := s.store.Tenants().List(s.ctx, models.TenantFilter{Limit: 1, Offset: 1})
	s.Require().Len(paged, 1)
	s.Equal("alpha", paged[0].Slug)

	past, _ := s.store.Tenants().List(s.ctx, models.TenantFilter{Offset: 5})
	s.Empty(past)
}

func (s *MemoryStoreTestSuite) TestUserListIsTenantScoped() {
	s.createUser("a1@example.com", &s.tenantA.ID, models.RoleEndUser)
	s.createUser("a2@example.com", &s.tenantA.ID, models.RoleMemberBasic)
	s.createUser("b1@example.com", &s.tenantB.ID, models.RoleEndUser)

	users, err := s.store.Users().List(s.ctx, models.UserFilter{TenantID: &s.tenantA.ID})
	s.Require().NoError(err)
	s.Len(users, 2)
	for _, u := range users {
		s.True(u.BelongsTo(s.tenantA.ID))
	}
}

func (s *MemoryStoreTestSuite) TestUserCreateRequiresExistingTenant() {
	missing := uuid.New()
	err := s.store.Users().Create(s.ctx, &models.UserProfile{ID: uuid.New(), TenantID: &missing, Email: "x@example.com"})
	s.ErrorIs(err, apperr.ErrValidation)
}

func (s *MemoryStoreTestSuite) TestTenantDeleteRefusesWhileUsersRemain() {
	s.createUser("a1@example.com", &s.tenantA.ID, models.RoleEndUser)

	s.ErrorIs(s.store.Tenants().Delete(s.ctx, s.tenantA.ID), apperr.ErrConflict)

	n, err := s.store.Users().DeleteByTenant(s.ctx, s.tenantA.ID)
	s.Require().NoError(err)
	s.Equal(int64(1), n)
	s.NoError(s.store.Tenants().Delete(s.ctx, s.tenantA.ID))
}

func (s *MemoryStoreTestSuite) TestWithinTxRestoresOnError() {
	s.createUser("a1@example.com", &s.tenantA.ID, models.RoleEndUser)
	boom := errors.New("boom")

	err := s.store.WithinTx(s.ctx, func(ctx context.Context) error {
		if _, err := s.store.Users().DeleteByTenant(ctx, s.tenantA.ID); err != nil {
			return err
		}
		if err := s.store.Tenants().Delete(ctx, s.tenantA.ID); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	_, err = s.store.Tenants().GetBySlug(s.ctx, "alpha")
	s.NoError(err)
	u, err := s.store.Users().GetByEmail(s.ctx, "a1@example.com")
	s.NoError(err)
	s.True(u.BelongsTo(s.tenantA.ID))
}

func (s *MemoryStoreTestSuite) TestCountsAndExpiredTrials() {
	s.createUser("a1@example.com", &s.tenantA.ID, models.RoleEndUser)
	s.createUser("a2@example.com", &s.tenantA.ID, models.RoleEndUser)
	s.store.AddEvent(s.tenantA.ID, "draft")

	counts, err := s.store.Users().CountByTenant(s.ctx, s.tenantA.ID)
	s.Require().NoError(err)
	s.Equal([]models.UserCount{{Role: models.RoleEndUser, Status: models.UserStatusActive, Count: 2}}, counts)

	events, _ := s.store.Events().CountByStatus(s.ctx, s.tenantA.ID)
	s.Equal(map[string]int{"draft": 1}, events)

	ends := s.now.Add(-time.Hour)
	s.tenantB.TrialEndsAt = &ends
	s.Require().NoError(s.store.Tenants().Update(s.ctx, s.tenantB))
	expired, _ := s.store.Tenants().ListExpiredTrials(s.ctx, s.now)
	s.Require().Len(expired, 1)
	s.Equal(s.tenantB.ID, expired[0].ID)
}

func (s *MemoryStoreTestSuite) TestWithinTxHoldsOutsideWriters() {
	boom := errors.New("boom")
	started := make(chan struct{})
	release := make(chan struct{})
	inTx := &models.Tenant{ID: uuid.New(), Slug: "gamma", Status: models.TenantStatusActive}

	txDone := make(chan error, 1)
	go func() {
		txDone <- s.store.WithinTx(s.ctx, func(ctx context.Context) error {
			if err := s.store.Tenants().Create(ctx, inTx); err != nil {
				return err
			}
			close(started)
			<-release
			return boom
		})
	}()
	<-started

	outside := &models.Tenant{ID: uuid.New(), Slug: "delta", Status: models.TenantStatusActive}
	writeDone := make(chan error, 1)
	go func() { writeDone <- s.store.Tenants().Create(context.Background(), outside) }()

	select {
	case <-writeDone:
		s.FailNow("write outside the transaction finished before it ended")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	s.ErrorIs(<-txDone, boom)
	s.NoError(<-writeDone)

	_, err := s.store.Tenants().GetByID(s.ctx, outside.ID)
	s.NoError(err)
	_, err = s.store.Tenants().GetByID(s.ctx, inTx.ID)
	s.ErrorIs(err, apperr.ErrNotFound)
}

func TestCachedTenantRepo_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cache := caching.NewMemoryCacheService()
	repo := NewCachedTenantRepo(store.Tenants(), cache, time.Minute, logger.NewNop())

	tenant := &models.Tenant{ID: uuid.New(), Name: "Acme", Slug: "acme", Status: models.TenantStatusActive}
	require.NoError(t, repo.Create(ctx, tenant))

	_, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	cached, _ := cache.GetTenant(ctx, tenant.ID)
	require.NotNil(t, cached)

	tenant.Name = "Acme Two"
	require.NoError(t, repo.Update(ctx, tenant))
	cached, _ = cache.GetTenant(ctx, tenant.ID)
	assert.Nil(t, cached)

	got, err := repo.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Two", got.Name)
}

func TestCachedUserRepo_DeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cache := caching.NewMemoryCacheService()
	users := NewCachedUserRepo(store.Users(), cache, time.Minute, logger.NewNop())

	tenant := &models.Tenant{ID: uuid.New(), Slug: "acme", Status: models.TenantStatusActive}
	require.NoError(t, store.Tenants().Create(ctx, tenant))
	user := &models.UserProfile{ID: uuid.New(), TenantID: &tenant.ID, Email: "a@example.com", Role: models.RoleEndUser}
	require.NoError(t, users.Create(ctx, user))

	_, err := users.GetByID(ctx, user.ID)
	require.NoError(t, err)

	_, err = users.DeleteByTenant(ctx, tenant.ID)
	require.NoError(t, err)

	_, err = users.GetByID(ctx, user.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCachedTenantRepo_InvalidatesAfterTx(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	cache := caching.NewMemoryCacheService()
	repo := NewCachedTenantRepo(store.Tenants(), cache, time.Minute, logger.NewNop())

	tenant := &models.Tenant{ID: uuid.New(), Name: "Acme", Slug: "acme", Status: models.TenantStatusActive}
	require.NoError(t, repo.Create(ctx, tenant))

	err := store.WithinTx(ctx, func(txCtx context.Context) error {
		if err := repo.Delete(txCtx, tenant.ID); err != nil {
			return err
		}
		// a reader outside the transaction still sees the row and caches it
		return cache.SetTenant(ctx, tenant, time.Minute)
	})
	require.NoError(t, err)

	cached, err := cache.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Nil(t, cached)
	_, err = repo.GetByID(ctx, tenant.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
