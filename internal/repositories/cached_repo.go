package repositories

import (
	"context"
	"time"

	"tenantcore/internal/caching"
	"tenantcore/internal/logger"
	"tenantcore/internal/models"

	"github.com/google/uuid"
)

// Cache failures never fail a store call: reads fall through to the store and
// invalidation errors are logged. Inside a transaction, invalidation waits for
// the transaction to end so a concurrent read cannot re-cache the old row.

type cachedTenantRepo struct {
	TenantRepository
	cache caching.CacheService
	ttl   time.Duration
	log   logger.Logger
}

// NewCachedTenantRepo wraps next with a read-through cache on GetByID.
func NewCachedTenantRepo(next TenantRepository, cache caching.CacheService, ttl time.Duration, log logger.Logger) TenantRepository {
	return &cachedTenantRepo{TenantRepository: next, cache: cache, ttl: ttl, log: log}
}

func (r *cachedTenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	if cached, err := r.cache.GetTenant(ctx, id); err != nil {
		r.log.Warn("tenant cache read failed", logger.String("tenant_id", id.String()), logger.Error(err))
	} else if cached != nil {
		return cached, nil
	}

	tenant, err := r.TenantRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetTenant(ctx, tenant, r.ttl); err != nil {
		r.log.Warn("tenant cache write failed", logger.String("tenant_id", id.String()), logger.Error(err))
	}
	return tenant, nil
}

func (r *cachedTenantRepo) Update(ctx context.Context, tenant *models.Tenant) error {
	err := r.TenantRepository.Update(ctx, tenant)
	r.invalidate(ctx, tenant.ID)
	return err
}

func (r *cachedTenantRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.TenantRepository.Delete(ctx, id)
	r.invalidate(ctx, id)
	return err
}

func (r *cachedTenantRepo) invalidate(ctx context.Context, id uuid.UUID) {
	AfterTx(ctx, func(ctx context.Context) { r.evict(ctx, id) })
}

func (r *cachedTenantRepo) evict(ctx context.Context, id uuid.UUID) {
	if err := r.cache.DeleteTenant(ctx, id); err != nil {
		r.log.Warn("tenant cache invalidation failed", logger.String("tenant_id", id.String()), logger.Error(err))
	}
}

type cachedUserRepo struct {
	UserRepository
	cache caching.CacheService
	ttl   time.Duration
	log   logger.Logger
}

// NewCachedUserRepo wraps next with a read-through profile cache on GetByID.
func NewCachedUserRepo(next UserRepository, cache caching.CacheService, ttl time.Duration, log logger.Logger) UserRepository {
	return &cachedUserRepo{UserRepository: next, cache: cache, ttl: ttl, log: log}
}

func (r *cachedUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.UserProfile, error) {
	if cached, err := r.cache.GetProfile(ctx, id); err != nil {
		r.log.Warn("profile cache read failed", logger.String("user_id", id.String()), logger.Error(err))
	} else if cached != nil {
		return cached, nil
	}

	user, err := r.UserRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetProfile(ctx, user, r.ttl); err != nil {
		r.log.Warn("profile cache write failed", logger.String("user_id", id.String()), logger.Error(err))
	}
	return user, nil
}

func (r *cachedUserRepo) Update(ctx context.Context, user *models.UserProfile) error {
	err := r.UserRepository.Update(ctx, user)
	r.invalidate(ctx, user.ID)
	return err
}

func (r *cachedUserRepo) Delete(ctx context.Context, id uuid.UUID) error {
	err := r.UserRepository.Delete(ctx, id)
	r.invalidate(ctx, id)
	return err
}

// DeleteByTenant drops cached profiles of the tenant's users before removing
// them. If the listing fails, stale entries age out with the TTL.
func (r *cachedUserRepo) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	users, err := r.UserRepository.List(ctx, models.UserFilter{TenantID: &tenantID})
	if err == nil {
		for _, u := range users {
			r.invalidate(ctx, u.ID)
		}
	}
	return r.UserRepository.DeleteByTenant(ctx, tenantID)
}

func (r *cachedUserRepo) invalidate(ctx context.Context, id uuid.UUID) {
	AfterTx(ctx, func(ctx context.Context) { r.evict(ctx, id) })
}

func (r *cachedUserRepo) evict(ctx context.Context, id uuid.UUID) {
	if err := r.cache.DeleteProfile(ctx, id); err != nil {
		r.log.Warn("profile cache invalidation failed", logger.String("user_id", id.String()), logger.Error(err))
	}
}
