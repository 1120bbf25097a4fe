package caching

import (
	"context"
	"sync"
	"time"

	"tenantcore/internal/models"

	"github.com/google/uuid"
)

// MemoryCacheService is a process-local CacheService for tests and
// single-instance development without Redis.
type MemoryCacheService struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     any
	count     int64
	expiresAt time.Time
}

func NewMemoryCacheService() *MemoryCacheService {
	return &MemoryCacheService{now: time.Now, entries: make(map[string]memoryEntry)}
}

// SetClock replaces the time source used for expiry.
func (m *MemoryCacheService) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryCacheService) get(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryCacheService) set(key string, value any, ttl time.Duration) {
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *MemoryCacheService) GetTenant(_ context.Context, tenantID uuid.UUID) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(tenantKey(tenantID))
	if !ok {
		return nil, nil
	}
	return e.value.(*models.Tenant).Clone(), nil
}

func (m *MemoryCacheService) SetTenant(_ context.Context, tenant *models.Tenant, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(tenantKey(tenant.ID), tenant.Clone(), ttl)
	return nil
}

func (m *MemoryCacheService) DeleteTenant(_ context.Context, tenantID uuid.UUID) error {
	return m.Delete(context.Background(), tenantKey(tenantID))
}

func (m *MemoryCacheService) GetProfile(_ context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(profileKey(userID))
	if !ok {
		return nil, nil
	}
	return e.value.(*models.UserProfile).Clone(), nil
}

func (m *MemoryCacheService) SetProfile(_ context.Context, user *models.UserProfile, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(profileKey(user.ID), user.Clone(), ttl)
	return nil
}

func (m *MemoryCacheService) DeleteProfile(_ context.Context, userID uuid.UUID) error {
	return m.Delete(context.Background(), profileKey(userID))
}

func (m *MemoryCacheService) IsRateLimited(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cacheKey := keyPrefix + ":ratelimit:" + key
	e, ok := m.get(cacheKey)
	if !ok {
		e = memoryEntry{expiresAt: m.now().Add(window)}
	}
	e.count++
	m.entries[cacheKey] = e
	return e.count > int64(limit), nil
}

func (m *MemoryCacheService) SetString(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(key, value, ttl)
	return nil
}

func (m *MemoryCacheService) GetString(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return "", nil
	}
	s, _ := e.value.(string)
	return s, nil
}

func (m *MemoryCacheService) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryCacheService) Ping(context.Context) error {
	return nil
}
