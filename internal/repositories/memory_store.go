package repositories

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory directory store for development and tests.
// Reads return copies so callers never alias stored records. A transaction
// holds txMu for its whole run, so writes from outside it wait until it ends.
type MemoryStore struct {
	txMu    sync.Mutex
	mu      sync.RWMutex
	tenants map[uuid.UUID]*models.Tenant
	slugs   map[string]uuid.UUID
	users   map[uuid.UUID]*models.UserProfile
	emails  map[string]uuid.UUID
	events  map[uuid.UUID]map[string]int

	// identities live outside WithinTx snapshots, like the provider they back.
	creds      map[uuid.UUID]*models.Credential
	credEmails map[string]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants: make(map[uuid.UUID]*models.Tenant),
		slugs:   make(map[string]uuid.UUID),
		users:   make(map[uuid.UUID]*models.UserProfile),
		emails:  make(map[string]uuid.UUID),
		events:  make(map[uuid.UUID]map[string]int),

		creds:      make(map[uuid.UUID]*models.Credential),
		credEmails: make(map[string]uuid.UUID),
	}
}

func (m *MemoryStore) Tenants() TenantRepository { return memoryTenants{m} }
func (m *MemoryStore) Users() UserRepository     { return memoryUsers{m} }
func (m *MemoryStore) Events() EventRepository   { return memoryEvents{m} }

func (m *MemoryStore) Credentials() CredentialRepository { return memoryCredentials{m} }

type memoryTxKey struct{}

// WithinTx restores the previous contents when fn fails.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inTx(ctx) {
		return fn(ctx)
	}

	m.txMu.Lock()
	txCtx, hooks := withAfterTx(context.WithValue(ctx, memoryTxKey{}, m))
	snap := m.snapshot()
	err := fn(txCtx)
	if err != nil {
		m.restore(snap)
	}
	m.txMu.Unlock()

	hooks.run(ctx)
	return err
}

func (m *MemoryStore) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memoryTxKey{}).(*MemoryStore)
	return owner == m
}

// gate blocks a write until any transaction not carried by ctx has ended.
func (m *MemoryStore) gate(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.txMu.Lock()
	return m.txMu.Unlock
}

// AddEvent records an event with the given status for tenantID.
func (m *MemoryStore) AddEvent(tenantID uuid.UUID, status string) {
	defer m.gate(context.Background())()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events[tenantID] == nil {
		m.events[tenantID] = make(map[string]int)
	}
	m.events[tenantID][status]++
}

type memorySnapshot struct {
	tenants map[uuid.UUID]*models.Tenant
	users   map[uuid.UUID]*models.UserProfile
	events  map[uuid.UUID]map[string]int
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := memorySnapshot{
		tenants: make(map[uuid.UUID]*models.Tenant, len(m.tenants)),
		users:   make(map[uuid.UUID]*models.UserProfile, len(m.users)),
		events:  make(map[uuid.UUID]map[string]int, len(m.events)),
	}
	for id, t := range m.tenants {
		snap.tenants[id] = t.Clone()
	}
	for id, u := range m.users {
		snap.users[id] = u.Clone()
	}
	for id, counts := range m.events {
		cp := make(map[string]int, len(counts))
		for k, v := range counts {
			cp[k] = v
		}
		snap.events[id] = cp
	}
	return snap
}

func (m *MemoryStore) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants = snap.tenants
	m.users = snap.users
	m.events = snap.events
	m.slugs = make(map[string]uuid.UUID, len(m.tenants))
	for id, t := range m.tenants {
		m.slugs[t.Slug] = id
	}
	m.emails = make(map[string]uuid.UUID, len(m.users))
	for id, u := range m.users {
		m.emails[u.Email] = id
	}
}

type memoryTenants struct{ m *MemoryStore }

func (r memoryTenants) Create(ctx context.Context, tenant *models.Tenant) error {
	m := r.m
	defer m.gate(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tenants[tenant.ID]; exists {
		return apperr.Conflict("tenant id already exists")
	}
	if _, exists := m.slugs[tenant.Slug]; exists {
		return apperr.Conflict("tenant slug already exists").WithDetail("slug", tenant.Slug)
	}
	m.tenants[tenant.ID] = tenant.Clone()
	m.slugs[tenant.Slug] = tenant.ID
	return nil
}

func (r memoryTenants) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	t, ok := r.m.tenants[id]
	if !ok {
		return nil, apperr.NotFound("tenant")
	}
	return t.Clone(), nil
}

func (r memoryTenants) GetBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	id, ok := r.m.slugs[slug]
	if !ok {
		return nil, apperr.NotFound("tenant")
	}
	return r.m.tenants[id].Clone(), nil
}

func (r memoryTenants) Update(ctx context.Context, tenant *models.Tenant) error {
	m := r.m
	defer m.gate(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.tenants[tenant.ID]
	if !ok {
		return apperr.NotFound("tenant")
	}
	if owner, taken := m.slugs[tenant.Slug]; taken && owner != tenant.ID {
		return apperr.Conflict("tenant slug already exists").WithDetail("slug", tenant.Slug)
	}
	delete(m.slugs, existing.Slug)
	m.tenants[tenant.ID] = tenant.Clone()
	m.slugs[tenant.Slug] = tenant.ID
	return nil
}

func (r memoryTenants) Delete(ctx context.Context, id uuid.UUID) error {
	m := r.m
	defer m.gate(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tenants[id]
	if !ok {
		return apperr.NotFound("tenant")
	}
	for _, u := range m.users {
		if u.BelongsTo(id) {
			return apperr.Conflict("tenant still has user profiles")
		}
	}
	delete(m.slugs, t.Slug)
	delete(m.tenants, id)
	delete(m.events, id)
	return nil
}

func (r memoryTenants) List(_ context.Context, filter models.TenantFilter) ([]*models.Tenant, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	out := []*models.Tenant{}
	for _, t := range r.m.tenants {
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, t.Status) {
			continue
		}
		if len(filter.Plans) > 0 && !slices.Contains(filter.Plans, t.Plan) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Name), search) && !strings.Contains(t.Slug, search) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Slug < out[j].Slug
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (r memoryTenants) ListExpiredTrials(_ context.Context, now time.Time) ([]*models.Tenant, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	out := []*models.Tenant{}
	for _, t := range r.m.tenants {
		if t.Status == models.TenantStatusTrial && t.TrialEndsAt != nil && !t.TrialEndsAt.After(now) &&
			t.SubscriptionStatus != models.SubscriptionTrialExpired {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrialEndsAt.Before(*out[j].TrialEndsAt) })
	return out, nil
}

type memoryUsers struct{ m *MemoryStore }

func (r memoryUsers) Create(ctx context.Context, user *models.UserProfile) error {
	m := r.m
	defer m.gate(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[user.ID]; exists {
		return apperr.Conflict("user id already exists")
	}
	if _, exists := m.emails[user.Email]; exists {
		return apperr.Conflict("email already registered").WithDetail("email", user.Email)
	}
	if user.TenantID != nil {
		if _, ok := m.tenants[*user.TenantID]; !ok {
			return apperr.Validation("tenant_id", "tenant does not exist")
		}
	}
	m.users[user.ID] = user.Clone()
	m.emails[user.Email] = user.ID
	return nil
}

func (r memoryUsers) GetByID(_ context.Context, id uuid.UUID) (*models.UserProfile, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return u.Clone(), nil
}

func (r memoryUsers) GetByEmail(_ context.Context, email string) (*models.UserProfile, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	id, ok := r.m.emails[email]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return r.m.users[id].Clone(), nil
}

func (r memoryUsers) Update(ctx context.Context, user *models.UserProfile) error {
	m := r.m
	defer m.gate(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[user.ID]
	if !ok {
		return apperr.NotFound("user")
	}
	updated := existing.Clone()
	updated.FullName = user.FullName
	updated.Phone = user.Phone
	updated.Role = user.Role
	updated.Status = user.Status
	updated.Permissions = append([]models.Permission(nil), user.Permissions...)
	updated.UpdatedAt = user.UpdatedAt
	m.users[user.ID] = updated
	return nil
}

func (r memoryUsers) Delete(ctx context.Context, id uuid.UUID) error {
	m := r.m
	defer m.gate(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return apperr.NotFound("user")
	}
	delete(m.emails, u.Email)
	delete(m.users, id)
	return nil
}

func (r memoryUsers) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	m := r.m
	defer m.gate(ctx)()
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, u := range m.users {
		if u.BelongsTo(tenantID) {
			delete(m.emails, u.Email)
			delete(m.users, id)
			n++
		}
	}
	return n, nil
}

func (r memoryUsers) List(_ context.Context, filter models.UserFilter) ([]*models.UserProfile, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	out := []*models.UserProfile{}
	for _, u := range r.m.users {
		if filter.TenantID != nil && !u.BelongsTo(*filter.TenantID) {
			continue
		}
		if len(filter.Roles) > 0 && !slices.Contains(filter.Roles, u.Role) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, u.Status) {
			continue
		}
		if search != "" && !strings.Contains(u.Email, search) && !strings.Contains(strings.ToLower(u.FullName), search) {
			continue
		}
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (r memoryUsers) CountByTenant(_ context.Context, tenantID uuid.UUID) ([]models.UserCount, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()

	type key struct {
		role   models.Role
		status models.UserStatus
	}
	counts := make(map[key]int)
	for _, u := range r.m.users {
		if u.BelongsTo(tenantID) {
			counts[key{u.Role, u.Status}]++
		}
	}
	out := make([]models.UserCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, models.UserCount{Role: k.role, Status: k.status, Count: n})
	}
	return out, nil
}

type memoryEvents struct{ m *MemoryStore }

func (r memoryEvents) CountByStatus(_ context.Context, tenantID uuid.UUID) (map[string]int, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make(map[string]int)
	for status, n := range r.m.events[tenantID] {
		out[status] = n
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

type memoryCredentials struct{ m *MemoryStore }

func (r memoryCredentials) Create(_ context.Context, cred *models.Credential) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.creds[cred.ID]; exists {
		return apperr.Conflict("identity id already exists")
	}
	if _, exists := m.credEmails[cred.Email]; exists {
		return apperr.Conflict("email already registered").WithDetail("email", cred.Email)
	}
	m.creds[cred.ID] = cred.Clone()
	m.credEmails[cred.Email] = cred.ID
	return nil
}

func (r memoryCredentials) GetByID(_ context.Context, id uuid.UUID) (*models.Credential, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	c, ok := r.m.creds[id]
	if !ok {
		return nil, apperr.NotFound("identity")
	}
	return c.Clone(), nil
}

func (r memoryCredentials) GetByEmail(_ context.Context, email string) (*models.Credential, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	id, ok := r.m.credEmails[email]
	if !ok {
		return nil, apperr.NotFound("identity")
	}
	return r.m.creds[id].Clone(), nil
}

func (r memoryCredentials) SetPasswordHash(_ context.Context, id uuid.UUID, hash string, updatedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.creds[id]
	if !ok {
		return apperr.NotFound("identity")
	}
	c.PasswordHash = hash
	c.UpdatedAt = updatedAt
	return nil
}

func (r memoryCredentials) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.creds[id]
	if !ok {
		return apperr.NotFound("identity")
	}
	delete(r.m.credEmails, c.Email)
	delete(r.m.creds, id)
	return nil
}
