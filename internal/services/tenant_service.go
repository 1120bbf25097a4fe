package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/common"
	"tenantcore/internal/identity"
	"tenantcore/internal/logger"
	"tenantcore/internal/models"
	"tenantcore/internal/repositories"

	"github.com/google/uuid"
)

const (
	maxLogoSize     = 2 << 20
	logoURLExpiry   = 15 * time.Minute
	maxSlugAttempts = 1000
)

var logoExtensions = map[string]string{
	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
}

// TenantRegistry manages tenant records. It does not check the caller;
// handlers gate every route before calling in.
type TenantRegistry interface {
	List(ctx context.Context, filter models.TenantFilter) ([]*models.Tenant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	Create(ctx context.Context, req *CreateTenantRequest) (*models.Tenant, error)
	Update(ctx context.Context, id uuid.UUID, req *UpdateTenantRequest) (*models.Tenant, error)
	Delete(ctx context.Context, id uuid.UUID) error
	GetStats(ctx context.Context, id uuid.UUID) (*models.TenantStats, error)
	Suspend(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	Activate(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	ExpireTrials(ctx context.Context, now time.Time) (int, error)
	UploadLogo(ctx context.Context, id uuid.UUID, reader io.Reader, size int64, contentType string) (*models.Tenant, error)
	LogoURL(ctx context.Context, id uuid.UUID) (string, error)
}

type TenantRegistryDeps struct {
	Tenants repositories.TenantRepository
	Users   repositories.UserRepository
	Events  repositories.EventRepository
	Tx      repositories.TxManager
	// Identity removes the identities of users dropped with a tenant. Optional.
	Identity identity.Provider
	// Storage holds branding logos. Optional; logo operations fail without it.
	Storage MinioService
	Log     logger.Logger
	Now     func() time.Time
}

type tenantService struct {
	tenants  repositories.TenantRepository
	users    repositories.UserRepository
	events   repositories.EventRepository
	tx       repositories.TxManager
	identity identity.Provider
	storage  MinioService
	log      logger.Logger
	now      func() time.Time
}

func NewTenantRegistry(deps TenantRegistryDeps) TenantRegistry {
	s := &tenantService{
		tenants:  deps.Tenants,
		users:    deps.Users,
		events:   deps.Events,
		tx:       deps.Tx,
		identity: deps.Identity,
		storage:  deps.Storage,
		log:      deps.Log,
		now:      deps.Now,
	}
	if s.tx == nil {
		s.tx = repositories.NewNoopTxManager()
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateTenantRequest struct {
	Name string `json:"name" validate:"required"`
	// Slug is derived from Name when empty.
	Slug     string                 `json:"slug,omitempty"`
	Status   models.TenantStatus    `json:"status,omitempty"`
	Plan     string                 `json:"plan,omitempty"`
	Settings *models.TenantSettings `json:"settings,omitempty"`
	Billing  map[string]any         `json:"billing,omitempty"`
}

type UpdateTenantRequest struct {
	Name               *string                `json:"name,omitempty"`
	Slug               *string                `json:"slug,omitempty"`
	Status             *models.TenantStatus   `json:"status,omitempty"`
	Plan               *string                `json:"plan,omitempty"`
	SubscriptionStatus *string                `json:"subscription_status,omitempty"`
	TrialEndsAt        *time.Time             `json:"trial_ends_at,omitempty"`
	Settings           *models.TenantSettings `json:"settings,omitempty"`
	Billing            map[string]any         `json:"billing,omitempty"`
}

func (s *tenantService) List(ctx context.Context, filter models.TenantFilter) ([]*models.Tenant, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, apperr.Validation("status", fmt.Sprintf("unknown tenant status %q", st))
		}
	}
	limit, offset, err := common.ValidatePaginationParams(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = limit, offset
	filter.Search = common.SanitizeSearchQuery(filter.Search)
	return s.tenants.List(ctx, filter)
}

func (s *tenantService) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return s.tenants.GetByID(ctx, id)
}

func (s *tenantService) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if err := common.ValidateSlug(slug); err != nil {
		return nil, err
	}
	return s.tenants.GetBySlug(ctx, slug)
}

func (s *tenantService) Create(ctx context.Context, req *CreateTenantRequest) (*models.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if err := common.ValidateRequiredString(name, "name"); err != nil {
		return nil, err
	}

	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if slug == "" {
		var err error
		if slug, err = s.uniqueSlug(ctx, common.Slugify(name)); err != nil {
			return nil, err
		}
	} else if err := common.ValidateSlug(slug); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tenant := &models.Tenant{
		ID:        uuid.New(),
		Name:      name,
		Slug:      slug,
		Settings:  models.DefaultTenantSettings(),
		Billing:   maps.Clone(req.Billing),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Settings != nil {
		tenant.Settings = *req.Settings
	}

	switch req.Status {
	case "", models.TenantStatusTrial:
		ends := now.Add(models.TrialPeriod)
		tenant.Status = models.TenantStatusTrial
		tenant.Plan = models.PlanTrial
		tenant.SubscriptionStatus = models.SubscriptionTrialing
		tenant.TrialEndsAt = &ends
	case models.TenantStatusActive:
		tenant.Status = models.TenantStatusActive
		tenant.Plan = models.PlanStarter
		tenant.SubscriptionStatus = models.SubscriptionActive
	default:
		return nil, apperr.Validation("status", "a new tenant must start as trial or active")
	}
	if req.Plan != "" {
		tenant.Plan = req.Plan
	}

	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, err
	}
	s.log.Info("Tenant created",
		logger.String("tenant_id", tenant.ID.String()),
		logger.String("slug", tenant.Slug),
		logger.String("status", string(tenant.Status)),
	)
	return tenant, nil
}

// uniqueSlug returns base, or base with the first free numeric suffix.
func (s *tenantService) uniqueSlug(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 2; i <= maxSlugAttempts; i++ {
		_, err := s.tenants.GetBySlug(ctx, candidate)
		if errors.Is(err, apperr.ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", apperr.Conflict("no free slug for " + base)
}

func (s *tenantService) Update(ctx context.Context, id uuid.UUID, req *UpdateTenantRequest) (*models.Tenant, error) {
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if err := common.ValidateRequiredString(name, "name"); err != nil {
			return nil, err
		}
		tenant.Name = name
	}
	if req.Slug != nil {
		slug := strings.ToLower(strings.TrimSpace(*req.Slug))
		if err := common.ValidateSlug(slug); err != nil {
			return nil, err
		}
		tenant.Slug = slug
	}
	if req.Plan != nil {
		tenant.Plan = strings.TrimSpace(*req.Plan)
	}
	if req.TrialEndsAt != nil {
		ends := req.TrialEndsAt.UTC()
		tenant.TrialEndsAt = &ends
	}
	if req.Settings != nil {
		logo := tenant.Settings.Branding.LogoObject
		tenant.Settings = *req.Settings
		// the logo object is owned by UploadLogo
		tenant.Settings.Branding.LogoObject = logo
	}
	if req.Billing != nil {
		tenant.Billing = maps.Clone(req.Billing)
	}
	if req.Status != nil {
		if err := applyStatus(tenant, *req.Status); err != nil {
			return nil, err
		}
	}
	if req.SubscriptionStatus != nil {
		tenant.SubscriptionStatus = *req.SubscriptionStatus
	}

	tenant.UpdatedAt = s.now().UTC()
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// applyStatus moves tenant to dst and aligns the subscription fields.
func applyStatus(tenant *models.Tenant, dst models.TenantStatus) error {
	if !dst.Valid() {
		return apperr.Validation("status", fmt.Sprintf("unknown tenant status %q", dst))
	}
	if !models.CanTransition(tenant.Status, dst) {
		return apperr.Validation("status", fmt.Sprintf("tenant cannot move from %s to %s", tenant.Status, dst))
	}
	if tenant.Status == dst {
		return nil
	}

	switch dst {
	case models.TenantStatusActive:
		if tenant.Status == models.TenantStatusTrial {
			tenant.TrialEndsAt = nil
			if tenant.Plan == models.PlanTrial {
				tenant.Plan = models.PlanStarter
			}
		}
		tenant.SubscriptionStatus = models.SubscriptionActive
	case models.TenantStatusCancelled:
		tenant.SubscriptionStatus = models.SubscriptionCancelled
	}
	tenant.Status = dst
	return nil
}

func (s *tenantService) setStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) (*models.Tenant, error) {
	tenant, err := s.Update(ctx, id, &UpdateTenantRequest{Status: &status})
	if err != nil {
		return nil, err
	}
	s.log.Info("Tenant status changed",
		logger.String("tenant_id", id.String()),
		logger.String("status", string(status)),
	)
	return tenant, nil
}

func (s *tenantService) Suspend(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return s.setStatus(ctx, id, models.TenantStatusSuspended)
}

func (s *tenantService) Activate(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return s.setStatus(ctx, id, models.TenantStatusActive)
}

func (s *tenantService) Cancel(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return s.setStatus(ctx, id, models.TenantStatusCancelled)
}

// Delete removes the tenant and every profile scoped to it in one
// transaction. Identities of the removed users and the branding logo are
// cleaned up afterwards; the tenant stays deleted when that cleanup fails and
// the failure is returned as a dependency error.
func (s *tenantService) Delete(ctx context.Context, id uuid.UUID) error {
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var removed []*models.UserProfile
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		users, err := s.users.List(ctx, models.UserFilter{TenantID: &id})
		if err != nil {
			return err
		}
		if _, err := s.users.DeleteByTenant(ctx, id); err != nil {
			return err
		}
		if err := s.tenants.Delete(ctx, id); err != nil {
			return err
		}
		removed = users
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("Tenant deleted",
		logger.String("tenant_id", id.String()),
		logger.Int("users_removed", len(removed)),
	)

	var cleanup []error
	if s.identity != nil {
		for _, u := range removed {
			if err := s.identity.DeleteIdentity(ctx, u.ID); err != nil {
				cleanup = append(cleanup, fmt.Errorf("identity %s: %w", u.ID, err))
			}
		}
	}
	if logo := tenant.Settings.Branding.LogoObject; logo != "" && s.storage != nil {
		if err := s.storage.DeleteObject(ctx, logo); err != nil {
			cleanup = append(cleanup, fmt.Errorf("logo %s: %w", logo, err))
		}
	}
	if len(cleanup) > 0 {
		err := errors.Join(cleanup...)
		s.log.Warn("Tenant deleted with incomplete cleanup",
			logger.String("tenant_id", id.String()),
			logger.Error(err),
		)
		return apperr.Dependency(err, "tenant deleted but cleanup did not complete", true).
			WithDetail("tenant_id", id.String())
	}
	return nil
}

func (s *tenantService) GetStats(ctx context.Context, id uuid.UUID) (*models.TenantStats, error) {
	if _, err := s.tenants.GetByID(ctx, id); err != nil {
		return nil, err
	}
	counts, err := s.users.CountByTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := s.events.CountByStatus(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &models.TenantStats{
		TenantID:       id,
		UsersByRole:    make(map[models.Role]int),
		UsersByStatus:  make(map[models.UserStatus]int),
		EventsByStatus: events,
	}
	for _, c := range counts {
		stats.TotalUsers += c.Count
		stats.UsersByRole[c.Role] += c.Count
		stats.UsersByStatus[c.Status] += c.Count
	}
	for _, n := range events {
		stats.TotalEvents += n
	}
	return stats, nil
}

// ExpireTrials marks every trial whose window elapsed before now. The status
// stays trial; sign-in is refused through Tenant.IsUsable.
func (s *tenantService) ExpireTrials(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.tenants.ListExpiredTrials(ctx, now)
	if err != nil {
		return 0, err
	}

	var errs []error
	marked := 0
	for _, t := range expired {
		t.SubscriptionStatus = models.SubscriptionTrialExpired
		t.UpdatedAt = s.now().UTC()
		if err := s.tenants.Update(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", t.ID, err))
			continue
		}
		marked++
		s.log.Info("Tenant trial expired", logger.String("tenant_id", t.ID.String()))
	}
	return marked, errors.Join(errs...)
}

func (s *tenantService) UploadLogo(ctx context.Context, id uuid.UUID, reader io.Reader, size int64, contentType string) (*models.Tenant, error) {
	if s.storage == nil {
		return nil, apperr.New(apperr.CodeDependency, "logo storage is not configured")
	}
	ext, ok := logoExtensions[contentType]
	if !ok {
		return nil, apperr.Validation("content_type", "logo must be png, jpeg, webp or svg")
	}
	if size <= 0 || size > maxLogoSize {
		return nil, apperr.Validation("size", "logo must be between 1 byte and 2 MiB")
	}

	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	object := fmt.Sprintf("tenants/%s/logo-%d.%s", id, s.now().UnixNano(), ext)
	if err := s.storage.UploadObject(ctx, object, reader, size, contentType); err != nil {
		return nil, err
	}

	previous := tenant.Settings.Branding.LogoObject
	tenant.Settings.Branding.LogoObject = object
	tenant.UpdatedAt = s.now().UTC()
	if err := s.tenants.Update(ctx, tenant); err != nil {
		return nil, compensate(ctx, s.log, err, func(ctx context.Context) error {
			return s.storage.DeleteObject(ctx, object)
		})
	}

	if previous != "" {
		if err := s.storage.DeleteObject(ctx, previous); err != nil {
			s.log.Warn("Failed to delete replaced logo",
				logger.String("object", previous),
				logger.Error(err),
			)
		}
	}
	return tenant, nil
}

func (s *tenantService) LogoURL(ctx context.Context, id uuid.UUID) (string, error) {
	if s.storage == nil {
		return "", apperr.New(apperr.CodeDependency, "logo storage is not configured")
	}
	tenant, err := s.tenants.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if tenant.Settings.Branding.LogoObject == "" {
		return "", apperr.NotFound("logo")
	}
	return s.storage.GetPresignedURL(ctx, tenant.Settings.Branding.LogoObject, logoURLExpiry)
}
