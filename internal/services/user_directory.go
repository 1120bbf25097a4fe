package services

import (
	"context"
	"errors"
	"fmt"
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

// UserDirectory is the caller-gated view of user profiles. The caller is the
// signed-in user of the session carried in ctx.
type UserDirectory interface {
	List(ctx context.Context, filter models.UserFilter) ([]*models.UserProfile, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.UserProfile, error)
	Create(ctx context.Context, req *CreateUserRequest) (*models.UserProfile, error)
	Invite(ctx context.Context, req *InviteUserRequest) (*models.UserProfile, error)
	Update(ctx context.Context, id uuid.UUID, req *UpdateUserRequest) (*models.UserProfile, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ResetPassword(ctx context.Context, email string) error
	BootstrapPlatformAdmin(ctx context.Context, req *CreateUserRequest) (*models.UserProfile, error)
}

// SessionDirectory is the ungated profile access used while a session is
// being established, before there is a caller to check.
type SessionDirectory interface {
	ResolveProfile(ctx context.Context, id uuid.UUID) (*models.UserProfile, error)
	ActivateProfile(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error)
	RegisterProfile(ctx context.Context, profile *models.UserProfile) error
}

type CreateUserRequest struct {
	Email       string              `json:"email" validate:"required,email"`
	Password    string              `json:"password" validate:"required"`
	FullName    string              `json:"full_name" validate:"required"`
	Phone       string              `json:"phone,omitempty"`
	Role        models.Role         `json:"role"`
	TenantID    *uuid.UUID          `json:"tenant_id,omitempty"`
	Permissions []models.Permission `json:"permissions,omitempty"`
}

type InviteUserRequest struct {
	Email       string              `json:"email" validate:"required,email"`
	FullName    string              `json:"full_name" validate:"required"`
	Phone       string              `json:"phone,omitempty"`
	Role        models.Role         `json:"role"`
	TenantID    *uuid.UUID          `json:"tenant_id,omitempty"`
	Permissions []models.Permission `json:"permissions,omitempty"`
}

type UpdateUserRequest struct {
	FullName    *string              `json:"full_name,omitempty"`
	Phone       *string              `json:"phone,omitempty"`
	Role        *models.Role         `json:"role,omitempty"`
	Status      *models.UserStatus   `json:"status,omitempty"`
	Permissions *[]models.Permission `json:"permissions,omitempty"`
}

func (r *UpdateUserRequest) privileged() bool {
	return r.Role != nil || r.Status != nil || r.Permissions != nil
}

type UserDirectoryDeps struct {
	Users    repositories.UserRepository
	Tenants  repositories.TenantRepository
	Identity identity.Provider
	Log      logger.Logger
	Now      func() time.Time
}

// UserDirectoryService implements both UserDirectory and SessionDirectory.
type UserDirectoryService struct {
	users    repositories.UserRepository
	tenants  repositories.TenantRepository
	identity identity.Provider
	log      logger.Logger
	now      func() time.Time
}

func NewUserDirectory(deps UserDirectoryDeps) *UserDirectoryService {
	s := &UserDirectoryService{
		users:    deps.Users,
		tenants:  deps.Tenants,
		identity: deps.Identity,
		log:      deps.Log,
		now:      deps.Now,
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// authorize returns the caller when it holds action on users.
func (s *UserDirectoryService) authorize(ctx context.Context, action models.Action) (*models.UserProfile, error) {
	caller, err := common.CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if !HasPermission(caller, models.ResourceUsers, action) {
		return nil, apperr.Authorization("missing permission users:" + string(action))
	}
	return caller, nil
}

// visible reports whether caller may see target. Profiles outside the
// caller's tenant are reported as missing, never as forbidden.
func visible(caller, target *models.UserProfile) bool {
	if caller.Role == models.RolePlatformAdmin {
		return true
	}
	return caller.TenantID != nil && target.BelongsTo(*caller.TenantID)
}

func (s *UserDirectoryService) List(ctx context.Context, filter models.UserFilter) ([]*models.UserProfile, error) {
	caller, err := s.authorize(ctx, models.ActionRead)
	if err != nil {
		return nil, err
	}
	if caller.Role != models.RolePlatformAdmin {
		if caller.TenantID == nil {
			return nil, apperr.Authorization("caller has no tenant")
		}
		tenantID := *caller.TenantID
		filter.TenantID = &tenantID
	}
	for _, role := range filter.Roles {
		if !role.Valid() {
			return nil, apperr.Validation("role", fmt.Sprintf("unknown role %q", role))
		}
	}
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, apperr.Validation("status", fmt.Sprintf("unknown user status %q", st))
		}
	}
	limit, offset, err := common.ValidatePaginationParams(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = limit, offset
	filter.Search = common.SanitizeSearchQuery(filter.Search)
	return s.users.List(ctx, filter)
}

func (s *UserDirectoryService) GetByID(ctx context.Context, id uuid.UUID) (*models.UserProfile, error) {
	caller, err := common.CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if id != caller.ID && !HasPermission(caller, models.ResourceUsers, models.ActionRead) {
		return nil, apperr.Authorization("missing permission users:read")
	}
	return s.visibleProfile(ctx, caller, id)
}

func (s *UserDirectoryService) visibleProfile(ctx context.Context, caller *models.UserProfile, id uuid.UUID) (*models.UserProfile, error) {
	profile, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(caller, profile) {
		return nil, apperr.NotFound("user")
	}
	return profile, nil
}

type profileInput struct {
	email       string
	fullName    string
	phone       string
	role        models.Role
	tenantID    *uuid.UUID
	permissions []models.Permission
}

// newProfile validates input against the caller and returns the profile to
// insert. The ID is filled in once the identity exists.
func (s *UserDirectoryService) newProfile(ctx context.Context, caller *models.UserProfile, in profileInput) (*models.UserProfile, error) {
	email := common.NormalizeEmail(in.email)
	if err := common.ValidateEmail(email); err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(in.fullName)
	if err := common.ValidateRequiredString(fullName, "full_name"); err != nil {
		return nil, err
	}
	role := in.role
	if role == "" {
		role = models.RoleEndUser
	}
	if !role.Valid() {
		return nil, apperr.Validation("role", fmt.Sprintf("unknown role %q", role))
	}
	if role.Rank() > caller.Role.Rank() {
		return nil, apperr.Authorization("cannot grant a role above your own")
	}
	if err := validatePermissions(caller, in.permissions); err != nil {
		return nil, err
	}
	tenantID, err := s.resolveTenant(ctx, caller, role, in.tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	perms := in.permissions
	if perms == nil {
		perms = []models.Permission{}
	}
	return &models.UserProfile{
		TenantID:    tenantID,
		Email:       email,
		FullName:    fullName,
		Phone:       strings.TrimSpace(in.phone),
		Role:        role,
		Permissions: perms,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// resolveTenant picks the tenant a new profile is scoped to. Tenant callers
// can only create inside their own tenant; platform admins name one or fall
// back to the tenant they are acting in.
func (s *UserDirectoryService) resolveTenant(ctx context.Context, caller *models.UserProfile, role models.Role, requested *uuid.UUID) (*uuid.UUID, error) {
	if !role.TenantScoped() {
		if requested != nil {
			return nil, apperr.Validation("tenant_id", "platform admins are not scoped to a tenant")
		}
		return nil, nil
	}

	var tenantID uuid.UUID
	switch {
	case caller.Role != models.RolePlatformAdmin:
		if caller.TenantID == nil {
			return nil, apperr.Authorization("caller has no tenant")
		}
		if requested != nil && *requested != *caller.TenantID {
			return nil, apperr.Authorization("cannot create users in another tenant")
		}
		tenantID = *caller.TenantID
	case requested != nil:
		tenantID = *requested
	default:
		acting, ok := common.GetTenantIDFromContext(ctx)
		if !ok {
			return nil, apperr.Validation("tenant_id", "tenant_id is required for tenant-scoped roles")
		}
		tenantID = acting
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Validation("tenant_id", "tenant does not exist")
	}
	if err != nil {
		return nil, err
	}
	if tenant.Status == models.TenantStatusCancelled {
		return nil, apperr.Validation("tenant_id", "tenant is cancelled")
	}
	return &tenantID, nil
}

func (s *UserDirectoryService) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return apperr.Conflict("a user with this email already exists").WithDetail("field", "email")
	case errors.Is(err, apperr.ErrNotFound):
		return nil
	}
	return err
}

// validatePermissions checks grants for shape, and that the caller already
// holds every grant it hands out.
func validatePermissions(caller *models.UserProfile, perms []models.Permission) error {
	for _, p := range perms {
		if strings.TrimSpace(p.Resource) == "" {
			return apperr.Validation("permissions", "permission resource is required")
		}
		if !p.Action.Valid() {
			return apperr.Validation("permissions", fmt.Sprintf("unknown action %q", p.Action))
		}
	}
	for _, p := range perms {
		if !HasPermission(caller, p.Resource, p.Action) {
			return apperr.Authorization(fmt.Sprintf("cannot grant %s:%s without holding it", p.Resource, p.Action))
		}
	}
	return nil
}

func identityMetadata(p *models.UserProfile) map[string]any {
	md := map[string]any{
		"full_name": p.FullName,
		"role":      string(p.Role),
	}
	if p.TenantID != nil {
		md["tenant_id"] = p.TenantID.String()
	}
	return md
}

// provision creates the identity, then the profile. A failed profile insert
// removes the identity again.
func (s *UserDirectoryService) provision(ctx context.Context, profile *models.UserProfile, createIdentity func(ctx context.Context) (uuid.UUID, error)) (*models.UserProfile, error) {
	id, err := createIdentity(ctx)
	if err != nil {
		return nil, apperr.External(err, "create identity")
	}
	profile.ID = id
	if err := s.users.Create(ctx, profile); err != nil {
		return nil, compensate(ctx, s.log, err, func(ctx context.Context) error {
			return s.identity.DeleteIdentity(ctx, id)
		})
	}
	s.log.Info("User profile created",
		logger.String("user_id", id.String()),
		logger.String("role", string(profile.Role)),
		logger.String("status", string(profile.Status)),
	)
	return profile, nil
}

func (s *UserDirectoryService) Create(ctx context.Context, req *CreateUserRequest) (*models.UserProfile, error) {
	caller, err := s.authorize(ctx, models.ActionWrite)
	if err != nil {
		return nil, err
	}
	if err := common.ValidatePassword(req.Password); err != nil {
		return nil, err
	}
	profile, err := s.newProfile(ctx, caller, profileInput{
		email:       req.Email,
		fullName:    req.FullName,
		phone:       req.Phone,
		role:        req.Role,
		tenantID:    req.TenantID,
		permissions: req.Permissions,
	})
	if err != nil {
		return nil, err
	}
	profile.Status = models.UserStatusActive

	return s.provision(ctx, profile, func(ctx context.Context) (uuid.UUID, error) {
		return s.identity.CreateIdentity(ctx, profile.Email, req.Password, identityMetadata(profile))
	})
}

func (s *UserDirectoryService) Invite(ctx context.Context, req *InviteUserRequest) (*models.UserProfile, error) {
	caller, err := s.authorize(ctx, models.ActionWrite)
	if err != nil {
		return nil, err
	}
	profile, err := s.newProfile(ctx, caller, profileInput{
		email:       req.Email,
		fullName:    req.FullName,
		phone:       req.Phone,
		role:        req.Role,
		tenantID:    req.TenantID,
		permissions: req.Permissions,
	})
	if err != nil {
		return nil, err
	}
	profile.Status = models.UserStatusPending

	return s.provision(ctx, profile, func(ctx context.Context) (uuid.UUID, error) {
		return s.identity.SendInvite(ctx, profile.Email, identityMetadata(profile))
	})
}

func (s *UserDirectoryService) Update(ctx context.Context, id uuid.UUID, req *UpdateUserRequest) (*models.UserProfile, error) {
	caller, err := common.CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	self := id == caller.ID
	if req.privileged() || !self {
		if !HasPermission(caller, models.ResourceUsers, models.ActionWrite) {
			return nil, apperr.Authorization("missing permission users:write")
		}
	}
	if self && req.privileged() {
		return nil, apperr.Authorization("cannot change your own role, status or permissions")
	}

	target, err := s.visibleProfile(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !self && target.Role.Rank() > caller.Role.Rank() {
		return nil, apperr.Authorization("cannot modify a user with a higher role")
	}

	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if err := common.ValidateRequiredString(name, "full_name"); err != nil {
			return nil, err
		}
		target.FullName = name
	}
	if req.Phone != nil {
		target.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Role != nil {
		role := *req.Role
		if !role.Valid() {
			return nil, apperr.Validation("role", fmt.Sprintf("unknown role %q", role))
		}
		if role.TenantScoped() != target.Role.TenantScoped() {
			return nil, apperr.Validation("role", "cannot move a user between platform and tenant roles")
		}
		if role.Rank() > caller.Role.Rank() {
			return nil, apperr.Authorization("cannot grant a role above your own")
		}
		target.Role = role
	}
	suspended := false
	if req.Status != nil {
		if !req.Status.Valid() {
			return nil, apperr.Validation("status", fmt.Sprintf("unknown user status %q", *req.Status))
		}
		suspended = *req.Status == models.UserStatusSuspended && target.Status != models.UserStatusSuspended
		target.Status = *req.Status
	}
	if req.Permissions != nil {
		if err := validatePermissions(caller, *req.Permissions); err != nil {
			return nil, err
		}
		target.Permissions = append([]models.Permission{}, (*req.Permissions)...)
	}

	target.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, target); err != nil {
		return nil, err
	}

	if suspended {
		if err := s.identity.RevokeSession(ctx, id); err != nil {
			s.log.Warn("Failed to revoke sessions of suspended user",
				logger.String("user_id", id.String()),
				logger.Error(err),
			)
		}
	}
	return target, nil
}

// Delete removes the profile, then the identity. When the identity cannot be
// removed the profile stays deleted and the failure is returned.
func (s *UserDirectoryService) Delete(ctx context.Context, id uuid.UUID) error {
	caller, err := s.authorize(ctx, models.ActionManage)
	if err != nil {
		return err
	}
	if id == caller.ID {
		return apperr.Validation("id", "cannot delete your own account")
	}
	target, err := s.visibleProfile(ctx, caller, id)
	if err != nil {
		return err
	}
	if target.Role.Rank() > caller.Role.Rank() {
		return apperr.Authorization("cannot delete a user with a higher role")
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.identity.DeleteIdentity(ctx, id); err != nil {
		s.log.Error("User profile deleted but identity removal failed",
			logger.String("user_id", id.String()),
			logger.Error(err),
		)
		return apperr.Dependency(err, "profile deleted but identity removal failed", apperr.IsRetryable(err)).
			WithDetail("user_id", id.String())
	}
	s.log.Info("User deleted", logger.String("user_id", id.String()))
	return nil
}

// ResetPassword asks the identity provider to send a reset link. The outcome
// is the same whether or not the address is known.
func (s *UserDirectoryService) ResetPassword(ctx context.Context, email string) error {
	email = common.NormalizeEmail(email)
	if err := common.ValidateEmail(email); err != nil {
		return err
	}
	if err := s.identity.SendPasswordReset(ctx, email); err != nil {
		s.log.Warn("Password reset request failed", logger.Error(err))
	}
	return nil
}

// BootstrapPlatformAdmin creates the first platform admin. It runs without a
// caller and refuses once any platform admin exists.
func (s *UserDirectoryService) BootstrapPlatformAdmin(ctx context.Context, req *CreateUserRequest) (*models.UserProfile, error) {
	existing, err := s.users.List(ctx, models.UserFilter{Roles: []models.Role{models.RolePlatformAdmin}, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, apperr.Conflict("a platform admin already exists")
	}
	if req.TenantID != nil {
		return nil, apperr.Validation("tenant_id", "platform admins are not scoped to a tenant")
	}

	email := common.NormalizeEmail(req.Email)
	if err := common.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := common.ValidatePassword(req.Password); err != nil {
		return nil, err
	}
	fullName := strings.TrimSpace(req.FullName)
	if err := common.ValidateRequiredString(fullName, "full_name"); err != nil {
		return nil, err
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	profile := &models.UserProfile{
		Email:       email,
		FullName:    fullName,
		Phone:       strings.TrimSpace(req.Phone),
		Role:        models.RolePlatformAdmin,
		Status:      models.UserStatusActive,
		Permissions: []models.Permission{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return s.provision(ctx, profile, func(ctx context.Context) (uuid.UUID, error) {
		return s.identity.CreateIdentity(ctx, email, req.Password, identityMetadata(profile))
	})
}

func (s *UserDirectoryService) ResolveProfile(ctx context.Context, id uuid.UUID) (*models.UserProfile, error) {
	return s.users.GetByID(ctx, id)
}

// ActivateProfile moves a pending profile to active.
func (s *UserDirectoryService) ActivateProfile(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error) {
	activated := profile.Clone()
	activated.Status = models.UserStatusActive
	activated.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, activated); err != nil {
		return nil, err
	}
	s.log.Info("Pending user activated", logger.String("user_id", profile.ID.String()))
	return activated, nil
}

func (s *UserDirectoryService) RegisterProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile.Permissions == nil {
		profile.Permissions = []models.Permission{}
	}
	return s.users.Create(ctx, profile)
}
