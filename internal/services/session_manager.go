package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/common"
	"tenantcore/internal/identity"
	"tenantcore/internal/logger"
	"tenantcore/internal/metrics"
	"tenantcore/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultResolveTimeout = 10 * time.Second
	eventQueueSize        = 16
)

var errManagerClosed = apperr.New(apperr.CodeDependency, "session manager is closed")

type SessionManagerConfig struct {
	// ResolveTimeout bounds an operation whose context carries no deadline.
	ResolveTimeout time.Duration
	// FollowEvents re-resolves or clears the session when the provider
	// reports a sign-in or sign-out of the signed-in identity.
	FollowEvents bool
}

type SessionManagerDeps struct {
	Identity  identity.Provider
	Directory SessionDirectory
	Users     UserDirectory
	Tenants   TenantRegistry
	Metrics   *metrics.Metrics
	Log       logger.Logger
	Now       func() time.Time
}

type SignInResult struct {
	User   *models.UserProfile `json:"user"`
	Tenant *models.Tenant      `json:"tenant,omitempty"`
}

type SignUpRequest struct {
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required"`
	FullName string      `json:"full_name" validate:"required"`
	Phone    string      `json:"phone,omitempty"`
	Role     models.Role `json:"role,omitempty"`
	// TenantID joins an existing tenant. Without it a tenant admin gets a
	// new trial tenant named TenantName.
	TenantID   *uuid.UUID `json:"tenant_id,omitempty"`
	TenantName string     `json:"tenant_name,omitempty"`
}

type ProfileUpdate struct {
	FullName *string `json:"full_name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

type applyMsg struct {
	gen     uint64
	session models.Session
	reply   chan bool
}

// SessionManager owns the current session. A single goroutine applies state
// changes; each operation takes a new generation and cancels the one in
// flight, and only the latest generation may publish.
type SessionManager struct {
	identity  identity.Provider
	directory SessionDirectory
	users     UserDirectory
	tenants   TenantRegistry
	metrics   *metrics.Metrics
	log       logger.Logger
	now       func() time.Time
	cfg       SessionManagerConfig

	current atomic.Pointer[models.Session]
	gen     atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc

	applyCh     chan applyMsg
	events      chan identity.Event
	stop        chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
	unsubscribe func()
}

func NewSessionManager(deps SessionManagerDeps, cfg SessionManagerConfig) *SessionManager {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	m := &SessionManager{
		identity:  deps.Identity,
		directory: deps.Directory,
		users:     deps.Users,
		tenants:   deps.Tenants,
		metrics:   deps.Metrics,
		log:       deps.Log,
		now:       deps.Now,
		cfg:       cfg,
		applyCh:   make(chan applyMsg),
		stop:      make(chan struct{}),
	}
	if m.metrics == nil {
		m.metrics = metrics.NewNop()
	}
	if m.log == nil {
		m.log = logger.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}

	initial := models.UnauthenticatedSession(0)
	m.current.Store(&initial)

	m.wg.Add(1)
	go m.run()

	if cfg.FollowEvents {
		m.events = make(chan identity.Event, eventQueueSize)
		m.wg.Add(1)
		go m.followEvents()
		m.unsubscribe = m.identity.Subscribe(m.onEvent)
	}
	return m
}

// Session returns the current snapshot.
func (m *SessionManager) Session() models.Session {
	return *m.current.Load()
}

// Context returns ctx carrying the current snapshot.
func (m *SessionManager) Context(ctx context.Context) context.Context {
	return common.WithSession(ctx, m.Session())
}

// Close stops the manager and cancels any resolution in flight.
func (m *SessionManager) Close() {
	m.closeOnce.Do(func() {
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		m.mu.Unlock()
		close(m.stop)
		m.wg.Wait()
	})
}

func (m *SessionManager) run() {
	defer m.wg.Done()
	for {
		select {
		case msg := <-m.applyCh:
			applied := msg.gen == m.gen.Load()
			if applied {
				s := msg.session
				s.Generation = msg.gen
				m.current.Store(&s)
				m.metrics.ObserveSessionState(string(s.State))
				m.log.Debug("Session state changed",
					logger.String("state", string(s.State)),
					logger.Uint64("generation", msg.gen),
				)
			}
			msg.reply <- applied
		case <-m.stop:
			return
		}
	}
}

// begin issues the next generation and cancels the previous one. The
// returned context is bounded by ResolveTimeout unless ctx has a deadline.
func (m *SessionManager) begin(ctx context.Context) (context.Context, uint64, context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	gen := m.gen.Add(1)

	var (
		rctx   context.Context
		cancel context.CancelFunc
	)
	if _, ok := ctx.Deadline(); ok {
		rctx, cancel = context.WithCancel(ctx)
	} else {
		rctx, cancel = context.WithTimeout(ctx, m.cfg.ResolveTimeout)
	}
	m.cancel = cancel
	return rctx, gen, cancel
}

// apply publishes s if gen is still the latest generation.
func (m *SessionManager) apply(gen uint64, s models.Session) error {
	reply := make(chan bool, 1)
	select {
	case m.applyCh <- applyMsg{gen: gen, session: s, reply: reply}:
	case <-m.stop:
		return errManagerClosed
	}
	if !<-reply {
		m.metrics.ObserveSuperseded()
		return apperr.Superseded()
	}
	return nil
}

// classify turns a resolution failure into the error returned to the caller.
func (m *SessionManager) classify(gen uint64, err error, op string) error {
	if m.gen.Load() != gen {
		m.metrics.ObserveSuperseded()
		return apperr.Superseded()
	}
	return apperr.External(err, op)
}

// fail publishes the error state followed by the empty session. A
// superseded resolution publishes nothing.
func (m *SessionManager) fail(gen uint64, err error, op string) error {
	err = m.classify(gen, err, op)
	if apperr.CodeOf(err) == apperr.CodeSuperseded {
		return err
	}
	if aerr := m.apply(gen, models.Session{State: models.SessionError, Err: err}); aerr != nil {
		return aerr
	}
	if aerr := m.apply(gen, models.UnauthenticatedSession(gen)); aerr != nil {
		return aerr
	}
	m.log.Debug("Session resolution failed", logger.String("op", op), logger.Error(err))
	return err
}

func (m *SessionManager) establish(gen uint64, s models.Session) (*SignInResult, error) {
	if err := m.apply(gen, s); err != nil {
		return nil, err
	}
	return &SignInResult{User: s.User, Tenant: s.Tenant}, nil
}

// resolve loads the profile and tenant of identity id. tenantID names the
// tenant a platform admin acts in; for anyone else it must be their own.
func (m *SessionManager) resolve(ctx context.Context, id uuid.UUID, tenantID *uuid.UUID, activatePending bool) (models.Session, error) {
	profile, err := m.directory.ResolveProfile(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Session{}, apperr.Authentication("no profile exists for this identity")
	}
	if err != nil {
		return models.Session{}, err
	}
	if profile.Status == models.UserStatusSuspended {
		return models.Session{}, apperr.UserInactive("user is suspended")
	}
	if profile.Status == models.UserStatusPending && !activatePending {
		return models.Session{}, apperr.UserInactive("user has not completed sign-up")
	}

	var tenant *models.Tenant
	if profile.Role.TenantScoped() {
		if profile.TenantID == nil {
			return models.Session{}, apperr.TenantInactive("user has no tenant")
		}
		if tenantID != nil && *tenantID != *profile.TenantID {
			return models.Session{}, apperr.Authorization("cannot act in another tenant")
		}
		tenant, err = m.tenants.GetByID(ctx, *profile.TenantID)
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Session{}, apperr.TenantInactive("tenant no longer exists")
		}
		if err != nil {
			return models.Session{}, err
		}
		if !tenant.IsUsable(m.now()) {
			return models.Session{}, tenantInactive(tenant)
		}
	} else if tenantID != nil {
		if tenant, err = m.tenants.GetByID(ctx, *tenantID); err != nil {
			return models.Session{}, err
		}
	}

	if profile.Status == models.UserStatusPending {
		if profile, err = m.directory.ActivateProfile(ctx, profile); err != nil {
			return models.Session{}, err
		}
	}
	return models.Session{State: models.SessionAuthenticated, User: profile, Tenant: tenant}, nil
}

func tenantInactive(t *models.Tenant) error {
	if t.Status == models.TenantStatusTrial {
		return apperr.TenantInactive("tenant trial has ended").WithDetail("tenant_status", string(t.Status))
	}
	return apperr.TenantInactive("tenant is " + string(t.Status)).WithDetail("tenant_status", string(t.Status))
}

// revokeQuietly ends the provider session of id. Failures are logged only.
func (m *SessionManager) revokeQuietly(ctx context.Context, id uuid.UUID) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ResolveTimeout)
	defer cancel()
	if err := m.identity.RevokeSession(rctx, id); err != nil {
		m.log.Warn("Failed to revoke identity session",
			logger.String("identity_id", id.String()),
			logger.Error(err),
		)
	}
}

func (m *SessionManager) SignIn(ctx context.Context, email, password string) (*SignInResult, error) {
	email = common.NormalizeEmail(email)
	if err := common.ValidateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, apperr.Validation("password", "password is required")
	}

	rctx, gen, done := m.begin(ctx)
	defer done()
	if err := m.apply(gen, models.Session{State: models.SessionLoading}); err != nil {
		return nil, err
	}

	id, err := m.identity.VerifyCredentials(rctx, email, password)
	if err != nil {
		err = m.fail(gen, err, "verify credentials")
		m.metrics.ObserveSignIn(string(apperr.CodeOf(err)))
		return nil, err
	}

	session, err := m.resolve(rctx, id, nil, true)
	if err != nil {
		err = m.fail(gen, err, "resolve session")
		if apperr.CodeOf(err) != apperr.CodeSuperseded {
			m.revokeQuietly(ctx, id)
		}
		m.metrics.ObserveSignIn(string(apperr.CodeOf(err)))
		return nil, err
	}

	res, err := m.establish(gen, session)
	if err != nil {
		m.metrics.ObserveSignIn(string(apperr.CodeOf(err)))
		return nil, err
	}
	m.metrics.ObserveSignIn("ok")
	m.log.Info("User signed in",
		logger.String("user_id", id.String()),
		logger.String("role", string(session.User.Role)),
	)
	return res, nil
}

// SignUp creates the identity, a trial tenant when the requester owns a new
// one, and the profile, then signs in. Completed steps are undone when a
// later one fails.
func (m *SessionManager) SignUp(ctx context.Context, req *SignUpRequest) (*SignInResult, error) {
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
	role := req.Role
	if role == "" {
		role = models.RoleEndUser
		if req.TenantID == nil {
			role = models.RoleTenantAdmin
		}
	}
	if !role.Valid() {
		return nil, apperr.Validation("role", "unknown role "+string(role))
	}
	if role == models.RolePlatformAdmin {
		return nil, apperr.Authorization("platform admins cannot sign up")
	}
	if req.TenantID == nil && role != models.RoleTenantAdmin {
		return nil, apperr.Validation("tenant_id", "tenant_id is required for this role")
	}
	if req.TenantID != nil && role != models.RoleEndUser && role != models.RoleMemberBasic {
		return nil, apperr.Authorization("joining an existing tenant as " + string(role) + " requires an invitation")
	}

	rctx, gen, done := m.begin(ctx)
	defer done()
	if err := m.apply(gen, models.Session{State: models.SessionLoading}); err != nil {
		return nil, err
	}

	if req.TenantID != nil {
		tenant, err := m.tenants.GetByID(rctx, *req.TenantID)
		if errors.Is(err, apperr.ErrNotFound) {
			err = apperr.Validation("tenant_id", "tenant does not exist")
		}
		if err != nil {
			return nil, m.fail(gen, err, "sign up")
		}
		if !tenant.IsUsable(m.now()) {
			return nil, m.fail(gen, tenantInactive(tenant), "sign up")
		}
	}

	metadata := map[string]any{"full_name": fullName, "role": string(role)}
	id, err := m.identity.CreateIdentity(rctx, email, req.Password, metadata)
	if err != nil {
		return nil, m.fail(gen, err, "create identity")
	}
	undo := []func(ctx context.Context) error{
		func(ctx context.Context) error { return m.identity.DeleteIdentity(ctx, id) },
	}

	tenantID := req.TenantID
	if tenantID == nil {
		name := strings.TrimSpace(req.TenantName)
		if name == "" {
			name = fullName
		}
		tenant, err := m.tenants.Create(rctx, &CreateTenantRequest{Name: name})
		if err != nil {
			return nil, m.fail(gen, compensate(ctx, m.log, err, undo...), "create tenant")
		}
		created := tenant.ID
		tenantID = &created
		// the tenant goes before the identity
		undo = append([]func(ctx context.Context) error{
			func(ctx context.Context) error { return m.tenants.Delete(ctx, created) },
		}, undo...)
	}

	now := m.now().UTC()
	profile := &models.UserProfile{
		ID:          id,
		TenantID:    tenantID,
		Email:       email,
		FullName:    fullName,
		Phone:       strings.TrimSpace(req.Phone),
		Role:        role,
		Status:      models.UserStatusActive,
		Permissions: []models.Permission{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.directory.RegisterProfile(rctx, profile); err != nil {
		return nil, m.fail(gen, compensate(ctx, m.log, err, undo...), "create profile")
	}

	session, err := m.resolve(rctx, id, nil, false)
	if err != nil {
		return nil, m.fail(gen, err, "resolve session")
	}
	res, err := m.establish(gen, session)
	if err != nil {
		return nil, err
	}
	m.log.Info("User signed up",
		logger.String("user_id", id.String()),
		logger.String("tenant_id", tenantID.String()),
		logger.String("role", string(role)),
	)
	return res, nil
}

// SignOut clears the session and revokes the provider session. Revocation
// failures are logged; the local session is cleared regardless.
func (m *SessionManager) SignOut(ctx context.Context) error {
	cur := m.Session()
	_, gen, done := m.begin(ctx)
	done()

	if err := m.apply(gen, models.UnauthenticatedSession(gen)); err != nil && !errors.Is(err, apperr.ErrSuperseded) {
		return err
	}
	if cur.Authenticated() {
		m.revokeQuietly(ctx, cur.User.ID)
		m.log.Info("User signed out", logger.String("user_id", cur.User.ID.String()))
	}
	return nil
}

// SwitchTenant re-resolves the session for tenantID. Tenant users may only
// name their own tenant; platform admins may act in any. When resolution
// fails the previous session is put back, unless the user itself is no
// longer allowed in.
func (m *SessionManager) SwitchTenant(ctx context.Context, tenantID uuid.UUID) (*SignInResult, error) {
	cur := m.Session()
	if !cur.Authenticated() {
		return nil, apperr.Authentication("no signed-in user")
	}
	if cur.User.Role != models.RolePlatformAdmin && !cur.User.BelongsTo(tenantID) {
		return nil, apperr.Authorization("cannot switch to another tenant")
	}

	rctx, gen, done := m.begin(ctx)
	defer done()
	loading := cur
	loading.State, loading.Err = models.SessionLoading, nil
	if err := m.apply(gen, loading); err != nil {
		return nil, err
	}

	session, err := m.resolve(rctx, cur.User.ID, &tenantID, false)
	if err != nil {
		switch apperr.CodeOf(m.classify(gen, err, "switch tenant")) {
		case apperr.CodeSuperseded:
			return nil, apperr.Superseded()
		case apperr.CodeUserInactive, apperr.CodeAuthentication:
			return nil, m.fail(gen, err, "switch tenant")
		}
		err = apperr.External(err, "switch tenant")
		failed := cur
		failed.State, failed.Err = models.SessionError, err
		if aerr := m.apply(gen, failed); aerr != nil {
			return nil, aerr
		}
		restored := cur
		restored.State, restored.Err = models.SessionAuthenticated, nil
		if aerr := m.apply(gen, restored); aerr != nil {
			return nil, aerr
		}
		return nil, err
	}
	return m.establish(gen, session)
}

// Restore resolves the session of an identity the provider already
// authenticated, without checking credentials.
func (m *SessionManager) Restore(ctx context.Context, id uuid.UUID) (*SignInResult, error) {
	rctx, gen, done := m.begin(ctx)
	defer done()
	return m.restore(rctx, gen, id)
}

func (m *SessionManager) restore(ctx context.Context, gen uint64, id uuid.UUID) (*SignInResult, error) {
	cur := m.Session()
	loading := models.Session{State: models.SessionLoading}
	var acting *uuid.UUID
	if cur.Authenticated() && cur.User.ID == id {
		loading.User, loading.Tenant = cur.User, cur.Tenant
		if cur.User.Role == models.RolePlatformAdmin && cur.Tenant != nil {
			tid := cur.Tenant.ID
			acting = &tid
		}
	}
	if err := m.apply(gen, loading); err != nil {
		return nil, err
	}

	session, err := m.resolve(ctx, id, acting, false)
	if err != nil {
		return nil, m.fail(gen, err, "restore session")
	}
	return m.establish(gen, session)
}

// UpdateProfile changes the signed-in user's own name or phone and
// republishes the session with the stored profile.
func (m *SessionManager) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*models.UserProfile, error) {
	gen := m.gen.Load()
	cur := m.Session()
	if !cur.Authenticated() {
		return nil, apperr.Authentication("no signed-in user")
	}

	updated, err := m.users.Update(common.WithSession(ctx, cur), cur.User.ID, &UpdateUserRequest{
		FullName: upd.FullName,
		Phone:    upd.Phone,
	})
	if err != nil {
		return nil, err
	}

	// A newer operation in flight loads the stored profile itself.
	if cur.Generation == gen {
		next := cur
		next.User = updated
		if err := m.apply(gen, next); err != nil && !errors.Is(err, apperr.ErrSuperseded) {
			return nil, err
		}
	}
	return updated, nil
}

func (m *SessionManager) onEvent(e identity.Event) {
	select {
	case m.events <- e:
	case <-m.stop:
	default:
		m.log.Warn("Identity event queue full, dropping event",
			logger.String("type", string(e.Type)),
			logger.String("identity_id", e.IdentityID.String()),
		)
	}
}

func (m *SessionManager) followEvents() {
	defer m.wg.Done()
	for {
		select {
		case e := <-m.events:
			m.handleEvent(e)
		case <-m.stop:
			return
		}
	}
}

// handleEvent reacts to events of the signed-in identity only. A new
// generation is taken before returning so events keep their order.
func (m *SessionManager) handleEvent(e identity.Event) {
	cur := m.Session()
	if !cur.Authenticated() || cur.User.ID != e.IdentityID {
		return
	}

	switch e.Type {
	case identity.SignedIn:
		rctx, gen, done := m.begin(context.Background())
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer done()
			if _, err := m.restore(rctx, gen, e.IdentityID); err != nil && !errors.Is(err, apperr.ErrSuperseded) {
				m.log.Warn("Session refresh after sign-in event failed",
					logger.String("identity_id", e.IdentityID.String()),
					logger.Error(err),
				)
			}
		}()
	case identity.SignedOut:
		_, gen, done := m.begin(context.Background())
		done()
		if err := m.apply(gen, models.UnauthenticatedSession(gen)); err == nil {
			m.log.Info("Session cleared by sign-out event", logger.String("identity_id", e.IdentityID.String()))
		}
	}
}
