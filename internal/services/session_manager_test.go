package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/caching"
	"tenantcore/internal/common"
	"tenantcore/internal/identity"
	"tenantcore/internal/logger"
	"tenantcore/internal/metrics"
	"tenantcore/internal/models"
	"tenantcore/internal/repositories"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

// blockingProvider holds VerifyCredentials for one address until the call
// is cancelled.
type blockingProvider struct {
	identity.Provider
	email   string
	entered chan struct{}
}

func (p *blockingProvider) VerifyCredentials(ctx context.Context, email, password string) (uuid.UUID, error) {
	if email != p.email {
		return p.Provider.VerifyCredentials(ctx, email, password)
	}
	close(p.entered)
	<-ctx.Done()
	return uuid.Nil, apperr.FromContext(ctx.Err(), "verify credentials")
}

type revokeFailingProvider struct {
	identity.Provider
}

func (revokeFailingProvider) RevokeSession(context.Context, uuid.UUID) error {
	return errors.New("provider unreachable")
}

type SessionManagerTestSuite struct {
	suite.Suite
	ctx       context.Context
	store     *repositories.MemoryStore
	provider  *identity.LocalProvider
	directory *UserDirectoryService
	tenants   TenantRegistry
	metrics   *metrics.Metrics
}

func (s *SessionManagerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = repositories.NewMemoryStore()
	s.metrics = metrics.NewNop()

	cache := caching.NewMemoryCacheService()
	cache.SetClock(fixedClock)
	s.provider = identity.NewLocalProvider(s.store.Credentials(), cache, identity.NewLocalBus(), identity.NewLogNotifier(logger.NewNop()), identity.LocalProviderConfig{
		Secret:     "session-test-secret-session-test-secret",
		Issuer:     "tenantcore",
		TokenTTL:   time.Hour,
		SetupURL:   "https://app.example.com/setup",
		BcryptCost: bcrypt.MinCost,
	}, logger.NewNop())
	s.provider.SetClock(fixedClock)

	s.directory = s.newDirectory(s.store.Users())
	s.tenants = NewTenantRegistry(TenantRegistryDeps{
		Tenants:  s.store.Tenants(),
		Users:    s.store.Users(),
		Events:   s.store.Events(),
		Tx:       s.store,
		Identity: s.provider,
		Now:      fixedClock,
	})
}

func TestSessionManagerTestSuite(t *testing.T) {
	suite.Run(t, new(SessionManagerTestSuite))
}

func (s *SessionManagerTestSuite) newDirectory(users repositories.UserRepository) *UserDirectoryService {
	return NewUserDirectory(UserDirectoryDeps{
		Users:    users,
		Tenants:  s.store.Tenants(),
		Identity: s.provider,
		Now:      fixedClock,
	})
}

func (s *SessionManagerTestSuite) newManager(p identity.Provider, cfg SessionManagerConfig) *SessionManager {
	return s.newManagerWith(p, s.directory, cfg)
}

func (s *SessionManagerTestSuite) newManagerWith(p identity.Provider, dir *UserDirectoryService, cfg SessionManagerConfig) *SessionManager {
	m := NewSessionManager(SessionManagerDeps{
		Identity:  p,
		Directory: dir,
		Users:     dir,
		Tenants:   s.tenants,
		Metrics:   s.metrics,
		Log:       logger.NewNop(),
		Now:       fixedClock,
	}, cfg)
	s.T().Cleanup(m.Close)
	return m
}

// account creates an identity and a matching profile.
func (s *SessionManagerTestSuite) account(email string, tenantID *uuid.UUID, role models.Role, status models.UserStatus) uuid.UUID {
	id, err := s.provider.CreateIdentity(s.ctx, email, testPassword, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Users().Create(s.ctx, &models.UserProfile{
		ID:          id,
		TenantID:    tenantID,
		Email:       email,
		FullName:    email,
		Role:        role,
		Status:      status,
		Permissions: []models.Permission{},
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}))
	return id
}

func (s *SessionManagerTestSuite) TestStartsUnauthenticated() {
	m := s.newManager(s.provider, SessionManagerConfig{})
	session := m.Session()
	s.Equal(models.SessionUnauthenticated, session.State)
	s.False(session.Authenticated())
}

func (s *SessionManagerTestSuite) TestSignUp_OwnerGetsTrialTenant() {
	m := s.newManager(s.provider, SessionManagerConfig{})

	res, err := m.SignUp(s.ctx, &SignUpRequest{
		Email:      "ana@noivos.test",
		Password:   testPassword,
		FullName:   "Ana Souza",
		TenantName: "Noivos da Serra",
	})
	s.Require().NoError(err)

	s.Equal(models.RoleTenantAdmin, res.User.Role)
	s.Require().NotNil(res.Tenant)
	s.Equal("noivos-da-serra", res.Tenant.Slug)
	s.Equal(models.TenantStatusTrial, res.Tenant.Status)
	s.Require().NotNil(res.Tenant.TrialEndsAt)
	s.Equal(testNow.Add(models.TrialPeriod), *res.Tenant.TrialEndsAt)
	s.True(res.User.BelongsTo(res.Tenant.ID))

	session := m.Session()
	s.Equal(models.SessionAuthenticated, session.State)
	s.Equal(res.User.ID, session.User.ID)
	s.Equal(res.Tenant.ID, session.Tenant.ID)
	s.NotZero(session.Generation)

	id, err := s.provider.VerifyCredentials(s.ctx, "ana@noivos.test", testPassword)
	s.Require().NoError(err)
	s.Equal(res.User.ID, id)
}

func (s *SessionManagerTestSuite) TestSignUp_TenantNameFallsBackToFullName() {
	seedTenant(s.store, "ana-souza", models.TenantStatusActive)
	m := s.newManager(s.provider, SessionManagerConfig{})

	res, err := m.SignUp(s.ctx, &SignUpRequest{Email: "ana@noivos.test", Password: testPassword, FullName: "Ana Souza"})
	s.Require().NoError(err)
	s.Equal("ana-souza-2", res.Tenant.Slug)
}

func (s *SessionManagerTestSuite) TestSignUp_RoleRules() {
	m := s.newManager(s.provider, SessionManagerConfig{})

	_, err := m.SignUp(s.ctx, &SignUpRequest{Email: "root@x.test", Password: testPassword, FullName: "Root", Role: models.RolePlatformAdmin})
	s.ErrorIs(err, apperr.ErrAuthorization)

	_, err = m.SignUp(s.ctx, &SignUpRequest{Email: "m@x.test", Password: testPassword, FullName: "Member", Role: models.RoleMemberBasic})
	s.ErrorIs(err, apperr.ErrValidation)

	missing := uuid.New()
	_, err = m.SignUp(s.ctx, &SignUpRequest{Email: "m@x.test", Password: testPassword, FullName: "Member", TenantID: &missing})
	s.ErrorIs(err, apperr.ErrValidation)

	s.Equal(models.SessionUnauthenticated, m.Session().State)
	_, err = s.provider.VerifyCredentials(s.ctx, "m@x.test", testPassword)
	s.ErrorIs(err, apperr.ErrAuthentication, "no identity left behind")
}

func (s *SessionManagerTestSuite) TestSignUp_JoinsExistingTenant() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	m := s.newManager(s.provider, SessionManagerConfig{})

	res, err := m.SignUp(s.ctx, &SignUpRequest{Email: "guest@acme.test", Password: testPassword, FullName: "Guest", TenantID: &tenant.ID})
	s.Require().NoError(err)
	s.Equal(models.RoleEndUser, res.User.Role)
	s.Equal(tenant.ID, res.Tenant.ID)

	member, err := m.SignUp(s.ctx, &SignUpRequest{Email: "crew@acme.test", Password: testPassword, FullName: "Crew", Role: models.RoleMemberBasic, TenantID: &tenant.ID})
	s.Require().NoError(err)
	s.Equal(models.RoleMemberBasic, member.User.Role)

	suspended := seedTenant(s.store, "frozen", models.TenantStatusSuspended)
	_, err = m.SignUp(s.ctx, &SignUpRequest{Email: "late@frozen.test", Password: testPassword, FullName: "Late", TenantID: &suspended.ID})
	s.ErrorIs(err, apperr.ErrTenantInactive)
}

func (s *SessionManagerTestSuite) TestSignUp_CannotClaimAdminOfExistingTenant() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	s.account("owner@acme.test", &tenant.ID, models.RoleTenantAdmin, models.UserStatusActive)
	m := s.newManager(s.provider, SessionManagerConfig{})

	_, err := m.SignUp(s.ctx, &SignUpRequest{
		Email:    "intruder@evil.test",
		Password: testPassword,
		FullName: "Intruder",
		Role:     models.RoleTenantAdmin,
		TenantID: &tenant.ID,
	})
	s.ErrorIs(err, apperr.ErrAuthorization)
	s.Equal(models.SessionUnauthenticated, m.Session().State)

	_, err = s.provider.VerifyCredentials(s.ctx, "intruder@evil.test", testPassword)
	s.ErrorIs(err, apperr.ErrAuthentication, "no identity created")
	members, err := s.store.Users().List(s.ctx, models.UserFilter{TenantID: &tenant.ID})
	s.Require().NoError(err)
	s.Len(members, 1)
}

func (s *SessionManagerTestSuite) TestSignUp_DuplicateEmail() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	s.account("taken@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	m := s.newManager(s.provider, SessionManagerConfig{})

	_, err := m.SignUp(s.ctx, &SignUpRequest{Email: "taken@acme.test", Password: testPassword, FullName: "Dup"})
	s.ErrorIs(err, apperr.ErrConflict)
	s.Equal(models.SessionUnauthenticated, m.Session().State)

	tenants, err := s.store.Tenants().List(s.ctx, models.TenantFilter{})
	s.Require().NoError(err)
	s.Len(tenants, 1, "no tenant created for the failed sign-up")
}

func (s *SessionManagerTestSuite) TestSignUp_UndoesCompletedStepsWhenProfileFails() {
	dir := s.newDirectory(failingUsers{UserRepository: s.store.Users(), err: apperr.Dependency(errors.New("db down"), "create user profile failed", true)})
	m := s.newManagerWith(s.provider, dir, SessionManagerConfig{})

	_, err := m.SignUp(s.ctx, &SignUpRequest{Email: "ana@noivos.test", Password: testPassword, FullName: "Ana", TenantName: "Noivos"})
	s.ErrorIs(err, apperr.ErrDependency)
	s.Equal(models.SessionUnauthenticated, m.Session().State)

	_, err = s.provider.VerifyCredentials(s.ctx, "ana@noivos.test", testPassword)
	s.ErrorIs(err, apperr.ErrAuthentication)
	_, err = s.store.Tenants().GetBySlug(s.ctx, "noivos")
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *SessionManagerTestSuite) TestSignIn_Success() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusTrial)
	id := s.account("ann@acme.test", &tenant.ID, models.RoleMemberBasic, models.UserStatusActive)
	m := s.newManager(s.provider, SessionManagerConfig{})

	res, err := m.SignIn(s.ctx, " Ann@Acme.test ", testPassword)
	s.Require().NoError(err)
	s.Equal(id, res.User.ID)
	s.Equal(tenant.ID, res.Tenant.ID)

	caller, err := common.CallerFromContext(m.Context(s.ctx))
	s.Require().NoError(err)
	s.Equal(id, caller.ID)
	tenantID, ok := common.GetTenantIDFromContext(m.Context(s.ctx))
	s.True(ok)
	s.Equal(tenant.ID, tenantID)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.SignIns.WithLabelValues("ok")))
}

func (s *SessionManagerTestSuite) TestSignIn_PlatformAdminHasNoTenant() {
	s.account("ops@platform.test", nil, models.RolePlatformAdmin, models.UserStatusActive)
	m := s.newManager(s.provider, SessionManagerConfig{})

	res, err := m.SignIn(s.ctx, "ops@platform.test", testPassword)
	s.Require().NoError(err)
	s.Nil(res.Tenant)
	s.True(m.Session().Authenticated())
}

func (s *SessionManagerTestSuite) TestSignIn_Rejections() {
	active := seedTenant(s.store, "acme", models.TenantStatusActive)
	suspended := seedTenant(s.store, "frozen", models.TenantStatusSuspended)
	expired := seedTenant(s.store, "expired", models.TenantStatusTrial)
	past := testNow.Add(-time.Minute)
	expired.TrialEndsAt = &past
	s.Require().NoError(s.store.Tenants().Update(s.ctx, expired))

	s.account("ok@acme.test", &active.ID, models.RoleEndUser, models.UserStatusActive)
	s.account("blocked@acme.test", &active.ID, models.RoleEndUser, models.UserStatusSuspended)
	s.account("member@frozen.test", &suspended.ID, models.RoleMemberBasic, models.UserStatusActive)
	s.account("member@expired.test", &expired.ID, models.RoleMemberBasic, models.UserStatusActive)

	cases := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"wrong password", "ok@acme.test", "not-the-password", apperr.ErrAuthentication},
		{"unknown email", "ghost@acme.test", testPassword, apperr.ErrAuthentication},
		{"suspended user", "blocked@acme.test", testPassword, apperr.ErrUserInactive},
		{"suspended tenant", "member@frozen.test", testPassword, apperr.ErrTenantInactive},
		{"elapsed trial", "member@expired.test", testPassword, apperr.ErrTenantInactive},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			m := s.newManager(s.provider, SessionManagerConfig{})
			res, err := m.SignIn(s.ctx, tc.email, tc.password)
			s.Nil(res)
			s.ErrorIs(err, tc.want)
			s.Equal(models.SessionUnauthenticated, m.Session().State)
			s.False(m.Session().Authenticated())
		})
	}
	s.Equal(2.0, testutil.ToFloat64(s.metrics.SignIns.WithLabelValues(string(apperr.CodeTenantInactive))))
}

func (s *SessionManagerTestSuite) TestSignIn_ActivatesPendingUser() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	id := s.account("invitee@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusPending)
	m := s.newManager(s.provider, SessionManagerConfig{})

	res, err := m.SignIn(s.ctx, "invitee@acme.test", testPassword)
	s.Require().NoError(err)
	s.Equal(models.UserStatusActive, res.User.Status)

	stored, err := s.store.Users().GetByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.UserStatusActive, stored.Status)
}

func (s *SessionManagerTestSuite) TestSignIn_TimesOut() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	s.account("slow@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	p := &blockingProvider{Provider: s.provider, email: "slow@acme.test", entered: make(chan struct{})}
	m := s.newManager(p, SessionManagerConfig{ResolveTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := m.SignIn(s.ctx, "slow@acme.test", testPassword)
	s.ErrorIs(err, apperr.ErrTimeout)
	s.True(apperr.IsRetryable(err))
	s.Less(time.Since(start), 5*time.Second)
	s.Equal(models.SessionUnauthenticated, m.Session().State)
}

func (s *SessionManagerTestSuite) TestSignIn_CallerDeadlineWins() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	s.account("slow@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	p := &blockingProvider{Provider: s.provider, email: "slow@acme.test", entered: make(chan struct{})}
	m := s.newManager(p, SessionManagerConfig{ResolveTimeout: time.Hour})

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Millisecond)
	defer cancel()
	_, err := m.SignIn(ctx, "slow@acme.test", testPassword)
	s.ErrorIs(err, apperr.ErrTimeout)
}

func (s *SessionManagerTestSuite) TestSignIn_SupersededBySignOut() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	s.account("slow@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	p := &blockingProvider{Provider: s.provider, email: "slow@acme.test", entered: make(chan struct{})}
	m := s.newManager(p, SessionManagerConfig{})

	errc := make(chan error, 1)
	go func() {
		_, err := m.SignIn(s.ctx, "slow@acme.test", testPassword)
		errc <- err
	}()
	<-p.entered

	s.Require().NoError(m.SignOut(s.ctx))
	s.ErrorIs(<-errc, apperr.ErrSuperseded)
	s.Equal(models.SessionUnauthenticated, m.Session().State)
	s.GreaterOrEqual(testutil.ToFloat64(s.metrics.SupersededTotal), 1.0)
}

func (s *SessionManagerTestSuite) TestSignIn_LatestRequestWins() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	s.account("slow@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	fast := s.account("fast@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	p := &blockingProvider{Provider: s.provider, email: "slow@acme.test", entered: make(chan struct{})}
	m := s.newManager(p, SessionManagerConfig{})

	stopReaders := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stopReaders:
					return
				default:
					snap := m.Session()
					if snap.State == models.SessionAuthenticated && snap.User == nil {
						s.Fail("authenticated snapshot without user")
					}
				}
			}
		}()
	}

	errc := make(chan error, 1)
	go func() {
		_, err := m.SignIn(s.ctx, "slow@acme.test", testPassword)
		errc <- err
	}()
	<-p.entered

	res, err := m.SignIn(s.ctx, "fast@acme.test", testPassword)
	s.Require().NoError(err)
	s.Equal(fast, res.User.ID)
	s.ErrorIs(<-errc, apperr.ErrSuperseded)

	close(stopReaders)
	readers.Wait()
	s.Equal(fast, m.Session().User.ID)
}

func (s *SessionManagerTestSuite) TestSwitchTenant() {
	alpha := seedTenant(s.store, "alpha", models.TenantStatusActive)
	beta := seedTenant(s.store, "beta", models.TenantStatusActive)
	s.account("member@alpha.test", &alpha.ID, models.RoleMemberBasic, models.UserStatusActive)
	s.account("ops@platform.test", nil, models.RolePlatformAdmin, models.UserStatusActive)

	member := s.newManager(s.provider, SessionManagerConfig{})
	_, err := member.SignIn(s.ctx, "member@alpha.test", testPassword)
	s.Require().NoError(err)
	before := member.Session()

	_, err = member.SwitchTenant(s.ctx, beta.ID)
	s.ErrorIs(err, apperr.ErrAuthorization)
	s.Equal(before.Generation, member.Session().Generation, "session unchanged")
	s.Equal(alpha.ID, member.Session().Tenant.ID)

	res, err := member.SwitchTenant(s.ctx, alpha.ID)
	s.Require().NoError(err)
	s.Equal(alpha.ID, res.Tenant.ID)

	ops := s.newManager(s.provider, SessionManagerConfig{})
	_, err = ops.SignIn(s.ctx, "ops@platform.test", testPassword)
	s.Require().NoError(err)
	res, err = ops.SwitchTenant(s.ctx, beta.ID)
	s.Require().NoError(err)
	s.Equal(beta.ID, res.Tenant.ID)
	s.Equal(beta.ID, ops.Session().Tenant.ID)

	_, err = ops.SwitchTenant(s.ctx, uuid.New())
	s.ErrorIs(err, apperr.ErrNotFound)
	restored := ops.Session()
	s.Equal(models.SessionAuthenticated, restored.State)
	s.Equal(beta.ID, restored.Tenant.ID, "previous session is restored")
}

func (s *SessionManagerTestSuite) TestSwitchTenant_RequiresSession() {
	m := s.newManager(s.provider, SessionManagerConfig{})
	_, err := m.SwitchTenant(s.ctx, uuid.New())
	s.ErrorIs(err, apperr.ErrAuthentication)
}

func (s *SessionManagerTestSuite) TestSignOut_FailsOpen() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	s.account("ann@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	m := s.newManager(revokeFailingProvider{Provider: s.provider}, SessionManagerConfig{})

	_, err := m.SignIn(s.ctx, "ann@acme.test", testPassword)
	s.Require().NoError(err)

	s.NoError(m.SignOut(s.ctx))
	s.Equal(models.SessionUnauthenticated, m.Session().State)
	s.Nil(m.Session().User)
}

func (s *SessionManagerTestSuite) TestRestore() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	id := s.account("ann@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	pending := s.account("pending@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusPending)
	m := s.newManager(s.provider, SessionManagerConfig{})

	res, err := m.Restore(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(id, res.User.ID)

	_, err = m.Restore(s.ctx, uuid.New())
	s.ErrorIs(err, apperr.ErrAuthentication)
	s.False(m.Session().Authenticated())

	_, err = m.Restore(s.ctx, pending)
	s.ErrorIs(err, apperr.ErrUserInactive)
}

func (s *SessionManagerTestSuite) TestUpdateProfile() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	id := s.account("ann@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	m := s.newManager(s.provider, SessionManagerConfig{})

	_, err := m.UpdateProfile(s.ctx, ProfileUpdate{FullName: ptr("Ann")})
	s.ErrorIs(err, apperr.ErrAuthentication)

	_, err = m.SignIn(s.ctx, "ann@acme.test", testPassword)
	s.Require().NoError(err)

	updated, err := m.UpdateProfile(s.ctx, ProfileUpdate{FullName: ptr("Ann Lee"), Phone: ptr("555-0100")})
	s.Require().NoError(err)
	s.Equal("Ann Lee", updated.FullName)
	s.Equal("Ann Lee", m.Session().User.FullName)

	stored, err := s.store.Users().GetByID(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("555-0100", stored.Phone)
}

func (s *SessionManagerTestSuite) TestFollowEvents() {
	tenant := seedTenant(s.store, "acme", models.TenantStatusActive)
	id := s.account("ann@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	other := s.account("bob@acme.test", &tenant.ID, models.RoleEndUser, models.UserStatusActive)
	m := s.newManager(s.provider, SessionManagerConfig{FollowEvents: true})

	_, err := m.SignIn(s.ctx, "ann@acme.test", testPassword)
	s.Require().NoError(err)

	// events of other identities are ignored
	s.Require().NoError(s.provider.RevokeSession(s.ctx, other))
	s.Never(func() bool { return !m.Session().Authenticated() }, 100*time.Millisecond, 10*time.Millisecond)

	s.Require().NoError(s.provider.RevokeSession(s.ctx, id))
	s.Eventually(func() bool {
		return m.Session().State == models.SessionUnauthenticated
	}, time.Second, 5*time.Millisecond)

	_, err = m.SignIn(s.ctx, "ann@acme.test", testPassword)
	s.Require().NoError(err)

	// a sign-in elsewhere refreshes the session and picks up the suspension
	_, err = s.tenants.Suspend(s.ctx, tenant.ID)
	s.Require().NoError(err)
	_, err = s.provider.IssueToken(s.ctx, id, "ann@acme.test")
	s.Require().NoError(err)
	s.Eventually(func() bool {
		return m.Session().State == models.SessionUnauthenticated
	}, time.Second, 5*time.Millisecond)
}
