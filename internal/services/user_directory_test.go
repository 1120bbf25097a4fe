package services

import (
	"context"
	"errors"
	"testing"

	"tenantcore/internal/apperr"
	"tenantcore/internal/logger"
	"tenantcore/internal/models"
	"tenantcore/internal/repositories"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type UserDirectoryTestSuite struct {
	suite.Suite
	store    *repositories.MemoryStore
	identity *MockIdentityProvider
	service  *UserDirectoryService

	tenantA, tenantB  *models.Tenant
	adminA, adminB    *models.UserProfile
	memberA, endUserA *models.UserProfile
	platform          *models.UserProfile
}

func (suite *UserDirectoryTestSuite) SetupTest() {
	suite.store = repositories.NewMemoryStore()
	suite.identity = &MockIdentityProvider{}
	suite.identity.Test(suite.T())
	suite.service = suite.newService(suite.store.Users())

	suite.tenantA = seedTenant(suite.store, "alpha", models.TenantStatusActive)
	suite.tenantB = seedTenant(suite.store, "beta", models.TenantStatusActive)
	suite.adminA = seedUser(suite.store, &suite.tenantA.ID, "admin@alpha.test", models.RoleTenantAdmin)
	suite.adminB = seedUser(suite.store, &suite.tenantB.ID, "admin@beta.test", models.RoleTenantAdmin)
	suite.memberA = seedUser(suite.store, &suite.tenantA.ID, "member@alpha.test", models.RoleMemberBasic,
		models.Permission{Resource: models.ResourceUsers, Action: models.ActionWrite})
	suite.endUserA = seedUser(suite.store, &suite.tenantA.ID, "guest@alpha.test", models.RoleEndUser)
	suite.platform = seedUser(suite.store, nil, "ops@platform.test", models.RolePlatformAdmin)
}

func (suite *UserDirectoryTestSuite) newService(users repositories.UserRepository) *UserDirectoryService {
	return NewUserDirectory(UserDirectoryDeps{
		Users:    users,
		Tenants:  suite.store.Tenants(),
		Identity: suite.identity,
		Log:      logger.NewNop(),
		Now:      fixedClock,
	})
}

func (suite *UserDirectoryTestSuite) TearDownTest() {
	suite.identity.AssertExpectations(suite.T())
}

func TestUserDirectoryTestSuite(t *testing.T) {
	suite.Run(t, new(UserDirectoryTestSuite))
}

func (suite *UserDirectoryTestSuite) TestList_ForcesCallerTenant() {
	ctx := as(suite.adminA, suite.tenantA)

	users, err := suite.service.List(ctx, models.UserFilter{TenantID: &suite.tenantB.ID})
	suite.Require().NoError(err)
	suite.Require().Len(users, 3)
	for _, u := range users {
		assert.True(suite.T(), u.BelongsTo(suite.tenantA.ID), "leaked %s", u.Email)
	}

	all, err := suite.service.List(as(suite.platform, nil), models.UserFilter{})
	suite.Require().NoError(err)
	assert.Len(suite.T(), all, 5)
}

func (suite *UserDirectoryTestSuite) TestList_RequiresReadPermission() {
	_, err := suite.service.List(as(suite.endUserA, suite.tenantA), models.UserFilter{})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization)

	_, err = suite.service.List(context.Background(), models.UserFilter{})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthentication)
}

func (suite *UserDirectoryTestSuite) TestGetByID_OtherTenantIsNotFound() {
	_, err := suite.service.GetByID(as(suite.adminA, suite.tenantA), suite.adminB.ID)
	assert.ErrorIs(suite.T(), err, apperr.ErrNotFound)

	got, err := suite.service.GetByID(as(suite.platform, nil), suite.adminB.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), suite.adminB.Email, got.Email)
}

func (suite *UserDirectoryTestSuite) TestGetByID_SelfAlwaysAllowed() {
	got, err := suite.service.GetByID(as(suite.endUserA, suite.tenantA), suite.endUserA.ID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), suite.endUserA.ID, got.ID)

	_, err = suite.service.GetByID(as(suite.endUserA, suite.tenantA), suite.adminA.ID)
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization)
}

func (suite *UserDirectoryTestSuite) TestCreate_InCallerTenant() {
	newID := uuid.New()
	suite.identity.On("CreateIdentity", mock.Anything, "new@alpha.test", "s3cret-pass", mock.MatchedBy(func(md map[string]any) bool {
		return md["tenant_id"] == suite.tenantA.ID.String() && md["role"] == "member_basic"
	})).Return(newID, nil).Once()

	profile, err := suite.service.Create(as(suite.adminA, suite.tenantA), &CreateUserRequest{
		Email:    " New@Alpha.test ",
		Password: "s3cret-pass",
		FullName: "New Member",
		Role:     models.RoleMemberBasic,
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), newID, profile.ID)
	assert.True(suite.T(), profile.BelongsTo(suite.tenantA.ID))
	assert.Equal(suite.T(), models.UserStatusActive, profile.Status)
	assert.NotNil(suite.T(), profile.Permissions)

	stored, err := suite.store.Users().GetByID(context.Background(), newID)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), "new@alpha.test", stored.Email)
}

func (suite *UserDirectoryTestSuite) TestCreate_Rejections() {
	ctx := as(suite.memberA, suite.tenantA)

	_, err := suite.service.Create(ctx, &CreateUserRequest{Email: "x@alpha.test", Password: "long-enough", FullName: "X", Role: models.RoleTenantAdmin})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization, "above caller rank")

	_, err = suite.service.Create(ctx, &CreateUserRequest{Email: "x@alpha.test", Password: "long-enough", FullName: "X", Role: models.RoleEndUser, TenantID: &suite.tenantB.ID})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization, "other tenant")

	_, err = suite.service.Create(ctx, &CreateUserRequest{Email: "admin@beta.test", Password: "long-enough", FullName: "X", Role: models.RoleEndUser})
	assert.ErrorIs(suite.T(), err, apperr.ErrConflict, "duplicate email")

	_, err = suite.service.Create(ctx, &CreateUserRequest{Email: "not-an-email", Password: "long-enough", FullName: "X"})
	assert.ErrorIs(suite.T(), err, apperr.ErrValidation)

	_, err = suite.service.Create(ctx, &CreateUserRequest{Email: "x@alpha.test", Password: "short", FullName: "X"})
	assert.ErrorIs(suite.T(), err, apperr.ErrValidation)

	_, err = suite.service.Create(ctx, &CreateUserRequest{Email: "x@alpha.test", Password: "long-enough", FullName: "X", Role: "owner"})
	assert.ErrorIs(suite.T(), err, apperr.ErrValidation)

	_, err = suite.service.Create(as(suite.endUserA, suite.tenantA), &CreateUserRequest{Email: "x@alpha.test", Password: "long-enough", FullName: "X"})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization, "no users:write")
}

func (suite *UserDirectoryTestSuite) TestCreate_PlatformAdminNeedsTenant() {
	_, err := suite.service.Create(as(suite.platform, nil), &CreateUserRequest{
		Email: "x@beta.test", Password: "long-enough", FullName: "X", Role: models.RoleMemberBasic,
	})
	assert.ErrorIs(suite.T(), err, apperr.ErrValidation)

	missing := uuid.New()
	_, err = suite.service.Create(as(suite.platform, nil), &CreateUserRequest{
		Email: "x@beta.test", Password: "long-enough", FullName: "X", Role: models.RoleMemberBasic, TenantID: &missing,
	})
	assert.ErrorIs(suite.T(), err, apperr.ErrValidation)

	newID := uuid.New()
	suite.identity.On("CreateIdentity", mock.Anything, "x@beta.test", "long-enough", mock.Anything).Return(newID, nil).Once()
	profile, err := suite.service.Create(as(suite.platform, suite.tenantB), &CreateUserRequest{
		Email: "x@beta.test", Password: "long-enough", FullName: "X", Role: models.RoleMemberBasic,
	})
	suite.Require().NoError(err)
	assert.True(suite.T(), profile.BelongsTo(suite.tenantB.ID), "acting tenant is used")
}

func (suite *UserDirectoryTestSuite) TestCreate_RollsBackIdentityWhenProfileFails() {
	insertErr := apperr.Dependency(errors.New("db down"), "create user profile failed", true)
	service := suite.newService(failingUsers{UserRepository: suite.store.Users(), err: insertErr})

	newID := uuid.New()
	suite.identity.On("CreateIdentity", mock.Anything, "x@alpha.test", "long-enough", mock.Anything).Return(newID, nil).Once()
	suite.identity.On("DeleteIdentity", mock.Anything, newID).Return(nil).Once()

	_, err := service.Create(as(suite.adminA, suite.tenantA), &CreateUserRequest{Email: "x@alpha.test", Password: "long-enough", FullName: "X"})
	assert.Same(suite.T(), insertErr, err)
}

func (suite *UserDirectoryTestSuite) TestCreate_FailedRollbackKeepsBothErrors() {
	insertErr := apperr.Dependency(errors.New("db down"), "create user profile failed", true)
	rollbackErr := errors.New("idp unreachable")
	service := suite.newService(failingUsers{UserRepository: suite.store.Users(), err: insertErr})

	newID := uuid.New()
	suite.identity.On("CreateIdentity", mock.Anything, "x@alpha.test", "long-enough", mock.Anything).Return(newID, nil).Once()
	suite.identity.On("DeleteIdentity", mock.Anything, newID).Return(rollbackErr).Once()

	_, err := service.Create(as(suite.adminA, suite.tenantA), &CreateUserRequest{Email: "x@alpha.test", Password: "long-enough", FullName: "X"})
	assert.ErrorIs(suite.T(), err, apperr.ErrDependency)
	assert.ErrorIs(suite.T(), err, insertErr)
	assert.ErrorIs(suite.T(), err, rollbackErr)
}

func (suite *UserDirectoryTestSuite) TestInvite_CreatesPendingProfile() {
	newID := uuid.New()
	suite.identity.On("SendInvite", mock.Anything, "invitee@alpha.test", mock.Anything).Return(newID, nil).Once()

	profile, err := suite.service.Invite(as(suite.adminA, suite.tenantA), &InviteUserRequest{
		Email: "invitee@alpha.test", FullName: "Invitee", Role: models.RoleEndUser,
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.UserStatusPending, profile.Status)
	assert.Equal(suite.T(), newID, profile.ID)
}

func (suite *UserDirectoryTestSuite) TestUpdate_SelfMayChangeNameOnly() {
	ctx := as(suite.endUserA, suite.tenantA)

	updated, err := suite.service.Update(ctx, suite.endUserA.ID, &UpdateUserRequest{FullName: ptr("Guest Person"), Phone: ptr(" +55 11 99999-0000 ")})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), "Guest Person", updated.FullName)
	assert.Equal(suite.T(), "+55 11 99999-0000", updated.Phone)

	_, err = suite.service.Update(ctx, suite.endUserA.ID, &UpdateUserRequest{Role: ptr(models.RoleTenantAdmin)})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization)

	_, err = suite.service.Update(as(suite.adminA, suite.tenantA), suite.adminA.ID, &UpdateUserRequest{Status: ptr(models.UserStatusSuspended)})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization, "no self suspension")
}

func (suite *UserDirectoryTestSuite) TestUpdate_RankAndScope() {
	_, err := suite.service.Update(as(suite.memberA, suite.tenantA), suite.adminA.ID, &UpdateUserRequest{FullName: ptr("Demoted")})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization)

	_, err = suite.service.Update(as(suite.memberA, suite.tenantA), suite.endUserA.ID, &UpdateUserRequest{Role: ptr(models.RoleTenantAdmin)})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization)

	_, err = suite.service.Update(as(suite.adminA, suite.tenantA), suite.adminB.ID, &UpdateUserRequest{FullName: ptr("x")})
	assert.ErrorIs(suite.T(), err, apperr.ErrNotFound)

	_, err = suite.service.Update(as(suite.platform, nil), suite.adminA.ID, &UpdateUserRequest{Role: ptr(models.RolePlatformAdmin)})
	assert.ErrorIs(suite.T(), err, apperr.ErrValidation)

	updated, err := suite.service.Update(as(suite.adminA, suite.tenantA), suite.endUserA.ID, &UpdateUserRequest{
		Role:        ptr(models.RoleMemberBasic),
		Permissions: &[]models.Permission{{Resource: models.ResourceQuotes, Action: models.ActionManage}},
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RoleMemberBasic, updated.Role)
	assert.True(suite.T(), HasPermission(updated, models.ResourceQuotes, models.ActionWrite))
}

func (suite *UserDirectoryTestSuite) TestGrantsLimitedToCallerPermissions() {
	ctx := as(suite.memberA, suite.tenantA)

	_, err := suite.service.Create(ctx, &CreateUserRequest{
		Email:       "sidekick@alpha.test",
		Password:    "long-enough",
		FullName:    "Sidekick",
		Role:        models.RoleMemberBasic,
		Permissions: []models.Permission{{Resource: models.ResourceUsers, Action: models.ActionManage}},
	})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization, "manage is above write")

	_, err = suite.service.Update(ctx, suite.endUserA.ID, &UpdateUserRequest{
		Permissions: &[]models.Permission{{Resource: models.ResourceTenants, Action: models.ActionManage}},
	})
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization, "grant on a resource the caller lacks")

	stored, err := suite.store.Users().GetByID(context.Background(), suite.endUserA.ID)
	suite.Require().NoError(err)
	assert.Empty(suite.T(), stored.Permissions)

	updated, err := suite.service.Update(ctx, suite.endUserA.ID, &UpdateUserRequest{
		Permissions: &[]models.Permission{{Resource: models.ResourceUsers, Action: models.ActionWrite}},
	})
	suite.Require().NoError(err)
	assert.True(suite.T(), HasPermission(updated, models.ResourceUsers, models.ActionWrite))
}

func (suite *UserDirectoryTestSuite) TestUpdate_SuspendRevokesSessions() {
	suite.identity.On("RevokeSession", mock.Anything, suite.endUserA.ID).Return(nil).Once()

	updated, err := suite.service.Update(as(suite.adminA, suite.tenantA), suite.endUserA.ID, &UpdateUserRequest{Status: ptr(models.UserStatusSuspended)})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.UserStatusSuspended, updated.Status)
}

func (suite *UserDirectoryTestSuite) TestDelete() {
	_, err := suite.service.GetByID(as(suite.adminA, suite.tenantA), suite.endUserA.ID)
	suite.Require().NoError(err)

	err = suite.service.Delete(as(suite.memberA, suite.tenantA), suite.endUserA.ID)
	assert.ErrorIs(suite.T(), err, apperr.ErrAuthorization, "write is not manage")

	err = suite.service.Delete(as(suite.adminA, suite.tenantA), suite.adminA.ID)
	assert.ErrorIs(suite.T(), err, apperr.ErrValidation)

	err = suite.service.Delete(as(suite.adminA, suite.tenantA), suite.adminB.ID)
	assert.ErrorIs(suite.T(), err, apperr.ErrNotFound)

	suite.identity.On("DeleteIdentity", mock.Anything, suite.endUserA.ID).Return(nil).Once()
	suite.Require().NoError(suite.service.Delete(as(suite.adminA, suite.tenantA), suite.endUserA.ID))

	_, err = suite.store.Users().GetByID(context.Background(), suite.endUserA.ID)
	assert.ErrorIs(suite.T(), err, apperr.ErrNotFound)
}

func (suite *UserDirectoryTestSuite) TestDelete_IdentityFailureIsDependency() {
	suite.identity.On("DeleteIdentity", mock.Anything, suite.memberA.ID).Return(errors.New("idp down")).Once()

	err := suite.service.Delete(as(suite.adminA, suite.tenantA), suite.memberA.ID)
	assert.ErrorIs(suite.T(), err, apperr.ErrDependency)

	_, err = suite.store.Users().GetByID(context.Background(), suite.memberA.ID)
	assert.ErrorIs(suite.T(), err, apperr.ErrNotFound, "profile stays deleted")
}

func (suite *UserDirectoryTestSuite) TestResetPassword_NeverRevealsExistence() {
	suite.identity.On("SendPasswordReset", mock.Anything, "nobody@alpha.test").Return(errors.New("smtp down")).Once()
	assert.NoError(suite.T(), suite.service.ResetPassword(context.Background(), "Nobody@Alpha.test"))

	err := suite.service.ResetPassword(context.Background(), "nope")
	assert.ErrorIs(suite.T(), err, apperr.ErrValidation)
}

func (suite *UserDirectoryTestSuite) TestBootstrapPlatformAdmin() {
	_, err := suite.service.BootstrapPlatformAdmin(context.Background(), &CreateUserRequest{
		Email: "root@platform.test", Password: "long-enough", FullName: "Root",
	})
	assert.ErrorIs(suite.T(), err, apperr.ErrConflict, "one already exists")

	empty := repositories.NewMemoryStore()
	service := NewUserDirectory(UserDirectoryDeps{Users: empty.Users(), Tenants: empty.Tenants(), Identity: suite.identity, Now: fixedClock})
	newID := uuid.New()
	suite.identity.On("CreateIdentity", mock.Anything, "root@platform.test", "long-enough", mock.Anything).Return(newID, nil).Once()

	admin, err := service.BootstrapPlatformAdmin(context.Background(), &CreateUserRequest{
		Email: "root@platform.test", Password: "long-enough", FullName: "Root",
	})
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.RolePlatformAdmin, admin.Role)
	assert.Nil(suite.T(), admin.TenantID)
}

func (suite *UserDirectoryTestSuite) TestActivateProfile() {
	pending := seedUser(suite.store, &suite.tenantA.ID, "pending@alpha.test", models.RoleEndUser)
	pending.Status = models.UserStatusPending
	suite.Require().NoError(suite.store.Users().Update(context.Background(), pending))

	activated, err := suite.service.ActivateProfile(context.Background(), pending)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), models.UserStatusActive, activated.Status)
	assert.Equal(suite.T(), models.UserStatusPending, pending.Status, "input is not mutated")
}
