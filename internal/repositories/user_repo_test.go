package repositories

import (
	"context"
	"regexp"
	"testing"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

var userRowColumns = []string{"id", "tenant_id", "email", "full_name", "phone", "role", "status", "permissions", "created_at", "updated_at"}

type UserRepoTestSuite struct {
	suite.Suite
	mock      pgxmock.PgxPoolIface
	repo      UserRepository
	tenantID1 uuid.UUID
	tenantID2 uuid.UUID
	userID    uuid.UUID
	now       time.Time
	context   context.Context
}

func (suite *UserRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock

	suite.repo = NewUserRepo(mock)
	suite.tenantID1 = uuid.New()
	suite.tenantID2 = uuid.New()
	suite.userID = uuid.New()
	suite.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	suite.context = context.Background()
}

func (suite *UserRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestUserRepoTestSuite(t *testing.T) {
	suite.Run(t, new(UserRepoTestSuite))
}

func (suite *UserRepoTestSuite) userRow(id uuid.UUID, tenantID *uuid.UUID, email string, role models.Role) []any {
	return []any{
		id, tenantID, email, "Test User", "", string(role), string(models.UserStatusActive),
		[]byte(`[{"resource":"events","action":"write"}]`), suite.now, suite.now,
	}
}

func (suite *UserRepoTestSuite) TestCreate_Success() {
	user := &models.UserProfile{
		ID:        suite.userID,
		TenantID:  &suite.tenantID1,
		Email:     "ann@example.com",
		FullName:  "Ann",
		Role:      models.RoleMemberBasic,
		Status:    models.UserStatusActive,
		CreatedAt: suite.now,
		UpdatedAt: suite.now,
	}

	suite.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_profiles")).
		WithArgs(suite.userID, &suite.tenantID1, "ann@example.com", "Ann", "", "member_basic", "active",
			[]byte(`[]`), suite.now, suite.now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(suite.T(), suite.repo.Create(suite.context, user))
}

func (suite *UserRepoTestSuite) TestCreate_DuplicateEmail() {
	user := &models.UserProfile{ID: suite.userID, TenantID: &suite.tenantID1, Email: "ann@example.com", Role: models.RoleEndUser}

	suite.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_profiles")).
		WithArgs(anyArgs(10)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "user_profiles_email_key"})

	err := suite.repo.Create(suite.context, user)
	assert.ErrorIs(suite.T(), err, apperr.ErrConflict)
}

func (suite *UserRepoTestSuite) TestGetByID_DecodesPermissions() {
	suite.mock.ExpectQuery(regexp.QuoteMeta("FROM user_profiles WHERE id = $1")).
		WithArgs(suite.userID).
		WillReturnRows(pgxmock.NewRows(userRowColumns).
			AddRow(suite.userRow(suite.userID, &suite.tenantID1, "ann@example.com", models.RoleMemberBasic)...))

	user, err := suite.repo.GetByID(suite.context, suite.userID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RoleMemberBasic, user.Role)
	assert.True(suite.T(), user.BelongsTo(suite.tenantID1))
	assert.Equal(suite.T(), []models.Permission{{Resource: models.ResourceEvents, Action: models.ActionWrite}}, user.Permissions)
}

func (suite *UserRepoTestSuite) TestGetByEmail_PlatformAdminHasNoTenant() {
	suite.mock.ExpectQuery(regexp.QuoteMeta("FROM user_profiles WHERE email = $1")).
		WithArgs("root@example.com").
		WillReturnRows(pgxmock.NewRows(userRowColumns).
			AddRow(suite.userRow(suite.userID, nil, "root@example.com", models.RolePlatformAdmin)...))

	user, err := suite.repo.GetByEmail(suite.context, "root@example.com")
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), user.TenantID)
	assert.False(suite.T(), user.BelongsTo(suite.tenantID1))
}

func (suite *UserRepoTestSuite) TestList_ScopedToTenant() {
	filter := models.UserFilter{TenantID: &suite.tenantID1, Roles: []models.Role{models.RoleEndUser}}
	otherID := uuid.New()

	suite.mock.ExpectQuery(regexp.QuoteMeta("WHERE tenant_id = $1 AND role = ANY($2) ORDER BY created_at DESC")).
		WithArgs(suite.tenantID1, []string{"end_user"}).
		WillReturnRows(pgxmock.NewRows(userRowColumns).
			AddRow(suite.userRow(suite.userID, &suite.tenantID1, "a@example.com", models.RoleEndUser)...).
			AddRow(suite.userRow(otherID, &suite.tenantID1, "b@example.com", models.RoleEndUser)...))

	users, err := suite.repo.List(suite.context, filter)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), users, 2)
	for _, u := range users {
		assert.True(suite.T(), u.BelongsTo(suite.tenantID1))
		assert.False(suite.T(), u.BelongsTo(suite.tenantID2))
	}
}

func (suite *UserRepoTestSuite) TestUpdate_Success() {
	user := &models.UserProfile{
		ID:        suite.userID,
		FullName:  "Ann B",
		Phone:     "+100",
		Role:      models.RoleTenantAdmin,
		Status:    models.UserStatusSuspended,
		UpdatedAt: suite.now,
	}

	suite.mock.ExpectExec(regexp.QuoteMeta("UPDATE user_profiles")).
		WithArgs("Ann B", "+100", "tenant_admin", "suspended", []byte(`[]`), suite.now, suite.userID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(suite.T(), suite.repo.Update(suite.context, user))
}

func (suite *UserRepoTestSuite) TestDelete_NotFound() {
	suite.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_profiles WHERE id = $1")).
		WithArgs(suite.userID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := suite.repo.Delete(suite.context, suite.userID)
	assert.ErrorIs(suite.T(), err, apperr.ErrNotFound)
}

func (suite *UserRepoTestSuite) TestDeleteByTenant_ReturnsCount() {
	suite.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM user_profiles WHERE tenant_id = $1")).
		WithArgs(suite.tenantID1).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := suite.repo.DeleteByTenant(suite.context, suite.tenantID1)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), int64(3), n)
}

func (suite *UserRepoTestSuite) TestCountByTenant() {
	suite.mock.ExpectQuery(regexp.QuoteMeta("GROUP BY role, status")).
		WithArgs(suite.tenantID1).
		WillReturnRows(pgxmock.NewRows([]string{"role", "status", "count"}).
			AddRow("tenant_admin", "active", int64(1)).
			AddRow("end_user", "pending", int64(4)))

	counts, err := suite.repo.CountByTenant(suite.context, suite.tenantID1)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), []models.UserCount{
		{Role: models.RoleTenantAdmin, Status: models.UserStatusActive, Count: 1},
		{Role: models.RoleEndUser, Status: models.UserStatusPending, Count: 4},
	}, counts)
}

func (suite *UserRepoTestSuite) TestEventCountByStatus() {
	events := NewEventRepo(suite.mock)

	suite.mock.ExpectQuery(regexp.QuoteMeta("FROM events")).
		WithArgs(suite.tenantID1).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("draft", int64(2)).
			AddRow("published", int64(5)))

	counts, err := events.CountByStatus(suite.context, suite.tenantID1)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), map[string]int{"draft": 2, "published": 5}, counts)
}
