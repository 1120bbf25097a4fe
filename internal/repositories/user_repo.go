package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"tenantcore/internal/apperr"
	"tenantcore/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.UserProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.UserProfile, error)
	GetByEmail(ctx context.Context, email string) (*models.UserProfile, error)
	Update(ctx context.Context, user *models.UserProfile) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
	List(ctx context.Context, filter models.UserFilter) ([]*models.UserProfile, error)
	CountByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.UserCount, error)
}

type userRepo struct {
	db DB
}

func NewUserRepo(db DB) UserRepository {
	return &userRepo{db: db}
}

const userColumns = `id, tenant_id, email, full_name, phone, role, status, permissions, created_at, updated_at`

func (r *userRepo) Create(ctx context.Context, user *models.UserProfile) error {
	permissions, err := encodePermissions(user.Permissions)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO user_profiles (id, tenant_id, email, full_name, phone, role, status, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = conn(ctx, r.db).Exec(ctx, query,
		user.ID, user.TenantID, user.Email, user.FullName, user.Phone, string(user.Role), string(user.Status),
		permissions, user.CreatedAt, user.UpdatedAt)
	return storeError(err, "create user profile")
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.UserProfile, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles WHERE id = $1`
	user, err := scanUser(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		return nil, storeError(err, "get user profile")
	}
	return user, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	query := `SELECT ` + userColumns + ` FROM user_profiles WHERE email = $1`
	user, err := scanUser(conn(ctx, r.db).QueryRow(ctx, query, email))
	if err != nil {
		return nil, storeError(err, "get user profile by email")
	}
	return user, nil
}

func (r *userRepo) Update(ctx context.Context, user *models.UserProfile) error {
	permissions, err := encodePermissions(user.Permissions)
	if err != nil {
		return err
	}
	query := `
		UPDATE user_profiles
		SET full_name = $1, phone = $2, role = $3, status = $4, permissions = $5, updated_at = $6
		WHERE id = $7
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query,
		user.FullName, user.Phone, string(user.Role), string(user.Status), permissions, user.UpdatedAt, user.ID)
	if err != nil {
		return storeError(err, "update user profile")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *userRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM user_profiles WHERE id = $1`, id)
	if err != nil {
		return storeError(err, "delete user profile")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *userRepo) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM user_profiles WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, storeError(err, "delete tenant user profiles")
	}
	return tag.RowsAffected(), nil
}

func (r *userRepo) List(ctx context.Context, filter models.UserFilter) ([]*models.UserProfile, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if len(filter.Roles) > 0 {
		roles := make([]string, len(filter.Roles))
		for i, role := range filter.Roles {
			roles[i] = string(role)
		}
		args = append(args, roles)
		where = append(where, fmt.Sprintf("role = ANY($%d)", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(email ILIKE $%d OR full_name ILIKE $%d)", len(args), len(args)))
	}

	query := `SELECT ` + userColumns + ` FROM user_profiles`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, storeError(err, "list user profiles")
	}
	defer rows.Close()

	users := []*models.UserProfile{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, storeError(err, "scan user profile")
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "list user profiles")
	}
	return users, nil
}

func (r *userRepo) CountByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.UserCount, error) {
	query := `
		SELECT role, status, COUNT(*)
		FROM user_profiles
		WHERE tenant_id = $1
		GROUP BY role, status
	`
	rows, err := conn(ctx, r.db).Query(ctx, query, tenantID)
	if err != nil {
		return nil, storeError(err, "count user profiles")
	}
	defer rows.Close()

	var counts []models.UserCount
	for rows.Next() {
		var (
			role, status string
			count        int64
		)
		if err := rows.Scan(&role, &status, &count); err != nil {
			return nil, storeError(err, "scan user count")
		}
		counts = append(counts, models.UserCount{Role: models.Role(role), Status: models.UserStatus(status), Count: int(count)})
	}
	return counts, storeError(rows.Err(), "count user profiles")
}

func scanUser(row pgx.Row) (*models.UserProfile, error) {
	var (
		user        models.UserProfile
		role        string
		status      string
		permissions []byte
	)
	if err := row.Scan(&user.ID, &user.TenantID, &user.Email, &user.FullName, &user.Phone, &role, &status,
		&permissions, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.Role = models.Role(role)
	user.Status = models.UserStatus(status)
	user.Permissions = []models.Permission{}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &user.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return &user, nil
}

func encodePermissions(perms []models.Permission) ([]byte, error) {
	if perms == nil {
		perms = []models.Permission{}
	}
	b, err := json.Marshal(perms)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeValidation, "encode permissions")
	}
	return b, nil
}
