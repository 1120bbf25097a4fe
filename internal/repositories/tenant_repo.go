package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	Update(ctx context.Context, tenant *models.Tenant) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, filter models.TenantFilter) ([]*models.Tenant, error)
	ListExpiredTrials(ctx context.Context, now time.Time) ([]*models.Tenant, error)
}

type tenantRepo struct {
	db DB
}

func NewTenantRepo(db DB) TenantRepository {
	return &tenantRepo{db: db}
}

const tenantColumns = `id, name, slug, status, plan, subscription_status, trial_ends_at, settings, billing, created_at, updated_at`

func (r *tenantRepo) Create(ctx context.Context, tenant *models.Tenant) error {
	settings, billing, err := encodeTenantJSON(tenant)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tenants (id, name, slug, status, plan, subscription_status, trial_ends_at, settings, billing, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = conn(ctx, r.db).Exec(ctx, query,
		tenant.ID, tenant.Name, tenant.Slug, string(tenant.Status), tenant.Plan, tenant.SubscriptionStatus,
		tenant.TrialEndsAt, settings, billing, tenant.CreatedAt, tenant.UpdatedAt)
	return storeError(err, "create tenant")
}

func (r *tenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	tenant, err := scanTenant(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		return nil, storeError(err, "get tenant")
	}
	return tenant, nil
}

func (r *tenantRepo) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`
	tenant, err := scanTenant(conn(ctx, r.db).QueryRow(ctx, query, slug))
	if err != nil {
		return nil, storeError(err, "get tenant by slug")
	}
	return tenant, nil
}

func (r *tenantRepo) Update(ctx context.Context, tenant *models.Tenant) error {
	settings, billing, err := encodeTenantJSON(tenant)
	if err != nil {
		return err
	}
	query := `
		UPDATE tenants
		SET name = $1, slug = $2, status = $3, plan = $4, subscription_status = $5, trial_ends_at = $6,
			settings = $7, billing = $8, updated_at = $9
		WHERE id = $10
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query,
		tenant.Name, tenant.Slug, string(tenant.Status), tenant.Plan, tenant.SubscriptionStatus, tenant.TrialEndsAt,
		settings, billing, tenant.UpdatedAt, tenant.ID)
	if err != nil {
		return storeError(err, "update tenant")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("tenant")
	}
	return nil
}

func (r *tenantRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		return storeError(err, "delete tenant")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("tenant")
	}
	return nil
}

func (r *tenantRepo) List(ctx context.Context, filter models.TenantFilter) ([]*models.Tenant, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.Plans) > 0 {
		args = append(args, filter.Plans)
		where = append(where, fmt.Sprintf("plan = ANY($%d)", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR slug ILIKE $%d)", len(args), len(args)))
	}

	query := `SELECT ` + tenantColumns + ` FROM tenants`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	return r.queryTenants(ctx, query, args...)
}

func (r *tenantRepo) ListExpiredTrials(ctx context.Context, now time.Time) ([]*models.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants
		WHERE status = 'trial' AND trial_ends_at IS NOT NULL AND trial_ends_at <= $1 AND subscription_status <> $2
		ORDER BY trial_ends_at`
	return r.queryTenants(ctx, query, now, models.SubscriptionTrialExpired)
}

func (r *tenantRepo) queryTenants(ctx context.Context, query string, args ...any) ([]*models.Tenant, error) {
	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, storeError(err, "list tenants")
	}
	defer rows.Close()

	tenants := []*models.Tenant{}
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, storeError(err, "scan tenant")
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError(err, "list tenants")
	}
	return tenants, nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var (
		tenant   models.Tenant
		status   string
		settings []byte
		billing  []byte
	)
	if err := row.Scan(&tenant.ID, &tenant.Name, &tenant.Slug, &status, &tenant.Plan, &tenant.SubscriptionStatus,
		&tenant.TrialEndsAt, &settings, &billing, &tenant.CreatedAt, &tenant.UpdatedAt); err != nil {
		return nil, err
	}
	tenant.Status = models.TenantStatus(status)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &tenant.Settings); err != nil {
			return nil, fmt.Errorf("decode tenant settings: %w", err)
		}
	}
	if len(billing) > 0 {
		if err := json.Unmarshal(billing, &tenant.Billing); err != nil {
			return nil, fmt.Errorf("decode tenant billing: %w", err)
		}
	}
	return &tenant, nil
}

func encodeTenantJSON(tenant *models.Tenant) ([]byte, []byte, error) {
	settings, err := json.Marshal(tenant.Settings)
	if err != nil {
		return nil, nil, apperr.Wrap(err, apperr.CodeValidation, "encode tenant settings")
	}
	var billing []byte
	if tenant.Billing != nil {
		if billing, err = json.Marshal(tenant.Billing); err != nil {
			return nil, nil, apperr.Wrap(err, apperr.CodeValidation, "encode tenant billing")
		}
	}
	return settings, billing, nil
}

// paginate appends LIMIT/OFFSET when limit is positive.
func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 {
		return query, args
	}
	args = append(args, limit, offset)
	return query + fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args
}
