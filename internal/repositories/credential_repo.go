package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CredentialRepository stores the identities backing the local identity provider.
type CredentialRepository interface {
	Create(ctx context.Context, cred *models.Credential) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error)
	GetByEmail(ctx context.Context, email string) (*models.Credential, error)
	SetPasswordHash(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type credentialRepo struct {
	db DB
}

func NewCredentialRepo(db DB) CredentialRepository {
	return &credentialRepo{db: db}
}

const credentialColumns = `id, email, password_hash, metadata, created_at, updated_at`

func (r *credentialRepo) Create(ctx context.Context, cred *models.Credential) error {
	metadata, err := json.Marshal(cred.Metadata)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeValidation, "encode identity metadata")
	}
	if cred.Metadata == nil {
		metadata = []byte(`{}`)
	}
	query := `
		INSERT INTO identities (id, email, password_hash, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = conn(ctx, r.db).Exec(ctx, query, cred.ID, cred.Email, cred.PasswordHash, metadata, cred.CreatedAt, cred.UpdatedAt)
	return storeError(err, "create identity")
}

func (r *credentialRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM identities WHERE id = $1`
	cred, err := scanCredential(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		return nil, storeError(err, "get identity")
	}
	return cred, nil
}

func (r *credentialRepo) GetByEmail(ctx context.Context, email string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM identities WHERE email = $1`
	cred, err := scanCredential(conn(ctx, r.db).QueryRow(ctx, query, email))
	if err != nil {
		return nil, storeError(err, "get identity by email")
	}
	return cred, nil
}

func (r *credentialRepo) SetPasswordHash(ctx context.Context, id uuid.UUID, hash string, updatedAt time.Time) error {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE identities SET password_hash = $1, updated_at = $2 WHERE id = $3`, hash, updatedAt, id)
	if err != nil {
		return storeError(err, "set identity password")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("identity")
	}
	return nil
}

func (r *credentialRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.db).Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return storeError(err, "delete identity")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("identity")
	}
	return nil
}

func scanCredential(row pgx.Row) (*models.Credential, error) {
	var (
		cred     models.Credential
		metadata []byte
	)
	if err := row.Scan(&cred.ID, &cred.Email, &cred.PasswordHash, &metadata, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &cred.Metadata); err != nil {
			return nil, fmt.Errorf("decode identity metadata: %w", err)
		}
	}
	return &cred, nil
}
