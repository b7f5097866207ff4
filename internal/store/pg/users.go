package pg

import (
	"context"

	"github.com/dropDatabas3/portero/internal/store/core"
)

func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	const q = `
		INSERT INTO app_user (id, tenant_id, email, email_verified, name, image, status, metadata, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), LOWER($3), $4, $5, $6, COALESCE(NULLIF($7,''),'active'), $8, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := s.pool.QueryRow(ctx, q,
		u.ID, u.TenantID, u.Email, u.EmailVerified, u.Name, u.Image, u.Status, u.Metadata,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	return mapErr(err)
}

const userCols = `id, COALESCE(tenant_id,''), email, email_verified, COALESCE(name,''), COALESCE(image,''), status, metadata, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*core.User, error) {
	var u core.User
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.EmailVerified, &u.Name, &u.Image, &u.Status, &u.Metadata, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, tenantID, id string) (*core.User, error) {
	const q = `SELECT ` + userCols + ` FROM app_user
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2) LIMIT 1`
	return scanUser(s.pool.QueryRow(ctx, q, id, tenantID))
}

func (s *Store) GetUserByEmail(ctx context.Context, tenantID, email string) (*core.User, error) {
	const q = `SELECT ` + userCols + ` FROM app_user
		WHERE LOWER(email) = LOWER($1) AND ($2 = '' OR tenant_id = $2) LIMIT 1`
	return scanUser(s.pool.QueryRow(ctx, q, email, tenantID))
}

func (s *Store) UpdateUser(ctx context.Context, u *core.User) error {
	const q = `
		UPDATE app_user
		SET email = LOWER($2), email_verified = $3, name = $4, image = $5, status = $6, metadata = $7, updated_at = NOW()
		WHERE id = $1 AND ($8 = '' OR tenant_id = $8)`
	ct, err := s.pool.Exec(ctx, q, u.ID, u.Email, u.EmailVerified, u.Name, u.Image, u.Status, u.Metadata, u.TenantID)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
