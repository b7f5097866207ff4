package pg

import (
	"context"

	"github.com/dropDatabas3/portero/internal/store/core"
)

const accountCols = `id, COALESCE(tenant_id,''), user_id, provider_id, account_id,
	access_token, refresh_token, access_token_expires_at, refresh_token_expires_at,
	scope, id_token, password, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*core.Account, error) {
	var a core.Account
	if err := row.Scan(&a.ID, &a.TenantID, &a.UserID, &a.ProviderID, &a.AccountID,
		&a.AccessToken, &a.RefreshToken, &a.AccessTokenExpiresAt, &a.RefreshTokenExpiresAt,
		&a.Scope, &a.IDToken, &a.Password, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *core.Account) error {
	const q = `
		INSERT INTO account (id, tenant_id, user_id, provider_id, account_id,
			access_token, refresh_token, access_token_expires_at, refresh_token_expires_at,
			scope, id_token, password, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := s.pool.QueryRow(ctx, q, a.ID, a.TenantID, a.UserID, a.ProviderID, a.AccountID,
		a.AccessToken, a.RefreshToken, a.AccessTokenExpiresAt, a.RefreshTokenExpiresAt,
		a.Scope, a.IDToken, a.Password,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapErr(err)
}

func (s *Store) GetAccountByProviderSubject(ctx context.Context, tenantID, providerID, subject string) (*core.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM account
		WHERE provider_id = $1 AND account_id = $2 AND ($3 = '' OR tenant_id = $3) LIMIT 1`
	return scanAccount(s.pool.QueryRow(ctx, q, providerID, subject, tenantID))
}

func (s *Store) GetAccountsForUser(ctx context.Context, tenantID, userID string) ([]*core.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM account
		WHERE user_id = $1 AND ($2 = '' OR tenant_id = $2)`
	rows, err := s.pool.Query(ctx, q, userID, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateAccountTokens(ctx context.Context, a *core.Account) error {
	const q = `
		UPDATE account
		SET access_token = $2, refresh_token = $3, access_token_expires_at = $4,
			refresh_token_expires_at = $5, scope = $6, id_token = $7, updated_at = NOW()
		WHERE id = $1`
	ct, err := s.pool.Exec(ctx, q, a.ID, a.AccessToken, a.RefreshToken,
		a.AccessTokenExpiresAt, a.RefreshTokenExpiresAt, a.Scope, a.IDToken)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
