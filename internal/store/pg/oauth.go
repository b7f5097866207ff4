package pg

import (
	"context"

	"github.com/dropDatabas3/portero/internal/store/core"
)

// ───────────────────── OAuth clients ─────────────────────

func (s *Store) CreateOAuthClient(ctx context.Context, c *core.OAuthClient) error {
	const q = `
		INSERT INTO oauth_client (id, tenant_id, client_id, secret_hash, name, icon, client_type,
			redirect_uris, auth_method, disabled, metadata, created_at)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, NULLIF($6,''), $7, $8, $9, $10, $11, NOW())
		RETURNING created_at`
	err := s.pool.QueryRow(ctx, q, c.ID, c.TenantID, c.ClientID, c.SecretHash, c.Name, c.Icon,
		c.Type, c.RedirectURIs, c.AuthMethod, c.Disabled, c.Metadata,
	).Scan(&c.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetOAuthClientByClientID(ctx context.Context, clientID string) (*core.OAuthClient, error) {
	const q = `
		SELECT id, COALESCE(tenant_id,''), client_id, secret_hash, name, COALESCE(icon,''), client_type,
			redirect_uris, auth_method, disabled, metadata, created_at
		FROM oauth_client WHERE client_id = $1 LIMIT 1`
	var c core.OAuthClient
	err := s.pool.QueryRow(ctx, q, clientID).Scan(&c.ID, &c.TenantID, &c.ClientID, &c.SecretHash,
		&c.Name, &c.Icon, &c.Type, &c.RedirectURIs, &c.AuthMethod, &c.Disabled, &c.Metadata, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// ─────────────────────── Consents ───────────────────────

func (s *Store) UpsertConsent(ctx context.Context, c *core.OAuthConsent) (*core.OAuthConsent, error) {
	const q = `
		INSERT INTO oauth_consent (id, tenant_id, client_id, user_id, scopes, reference_id, created_at, updated_at)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, COALESCE(NULLIF($6,''),''), NOW(), NOW())
		ON CONFLICT (client_id, user_id, reference_id)
		DO UPDATE SET scopes = EXCLUDED.scopes, updated_at = NOW()
		RETURNING id, created_at, updated_at`
	out := *c
	err := s.pool.QueryRow(ctx, q, c.ID, c.TenantID, c.ClientID, c.UserID, c.Scopes, c.ReferenceID,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

func (s *Store) GetConsent(ctx context.Context, tenantID, clientID, userID, referenceID string) (*core.OAuthConsent, error) {
	const q = `
		SELECT id, COALESCE(tenant_id,''), client_id, user_id, scopes, reference_id, created_at, updated_at
		FROM oauth_consent
		WHERE client_id = $1 AND user_id = $2 AND reference_id = $3 AND ($4 = '' OR tenant_id = $4)
		LIMIT 1`
	var c core.OAuthConsent
	err := s.pool.QueryRow(ctx, q, clientID, userID, referenceID, tenantID).Scan(
		&c.ID, &c.TenantID, &c.ClientID, &c.UserID, &c.Scopes, &c.ReferenceID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// ──────────────────── Refresh tokens ────────────────────

func (s *Store) CreateRefreshToken(ctx context.Context, rt *core.RefreshToken) (string, error) {
	const q = `
		INSERT INTO refresh_token (id, tenant_id, user_id, client_id, token_hash, scope, issued_at, expires_at, rotated_from)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, NOW(), $7, $8)
		RETURNING id`
	var id string
	err := s.pool.QueryRow(ctx, q, rt.ID, rt.TenantID, rt.UserID, rt.ClientID, rt.TokenHash,
		rt.Scope, rt.ExpiresAt, rt.RotatedFrom).Scan(&id)
	if err != nil {
		return "", mapErr(err)
	}
	return id, nil
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*core.RefreshToken, error) {
	const q = `
		SELECT id, COALESCE(tenant_id,''), user_id, client_id, token_hash, COALESCE(scope,''),
			issued_at, expires_at, rotated_from, revoked_at
		FROM refresh_token WHERE token_hash = $1 LIMIT 1`
	var rt core.RefreshToken
	err := s.pool.QueryRow(ctx, q, tokenHash).Scan(&rt.ID, &rt.TenantID, &rt.UserID, &rt.ClientID,
		&rt.TokenHash, &rt.Scope, &rt.IssuedAt, &rt.ExpiresAt, &rt.RotatedFrom, &rt.RevokedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &rt, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	const q = `UPDATE refresh_token SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`
	_, err := s.pool.Exec(ctx, q, id)
	return mapErr(err)
}
