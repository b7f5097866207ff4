package pg

import (
	"context"
	"time"

	"github.com/dropDatabas3/portero/internal/store/core"
)

const sessionCols = `id, COALESCE(tenant_id,''), user_id, token_hash, expires_at, created_at, updated_at,
	COALESCE(ip_address,''), COALESCE(user_agent,''), active_organization_id, active_team_id`

func scanSession(row interface{ Scan(...any) error }) (*core.Session, error) {
	var s core.Session
	if err := row.Scan(&s.ID, &s.TenantID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
		&s.IPAddress, &s.UserAgent, &s.ActiveOrganizationID, &s.ActiveTeamID); err != nil {
		return nil, mapErr(err)
	}
	return &s, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *core.Session) error {
	const q = `
		INSERT INTO session (id, tenant_id, user_id, token_hash, expires_at, created_at, updated_at, ip_address, user_agent)
		VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $6, NULLIF($7,''), NULLIF($8,''))`
	_, err := s.pool.Exec(ctx, q, sess.ID, sess.TenantID, sess.UserID, sess.TokenHash,
		sess.ExpiresAt, sess.CreatedAt, sess.IPAddress, sess.UserAgent)
	return mapErr(err)
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tenantID, tokenHash string) (*core.Session, error) {
	// El filtro por tenant va en el WHERE: una fila de otro tenant es not-found.
	const q = `SELECT ` + sessionCols + ` FROM session
		WHERE token_hash = $1 AND ($2 = '' OR tenant_id = $2) LIMIT 1`
	return scanSession(s.pool.QueryRow(ctx, q, tokenHash, tenantID))
}

func (s *Store) UpdateSessionExpiry(ctx context.Context, tenantID, id string, expiresAt, updatedAt time.Time) (bool, error) {
	const q = `
		UPDATE session SET expires_at = $2, updated_at = $3
		WHERE id = $1 AND ($4 = '' OR tenant_id = $4)`
	ct, err := s.pool.Exec(ctx, q, id, expiresAt, updatedAt, tenantID)
	if err != nil {
		return false, mapErr(err)
	}
	// 0 filas => la sesión fue revocada en paralelo; el caller invalida cookie.
	return ct.RowsAffected() > 0, nil
}

func (s *Store) UpdateSessionActiveOrg(ctx context.Context, tenantID, id string, orgID *string) error {
	// Cambiar de organización resetea el team activo.
	const q = `
		UPDATE session SET active_organization_id = $2, active_team_id = NULL, updated_at = NOW()
		WHERE id = $1 AND ($3 = '' OR tenant_id = $3)`
	ct, err := s.pool.Exec(ctx, q, id, orgID, tenantID)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSessionActiveTeam(ctx context.Context, tenantID, id string, teamID *string) error {
	const q = `
		UPDATE session SET active_team_id = $2, updated_at = NOW()
		WHERE id = $1 AND ($3 = '' OR tenant_id = $3)`
	ct, err := s.pool.Exec(ctx, q, id, teamID, tenantID)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, tenantID, id string) error {
	const q = `DELETE FROM session WHERE id = $1 AND ($2 = '' OR tenant_id = $2)`
	ct, err := s.pool.Exec(ctx, q, id, tenantID)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSessionByTokenHash(ctx context.Context, tenantID, tokenHash string) error {
	const q = `DELETE FROM session WHERE token_hash = $1 AND ($2 = '' OR tenant_id = $2)`
	ct, err := s.pool.Exec(ctx, q, tokenHash, tenantID)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSessionsForUser(ctx context.Context, tenantID, userID, exceptID string) error {
	const q = `
		DELETE FROM session
		WHERE user_id = $1 AND ($2 = '' OR tenant_id = $2) AND ($3 = '' OR id <> $3)`
	_, err := s.pool.Exec(ctx, q, userID, tenantID, exceptID)
	return mapErr(err)
}

func (s *Store) ListSessionsForUser(ctx context.Context, tenantID, userID string) ([]*core.Session, error) {
	const q = `SELECT ` + sessionCols + ` FROM session
		WHERE user_id = $1 AND ($2 = '' OR tenant_id = $2) AND expires_at > NOW()
		ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, q, userID, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*core.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
