package pg

import (
	"context"
	"encoding/json"

	"github.com/dropDatabas3/portero/internal/store/core"
)

// El oidc_config va como JSONB: las filas legacy pueden traerlo incompleto
// y se hidratan por discovery en runtime (UpdateSSOProviderConfig).

func (s *Store) CreateSSOProvider(ctx context.Context, p *core.SSOProvider) error {
	cfg, err := json.Marshal(p.OIDCConfig)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO sso_provider (id, provider_id, issuer, domain, oidc_config, organization_id, user_id, created_at)
		VALUES ($1, $2, $3, NULLIF($4,''), $5, $6, $7, NOW())
		RETURNING created_at`
	err = s.pool.QueryRow(ctx, q, p.ID, p.ProviderID, p.Issuer, p.Domain, cfg, p.OrganizationID, p.UserID,
	).Scan(&p.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetSSOProviderByProviderID(ctx context.Context, providerID string) (*core.SSOProvider, error) {
	const q = `
		SELECT id, provider_id, issuer, COALESCE(domain,''), oidc_config, organization_id, user_id, created_at
		FROM sso_provider WHERE provider_id = $1 LIMIT 1`
	var p core.SSOProvider
	var cfg []byte
	err := s.pool.QueryRow(ctx, q, providerID).Scan(&p.ID, &p.ProviderID, &p.Issuer, &p.Domain,
		&cfg, &p.OrganizationID, &p.UserID, &p.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(cfg) > 0 && string(cfg) != "null" {
		var oc core.OIDCConfig
		if err := json.Unmarshal(cfg, &oc); err == nil {
			p.OIDCConfig = &oc
		}
	}
	return &p, nil
}

func (s *Store) UpdateSSOProviderConfig(ctx context.Context, providerID string, cfg *core.OIDCConfig) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	const q = `UPDATE sso_provider SET oidc_config = $2 WHERE provider_id = $1`
	ct, err := s.pool.Exec(ctx, q, providerID, b)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
