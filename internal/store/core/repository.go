package core

import (
	"context"
	"time"
)

// Repository es el Credential Store Adapter: CRUD abstracto sobre
// users/sessions/accounts/clients/consents. Todas las lecturas y escrituras
// que tocan filas per-tenant reciben tenantID; con multi-tenancy apagada los
// callers pasan "" y los drivers ignoran el filtro.
//
// Contrato de errores: ErrNotFound para misses, ErrConflict para violaciones
// de unicidad. Cualquier otro error es fatal y el caller lo loguea.
type Repository interface {
	Ping(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, tenantID, id string) (*User, error)
	GetUserByEmail(ctx context.Context, tenantID, email string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSessionByTokenHash(ctx context.Context, tenantID, tokenHash string) (*Session, error)
	// UpdateSessionExpiry devuelve false (sin error) si la fila ya no existe:
	// renewal que pierde la carrera contra un revoke concurrente.
	UpdateSessionExpiry(ctx context.Context, tenantID, id string, expiresAt, updatedAt time.Time) (bool, error)
	UpdateSessionActiveOrg(ctx context.Context, tenantID, id string, orgID *string) error
	UpdateSessionActiveTeam(ctx context.Context, tenantID, id string, teamID *string) error
	DeleteSession(ctx context.Context, tenantID, id string) error
	DeleteSessionByTokenHash(ctx context.Context, tenantID, tokenHash string) error
	// DeleteSessionsForUser borra todas las sesiones del usuario;
	// exceptID != "" preserva la sesión actual (revokeOtherSessions).
	DeleteSessionsForUser(ctx context.Context, tenantID, userID, exceptID string) error
	ListSessionsForUser(ctx context.Context, tenantID, userID string) ([]*Session, error)

	// Accounts (identidades vinculadas)
	CreateAccount(ctx context.Context, a *Account) error
	GetAccountByProviderSubject(ctx context.Context, tenantID, providerID, subject string) (*Account, error)
	GetAccountsForUser(ctx context.Context, tenantID, userID string) ([]*Account, error)
	UpdateAccountTokens(ctx context.Context, a *Account) error

	// OAuth clients (nuestro rol de provider)
	CreateOAuthClient(ctx context.Context, c *OAuthClient) error
	GetOAuthClientByClientID(ctx context.Context, clientID string) (*OAuthClient, error)

	// Consents: upsert con actualización de scopes/updated_at ante re-consent.
	UpsertConsent(ctx context.Context, c *OAuthConsent) (*OAuthConsent, error)
	GetConsent(ctx context.Context, tenantID, clientID, userID, referenceID string) (*OAuthConsent, error)

	// Refresh tokens (provider)
	CreateRefreshToken(ctx context.Context, rt *RefreshToken) (string, error)
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) error

	// SSO provider registrations (nuestro rol de RP)
	CreateSSOProvider(ctx context.Context, p *SSOProvider) error
	GetSSOProviderByProviderID(ctx context.Context, providerID string) (*SSOProvider, error)
	UpdateSSOProviderConfig(ctx context.Context, providerID string, cfg *OIDCConfig) error
}
