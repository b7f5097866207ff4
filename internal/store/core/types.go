package core

import "time"

// User es la identidad local. Metadata lleva campos user-defined
// (interpretados vía schema.Table, no tipos generados).
type User struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	Email         string         `json:"email"`
	EmailVerified bool           `json:"email_verified"`
	Name          string         `json:"name,omitempty"`
	Image         string         `json:"image,omitempty"`
	Status        string         `json:"status"` // active|disabled
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Session es la fila primaria de sesión. Token nunca se guarda en claro:
// la columna TokenHash lleva sha256(token) base64url.
type Session struct {
	ID                   string    `json:"id"`
	TenantID             string    `json:"tenant_id,omitempty"`
	UserID               string    `json:"user_id"`
	TokenHash            string    `json:"-"`
	ExpiresAt            time.Time `json:"expires_at"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
	IPAddress            string    `json:"ip_address,omitempty"`
	UserAgent            string    `json:"user_agent,omitempty"`
	ActiveOrganizationID *string   `json:"active_organization_id,omitempty"`
	ActiveTeamID         *string   `json:"active_team_id,omitempty"`
}

// Account vincula una identidad externa (o la credencial local cuando
// ProviderID == "credential"; en ese caso Password lleva el PHC hash).
// (ProviderID, AccountID) identifica el vínculo de forma única por tenant.
type Account struct {
	ID                    string     `json:"id"`
	TenantID              string     `json:"tenant_id,omitempty"`
	UserID                string     `json:"user_id"`
	ProviderID            string     `json:"provider_id"`
	AccountID             string     `json:"account_id"` // subject en el provider
	AccessToken           *string    `json:"-"`
	RefreshToken          *string    `json:"-"`
	AccessTokenExpiresAt  *time.Time `json:"access_token_expires_at,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refresh_token_expires_at,omitempty"`
	Scope                 *string    `json:"scope,omitempty"`
	IDToken               *string    `json:"-"`
	Password              *string    `json:"-"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// ProviderCredential es el provider id reservado para password local.
const ProviderCredential = "credential"

// OAuthClient es un RP registrado contra nuestro provider OIDC.
// RedirectURIs es una allow-list de match exacto.
type OAuthClient struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id,omitempty"`
	ClientID     string         `json:"client_id"`
	SecretHash   string         `json:"-"` // sha256 del client_secret
	Name         string         `json:"name"`
	Icon         string         `json:"icon,omitempty"`
	Type         string         `json:"type"` // web|native|public
	RedirectURIs []string       `json:"redirect_uris"`
	AuthMethod   string         `json:"token_endpoint_auth_method"` // client_secret_basic|client_secret_post|none
	Disabled     bool           `json:"disabled"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// OAuthConsent registra los scopes que un usuario aprobó para un client.
// A lo sumo una fila por (ClientID, UserID, ReferenceID); re-consent
// actualiza Scopes/UpdatedAt en vez de duplicar.
type OAuthConsent struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	Scopes      []string  `json:"scopes"`
	ReferenceID string    `json:"reference_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RefreshToken emitido por el token endpoint (grant refresh_token, rotación).
type RefreshToken struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id,omitempty"`
	UserID      string     `json:"user_id"`
	ClientID    string     `json:"client_id"`
	TokenHash   string     `json:"-"`
	Scope       string     `json:"scope,omitempty"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RotatedFrom *string    `json:"rotated_from,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// SSOProvider es un IdP externo registrado (nosotros como RP).
// OIDCConfig se hidrata por discovery si la fila legacy no trae endpoints.
type SSOProvider struct {
	ID             string      `json:"id"`
	ProviderID     string      `json:"provider_id"` // único global
	Issuer         string      `json:"issuer"`
	Domain         string      `json:"domain,omitempty"`
	OIDCConfig     *OIDCConfig `json:"oidc_config,omitempty"`
	OrganizationID *string     `json:"organization_id,omitempty"`
	UserID         string      `json:"user_id"` // owner
	CreatedAt      time.Time   `json:"created_at"`
}

// OIDCConfig son los endpoints efectivos de un IdP externo.
type OIDCConfig struct {
	ClientID              string `json:"client_id"`
	ClientSecretEnc       string `json:"client_secret_enc,omitempty"` // secretbox
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	JWKSEndpoint          string `json:"jwks_endpoint"`
	DiscoveryURL          string `json:"discovery_url,omitempty"`
	PKCE                  bool   `json:"pkce"`
}
