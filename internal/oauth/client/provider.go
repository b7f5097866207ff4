// Package client implementa el rol de Relying Party: construir la URL de
// autorización, validar el callback, canjear el code y normalizar el perfil
// del provider en un vínculo Account.
package client

import "fmt"

// Métodos de autenticación contra el token endpoint del provider.
const (
	AuthMethodBasic = "client_secret_basic"
	AuthMethodPost  = "client_secret_post"
	AuthMethodNone  = "none"
)

// Provider es un upstream OAuth2/OIDC configurado. Los endpoints pueden
// venir fijos de config o hidratarse por discovery (ver Registry).
type Provider struct {
	ID           string
	ClientID     string
	ClientSecret string

	Issuer           string
	DiscoveryURL     string
	AuthEndpoint     string
	TokenEndpoint    string
	UserInfoEndpoint string
	JWKSEndpoint     string

	Scopes     []string
	AuthMethod string // basic|post|none; default basic
	UsePKCE    bool

	// ExtraAuthParams viajan tal cual en la URL de autorización
	// (access_type=offline, prompt=select_account, etc.).
	ExtraAuthParams map[string]string

	// TrustedForLinking habilita el auto-link por email verificado a un
	// usuario existente. Providers que no verifican email quedan afuera.
	TrustedForLinking bool
	// DisableImplicitSignUp: el callback de un sujeto desconocido falla con
	// signup_disabled salvo que el sign-in haya pedido requestSignUp.
	DisableImplicitSignUp bool
	// OverrideUserInfo actualiza name/image del usuario en cada login.
	OverrideUserInfo bool

	// MapProfile reemplaza el mapeo default de userinfo a Profile.
	MapProfile func(raw map[string]any) (*Profile, error) `json:"-"`
}

func (p *Provider) validate() error {
	if p.ID == "" || p.ClientID == "" {
		return fmt.Errorf("provider %q: id y client_id son obligatorios", p.ID)
	}
	if p.DiscoveryURL == "" && (p.AuthEndpoint == "" || p.TokenEndpoint == "") {
		return fmt.Errorf("provider %q: falta discovery_url o endpoints explícitos", p.ID)
	}
	switch p.AuthMethod {
	case "":
		p.AuthMethod = AuthMethodBasic
	case AuthMethodBasic, AuthMethodPost, AuthMethodNone:
	default:
		return fmt.Errorf("provider %q: auth method %q no soportado", p.ID, p.AuthMethod)
	}
	if p.AuthMethod != AuthMethodNone && p.ClientSecret == "" {
		return fmt.Errorf("provider %q: client_secret requerido para %s", p.ID, p.AuthMethod)
	}
	return nil
}

// Profile es el perfil normalizado del provider.
type Profile struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	Raw           map[string]any
}

// mapDefaultProfile cubre las claims estándar de OIDC userinfo. Providers
// con shapes propios (estilo GitHub) configuran MapProfile.
func mapDefaultProfile(raw map[string]any) (*Profile, error) {
	sub, _ := raw["sub"].(string)
	if sub == "" {
		// Algunos providers devuelven "id" numérico en vez de sub.
		switch v := raw["id"].(type) {
		case string:
			sub = v
		case float64:
			sub = fmt.Sprintf("%.0f", v)
		}
	}
	if sub == "" {
		return nil, fmt.Errorf("userinfo sin sub/id")
	}
	p := &Profile{Subject: sub, Raw: raw}
	p.Email, _ = raw["email"].(string)
	p.EmailVerified, _ = raw["email_verified"].(bool)
	p.Name, _ = raw["name"].(string)
	p.Picture, _ = raw["picture"].(string)
	if p.Picture == "" {
		p.Picture, _ = raw["avatar_url"].(string)
	}
	return p, nil
}
