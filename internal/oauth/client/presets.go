package client

import (
	"fmt"
	"strings"
)

// Presets de providers conocidos. Completan endpoints, scopes y mapper
// cuando la config sólo trae client_id/secret. GitHub no es OIDC: no hay
// discovery ni id_token, así que los endpoints van hardcodeados y el
// perfil se mapea del API propio.

const (
	githubAuthEndpoint  = "https://github.com/login/oauth/authorize"
	githubTokenEndpoint = "https://github.com/login/oauth/access_token"
	githubUserEndpoint  = "https://api.github.com/user"

	googleIssuer = "https://accounts.google.com"
)

// ApplyPreset completa un Provider con los defaults del provider conocido
// según su ID. IDs desconocidos quedan como están.
func ApplyPreset(p *Provider) {
	switch strings.ToLower(p.ID) {
	case "github":
		if p.AuthEndpoint == "" {
			p.AuthEndpoint = githubAuthEndpoint
		}
		if p.TokenEndpoint == "" {
			p.TokenEndpoint = githubTokenEndpoint
		}
		if p.UserInfoEndpoint == "" {
			p.UserInfoEndpoint = githubUserEndpoint
		}
		if len(p.Scopes) == 0 {
			p.Scopes = []string{"read:user", "user:email"}
		}
		if p.MapProfile == nil {
			p.MapProfile = mapGitHubProfile
		}
	case "google":
		if p.Issuer == "" {
			p.Issuer = googleIssuer
		}
		if p.DiscoveryURL == "" {
			p.DiscoveryURL = googleIssuer + "/.well-known/openid-configuration"
		}
		if len(p.Scopes) == 0 {
			p.Scopes = []string{"openid", "profile", "email"}
		}
		p.UsePKCE = true
	}
}

// mapGitHubProfile traduce el /user de GitHub al perfil común. El id
// numérico hace de subject; email puede venir vacío si el usuario lo
// tiene privado.
func mapGitHubProfile(raw map[string]any) (*Profile, error) {
	id, ok := raw["id"].(float64)
	if !ok {
		return nil, fmt.Errorf("github: respuesta sin id")
	}
	p := &Profile{
		Subject: fmt.Sprintf("%.0f", id),
		Raw:     raw,
	}
	if v, ok := raw["email"].(string); ok {
		p.Email = v
		// GitHub sólo expone emails ya verificados en /user
		p.EmailVerified = v != ""
	}
	if v, ok := raw["name"].(string); ok && v != "" {
		p.Name = v
	} else if v, ok := raw["login"].(string); ok {
		p.Name = v
	}
	if v, ok := raw["avatar_url"].(string); ok {
		p.Picture = v
	}
	return p, nil
}
