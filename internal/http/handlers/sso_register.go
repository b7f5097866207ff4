package handlers

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
	"github.com/dropDatabas3/portero/internal/session"
	"github.com/dropDatabas3/portero/internal/store/core"
)

type ssoRegisterRequest struct {
	ProviderID     string        `json:"providerId"`
	Issuer         string        `json:"issuer"`
	Domain         string        `json:"domain,omitempty"`
	OrganizationID *string       `json:"organizationId,omitempty"`
	OIDCConfig     *ssoOIDCInput `json:"oidcConfig"`
}

type ssoOIDCInput struct {
	ClientID              string `json:"clientId"`
	ClientSecret          string `json:"clientSecret,omitempty"`
	AuthorizationEndpoint string `json:"authorizationEndpoint,omitempty"`
	TokenEndpoint         string `json:"tokenEndpoint,omitempty"`
	UserInfoEndpoint      string `json:"userinfoEndpoint,omitempty"`
	JWKSEndpoint          string `json:"jwksEndpoint,omitempty"`
	DiscoveryURL          string `json:"discoveryUrl,omitempty"`
	PKCE                  bool   `json:"pkce,omitempty"`
}

// validIssuerURL: URL http(s) absoluta, sin query ni fragment. El issuer es
// la base del discovery; cualquier otra cosa es un registro roto.
func validIssuerURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return false
	}
	return u.Host != "" && u.RawQuery == "" && u.Fragment == ""
}

// NewSSORegisterHandler: POST /sso/register. Registra un IdP externo contra
// el que este servicio actúa como RP. Los endpoints pueden omitirse: el
// registry los hidrata por discovery en el primer uso y los persiste.
func NewSSORegisterHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := requireSession(c, w, r, session.ResolveOpts{})
		if res == nil {
			return
		}
		var req ssoRegisterRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		req.ProviderID = strings.TrimSpace(req.ProviderID)
		if req.ProviderID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "providerId requerido", 1103)
			return
		}
		if !validIssuerURL(req.Issuer) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_issuer", "issuer debe ser una URL http(s) absoluta", 1112)
			return
		}
		if req.OIDCConfig == nil || req.OIDCConfig.ClientID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "oidcConfig.clientId requerido", 1103)
			return
		}

		cfg := &core.OIDCConfig{
			ClientID:              req.OIDCConfig.ClientID,
			AuthorizationEndpoint: req.OIDCConfig.AuthorizationEndpoint,
			TokenEndpoint:         req.OIDCConfig.TokenEndpoint,
			UserInfoEndpoint:      req.OIDCConfig.UserInfoEndpoint,
			JWKSEndpoint:          req.OIDCConfig.JWKSEndpoint,
			DiscoveryURL:          req.OIDCConfig.DiscoveryURL,
			PKCE:                  req.OIDCConfig.PKCE,
		}
		if req.OIDCConfig.ClientSecret != "" {
			enc, err := c.Box.Encrypt([]byte(req.OIDCConfig.ClientSecret))
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "server_error", "", 1500)
				return
			}
			cfg.ClientSecretEnc = enc
		}

		row := &core.SSOProvider{
			ID:             uuid.NewString(),
			ProviderID:     req.ProviderID,
			Issuer:         strings.TrimRight(req.Issuer, "/"),
			Domain:         strings.TrimSpace(req.Domain),
			OIDCConfig:     cfg,
			OrganizationID: req.OrganizationID,
			UserID:         res.Session.UserID,
		}
		if err := c.Store.CreateSSOProvider(r.Context(), row); err == core.ErrConflict {
			httpx.WriteError(w, http.StatusConflict, "provider_already_exists", "ya existe un provider con ese providerId", 1113)
			return
		} else if err != nil {
			log.Printf(`{"evento":"sso_register_store_error","provider":%q,"error":%q}`, req.ProviderID, err.Error())
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}

		// Respuesta sin el secret cifrado.
		pubCfg := *cfg
		pubCfg.ClientSecretEnc = ""
		pub := *row
		pub.OIDCConfig = &pubCfg
		httpx.WriteJSON(w, http.StatusCreated, map[string]any{"provider": pub})
	}
}
