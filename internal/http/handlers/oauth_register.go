package handlers

import (
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
	tokens "github.com/dropDatabas3/portero/internal/security/token"
	"github.com/dropDatabas3/portero/internal/store/core"
)

type registerClientRequest struct {
	ClientName   string         `json:"client_name"`
	RedirectURIs []string       `json:"redirect_uris"`
	LogoURI      string         `json:"logo_uri,omitempty"`
	Type         string         `json:"type,omitempty"`
	AuthMethod   string         `json:"token_endpoint_auth_method,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type registerClientResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	LogoURI                 string   `json:"logo_uri,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
}

func validRedirectURI(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	// https obligatorio salvo loopback (apps nativas y dev).
	if u.Scheme == "https" {
		return u.Host != ""
	}
	if u.Scheme == "http" {
		h := u.Hostname()
		return h == "localhost" || h == "127.0.0.1" || h == "::1"
	}
	// custom schemes de apps nativas (com.example.app:/callback)
	return u.Scheme != "" && !strings.Contains(u.Scheme, " ")
}

// NewOAuthRegisterHandler: POST /oauth2/register (dynamic client registration).
func NewOAuthRegisterHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerClientRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		req.ClientName = strings.TrimSpace(req.ClientName)
		if req.ClientName == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_client_metadata", "client_name requerido", 2001)
			return
		}
		if len(req.RedirectURIs) == 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uris requerido", 2002)
			return
		}
		for _, u := range req.RedirectURIs {
			if !validRedirectURI(u) {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uri inválido: "+u, 2002)
				return
			}
		}

		authMethod := req.AuthMethod
		if authMethod == "" {
			authMethod = "client_secret_basic"
		}
		switch authMethod {
		case "client_secret_basic", "client_secret_post", "none":
		default:
			httpx.WriteError(w, http.StatusBadRequest, "invalid_client_metadata", "token_endpoint_auth_method no soportado", 2003)
			return
		}

		clientType := req.Type
		if clientType == "" {
			if authMethod == "none" {
				clientType = "public"
			} else {
				clientType = "web"
			}
		}

		clientID, err := tokens.GenerateOpaqueToken(16)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo generar client_id", 1500)
			return
		}
		var secret, secretHash string
		if authMethod != "none" {
			secret, err = tokens.GenerateOpaqueToken(32)
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo generar client_secret", 1500)
				return
			}
			secretHash = tokens.SHA256Base64URL(secret)
		}

		now := time.Now().UTC()
		cl := &core.OAuthClient{
			ID:           uuid.NewString(),
			TenantID:     tenantID(c, r),
			ClientID:     clientID,
			SecretHash:   secretHash,
			Name:         req.ClientName,
			Icon:         req.LogoURI,
			Type:         clientType,
			RedirectURIs: req.RedirectURIs,
			AuthMethod:   authMethod,
			Metadata:     req.Metadata,
			CreatedAt:    now,
		}
		if err := c.Store.CreateOAuthClient(r.Context(), cl); err != nil {
			log.Printf(`{"evento":"oauth_register_error","error":%q}`, err.Error())
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo registrar el cliente", 1500)
			return
		}

		httpx.SetNoStore(w)
		httpx.WriteJSON(w, http.StatusCreated, registerClientResponse{
			ClientID:                clientID,
			ClientSecret:            secret,
			ClientName:              cl.Name,
			RedirectURIs:            cl.RedirectURIs,
			LogoURI:                 cl.Icon,
			TokenEndpointAuthMethod: authMethod,
			GrantTypes:              []string{"authorization_code", "refresh_token"},
			ResponseTypes:           []string{"code"},
			ClientIDIssuedAt:        now.Unix(),
			ClientSecretExpiresAt:   0,
		})
	}
}
