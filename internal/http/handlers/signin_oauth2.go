package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
	oauthc "github.com/dropDatabas3/portero/internal/oauth/client"
	tokens "github.com/dropDatabas3/portero/internal/security/token"
)

type signInOAuthRequest struct {
	ProviderID         string   `json:"providerId"`
	CallbackURL        string   `json:"callbackURL"`
	ErrorCallbackURL   string   `json:"errorCallbackURL,omitempty"`
	NewUserCallbackURL string   `json:"newUserCallbackURL,omitempty"`
	Scopes             []string `json:"scopes,omitempty"`
	RequestSignUp      bool     `json:"requestSignUp,omitempty"`
}

// NewSignInOAuthHandler: POST /sign-in/oauth2. Arma el authorization URL
// del provider upstream y deja el estado cifrado en cookie + cache.
func NewSignInOAuthHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signInOAuthRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		if req.ProviderID == "" || req.CallbackURL == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "providerId y callbackURL requeridos", 1103)
			return
		}

		p, err := c.Providers.Get(r.Context(), req.ProviderID)
		if errors.Is(err, oauthc.ErrUnknownProvider) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "provider desconocido", 1105)
			return
		}
		if err != nil {
			log.Printf(`{"evento":"oauth_provider_resolve_error","provider":%q,"error":%q}`, req.ProviderID, err.Error())
			httpx.WriteError(w, http.StatusBadGateway, "provider_error", "no se pudo resolver el provider", 1502)
			return
		}

		nonce, err := tokens.GenerateOpaqueToken(16)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "", 1500)
			return
		}
		var verifier, challenge string
		if p.UsePKCE {
			verifier, challenge, err = oauthc.GeneratePKCE()
			if err != nil {
				httpx.WriteError(w, http.StatusInternalServerError, "server_error", "", 1500)
				return
			}
		}

		st := &oauthc.OAuthState{
			ProviderID:         p.ID,
			TenantID:           tenantID(c, r),
			CallbackURL:        req.CallbackURL,
			ErrorCallbackURL:   req.ErrorCallbackURL,
			NewUserCallbackURL: req.NewUserCallbackURL,
			RequestSignUp:      req.RequestSignUp,
			CodeVerifier:       verifier,
			Nonce:              nonce,
		}
		state, err := c.States.Issue(w, st)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo emitir el state", 1500)
			return
		}

		redirectURI := strings.TrimRight(c.Cfg.Server.BaseURL, "/") + "/oauth2/callback/" + p.ID
		authURL, err := oauthc.BuildAuthURL(p, redirectURI, state, nonce, challenge, req.Scopes)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "", 1500)
			return
		}

		httpx.SetNoStore(w)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"url":      authURL,
			"redirect": true,
		})
	}
}
