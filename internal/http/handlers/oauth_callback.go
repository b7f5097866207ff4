package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
	oauthc "github.com/dropDatabas3/portero/internal/oauth/client"
	"github.com/dropDatabas3/portero/internal/session"
)

// callbackFail redirige al errorCallbackURL con un código corto. El detalle
// del error upstream queda sólo en el log del server.
func callbackFail(w http.ResponseWriter, r *http.Request, st *oauthc.OAuthState, code string) {
	dest := ""
	if st != nil {
		dest = st.ErrorCallbackURL
		if dest == "" {
			dest = st.CallbackURL
		}
	}
	if dest == "" {
		httpx.WriteError(w, http.StatusBadRequest, code, "", 2050)
		return
	}
	http.Redirect(w, r, addQS(dest, "error", code), http.StatusFound)
}

// NewOAuthCallbackHandler: GET /oauth2/callback/{providerId}. Cierra el
// flujo RP: valida el state, canjea el code, vincula o crea el usuario y
// abre sesión.
func NewOAuthCallbackHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID := chi.URLParam(r, "providerId")
		q := r.URL.Query()

		st, err := c.States.Consume(w, r, q.Get("state"))
		if err != nil {
			log.Printf(`{"evento":"oauth_state_error","provider":%q,"error":%q}`, providerID, err.Error())
			httpx.ObserveOAuthCallback(providerID, "state_error")
			// Sin state válido no hay callback URLs confiables: error plano.
			httpx.WriteError(w, http.StatusBadRequest, "invalid_state", "state inválido, expirado o reutilizado", 2051)
			return
		}
		if st.ProviderID != providerID {
			httpx.ObserveOAuthCallback(providerID, "state_error")
			httpx.WriteError(w, http.StatusBadRequest, "invalid_state", "state emitido para otro provider", 2051)
			return
		}

		if e := q.Get("error"); e != "" {
			log.Printf(`{"evento":"oauth_upstream_denied","provider":%q,"error":%q}`, providerID, e)
			httpx.ObserveOAuthCallback(providerID, "upstream_denied")
			if e == "access_denied" {
				callbackFail(w, r, st, "access_denied")
			} else {
				callbackFail(w, r, st, "oauth_error")
			}
			return
		}
		code := q.Get("code")
		if code == "" {
			httpx.ObserveOAuthCallback(providerID, "missing_code")
			callbackFail(w, r, st, "oauth_error")
			return
		}

		p, err := c.Providers.Get(r.Context(), providerID)
		if err != nil {
			log.Printf(`{"evento":"oauth_provider_resolve_error","provider":%q,"error":%q}`, providerID, err.Error())
			httpx.ObserveOAuthCallback(providerID, "provider_error")
			callbackFail(w, r, st, "oauth2_provider_unexpected_error")
			return
		}

		redirectURI := strings.TrimRight(c.Cfg.Server.BaseURL, "/") + "/oauth2/callback/" + p.ID
		tr, err := c.OAuthHTTP.ExchangeCode(r.Context(), p, code, redirectURI, st.CodeVerifier)
		if err != nil {
			httpx.ObserveOAuthCallback(providerID, "exchange_error")
			callbackFail(w, r, st, "oauth2_provider_unexpected_error")
			return
		}
		prof, err := c.OAuthHTTP.FetchUserInfo(r.Context(), p, tr.AccessToken)
		if err != nil {
			httpx.ObserveOAuthCallback(providerID, "userinfo_error")
			callbackFail(w, r, st, "oauth2_provider_unexpected_error")
			return
		}

		res, err := c.Flow.LinkOrCreate(r.Context(), st.TenantID, p, prof, tr, st.RequestSignUp)
		switch {
		case errors.Is(err, oauthc.ErrSignupDisabled):
			httpx.ObserveOAuthCallback(providerID, "signup_disabled")
			callbackFail(w, r, st, "signup_disabled")
			return
		case errors.Is(err, oauthc.ErrAccountNotLinked):
			httpx.ObserveOAuthCallback(providerID, "account_not_linked")
			callbackFail(w, r, st, "account_not_linked")
			return
		case err != nil:
			log.Printf(`{"evento":"oauth_link_error","provider":%q,"error":%q}`, providerID, err.Error())
			httpx.ObserveOAuthCallback(providerID, "link_error")
			callbackFail(w, r, st, "oauth2_provider_unexpected_error")
			return
		}

		meta := session.Meta{IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()}
		if _, err := c.Sessions.Create(r.Context(), w, st.TenantID, res.UserID, meta, false); err != nil {
			log.Printf(`{"evento":"oauth_session_create_error","provider":%q,"error":%q}`, providerID, err.Error())
			httpx.ObserveOAuthCallback(providerID, "session_error")
			callbackFail(w, r, st, "oauth2_provider_unexpected_error")
			return
		}

		httpx.ObserveOAuthCallback(providerID, "ok")
		dest := st.CallbackURL
		if res.IsNewUser && st.NewUserCallbackURL != "" {
			dest = st.NewUserCallbackURL
		}
		http.Redirect(w, r, dest, http.StatusFound)
	}
}
