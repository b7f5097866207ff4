package handlers

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
	"github.com/dropDatabas3/portero/internal/store/core"
)

// NewUserInfoHandler: GET /oauth2/userinfo. Los claims devueltos dependen
// de los scopes del access token, nunca del pedido.
func NewUserInfoHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo"`)
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "falta el bearer token", 2040)
			return
		}
		claims, err := c.Issuer.Parse(raw)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "token inválido o expirado", 2040)
			return
		}

		sub, _ := claims["sub"].(string)
		tid, _ := claims["tid"].(string)

		scopes := claimScopes(claims)
		out := map[string]any{"sub": sub}

		u, uerr := c.Store.GetUserByID(r.Context(), tid, sub)
		if uerr == core.ErrNotFound {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "usuario inexistente", 2041)
			return
		}
		if uerr != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}
		if hasScope(scopes, "email") {
			out["email"] = u.Email
			out["email_verified"] = u.EmailVerified
		}
		if hasScope(scopes, "profile") {
			if u.Name != "" {
				out["name"] = u.Name
			}
			if u.Image != "" {
				out["picture"] = u.Image
			}
		}
		for k, v := range c.Plugins.AdditionalUserInfoClaims(r.Context(), sub, scopes) {
			out[k] = v
		}

		httpx.SetNoStore(w)
		httpx.WriteJSON(w, http.StatusOK, out)
	}
}

// claimScopes acepta ambas formas: scp como array o scope como string.
func claimScopes(claims map[string]any) []string {
	if arr, ok := claims["scp"].([]any); ok {
		out := make([]string, 0, len(arr))
		for _, v := range arr {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := claims["scope"].(string); ok {
		return strings.Fields(s)
	}
	return nil
}
