// Package handlers contiene los http.HandlerFunc del servicio. Cada handler
// es una factory que recibe el *app.Container y cierra sobre él.
package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
	"github.com/dropDatabas3/portero/internal/session"
)

// tenantID saca el tenant del request. Con multi-tenancy apagada devuelve
// siempre "" y los stores ignoran el filtro.
func tenantID(c *app.Container, r *http.Request) string {
	if !c.Cfg.MultiTenant.Enabled {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(c.Cfg.MultiTenant.Header))
}

// resolveSession corre el engine y devuelve nil para unauthenticated.
// Los errores de store ya se loguearon; acá sólo se mapean a 500.
func resolveSession(c *app.Container, w http.ResponseWriter, r *http.Request, opts session.ResolveOpts) (*session.Resolved, bool) {
	res, err := c.Sessions.Resolve(r.Context(), w, r, tenantID(c, r), opts)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "session store unavailable", 1501)
		return nil, false
	}
	if res != nil {
		if res.FromCache {
			httpx.ObserveSessionResolved("cookie_cache")
		} else {
			httpx.ObserveSessionResolved("store")
		}
	} else {
		httpx.ObserveSessionResolved("unauthenticated")
	}
	return res, true
}

// requireSession corta con 401 si no hay sesión.
func requireSession(c *app.Container, w http.ResponseWriter, r *http.Request, opts session.ResolveOpts) *session.Resolved {
	res, ok := resolveSession(c, w, r, opts)
	if !ok {
		return nil
	}
	if res == nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "requiere sesión activa", 1100)
		return nil
	}
	return res
}

// bearerToken extrae el access token del header Authorization.
func bearerToken(r *http.Request) string {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(ah) > 7 && strings.EqualFold(ah[:7], "bearer ") {
		return strings.TrimSpace(ah[7:])
	}
	return ""
}

func addQS(u, k, v string) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + url.QueryEscape(k) + "=" + url.QueryEscape(v)
}

// redirectError manda el error OAuth al redirect_uri ya validado.
func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, desc string) {
	httpx.SetNoStore(w)
	loc := addQS(redirectURI, "error", code)
	if desc != "" {
		loc = addQS(loc, "error_description", desc)
	}
	if state != "" {
		loc = addQS(loc, "state", state)
	}
	http.Redirect(w, r, loc, http.StatusFound)
}

// sameStrings compara sets de scopes sin importar orden.
func scopeSubset(requested, granted []string) bool {
	set := make(map[string]bool, len(granted))
	for _, s := range granted {
		set[strings.ToLower(s)] = true
	}
	for _, s := range requested {
		if !set[strings.ToLower(s)] {
			return false
		}
	}
	return true
}
