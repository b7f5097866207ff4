package handlers

import (
	"log"
	"net/http"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
	"github.com/dropDatabas3/portero/internal/session"
	"github.com/dropDatabas3/portero/internal/store/core"
)

// NewGetSessionHandler: GET /session. Devuelve {session,user} o null.
func NewGetSessionHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := session.ResolveOpts{
			DisableCookieCache: r.URL.Query().Get("disableCookieCache") == "true",
			DisableRefresh:     r.URL.Query().Get("disableRefresh") == "true",
		}
		res, ok := resolveSession(c, w, r, opts)
		if !ok {
			return
		}
		httpx.SetNoStore(w)
		if res == nil {
			httpx.WriteJSON(w, http.StatusOK, nil)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"session": res.Session,
			"user":    res.User,
		})
	}
}

// NewListSessionsHandler: GET /user/list-sessions.
func NewListSessionsHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := requireSession(c, w, r, session.ResolveOpts{})
		if res == nil {
			return
		}
		list, err := c.Sessions.List(r.Context(), tenantID(c, r), res.Session.UserID)
		if err != nil {
			log.Printf(`{"evento":"session_list_error","error":%q}`, err.Error())
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": list})
	}
}

// NewRevokeSessionHandler: POST /user/revoke-session {sessionId}.
// Sólo sesiones del propio usuario; ajenas responden not_found.
func NewRevokeSessionHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := requireSession(c, w, r, session.ResolveOpts{})
		if res == nil {
			return
		}
		var req struct {
			SessionID string `json:"sessionId"`
		}
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		if req.SessionID == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "sessionId requerido", 1103)
			return
		}
		err := c.Sessions.RevokeByID(r.Context(), tenantID(c, r), res.Session.UserID, req.SessionID)
		if err == core.ErrNotFound {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "sesión inexistente", 1104)
			return
		}
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": true})
	}
}

// NewRevokeSessionsHandler: POST /user/revoke-sessions.
// revokeOtherSessions=true preserva la sesión actual.
func NewRevokeSessionsHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := requireSession(c, w, r, session.ResolveOpts{})
		if res == nil {
			return
		}
		var req struct {
			RevokeOtherSessions bool `json:"revokeOtherSessions"`
		}
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		except := ""
		if req.RevokeOtherSessions {
			except = res.Session.ID
		}
		if err := c.Sessions.RevokeAll(r.Context(), tenantID(c, r), res.Session.UserID, except); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": true})
	}
}

// NewSetActiveOrganizationHandler: POST /user/set-active-organization.
// organizationId null limpia la org activa (y siempre resetea el team).
func NewSetActiveOrganizationHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := requireSession(c, w, r, session.ResolveOpts{})
		if res == nil {
			return
		}
		var req struct {
			OrganizationID *string `json:"organizationId"`
		}
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		if err := c.Sessions.SetActiveOrganization(r.Context(), w, r, res, req.OrganizationID); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"session": res.Session})
	}
}

// NewSetActiveTeamHandler: POST /user/set-active-team.
func NewSetActiveTeamHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := requireSession(c, w, r, session.ResolveOpts{})
		if res == nil {
			return
		}
		var req struct {
			TeamID *string `json:"teamId"`
		}
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		if err := c.Sessions.SetActiveTeam(r.Context(), w, r, res, req.TeamID); err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"session": res.Session})
	}
}
