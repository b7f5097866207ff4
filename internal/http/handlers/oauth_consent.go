package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
	"github.com/dropDatabas3/portero/internal/session"
	"github.com/dropDatabas3/portero/internal/store/core"
)

// NewConsentInfoHandler: GET /oauth2/consent?consent_challenge=...
// La pantalla de consent lo usa para pintar cliente y scopes pedidos.
func NewConsentInfoHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := requireSession(c, w, r, session.ResolveOpts{})
		if res == nil {
			return
		}
		challenge := r.URL.Query().Get("consent_challenge")
		if challenge == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "consent_challenge requerido", 2020)
			return
		}
		raw, ok := c.Cache.Get("consent:" + challenge)
		if !ok {
			httpx.WriteError(w, http.StatusNotFound, "invalid_request", "challenge expirado o inexistente", 2021)
			return
		}
		var pc pendingConsent
		if err := json.Unmarshal(raw, &pc); err != nil || pc.UserID != res.Session.UserID {
			httpx.WriteError(w, http.StatusNotFound, "invalid_request", "challenge expirado o inexistente", 2021)
			return
		}
		httpx.SetNoStore(w)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"client_id":   pc.ClientID,
			"client_name": pc.ClientName,
			"scopes":      pc.Scopes,
		})
	}
}

type consentDecision struct {
	Challenge string   `json:"consent_challenge"`
	Accept    bool     `json:"accept"`
	Scopes    []string `json:"scopes,omitempty"` // subset opcional
}

// NewConsentDecisionHandler: POST /oauth2/consent. Consume el challenge,
// persiste el consent aceptado y emite el code retomando el authorize.
func NewConsentDecisionHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := requireSession(c, w, r, session.ResolveOpts{})
		if res == nil {
			return
		}
		var req consentDecision
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		if req.Challenge == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "consent_challenge requerido", 2020)
			return
		}
		raw, ok := c.Cache.GetDel("consent:" + req.Challenge)
		if !ok {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "challenge expirado o inexistente", 2021)
			return
		}
		var pc pendingConsent
		if err := json.Unmarshal(raw, &pc); err != nil || time.Now().After(pc.ExpiresAt) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "challenge expirado o inexistente", 2021)
			return
		}
		if pc.UserID != res.Session.UserID {
			httpx.WriteError(w, http.StatusForbidden, "access_denied", "el challenge pertenece a otra sesión", 2022)
			return
		}

		if !req.Accept {
			redirectError(w, r, pc.RedirectURI, pc.State, "access_denied", "el usuario rechazó el acceso")
			return
		}

		granted := pc.Scopes
		if len(req.Scopes) > 0 {
			// El usuario puede recortar, nunca ampliar.
			if !scopeSubset(req.Scopes, pc.Scopes) {
				httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "scopes fuera del pedido original", 2023)
				return
			}
			granted = req.Scopes
		}

		now := time.Now().UTC()
		if _, err := c.Store.UpsertConsent(r.Context(), &core.OAuthConsent{
			ID:        uuid.NewString(),
			TenantID:  pc.TenantID,
			ClientID:  pc.ClientID,
			UserID:    pc.UserID,
			Scopes:    granted,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			log.Printf(`{"evento":"oauth_consent_upsert_error","error":%q}`, err.Error())
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo guardar el consent", 1500)
			return
		}

		method := ""
		if pc.CodeChallenge != "" {
			method = "S256"
		}
		issueCode(c, w, r, &authCode{
			UserID:          pc.UserID,
			TenantID:        pc.TenantID,
			ClientID:        pc.ClientID,
			RedirectURI:     pc.RedirectURI,
			Scope:           strings.Join(granted, " "),
			Nonce:           pc.Nonce,
			CodeChallenge:   pc.CodeChallenge,
			ChallengeMethod: method,
		}, pc.State)
	}
}
