package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
	"github.com/dropDatabas3/portero/internal/plugin"
	"github.com/dropDatabas3/portero/internal/security/password"
	"github.com/dropDatabas3/portero/internal/session"
	"github.com/dropDatabas3/portero/internal/store/core"
)

type signUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Name     string         `json:"name,omitempty"`
	Image    string         `json:"image,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"` // campos declarados por plugins
}

// NewSignUpEmailHandler: POST /sign-up/email.
func NewSignUpEmailHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.Cfg.Register.Disabled {
			httpx.WriteError(w, http.StatusForbidden, "signup_disabled", "registro deshabilitado", 1106)
			return
		}
		var req signUpRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		if req.Email == "" || !strings.Contains(req.Email, "@") {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email inválido", 1103)
			return
		}
		if len(req.Password) < c.Cfg.Security.PasswordMinLength {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "password demasiado corta", 1107)
			return
		}

		// Campos user-defined: el schema compuesto por los plugins valida
		// tipos y required, y aplica defaults.
		tbl := c.Plugins.UserSchema()
		if err := tbl.Validate(req.Extra); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), 1108)
			return
		}
		extra := tbl.ApplyDefaults(req.Extra)

		tid := tenantID(c, r)
		phc, err := password.Hash(password.Default, req.Password)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "", 1500)
			return
		}

		now := time.Now().UTC()
		u := &core.User{
			ID:            uuid.NewString(),
			TenantID:      tid,
			Email:         req.Email,
			EmailVerified: false,
			Name:          strings.TrimSpace(req.Name),
			Image:         req.Image,
			Status:        "active",
			Metadata:      extra,
			CreatedAt:     now,
			UpdatedAt:     now,
		}

		ev := &plugin.Event{Op: "user.create", TenantID: tid, UserID: u.ID, Data: map[string]any{"email": u.Email}}
		if err := c.Plugins.RunBefore(r.Context(), ev); err != nil {
			httpx.WriteError(w, http.StatusForbidden, "forbidden", err.Error(), 1109)
			return
		}

		if err := c.Store.CreateUser(r.Context(), u); err == core.ErrConflict {
			httpx.WriteError(w, http.StatusConflict, "user_already_exists", "ya existe un usuario con ese email", 1110)
			return
		} else if err != nil {
			log.Printf(`{"evento":"signup_store_error","error":%q}`, err.Error())
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}

		acc := &core.Account{
			ID:         uuid.NewString(),
			TenantID:   tid,
			UserID:     u.ID,
			ProviderID: "credential",
			AccountID:  u.ID,
			Password:   &phc,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := c.Store.CreateAccount(r.Context(), acc); err != nil {
			log.Printf(`{"evento":"signup_account_error","user_id":%q,"error":%q}`, u.ID, err.Error())
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}
		c.Plugins.RunAfter(r.Context(), ev)

		if c.Cfg.Register.AutoLogin {
			meta := session.Meta{IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()}
			if _, err := c.Sessions.Create(r.Context(), w, tid, u.ID, meta, false); err != nil {
				log.Printf(`{"evento":"signup_session_error","user_id":%q,"error":%q}`, u.ID, err.Error())
			}
		}

		// Nunca el struct crudo: metadata pasa por el filtro de schema
		// (campos returned=false no salen).
		httpx.WriteJSON(w, http.StatusCreated, map[string]any{"user": c.Sessions.FilterUser(u)})
	}
}

type signInRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	DontRememberMe bool   `json:"dontRememberMe,omitempty"`
}

// NewSignInEmailHandler: POST /sign-in/email. Mismo error para usuario
// inexistente y password incorrecta: no filtramos qué emails existen.
func NewSignInEmailHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signInRequest
		if !httpx.ReadJSON(w, r, &req) {
			return
		}
		req.Email = strings.ToLower(strings.TrimSpace(req.Email))
		tid := tenantID(c, r)

		fail := func() {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "email o password incorrectos", 1111)
		}

		u, err := c.Store.GetUserByEmail(r.Context(), tid, req.Email)
		if err == core.ErrNotFound {
			fail()
			return
		}
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}
		if u.Status != "active" {
			fail()
			return
		}

		accs, err := c.Store.GetAccountsForUser(r.Context(), tid, u.ID)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}
		var phc string
		for _, a := range accs {
			if a.ProviderID == "credential" && a.Password != nil {
				phc = *a.Password
				break
			}
		}
		if phc == "" || !password.Verify(req.Password, phc) {
			fail()
			return
		}

		meta := session.Meta{IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()}
		sess, err := c.Sessions.Create(r.Context(), w, tid, u.ID, meta, req.DontRememberMe)
		if err != nil {
			log.Printf(`{"evento":"signin_session_error","user_id":%q,"error":%q}`, u.ID, err.Error())
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "", 1500)
			return
		}

		httpx.SetNoStore(w)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"user":    c.Sessions.FilterUser(u),
			"session": sess,
		})
	}
}

// NewSignOutHandler: POST /sign-out. Idempotente: sin sesión responde ok.
func NewSignOutHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := c.Sessions.RevokeCurrent(r.Context(), w, r, tenantID(c, r)); err != nil {
			log.Printf(`{"evento":"signout_error","error":%q}`, err.Error())
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": true})
	}
}
