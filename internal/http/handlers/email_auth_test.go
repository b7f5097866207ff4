package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/portero/internal/plugin"
	"github.com/dropDatabas3/portero/internal/schema"
	"github.com/dropDatabas3/portero/internal/session"
)

func TestSignUpAndSignIn(t *testing.T) {
	c := newTestContainer(t)

	cookies := signUp(t, c, "ana@example.com")

	// auto-login: la cookie resuelve sesión
	r := httptest.NewRequest(http.MethodGet, "/session", nil)
	for _, ck := range cookies {
		r.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	NewGetSessionHandler(c)(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Session map[string]any `json:"session"`
		User    map[string]any `json:"user"`
	}
	decodeJSON(t, rec, &out)
	require.Equal(t, "ana@example.com", out.User["email"])

	// sign-in con credenciales correctas
	rec = postJSON(t, NewSignInEmailHandler(c), "/sign-in/email", map[string]any{
		"email":    "ana@example.com",
		"password": "hunter2hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, sessionCookies(rec))
}

func TestSignInWrongPassword(t *testing.T) {
	c := newTestContainer(t)
	signUp(t, c, "ana@example.com")

	// password incorrecta e email inexistente devuelven el mismo error
	for _, body := range []map[string]any{
		{"email": "ana@example.com", "password": "wrong-password-x"},
		{"email": "nadie@example.com", "password": "hunter2hunter2"},
	} {
		rec := postJSON(t, NewSignInEmailHandler(c), "/sign-in/email", body, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		var e struct {
			Error string `json:"error"`
		}
		decodeJSON(t, rec, &e)
		require.Equal(t, "invalid_credentials", e.Error)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	c := newTestContainer(t)
	signUp(t, c, "ana@example.com")

	rec := postJSON(t, NewSignUpEmailHandler(c), "/sign-up/email", map[string]any{
		"email":    "ana@example.com",
		"password": "hunter2hunter2",
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSignUpShortPassword(t *testing.T) {
	c := newTestContainer(t)
	rec := postJSON(t, NewSignUpEmailHandler(c), "/sign-up/email", map[string]any{
		"email":    "ana@example.com",
		"password": "corta",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignUpDisabledByConfig(t *testing.T) {
	c := newTestContainer(t)
	c.Cfg.Register.Disabled = true
	rec := postJSON(t, NewSignUpEmailHandler(c), "/sign-up/email", map[string]any{
		"email":    "ana@example.com",
		"password": "hunter2hunter2",
	}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSignOutRevokesSession(t *testing.T) {
	c := newTestContainer(t)
	cookies := signUp(t, c, "ana@example.com")

	rec := postJSON(t, NewSignOutHandler(c), "/sign-out", map[string]any{}, cookies)
	require.Equal(t, http.StatusOK, rec.Code)

	// la cookie vieja ya no resuelve (el data cookie expiró server-side y
	// la fila no existe; forzamos bypass del cookie cache)
	r := httptest.NewRequest(http.MethodGet, "/session?disableCookieCache=true", nil)
	for _, ck := range cookies {
		r.AddCookie(ck)
	}
	rec2 := httptest.NewRecorder()
	NewGetSessionHandler(c)(rec2, r)
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Equal(t, "null\n", rec2.Body.String())
}

func TestRevokeOtherSessions(t *testing.T) {
	c := newTestContainer(t)
	cookies := signUp(t, c, "ana@example.com")

	// segunda sesión del mismo usuario
	rec := postJSON(t, NewSignInEmailHandler(c), "/sign-in/email", map[string]any{
		"email":    "ana@example.com",
		"password": "hunter2hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	other := sessionCookies(rec)

	// la primera sesión revoca a las demás
	rec2 := postJSON(t, NewRevokeSessionsHandler(c), "/user/revoke-sessions", map[string]any{
		"revokeOtherSessions": true,
	}, cookies)
	require.Equal(t, http.StatusOK, rec2.Code)

	// la actual sigue viva
	r := httptest.NewRequest(http.MethodGet, "/user/list-sessions", nil)
	for _, ck := range cookies {
		r.AddCookie(ck)
	}
	rec3 := httptest.NewRecorder()
	NewListSessionsHandler(c)(rec3, r)
	require.Equal(t, http.StatusOK, rec3.Code)
	var out struct {
		Sessions []map[string]any `json:"sessions"`
	}
	decodeJSON(t, rec3, &out)
	require.Len(t, out.Sessions, 1)

	// la otra quedó muerta
	r = httptest.NewRequest(http.MethodGet, "/session?disableCookieCache=true", nil)
	for _, ck := range other {
		r.AddCookie(ck)
	}
	rec4 := httptest.NewRecorder()
	NewGetSessionHandler(c)(rec4, r)
	require.Equal(t, "null\n", rec4.Body.String())
}

func TestSetActiveOrganizationEndpoint(t *testing.T) {
	c := newTestContainer(t)
	cookies := signUp(t, c, "ana@example.com")

	rec := postJSON(t, NewSetActiveOrganizationHandler(c), "/user/set-active-organization", map[string]any{
		"organizationId": "org-1",
	}, cookies)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Session struct {
			ActiveOrganizationID *string `json:"active_organization_id"`
		} `json:"session"`
	}
	decodeJSON(t, rec, &out)
	require.NotNil(t, out.Session.ActiveOrganizationID)
	require.Equal(t, "org-1", *out.Session.ActiveOrganizationID)
}

// Campos returned=false del schema jamás llegan al cliente, ni en el alta
// ni en el sign-in: las respuestas pasan por el filtro del session manager.
func TestHiddenSchemaFieldsNotReturned(t *testing.T) {
	c := newTestContainer(t)
	reg := plugin.NewRegistry()
	require.NoError(t, reg.Register(plugin.Plugin{
		ID: "scoring",
		UserSchema: schema.Table{
			"internal_score": {Type: schema.TypeNumber, Returned: false},
			"plan":           {Type: schema.TypeString, Returned: true},
		},
	}))
	plugins := reg.Compose()
	c.Plugins = plugins
	c.Sessions = session.NewManager(c.Store, nil, c.Signer, c.Box, session.Policy{}, plugins)

	rec := postJSON(t, NewSignUpEmailHandler(c), "/sign-up/email", map[string]any{
		"email":    "ana@example.com",
		"password": "hunter2hunter2",
		"extra":    map[string]any{"internal_score": 42, "plan": "pro"},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var out struct {
		User map[string]any `json:"user"`
	}
	decodeJSON(t, rec, &out)
	require.NotContains(t, out.User, "internal_score")
	require.Equal(t, "pro", out.User["plan"])
	require.NotContains(t, rec.Body.String(), "internal_score")

	rec = postJSON(t, NewSignInEmailHandler(c), "/sign-in/email", map[string]any{
		"email":    "ana@example.com",
		"password": "hunter2hunter2",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeJSON(t, rec, &out)
	require.NotContains(t, out.User, "internal_score")
	require.NotContains(t, rec.Body.String(), "internal_score")

	// el campo sí quedó guardado en el store
	u, err := c.Store.GetUserByEmail(context.Background(), "", "ana@example.com")
	require.NoError(t, err)
	require.EqualValues(t, 42, u.Metadata["internal_score"])
}
