package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/portero/internal/app"
	cachemem "github.com/dropDatabas3/portero/internal/cache/memory"
	"github.com/dropDatabas3/portero/internal/config"
	jwtx "github.com/dropDatabas3/portero/internal/jwt"
	oauthc "github.com/dropDatabas3/portero/internal/oauth/client"
	"github.com/dropDatabas3/portero/internal/plugin"
	"github.com/dropDatabas3/portero/internal/rate"
	"github.com/dropDatabas3/portero/internal/security/cookiesign"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
	"github.com/dropDatabas3/portero/internal/session"
	storemem "github.com/dropDatabas3/portero/internal/store/memory"
)

// newTestContainer arma un Container completo sobre memoria: sin redis,
// sin postgres, issuer en modo HMAC.
func newTestContainer(t *testing.T) *app.Container {
	t.Helper()

	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.Server.BaseURL = "http://auth.local"
	cfg.Server.LoginURL = "http://auth.local/login"
	cfg.Server.ConsentURL = "http://auth.local/consent"
	cfg.Security.Secret = "test-secret-0123456789"
	cfg.Security.PasswordMinLength = 10
	cfg.MultiTenant.Header = "X-Tenant-ID"
	cfg.Register.AutoLogin = true

	store := storemem.New()
	c := cachemem.New(time.Minute)
	box := secretbox.Derive([32]byte{7, 7, 7})
	signer := cookiesign.New(cfg.Security.Secret)
	plugins := plugin.NewRegistry().Compose()

	mgr := session.NewManager(store, nil, signer, box, session.Policy{}, plugins)
	reg, err := oauthc.NewRegistry(nil, store, box)
	require.NoError(t, err)

	return &app.Container{
		Cfg:        cfg,
		Store:      store,
		Cache:      c,
		Box:        box,
		Signer:     signer,
		Issuer:     jwtx.NewIssuer(cfg.Server.BaseURL, nil, cfg.Security.Secret),
		Plugins:    plugins,
		Sessions:   mgr,
		Providers:  reg,
		OAuthHTTP:  oauthc.NewHTTPClient(),
		Flow:       oauthc.NewFlow(store, plugins),
		States:     oauthc.NewStateCodec(box, c, "", "lax", false),
		Limiter:    rate.Noop{},
		RefreshTTL: 30 * 24 * time.Hour,
	}
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h(rec, r)
	return rec
}

// sessionCookies simula el cookie jar del browser tras una respuesta.
func sessionCookies(rec *httptest.ResponseRecorder) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// signUp registra un usuario con auto-login y devuelve sus cookies.
func signUp(t *testing.T, c *app.Container, email string) []*http.Cookie {
	t.Helper()
	rec := postJSON(t, NewSignUpEmailHandler(c), "/sign-up/email", map[string]any{
		"email":    email,
		"password": "hunter2hunter2",
		"name":     "Test User",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	cookies := sessionCookies(rec)
	require.NotEmpty(t, cookies)
	return cookies
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}
