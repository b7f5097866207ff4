package http

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dropDatabas3/portero/internal/app"
)

// HandlerSet agrupa los handlers que monta el router. Vive acá y no en
// handlers/ para cortar el ciclo de imports (handlers usa este paquete
// para WriteError/metrics).
type HandlerSet struct {
	OIDCDiscovery   http.HandlerFunc
	JWKS            http.HandlerFunc
	OAuthRegister   http.HandlerFunc
	OAuthAuthorize  http.HandlerFunc
	ConsentInfo     http.HandlerFunc
	ConsentDecision http.HandlerFunc
	OAuthToken      http.HandlerFunc
	UserInfo        http.HandlerFunc

	SignUpEmail   http.HandlerFunc
	SignInEmail   http.HandlerFunc
	SignOut       http.HandlerFunc
	SignInOAuth   http.HandlerFunc
	OAuthCallback http.HandlerFunc
	SSORegister   http.HandlerFunc

	GetSession            http.HandlerFunc
	ListSessions          http.HandlerFunc
	RevokeSession         http.HandlerFunc
	RevokeSessions        http.HandlerFunc
	SetActiveOrganization http.HandlerFunc
	SetActiveTeam         http.HandlerFunc

	Healthz http.HandlerFunc
	Readyz  http.HandlerFunc
}

// NewRouter arma el chi.Router completo: middlewares, endpoints core,
// rutas de plugins y /metrics.
func NewRouter(c *app.Container, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Discovery y JWKS: superficie pública cacheable.
	r.Get("/.well-known/openid-configuration", h.OIDCDiscovery)
	r.Head("/.well-known/openid-configuration", h.OIDCDiscovery)
	r.Get("/.well-known/jwks.json", h.JWKS)
	r.Get("/jwks", h.JWKS)

	// Rol provider.
	r.Post("/oauth2/register", h.OAuthRegister)
	r.Get("/oauth2/authorize", h.OAuthAuthorize)
	r.Get("/oauth2/consent", h.ConsentInfo)
	r.Post("/oauth2/consent", h.ConsentDecision)
	r.Post("/oauth2/token", h.OAuthToken)
	r.Get("/oauth2/userinfo", h.UserInfo)
	r.Post("/oauth2/userinfo", h.UserInfo)

	// Rol RP.
	r.Post("/sign-in/oauth2", h.SignInOAuth)
	r.Get("/oauth2/callback/{providerId}", h.OAuthCallback)
	r.Post("/sso/register", h.SSORegister)

	// Email + password.
	r.Post("/sign-up/email", h.SignUpEmail)
	r.Post("/sign-in/email", h.SignInEmail)
	r.Post("/sign-out", h.SignOut)

	// Sesión.
	r.Get("/session", h.GetSession)
	r.Get("/user/list-sessions", h.ListSessions)
	r.Post("/user/revoke-session", h.RevokeSession)
	r.Post("/user/revoke-sessions", h.RevokeSessions)
	r.Post("/user/set-active-organization", h.SetActiveOrganization)
	r.Post("/user/set-active-team", h.SetActiveTeam)

	// Plugins montan sus rutas propias al final.
	c.Plugins.MountRoutes(r)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	if mh, err := RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Printf(`{"evento":"metrics_register_error","error":%q}`, err.Error())
	} else {
		r.Handle("/metrics", mh)
	}

	// Cadena de middlewares, de afuera hacia adentro.
	var handler http.Handler = r
	handler = WithRateLimit(handler, c.Limiter)
	handler = WithHTTPMetrics(handler)
	handler = WithLogging(handler)
	handler = WithSecurityHeaders(handler)
	handler = WithCORS(handler, c.Cfg.Server.CORSAllowedOrigins)
	handler = WithRecover(handler)
	handler = WithRequestID(handler)
	return handler
}
