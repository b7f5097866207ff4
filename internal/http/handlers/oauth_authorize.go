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
	tokens "github.com/dropDatabas3/portero/internal/security/token"
	"github.com/dropDatabas3/portero/internal/session"
	"github.com/dropDatabas3/portero/internal/store/core"
)

// authCode es el payload que viaja en el secondary store entre /authorize
// y /token. TTL corto, single-use (GetDel en el token endpoint).
type authCode struct {
	UserID          string    `json:"uid"`
	TenantID        string    `json:"tid,omitempty"`
	ClientID        string    `json:"cid"`
	RedirectURI     string    `json:"ruri"`
	Scope           string    `json:"scp"`
	Nonce           string    `json:"nonce,omitempty"`
	CodeChallenge   string    `json:"cc,omitempty"`
	ChallengeMethod string    `json:"ccm,omitempty"`
	ExpiresAt       time.Time `json:"exp"`
}

const authCodeTTL = 5 * time.Minute

// pendingConsent guarda los parámetros del authorize original mientras el
// usuario decide en la pantalla de consent.
type pendingConsent struct {
	UserID        string    `json:"uid"`
	TenantID      string    `json:"tid,omitempty"`
	ClientID      string    `json:"cid"`
	ClientName    string    `json:"client_name"`
	RedirectURI   string    `json:"ruri"`
	Scopes        []string  `json:"scopes"`
	State         string    `json:"state,omitempty"`
	Nonce         string    `json:"nonce,omitempty"`
	CodeChallenge string    `json:"cc,omitempty"`
	ExpiresAt     time.Time `json:"exp"`
}

const consentTTL = 10 * time.Minute

// issueCode genera el authorization code, lo deja en cache y arma el
// redirect final hacia el cliente.
func issueCode(c *app.Container, w http.ResponseWriter, r *http.Request, ac *authCode, state string) {
	code, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		redirectError(w, r, ac.RedirectURI, state, "server_error", "no se pudo generar el code")
		return
	}
	ac.ExpiresAt = time.Now().UTC().Add(authCodeTTL)
	raw, _ := json.Marshal(ac)
	c.Cache.Set("oidc:code:"+tokens.SHA256Base64URL(code), raw, authCodeTTL)

	httpx.SetNoStore(w)
	loc := addQS(ac.RedirectURI, "code", code)
	if state != "" {
		loc = addQS(loc, "state", state)
	}
	http.Redirect(w, r, loc, http.StatusFound)
}

// exactRedirectMatch: comparación literal contra las URIs registradas.
// Nada de prefijos ni wildcards.
func exactRedirectMatch(cl *core.OAuthClient, uri string) bool {
	for _, u := range cl.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

func promptContains(prompt, v string) bool {
	for _, p := range strings.Fields(prompt) {
		if p == v {
			return true
		}
	}
	return false
}

// NewOAuthAuthorizeHandler: GET /oauth2/authorize. Valida cliente y
// redirect_uri, exige sesión, resuelve consent y emite el code.
func NewOAuthAuthorizeHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		clientID := q.Get("client_id")
		redirectURI := q.Get("redirect_uri")
		state := q.Get("state")

		if clientID == "" || redirectURI == "" {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "client_id y redirect_uri requeridos", 2010)
			return
		}
		cl, err := c.Store.GetOAuthClientByClientID(r.Context(), clientID)
		if err == core.ErrNotFound {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_client", "cliente desconocido", 2011)
			return
		}
		if err != nil {
			log.Printf(`{"evento":"oauth_authorize_store_error","error":%q}`, err.Error())
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
			return
		}
		if cl.Disabled {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_client", "cliente deshabilitado", 2012)
			return
		}
		// redirect_uri inválido NUNCA redirige: sería un open redirect.
		if !exactRedirectMatch(cl, redirectURI) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_redirect_uri", "redirect_uri no registrado", 2013)
			return
		}

		// De acá en adelante los errores van por redirect al cliente.
		if q.Get("response_type") != "code" {
			redirectError(w, r, redirectURI, state, "unsupported_response_type", "sólo response_type=code")
			return
		}

		challenge := q.Get("code_challenge")
		method := q.Get("code_challenge_method")
		if challenge != "" && method != "" && method != "S256" {
			redirectError(w, r, redirectURI, state, "invalid_request", "code_challenge_method debe ser S256")
			return
		}
		// Los clientes públicos no tienen secret: PKCE es su única defensa
		// contra code interception, así que es obligatorio.
		if cl.AuthMethod == "none" && challenge == "" {
			redirectError(w, r, redirectURI, state, "invalid_request", "PKCE requerido para clientes públicos")
			return
		}

		prompt := q.Get("prompt")

		res, ok := resolveSession(c, w, r, session.ResolveOpts{})
		if !ok {
			return
		}
		if res == nil || promptContains(prompt, "login") {
			if promptContains(prompt, "none") {
				redirectError(w, r, redirectURI, state, "login_required", "")
				return
			}
			// Mandamos al login con la URL original para retomar el flujo.
			loc := addQS(c.Cfg.Server.LoginURL, "return_to", r.URL.String())
			http.Redirect(w, r, loc, http.StatusFound)
			return
		}

		scope := strings.TrimSpace(q.Get("scope"))
		scopes := strings.Fields(scope)
		tid := tenantID(c, r)

		needsConsent := promptContains(prompt, "consent")
		if !needsConsent {
			consent, cerr := c.Store.GetConsent(r.Context(), tid, cl.ClientID, res.Session.UserID, "")
			switch {
			case cerr == core.ErrNotFound:
				needsConsent = true
			case cerr != nil:
				log.Printf(`{"evento":"oauth_consent_store_error","error":%q}`, cerr.Error())
				redirectError(w, r, redirectURI, state, "server_error", "")
				return
			default:
				needsConsent = !scopeSubset(scopes, consent.Scopes)
			}
		}

		if needsConsent {
			if promptContains(prompt, "none") {
				redirectError(w, r, redirectURI, state, "consent_required", "")
				return
			}
			challengeID := uuid.NewString()
			pc := pendingConsent{
				UserID:        res.Session.UserID,
				TenantID:      tid,
				ClientID:      cl.ClientID,
				ClientName:    cl.Name,
				RedirectURI:   redirectURI,
				Scopes:        scopes,
				State:         state,
				Nonce:         q.Get("nonce"),
				CodeChallenge: challenge,
				ExpiresAt:     time.Now().UTC().Add(consentTTL),
			}
			raw, _ := json.Marshal(pc)
			c.Cache.Set("consent:"+challengeID, raw, consentTTL)
			loc := addQS(c.Cfg.Server.ConsentURL, "consent_challenge", challengeID)
			http.Redirect(w, r, loc, http.StatusFound)
			return
		}

		issueCode(c, w, r, &authCode{
			UserID:          res.Session.UserID,
			TenantID:        tid,
			ClientID:        cl.ClientID,
			RedirectURI:     redirectURI,
			Scope:           scope,
			Nonce:           q.Get("nonce"),
			CodeChallenge:   challenge,
			ChallengeMethod: method,
		}, state)
	}
}
