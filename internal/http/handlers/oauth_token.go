package handlers

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/app"
	httpx "github.com/dropDatabas3/portero/internal/http"
	tokens "github.com/dropDatabas3/portero/internal/security/token"
	"github.com/dropDatabas3/portero/internal/store/core"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// atHash: mitad izquierda del SHA-256 del access token, base64url sin
// padding. Va en el id_token como at_hash.
func atHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

// authenticateClient valida las credenciales según el método registrado.
// Basic usa url-unescape sobre user/pass (RFC 6749 §2.3.1).
func authenticateClient(c *app.Container, w http.ResponseWriter, r *http.Request) (*core.OAuthClient, bool) {
	var clientID, clientSecret string
	viaBasic := false

	if user, pass, ok := r.BasicAuth(); ok {
		if u, err := url.QueryUnescape(user); err == nil {
			clientID = u
		}
		if p, err := url.QueryUnescape(pass); err == nil {
			clientSecret = p
		}
		viaBasic = true
	} else {
		clientID = r.PostFormValue("client_id")
		clientSecret = r.PostFormValue("client_secret")
	}

	if clientID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_client", "client_id requerido", 2030)
		return nil, false
	}
	cl, err := c.Store.GetOAuthClientByClientID(r.Context(), clientID)
	if err == core.ErrNotFound {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_client", "credenciales inválidas", 2031)
		return nil, false
	}
	if err != nil {
		log.Printf(`{"evento":"oauth_token_store_error","error":%q}`, err.Error())
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
		return nil, false
	}
	if cl.Disabled {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_client", "cliente deshabilitado", 2012)
		return nil, false
	}

	switch cl.AuthMethod {
	case "none":
		// Cliente público: sin secret. PKCE hace la autenticación efectiva.
		return cl, true
	case "client_secret_basic":
		if !viaBasic {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_client", "se espera autenticación Basic", 2032)
			return nil, false
		}
	case "client_secret_post":
		if viaBasic {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_client", "se espera client_secret en el body", 2032)
			return nil, false
		}
	}
	if clientSecret == "" || !tokens.ConstantTimeEquals(tokens.SHA256Base64URL(clientSecret), cl.SecretHash) {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_client", "credenciales inválidas", 2031)
		return nil, false
	}
	return cl, true
}

// NewOAuthTokenHandler: POST /oauth2/token.
func NewOAuthTokenHandler(c *app.Container) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "form inválido", 2033)
			return
		}
		cl, ok := authenticateClient(c, w, r)
		if !ok {
			return
		}

		httpx.SetNoStore(w)
		switch r.PostFormValue("grant_type") {
		case "authorization_code":
			handleAuthorizationCode(c, w, r, cl)
		case "refresh_token":
			handleRefreshGrant(c, w, r, cl)
		default:
			httpx.WriteError(w, http.StatusBadRequest, "unsupported_grant_type", "", 2034)
		}
	}
}

func handleAuthorizationCode(c *app.Container, w http.ResponseWriter, r *http.Request, cl *core.OAuthClient) {
	code := r.PostFormValue("code")
	if code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code requerido", 2035)
		return
	}
	// GetDel: el consumo es atómico. Un replay del mismo code ve un miss.
	raw, ok := c.Cache.GetDel("oidc:code:" + tokens.SHA256Base64URL(code))
	if !ok {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "code inválido o ya usado", 2036)
		return
	}
	var ac authCode
	if err := json.Unmarshal(raw, &ac); err != nil || time.Now().After(ac.ExpiresAt) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "code expirado", 2036)
		return
	}
	if ac.ClientID != cl.ClientID {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "el code pertenece a otro cliente", 2036)
		return
	}
	if r.PostFormValue("redirect_uri") != ac.RedirectURI {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri no coincide", 2036)
		return
	}
	if ac.CodeChallenge != "" {
		verifier := r.PostFormValue("code_verifier")
		if verifier == "" || !strings.EqualFold(tokens.SHA256Base64URL(verifier), ac.CodeChallenge) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "code_verifier inválido", 2037)
			return
		}
	} else if cl.AuthMethod == "none" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "PKCE requerido para clientes públicos", 2037)
		return
	}

	scopes := strings.Fields(ac.Scope)
	access, exp, err := c.Issuer.IssueAccess(ac.UserID, cl.ClientID, map[string]any{
		"tid":   ac.TenantID,
		"scope": ac.Scope,
		"scp":   scopes,
	}, nil)
	if err != nil {
		log.Printf(`{"evento":"oauth_token_sign_error","error":%q}`, err.Error())
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo firmar el token", 1500)
		return
	}

	refresh, err := mintRefreshToken(c, r, ac.TenantID, ac.UserID, cl.ClientID, ac.Scope, nil)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo emitir refresh token", 1500)
		return
	}

	resp := tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(exp).Seconds()),
		RefreshToken: refresh,
		Scope:        ac.Scope,
	}

	if hasScope(scopes, "openid") {
		extra := map[string]any{
			"at_hash": atHash(access),
			"azp":     cl.ClientID,
		}
		if ac.Nonce != "" {
			extra["nonce"] = ac.Nonce
		}
		if u, uerr := c.Store.GetUserByID(r.Context(), ac.TenantID, ac.UserID); uerr == nil {
			if hasScope(scopes, "email") {
				extra["email"] = u.Email
				extra["email_verified"] = u.EmailVerified
			}
			if hasScope(scopes, "profile") {
				if u.Name != "" {
					extra["name"] = u.Name
				}
				if u.Image != "" {
					extra["picture"] = u.Image
				}
			}
		}
		idt, _, ierr := c.Issuer.IssueIDToken(ac.UserID, cl.ClientID, map[string]any{"tid": ac.TenantID}, extra)
		if ierr != nil {
			log.Printf(`{"evento":"oauth_idtoken_sign_error","error":%q}`, ierr.Error())
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo firmar el id_token", 1500)
			return
		}
		resp.IDToken = idt
	}

	httpx.WriteJSON(w, http.StatusOK, resp)
}

func handleRefreshGrant(c *app.Container, w http.ResponseWriter, r *http.Request, cl *core.OAuthClient) {
	raw := r.PostFormValue("refresh_token")
	if raw == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token requerido", 2038)
		return
	}
	rt, err := c.Store.GetRefreshTokenByHash(r.Context(), tokens.SHA256Base64URL(raw))
	if err == core.ErrNotFound {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "refresh token inválido", 2039)
		return
	}
	if err != nil {
		log.Printf(`{"evento":"oauth_refresh_store_error","error":%q}`, err.Error())
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "store no disponible", 1501)
		return
	}
	if rt.RevokedAt != nil || time.Now().After(rt.ExpiresAt) || rt.ClientID != cl.ClientID {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_grant", "refresh token inválido", 2039)
		return
	}

	// Rotación: primero se crea el reemplazo, después se revoca el viejo.
	// Si la revocación falla queda un token extra vivo, nunca cero.
	newRaw, err := mintRefreshToken(c, r, rt.TenantID, rt.UserID, rt.ClientID, rt.Scope, &rt.ID)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo rotar el refresh token", 1500)
		return
	}
	if err := c.Store.RevokeRefreshToken(r.Context(), rt.ID); err != nil {
		log.Printf(`{"evento":"oauth_refresh_revoke_error","id":%q,"error":%q}`, rt.ID, err.Error())
	}

	access, exp, err := c.Issuer.IssueAccess(rt.UserID, cl.ClientID, map[string]any{
		"tid":   rt.TenantID,
		"scope": rt.Scope,
		"scp":   strings.Fields(rt.Scope),
	}, nil)
	if err != nil {
		log.Printf(`{"evento":"oauth_token_sign_error","error":%q}`, err.Error())
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "no se pudo firmar el token", 1500)
		return
	}

	// Sin id_token en refresh: el cliente ya autenticó al usuario.
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int64(time.Until(exp).Seconds()),
		RefreshToken: newRaw,
		Scope:        rt.Scope,
	})
}

func mintRefreshToken(c *app.Container, r *http.Request, tenantID, userID, clientID, scope string, rotatedFrom *string) (string, error) {
	raw, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	_, err = c.Store.CreateRefreshToken(r.Context(), &core.RefreshToken{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		UserID:      userID,
		ClientID:    clientID,
		TokenHash:   tokens.SHA256Base64URL(raw),
		Scope:       scope,
		IssuedAt:    now,
		ExpiresAt:   now.Add(c.RefreshTTL),
		RotatedFrom: rotatedFrom,
	})
	if err != nil {
		log.Printf(`{"evento":"oauth_refresh_create_error","error":%q}`, err.Error())
		return "", err
	}
	return raw, nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
