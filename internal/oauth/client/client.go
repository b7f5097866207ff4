package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUpstream marca fallas de red/HTTP contra el provider (refused, timeout,
// DNS, 5xx). Los handlers lo mapean a *_unexpected_error, nunca al body
// crudo del upstream.
type ErrUpstream struct {
	Op     string // exchange|userinfo|refresh|discovery
	Status int    // 0 si la request ni llegó
	Err    error
}

func (e *ErrUpstream) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("oauth upstream %s: http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("oauth upstream %s: %v", e.Op, e.Err)
}

func (e *ErrUpstream) Unwrap() error { return e.Err }

const upstreamTimeout = 10 * time.Second

// HTTPClient hace las llamadas salientes a providers. Un solo http.Client
// compartido; el timeout acota cada operación completa.
type HTTPClient struct {
	http *http.Client
}

func NewHTTPClient() *HTTPClient {
	return &HTTPClient{http: &http.Client{Timeout: upstreamTimeout}}
}

// BuildAuthURL compone la URL de autorización del provider.
// scopes vacío usa los del provider; challenge vacío omite PKCE.
func BuildAuthURL(p *Provider, redirectURI, state, nonce, challenge string, scopes []string) (string, error) {
	u, err := url.Parse(p.AuthEndpoint)
	if err != nil {
		return "", fmt.Errorf("provider %s: auth endpoint: %w", p.ID, err)
	}
	if len(scopes) == 0 {
		scopes = p.Scopes
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", p.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	if nonce != "" {
		q.Set("nonce", nonce)
	}
	if challenge != "" {
		q.Set("code_challenge", challenge)
		q.Set("code_challenge_method", "S256")
	}
	for k, v := range p.ExtraAuthParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TokenResponse es la respuesta normalizada del token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ExchangeCode canjea el authorization code. verifier va como code_verifier
// si el flujo usó PKCE.
func (c *HTTPClient) ExchangeCode(ctx context.Context, p *Provider, code, redirectURI, verifier string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}
	return c.tokenRequest(ctx, p, "exchange", form)
}

// RefreshAccessToken ejecuta el grant refresh_token contra el provider.
func (c *HTTPClient) RefreshAccessToken(ctx context.Context, p *Provider, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, p, "refresh", form)
}

func (c *HTTPClient) tokenRequest(ctx context.Context, p *Provider, op string, form url.Values) (*TokenResponse, error) {
	switch p.AuthMethod {
	case AuthMethodPost:
		form.Set("client_id", p.ClientID)
		form.Set("client_secret", p.ClientSecret)
	case AuthMethodNone:
		form.Set("client_id", p.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if p.AuthMethod == AuthMethodBasic {
		req.SetBasicAuth(url.QueryEscape(p.ClientID), url.QueryEscape(p.ClientSecret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ErrUpstream{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		// Se loguea el detalle server-side; al browser sólo llega el código.
		var eb struct {
			Error string `json:"error"`
			Desc  string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		log.Printf(`{"level":"warn","msg":"oauth_token_endpoint_error","provider":%q,"op":%q,"status":%d,"err":%q}`,
			p.ID, op, resp.StatusCode, eb.Error)
		return nil, &ErrUpstream{Op: op, Status: resp.StatusCode, Err: errors.New(eb.Error)}
	}

	var tr TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &ErrUpstream{Op: op, Err: fmt.Errorf("malformed token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return nil, &ErrUpstream{Op: op, Err: errors.New("token response without access_token")}
	}
	return &tr, nil
}

// FetchUserInfo trae y normaliza el perfil: userinfo endpoint con bearer
// token y el mapper del provider (o el default OIDC).
func (c *HTTPClient) FetchUserInfo(ctx context.Context, p *Provider, accessToken string) (*Profile, error) {
	if p.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("provider %s: sin userinfo endpoint", p.ID)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", p.UserInfoEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ErrUpstream{Op: "userinfo", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ErrUpstream{Op: "userinfo", Status: resp.StatusCode, Err: errors.New("userinfo rejected")}
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, &ErrUpstream{Op: "userinfo", Err: err}
	}
	if p.MapProfile != nil {
		return p.MapProfile(raw)
	}
	return mapDefaultProfile(raw)
}
