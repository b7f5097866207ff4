package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/portero/internal/security/secretbox"
	"github.com/dropDatabas3/portero/internal/store/core"
)

// ErrUnknownProvider: providerId que no está ni en config ni registrado
// como SSO provider en el store.
var ErrUnknownProvider = errors.New("unknown oauth provider")

// discoveryDoc es el subset de openid-configuration que consumimos.
type discoveryDoc struct {
	Issuer           string `json:"issuer"`
	AuthEndpoint     string `json:"authorization_endpoint"`
	TokenEndpoint    string `json:"token_endpoint"`
	UserInfoEndpoint string `json:"userinfo_endpoint"`
	JWKSURI          string `json:"jwks_uri"`
}

// Registry resuelve providerId → *Provider. Fuentes, en orden:
//  1. providers estáticos de config (google, github, ...)
//  2. filas sso_provider del store, hidratadas por discovery
//
// La hidratación se cachea 24h y se deduplica con singleflight para que
// un burst de sign-ins no dispare N discoveries al mismo issuer.
type Registry struct {
	static map[string]*Provider
	store  core.Repository
	box    *secretbox.Box
	http   *http.Client

	mu       sync.RWMutex
	resolved map[string]resolvedEntry
	sf       singleflight.Group
}

type resolvedEntry struct {
	p  *Provider
	at time.Time
}

const discoveryCacheTTL = 24 * time.Hour

func NewRegistry(static []*Provider, store core.Repository, box *secretbox.Box) (*Registry, error) {
	r := &Registry{
		static:   make(map[string]*Provider, len(static)),
		store:    store,
		box:      box,
		http:     &http.Client{Timeout: upstreamTimeout},
		resolved: make(map[string]resolvedEntry),
	}
	for _, p := range static {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.static[p.ID]; dup {
			return nil, fmt.Errorf("provider %q duplicado", p.ID)
		}
		r.static[p.ID] = p
	}
	return r, nil
}

// Get devuelve el provider listo para usar (endpoints resueltos).
func (r *Registry) Get(ctx context.Context, providerID string) (*Provider, error) {
	if p, ok := r.static[providerID]; ok {
		if p.AuthEndpoint != "" && p.TokenEndpoint != "" {
			return p, nil
		}
		return r.hydrate(ctx, providerID, p, p.DiscoveryURL)
	}

	if r.store == nil {
		return nil, ErrUnknownProvider
	}
	row, err := r.store.GetSSOProviderByProviderID(ctx, providerID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrUnknownProvider
	}
	if err != nil {
		return nil, err
	}
	p, discoveryURL, err := r.fromRow(row)
	if err != nil {
		return nil, err
	}
	if p.AuthEndpoint != "" && p.TokenEndpoint != "" {
		return p, nil
	}
	hp, err := r.hydrate(ctx, providerID, p, discoveryURL)
	if err != nil {
		return nil, err
	}
	// Fila legacy hidratada: persistir los endpoints para que la próxima
	// lectura no dependa del discovery (invariante post-hidratación).
	r.persistHydration(ctx, row, hp)
	return hp, nil
}

func (r *Registry) persistHydration(ctx context.Context, row *core.SSOProvider, p *Provider) {
	cfg := *row.OIDCConfig
	if cfg.AuthorizationEndpoint == p.AuthEndpoint && cfg.TokenEndpoint == p.TokenEndpoint &&
		cfg.UserInfoEndpoint == p.UserInfoEndpoint && cfg.JWKSEndpoint == p.JWKSEndpoint {
		return
	}
	cfg.AuthorizationEndpoint = p.AuthEndpoint
	cfg.TokenEndpoint = p.TokenEndpoint
	cfg.UserInfoEndpoint = p.UserInfoEndpoint
	cfg.JWKSEndpoint = p.JWKSEndpoint
	if err := r.store.UpdateSSOProviderConfig(ctx, row.ProviderID, &cfg); err != nil {
		log.Printf(`{"level":"warn","msg":"sso_hydration_persist_failed","provider":%q,"err":"%v"}`, row.ProviderID, err)
	}
}

func (r *Registry) fromRow(row *core.SSOProvider) (*Provider, string, error) {
	cfg := row.OIDCConfig
	if cfg == nil {
		return nil, "", fmt.Errorf("sso provider %s sin oidc_config", row.ProviderID)
	}
	secret := ""
	if cfg.ClientSecretEnc != "" {
		pt, err := r.box.Decrypt(cfg.ClientSecretEnc)
		if err != nil {
			return nil, "", fmt.Errorf("sso provider %s: client_secret ilegible: %w", row.ProviderID, err)
		}
		secret = string(pt)
	}
	p := &Provider{
		ID:               row.ProviderID,
		ClientID:         cfg.ClientID,
		ClientSecret:     secret,
		Issuer:           row.Issuer,
		AuthEndpoint:     cfg.AuthorizationEndpoint,
		TokenEndpoint:    cfg.TokenEndpoint,
		UserInfoEndpoint: cfg.UserInfoEndpoint,
		JWKSEndpoint:     cfg.JWKSEndpoint,
		Scopes:           []string{"openid", "profile", "email"},
		AuthMethod:       AuthMethodBasic,
		UsePKCE:          cfg.PKCE,
	}
	discoveryURL := cfg.DiscoveryURL
	if discoveryURL == "" && row.Issuer != "" {
		discoveryURL = row.Issuer + "/.well-known/openid-configuration"
	}
	return p, discoveryURL, nil
}

// hydrate completa endpoints desde discovery, con cache y dedupe.
func (r *Registry) hydrate(ctx context.Context, providerID string, base *Provider, discoveryURL string) (*Provider, error) {
	r.mu.RLock()
	e, ok := r.resolved[providerID]
	r.mu.RUnlock()
	if ok && time.Since(e.at) < discoveryCacheTTL {
		return e.p, nil
	}
	if discoveryURL == "" {
		return nil, fmt.Errorf("provider %s: sin endpoints ni discovery_url", providerID)
	}

	v, err, _ := r.sf.Do(providerID, func() (any, error) {
		dd, err := r.fetchDiscovery(ctx, discoveryURL)
		if err != nil {
			return nil, err
		}
		p := *base
		if p.AuthEndpoint == "" {
			p.AuthEndpoint = dd.AuthEndpoint
		}
		if p.TokenEndpoint == "" {
			p.TokenEndpoint = dd.TokenEndpoint
		}
		if p.UserInfoEndpoint == "" {
			p.UserInfoEndpoint = dd.UserInfoEndpoint
		}
		if p.JWKSEndpoint == "" {
			p.JWKSEndpoint = dd.JWKSURI
		}
		if p.Issuer == "" {
			p.Issuer = dd.Issuer
		}
		r.mu.Lock()
		r.resolved[providerID] = resolvedEntry{p: &p, at: time.Now()}
		r.mu.Unlock()
		return &p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Provider), nil
}

func (r *Registry) fetchDiscovery(ctx context.Context, u string) (*discoveryDoc, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, &ErrUpstream{Op: "discovery", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, &ErrUpstream{Op: "discovery", Status: resp.StatusCode, Err: errors.New("discovery rejected")}
	}
	var dd discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&dd); err != nil {
		return nil, &ErrUpstream{Op: "discovery", Err: err}
	}
	if dd.AuthEndpoint == "" || dd.TokenEndpoint == "" {
		return nil, &ErrUpstream{Op: "discovery", Err: errors.New("discovery doc incomplete")}
	}
	return &dd, nil
}
