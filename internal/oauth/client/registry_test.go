package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dropDatabas3/portero/internal/security/secretbox"
	"github.com/dropDatabas3/portero/internal/store/core"
	storemem "github.com/dropDatabas3/portero/internal/store/memory"
)

func TestRegistryStaticProvider(t *testing.T) {
	p := &Provider{ID: "google", ClientID: "cid", ClientSecret: "s",
		AuthEndpoint: "https://idp/auth", TokenEndpoint: "https://idp/token"}
	r, err := NewRegistry([]*Provider{p}, nil, secretbox.Derive([32]byte{1}))
	if err != nil {
		t.Fatal(err)
	}
	got, err := r.Get(context.Background(), "google")
	if err != nil || got.ClientID != "cid" {
		t.Fatalf("(%+v, %v)", got, err)
	}
	if _, err := r.Get(context.Background(), "nope"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("unknown: %v", err)
	}
}

func TestRegistryRejectsBadConfig(t *testing.T) {
	bad := []*Provider{
		{ID: "x", ClientID: "cid", AuthEndpoint: "https://a"},                                 // sin token endpoint ni discovery
		{ID: "y", ClientID: "cid", DiscoveryURL: "https://d", AuthMethod: "mtls"},             // método no soportado
		{ID: "z", ClientID: "cid", DiscoveryURL: "https://d", AuthMethod: AuthMethodBasic},    // falta secret
	}
	for _, p := range bad {
		if _, err := NewRegistry([]*Provider{p}, nil, secretbox.Derive([32]byte{1})); err == nil {
			t.Errorf("provider %s: expected config error", p.ID)
		}
	}
}

func TestRegistryDiscoveryHydration(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{
			"issuer": "https://idp.example",
			"authorization_endpoint": "https://idp.example/auth",
			"token_endpoint": "https://idp.example/token",
			"userinfo_endpoint": "https://idp.example/userinfo",
			"jwks_uri": "https://idp.example/jwks"
		}`))
	}))
	defer srv.Close()

	box := secretbox.Derive([32]byte{2})
	secretEnc, err := box.Encrypt([]byte("sso-secret"))
	if err != nil {
		t.Fatal(err)
	}
	st := storemem.New()
	err = st.CreateSSOProvider(context.Background(), &core.SSOProvider{
		ID: "row-1", ProviderID: "acme-idp", Issuer: "https://idp.example", UserID: "admin",
		OIDCConfig: &core.OIDCConfig{
			ClientID:        "acme-client",
			ClientSecretEnc: secretEnc,
			DiscoveryURL:    srv.URL,
			PKCE:            true,
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := NewRegistry(nil, st, box)
	if err != nil {
		t.Fatal(err)
	}
	p, err := r.Get(context.Background(), "acme-idp")
	if err != nil {
		t.Fatal(err)
	}
	if p.AuthEndpoint != "https://idp.example/auth" || p.TokenEndpoint != "https://idp.example/token" {
		t.Fatalf("%+v", p)
	}
	if p.ClientSecret != "sso-secret" || !p.UsePKCE {
		t.Fatalf("%+v", p)
	}

	// Segunda resolución sale del cache.
	if _, err := r.Get(context.Background(), "acme-idp"); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 1 {
		t.Fatalf("discovery hits=%d, want 1", hits.Load())
	}

	// La hidratación quedó persistida en la fila: endpoints completos,
	// jwks incluido, y el secret cifrado intacto.
	row, err := st.GetSSOProviderByProviderID(context.Background(), "acme-idp")
	if err != nil {
		t.Fatal(err)
	}
	cfg := row.OIDCConfig
	if cfg.AuthorizationEndpoint != "https://idp.example/auth" ||
		cfg.TokenEndpoint != "https://idp.example/token" ||
		cfg.JWKSEndpoint != "https://idp.example/jwks" {
		t.Fatalf("config persistida incompleta: %+v", cfg)
	}
	if cfg.ClientSecretEnc == "" {
		t.Fatal("el secret cifrado no sobrevivió la persistencia")
	}

	// Un registry nuevo (sin cache en memoria) resuelve de la fila sin
	// volver a pegarle al discovery.
	r2, err := NewRegistry(nil, st, box)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := r2.Get(context.Background(), "acme-idp")
	if err != nil {
		t.Fatal(err)
	}
	if p2.ClientSecret != "sso-secret" {
		t.Fatalf("%+v", p2)
	}
	if hits.Load() != 1 {
		t.Fatalf("discovery hits=%d tras persistencia, want 1", hits.Load())
	}
}
