package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	tokens "github.com/dropDatabas3/portero/internal/security/token"
)

func newTokenServer(t *testing.T, accessToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: accessToken, ExpiresIn: 3600})
	}))
}

func TestBuildAuthURL(t *testing.T) {
	p := &Provider{
		ID:           "google",
		ClientID:     "cid",
		AuthEndpoint: "https://idp.example/authorize",
		Scopes:       []string{"openid", "email"},
		ExtraAuthParams: map[string]string{
			"access_type": "offline",
		},
	}
	got, err := BuildAuthURL(p, "https://app.example/oauth2/callback/google", "st-1", "n-1", "chal", nil)
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	checks := map[string]string{
		"response_type":         "code",
		"client_id":             "cid",
		"redirect_uri":          "https://app.example/oauth2/callback/google",
		"scope":                 "openid email",
		"state":                 "st-1",
		"nonce":                 "n-1",
		"code_challenge":        "chal",
		"code_challenge_method": "S256",
		"access_type":           "offline",
	}
	for k, want := range checks {
		if q.Get(k) != want {
			t.Errorf("%s=%q, want %q", k, q.Get(k), want)
		}
	}

	// Scopes explícitos reemplazan los del provider.
	got, _ = BuildAuthURL(p, "https://app.example/cb", "s", "", "", []string{"email"})
	u, _ = url.Parse(got)
	if u.Query().Get("scope") != "email" {
		t.Errorf("scope override: %q", u.Query().Get("scope"))
	}
	if u.Query().Has("code_challenge") {
		t.Error("empty challenge should omit PKCE params")
	}
}

func TestGeneratePKCE(t *testing.T) {
	v, c, err := GeneratePKCE()
	if err != nil {
		t.Fatal(err)
	}
	if v == "" || c == "" {
		t.Fatal("empty verifier/challenge")
	}
	if c != tokens.SHA256Base64URL(v) {
		t.Fatal("challenge is not S256(verifier)")
	}
	v2, _, _ := GeneratePKCE()
	if v == v2 {
		t.Fatal("verifiers must be unique")
	}
}

func TestExchangeCodeAuthMethods(t *testing.T) {
	cases := []struct {
		method    string
		wantBasic bool
	}{
		{AuthMethodBasic, true},
		{AuthMethodPost, false},
		{AuthMethodNone, false},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			var gotForm url.Values
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = r.ParseForm()
				gotForm = r.PostForm
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewEncoder(w).Encode(TokenResponse{AccessToken: "at", ExpiresIn: 3600})
			}))
			defer srv.Close()

			p := &Provider{ID: "x", ClientID: "cid", ClientSecret: "sec", AuthMethod: tc.method, TokenEndpoint: srv.URL}
			tr, err := NewHTTPClient().ExchangeCode(context.Background(), p, "the-code", "https://app/cb", "ver")
			if err != nil {
				t.Fatal(err)
			}
			if tr.AccessToken != "at" {
				t.Fatalf("access_token=%q", tr.AccessToken)
			}
			if gotForm.Get("grant_type") != "authorization_code" || gotForm.Get("code") != "the-code" {
				t.Fatalf("form: %v", gotForm)
			}
			if gotForm.Get("code_verifier") != "ver" {
				t.Fatalf("code_verifier missing: %v", gotForm)
			}
			if tc.wantBasic {
				if !strings.HasPrefix(gotAuth, "Basic ") {
					t.Fatalf("expected basic auth, got %q", gotAuth)
				}
				if gotForm.Has("client_secret") {
					t.Fatal("basic auth must not duplicate secret in body")
				}
			} else {
				if gotAuth != "" {
					t.Fatalf("unexpected Authorization header: %q", gotAuth)
				}
				if gotForm.Get("client_id") != "cid" {
					t.Fatalf("client_id missing from body: %v", gotForm)
				}
				if tc.method == AuthMethodPost && gotForm.Get("client_secret") != "sec" {
					t.Fatal("client_secret_post must carry secret in body")
				}
				if tc.method == AuthMethodNone && gotForm.Has("client_secret") {
					t.Fatal("none must not send a secret")
				}
			}
		})
	}
}

func TestExchangeCodeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"secret upstream detail"}`))
	}))
	defer srv.Close()

	p := &Provider{ID: "x", ClientID: "cid", ClientSecret: "s", AuthMethod: AuthMethodPost, TokenEndpoint: srv.URL}
	_, err := NewHTTPClient().ExchangeCode(context.Background(), p, "c", "https://app/cb", "")
	var ue *ErrUpstream
	if !errors.As(err, &ue) {
		t.Fatalf("want ErrUpstream, got %v", err)
	}
	if ue.Status != http.StatusBadRequest || ue.Op != "exchange" {
		t.Fatalf("%+v", ue)
	}
	// El mensaje visible nunca incluye el body del upstream.
	if strings.Contains(ue.Error(), "secret upstream detail") {
		t.Fatalf("upstream body leaked: %s", ue.Error())
	}
}

func TestExchangeCodeConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL
	srv.Close() // puerto cerrado: connection refused

	p := &Provider{ID: "x", ClientID: "cid", AuthMethod: AuthMethodNone, TokenEndpoint: target}
	_, err := NewHTTPClient().ExchangeCode(context.Background(), p, "c", "https://app/cb", "")
	var ue *ErrUpstream
	if !errors.As(err, &ue) || ue.Status != 0 {
		t.Fatalf("want network ErrUpstream, got %v", err)
	}
}

func TestFetchUserInfoDefaultMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"sub":"s-9","email":"a@b.c","email_verified":true,"name":"Ana","picture":"https://p/img"}`))
	}))
	defer srv.Close()

	p := &Provider{ID: "x", ClientID: "cid", AuthMethod: AuthMethodNone,
		TokenEndpoint: "http://unused", UserInfoEndpoint: srv.URL}
	prof, err := NewHTTPClient().FetchUserInfo(context.Background(), p, "at-1")
	if err != nil {
		t.Fatal(err)
	}
	if prof.Subject != "s-9" || prof.Email != "a@b.c" || !prof.EmailVerified || prof.Name != "Ana" {
		t.Fatalf("%+v", prof)
	}
}

func TestFetchUserInfoCustomMapper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":12345,"login":"octocat","avatar_url":"https://a"}`))
	}))
	defer srv.Close()

	p := &Provider{ID: "github", ClientID: "cid", AuthMethod: AuthMethodNone,
		TokenEndpoint: "http://unused", UserInfoEndpoint: srv.URL,
		MapProfile: func(raw map[string]any) (*Profile, error) {
			login, _ := raw["login"].(string)
			return &Profile{Subject: login, Name: login, Raw: raw}, nil
		}}
	prof, err := NewHTTPClient().FetchUserInfo(context.Background(), p, "at")
	if err != nil {
		t.Fatal(err)
	}
	if prof.Subject != "octocat" {
		t.Fatalf("%+v", prof)
	}
}
