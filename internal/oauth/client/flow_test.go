package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/store/core"
	storemem "github.com/dropDatabas3/portero/internal/store/memory"
)

func testProfile() *Profile {
	return &Profile{Subject: "sub-1", Email: "ana@example.com", EmailVerified: true, Name: "Ana"}
}

func testTokens() *TokenResponse {
	return &TokenResponse{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 3600, Scope: "openid email"}
}

func TestLinkOrCreateNewUser(t *testing.T) {
	st := storemem.New()
	f := NewFlow(st, nil)
	p := &Provider{ID: "google", ClientID: "cid", TrustedForLinking: true}

	res, err := f.LinkOrCreate(context.Background(), "", p, testProfile(), testTokens(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsNewUser {
		t.Fatal("expected new user")
	}
	u, err := st.GetUserByEmail(context.Background(), "", "ana@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != res.UserID || u.Name != "Ana" || !u.EmailVerified {
		t.Fatalf("%+v", u)
	}
	a, err := st.GetAccountByProviderSubject(context.Background(), "", "google", "sub-1")
	if err != nil {
		t.Fatal(err)
	}
	if a.UserID != u.ID || a.AccessToken == nil || *a.AccessToken != "at-1" {
		t.Fatalf("%+v", a)
	}
	if a.AccessTokenExpiresAt == nil {
		t.Fatal("expiry not recorded")
	}
}

func TestLinkOrCreateExistingAccountUpdatesTokens(t *testing.T) {
	st := storemem.New()
	f := NewFlow(st, nil)
	p := &Provider{ID: "google", ClientID: "cid"}
	ctx := context.Background()

	first, err := f.LinkOrCreate(ctx, "", p, testProfile(), testTokens(), false)
	if err != nil {
		t.Fatal(err)
	}
	tr2 := &TokenResponse{AccessToken: "at-2", ExpiresIn: 60}
	second, err := f.LinkOrCreate(ctx, "", p, testProfile(), tr2, false)
	if err != nil {
		t.Fatal(err)
	}
	if second.IsNewUser || second.UserID != first.UserID {
		t.Fatalf("%+v vs %+v", first, second)
	}
	a, _ := st.GetAccountByProviderSubject(ctx, "", "google", "sub-1")
	if *a.AccessToken != "at-2" {
		t.Fatalf("token not rotated: %q", *a.AccessToken)
	}
	// refresh_token ausente en la respuesta nueva conserva el anterior.
	if a.RefreshToken == nil || *a.RefreshToken != "rt-1" {
		t.Fatal("refresh token lost on update")
	}
}

func TestLinkTrustedProviderByEmail(t *testing.T) {
	st := storemem.New()
	ctx := context.Background()
	existing := &core.User{ID: uuid.NewString(), Email: "ana@example.com", EmailVerified: true, Status: "active"}
	if err := st.CreateUser(ctx, existing); err != nil {
		t.Fatal(err)
	}

	f := NewFlow(st, nil)

	// Provider no confiable: rechazo.
	untrusted := &Provider{ID: "foro", ClientID: "cid"}
	if _, err := f.LinkOrCreate(ctx, "", untrusted, testProfile(), testTokens(), false); !errors.Is(err, ErrAccountNotLinked) {
		t.Fatalf("untrusted: %v", err)
	}

	// Email sin verificar tampoco linkea, aunque el provider sea trusted.
	trusted := &Provider{ID: "google", ClientID: "cid", TrustedForLinking: true}
	unverified := testProfile()
	unverified.EmailVerified = false
	if _, err := f.LinkOrCreate(ctx, "", trusted, unverified, testTokens(), false); !errors.Is(err, ErrAccountNotLinked) {
		t.Fatalf("unverified: %v", err)
	}

	res, err := f.LinkOrCreate(ctx, "", trusted, testProfile(), testTokens(), false)
	if err != nil {
		t.Fatal(err)
	}
	if res.IsNewUser || res.UserID != existing.ID {
		t.Fatalf("%+v", res)
	}
}

func TestSignupDisabled(t *testing.T) {
	st := storemem.New()
	f := NewFlow(st, nil)
	ctx := context.Background()
	p := &Provider{ID: "corp", ClientID: "cid", DisableImplicitSignUp: true}

	if _, err := f.LinkOrCreate(ctx, "", p, testProfile(), testTokens(), false); !errors.Is(err, ErrSignupDisabled) {
		t.Fatalf("implicit: %v", err)
	}
	// requestSignUp explícito habilita el alta.
	res, err := f.LinkOrCreate(ctx, "", p, testProfile(), testTokens(), true)
	if err != nil || !res.IsNewUser {
		t.Fatalf("(%+v, %v)", res, err)
	}
}

func TestOverrideUserInfo(t *testing.T) {
	st := storemem.New()
	f := NewFlow(st, nil)
	ctx := context.Background()
	p := &Provider{ID: "google", ClientID: "cid", OverrideUserInfo: true}

	res, err := f.LinkOrCreate(ctx, "", p, testProfile(), testTokens(), false)
	if err != nil {
		t.Fatal(err)
	}
	prof2 := testProfile()
	prof2.Name = "Ana María"
	prof2.Picture = "https://img/new"
	if _, err := f.LinkOrCreate(ctx, "", p, prof2, testTokens(), false); err != nil {
		t.Fatal(err)
	}
	u, _ := st.GetUserByID(ctx, "", res.UserID)
	if u.Name != "Ana María" || u.Image != "https://img/new" {
		t.Fatalf("%+v", u)
	}
}

func TestTenantScopedLinking(t *testing.T) {
	st := storemem.New()
	f := NewFlow(st, nil)
	ctx := context.Background()
	p := &Provider{ID: "google", ClientID: "cid", TrustedForLinking: true}

	a, err := f.LinkOrCreate(ctx, "acme", p, testProfile(), testTokens(), false)
	if err != nil {
		t.Fatal(err)
	}
	// Mismo subject en otro tenant: usuario independiente.
	b, err := f.LinkOrCreate(ctx, "globex", p, testProfile(), testTokens(), false)
	if err != nil {
		t.Fatal(err)
	}
	if !b.IsNewUser || a.UserID == b.UserID {
		t.Fatalf("tenants share user: %+v %+v", a, b)
	}
}

func TestGetAccessTokenLazyRefresh(t *testing.T) {
	st := storemem.New()
	f := NewFlow(st, nil)
	ctx := context.Background()
	p := &Provider{ID: "google", ClientID: "cid"}

	past := time.Now().Add(-time.Minute)
	tr := &TokenResponse{AccessToken: "stale", RefreshToken: "rt-1"}
	res, err := f.LinkOrCreate(ctx, "", p, testProfile(), tr, false)
	if err != nil {
		t.Fatal(err)
	}
	// Forzar expiración del access token guardado.
	a, _ := st.GetAccountByProviderSubject(ctx, "", "google", "sub-1")
	a.AccessTokenExpiresAt = &past
	if err := st.UpdateAccountTokens(ctx, a); err != nil {
		t.Fatal(err)
	}

	srv := newTokenServer(t, "fresh")
	defer srv.Close()
	p.TokenEndpoint = srv.URL
	p.AuthMethod = AuthMethodNone

	got, err := f.GetAccessToken(ctx, NewHTTPClient(), p, "", res.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if got != "fresh" {
		t.Fatalf("got %q", got)
	}
	// El refresh persiste el token nuevo.
	a, _ = st.GetAccountByProviderSubject(ctx, "", "google", "sub-1")
	if *a.AccessToken != "fresh" {
		t.Fatalf("stored %q", *a.AccessToken)
	}
}
