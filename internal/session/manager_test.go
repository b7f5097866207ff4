package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	cachemem "github.com/dropDatabas3/portero/internal/cache/memory"
	"github.com/dropDatabas3/portero/internal/security/cookiesign"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
	"github.com/dropDatabas3/portero/internal/store/core"
	storemem "github.com/dropDatabas3/portero/internal/store/memory"
)

// countingStore cuenta lecturas al primario para verificar el fast path.
type countingStore struct {
	core.Repository
	sessionReads int
	userReads    int
}

func (c *countingStore) GetSessionByTokenHash(ctx context.Context, tenantID, tokenHash string) (*core.Session, error) {
	c.sessionReads++
	return c.Repository.GetSessionByTokenHash(ctx, tenantID, tokenHash)
}

func (c *countingStore) GetUserByID(ctx context.Context, tenantID, id string) (*core.User, error) {
	c.userReads++
	return c.Repository.GetUserByID(ctx, tenantID, id)
}

type testEnv struct {
	mgr   *Manager
	store *countingStore
	now   time.Time
}

func newTestEnv(t *testing.T, pol Policy) *testEnv {
	t.Helper()
	cs := &countingStore{Repository: storemem.New()}
	box := secretbox.Derive([32]byte{1, 2, 3})
	env := &testEnv{
		store: cs,
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.mgr = NewManager(cs, cachemem.New(time.Minute), cookiesign.New("test-secret"), box, pol, nil)
	env.mgr.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) seedUser(t *testing.T, tenantID, id string) *core.User {
	t.Helper()
	u := &core.User{
		ID: id, TenantID: tenantID, Email: id + "@example.com",
		Status: "active", CreatedAt: e.now, UpdatedAt: e.now,
	}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

// requestWith copia las cookies escritas por rec a un request nuevo,
// simulando el browser. Cookies con MaxAge<0 se descartan.
func requestWith(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/session", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			continue
		}
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return r
}

func TestCreateResolveRoundtrip(t *testing.T) {
	env := newTestEnv(t, Policy{})
	env.seedUser(t, "", "u1")

	rec := httptest.NewRecorder()
	sess, err := env.mgr.Create(context.Background(), rec, "", "u1", Meta{IPAddress: "10.0.0.1"}, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ExpiresAt.Sub(env.now) != 7*24*time.Hour {
		t.Fatalf("default ExpiresIn: got %v", sess.ExpiresAt.Sub(env.now))
	}

	rec2 := httptest.NewRecorder()
	res, err := env.mgr.Resolve(context.Background(), rec2, requestWith(rec), "", ResolveOpts{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res == nil || res.Session.ID != sess.ID {
		t.Fatalf("Resolve: got %+v, want session %s", res, sess.ID)
	}
	if res.User["email"] != "u1@example.com" {
		t.Fatalf("user payload: %v", res.User)
	}
}

func TestResolveNoCookie(t *testing.T) {
	env := newTestEnv(t, Policy{})
	res, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "/session", nil), "", ResolveOpts{})
	if err != nil || res != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", res, err)
	}
}

func TestResolveTamperedCookie(t *testing.T) {
	env := newTestEnv(t, Policy{})
	env.seedUser(t, "", "u1")
	rec := httptest.NewRecorder()
	if _, err := env.mgr.Create(context.Background(), rec, "", "u1", Meta{}, false); err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodGet, "/session", nil)
	for _, c := range rec.Result().Cookies() {
		v := c.Value
		if c.Name == DefaultCookieName {
			v = v + "x"
		}
		r.AddCookie(&http.Cookie{Name: c.Name, Value: v})
	}
	res, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(), r, "", ResolveOpts{DisableCookieCache: true})
	if err != nil || res != nil {
		t.Fatalf("tampered cookie: got (%v, %v), want (nil, nil)", res, err)
	}
}

func TestCookieCacheSkipsStore(t *testing.T) {
	env := newTestEnv(t, Policy{CacheEnabled: true})
	env.seedUser(t, "", "u1")

	rec := httptest.NewRecorder()
	if _, err := env.mgr.Create(context.Background(), rec, "", "u1", Meta{}, false); err != nil {
		t.Fatal(err)
	}
	env.store.sessionReads, env.store.userReads = 0, 0

	res, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(), requestWith(rec), "", ResolveOpts{})
	if err != nil || res == nil {
		t.Fatalf("Resolve: (%v, %v)", res, err)
	}
	if !res.FromCache {
		t.Fatal("expected cookie cache hit")
	}
	if env.store.sessionReads != 0 || env.store.userReads != 0 {
		t.Fatalf("store reads: sessions=%d users=%d, want 0", env.store.sessionReads, env.store.userReads)
	}

	// DisableCookieCache fuerza el round-trip al primario.
	res, err = env.mgr.Resolve(context.Background(), httptest.NewRecorder(), requestWith(rec), "", ResolveOpts{DisableCookieCache: true})
	if err != nil || res == nil || res.FromCache {
		t.Fatalf("bypass: (%v, %v)", res, err)
	}
	if env.store.sessionReads == 0 {
		t.Fatal("expected primary read with cache disabled")
	}
}

func TestCookieCacheExpiryFallsThrough(t *testing.T) {
	env := newTestEnv(t, Policy{CacheEnabled: true, CacheTTL: 5 * time.Minute})
	env.seedUser(t, "", "u1")
	rec := httptest.NewRecorder()
	if _, err := env.mgr.Create(context.Background(), rec, "", "u1", Meta{}, false); err != nil {
		t.Fatal(err)
	}
	env.now = env.now.Add(6 * time.Minute)
	env.store.sessionReads = 0
	res, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(), requestWith(rec), "", ResolveOpts{})
	if err != nil || res == nil || res.FromCache {
		t.Fatalf("(%v, %v)", res, err)
	}
	if env.store.sessionReads != 1 {
		t.Fatalf("sessionReads=%d, want 1", env.store.sessionReads)
	}
}

func TestRollingRenewalWindow(t *testing.T) {
	pol := Policy{ExpiresIn: 7 * 24 * time.Hour, UpdateAge: 24 * time.Hour}
	env := newTestEnv(t, pol)
	env.seedUser(t, "", "u1")
	rec := httptest.NewRecorder()
	sess, err := env.mgr.Create(context.Background(), rec, "", "u1", Meta{}, false)
	if err != nil {
		t.Fatal(err)
	}
	origExp := sess.ExpiresAt

	// Antes de updateAge: sin renewal.
	env.now = env.now.Add(23 * time.Hour)
	res, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(), requestWith(rec), "", ResolveOpts{})
	if err != nil || res == nil {
		t.Fatalf("(%v, %v)", res, err)
	}
	if !res.Session.ExpiresAt.Equal(origExp) {
		t.Fatalf("renewed too early: %v", res.Session.ExpiresAt)
	}

	// Pasada la ventana: expiresAt se extiende a now+expiresIn.
	env.now = env.now.Add(2 * time.Hour) // t0+25h
	rec2 := httptest.NewRecorder()
	res, err = env.mgr.Resolve(context.Background(), rec2, requestWith(rec), "", ResolveOpts{})
	if err != nil || res == nil {
		t.Fatalf("(%v, %v)", res, err)
	}
	wantExp := env.now.Add(pol.ExpiresIn)
	if !res.Session.ExpiresAt.Equal(wantExp) {
		t.Fatalf("ExpiresAt=%v, want %v", res.Session.ExpiresAt, wantExp)
	}
	// La cookie re-emitida sigue resolviendo.
	if res2, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(), requestWith(rec2), "", ResolveOpts{}); err != nil || res2 == nil {
		t.Fatalf("reissued cookie: (%v, %v)", res2, err)
	}

	// DisableRefresh suprime el renewal aunque esté vencida la ventana.
	env.now = env.now.Add(48 * time.Hour)
	res, err = env.mgr.Resolve(context.Background(), httptest.NewRecorder(), requestWith(rec2), "", ResolveOpts{DisableRefresh: true})
	if err != nil || res == nil {
		t.Fatalf("(%v, %v)", res, err)
	}
	if !res.Session.ExpiresAt.Equal(wantExp) {
		t.Fatalf("DisableRefresh renewed anyway: %v", res.Session.ExpiresAt)
	}
}

func TestRenewalRaceWithRevoke(t *testing.T) {
	env := newTestEnv(t, Policy{ExpiresIn: 7 * 24 * time.Hour, UpdateAge: time.Hour})
	env.seedUser(t, "", "u1")
	rec := httptest.NewRecorder()
	sess, err := env.mgr.Create(context.Background(), rec, "", "u1", Meta{}, false)
	if err != nil {
		t.Fatal(err)
	}

	env.now = env.now.Add(2 * time.Hour)
	req := requestWith(rec)

	// Revoke concurrente: la fila desaparece entre el read y el update.
	// El memory store hace ambos bajo el mismo lock, así que simulamos la
	// carrera borrando vía un wrapper que intercepta el update.
	raced := &racingStore{countingStore: env.store, mgr: env.mgr, sessID: sess.ID}
	env.mgr.store = raced

	res, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(), req, "", ResolveOpts{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res != nil {
		t.Fatal("lost renewal race should resolve unauthenticated")
	}
}

// racingStore borra la sesión justo antes del UpdateSessionExpiry.
type racingStore struct {
	*countingStore
	mgr    *Manager
	sessID string
}

func (s *racingStore) UpdateSessionExpiry(ctx context.Context, tenantID, id string, expiresAt, updatedAt time.Time) (bool, error) {
	_ = s.countingStore.DeleteSession(ctx, tenantID, s.sessID)
	return s.countingStore.UpdateSessionExpiry(ctx, tenantID, id, expiresAt, updatedAt)
}

func TestExpiredSessionCleanup(t *testing.T) {
	env := newTestEnv(t, Policy{ExpiresIn: time.Hour})
	env.seedUser(t, "", "u1")
	rec := httptest.NewRecorder()
	if _, err := env.mgr.Create(context.Background(), rec, "", "u1", Meta{}, false); err != nil {
		t.Fatal(err)
	}

	env.now = env.now.Add(2 * time.Hour)
	rec2 := httptest.NewRecorder()
	res, err := env.mgr.Resolve(context.Background(), rec2, requestWith(rec), "", ResolveOpts{})
	if err != nil || res != nil {
		t.Fatalf("expired: (%v, %v), want (nil, nil)", res, err)
	}
	// La fila se limpió en la lectura.
	if list, _ := env.store.ListSessionsForUser(context.Background(), "", "u1"); len(list) != 0 {
		t.Fatalf("expired row not cleaned: %d rows", len(list))
	}
	// Y la respuesta trae deletion cookies.
	deleted := false
	for _, c := range rec2.Result().Cookies() {
		if c.Name == DefaultCookieName && c.MaxAge < 0 {
			deleted = true
		}
	}
	if !deleted {
		t.Fatal("expected deletion cookie for session_token")
	}
}

func TestDontRememberSuppressesRenewal(t *testing.T) {
	env := newTestEnv(t, Policy{ExpiresIn: 7 * 24 * time.Hour, UpdateAge: time.Hour})
	env.seedUser(t, "", "u1")
	rec := httptest.NewRecorder()
	sess, err := env.mgr.Create(context.Background(), rec, "", "u1", Meta{}, true)
	if err != nil {
		t.Fatal(err)
	}

	// La cookie principal salió como session cookie (sin Max-Age).
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultCookieName && c.MaxAge != 0 {
			t.Fatalf("dontRemember cookie has MaxAge=%d", c.MaxAge)
		}
	}

	env.now = env.now.Add(2 * time.Hour) // pasada la ventana
	res, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(), requestWith(rec), "", ResolveOpts{})
	if err != nil || res == nil {
		t.Fatalf("(%v, %v)", res, err)
	}
	if !res.Session.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Fatal("renewal ran despite dont_remember marker")
	}
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t, Policy{MultiTenant: true})
	env.seedUser(t, "acme", "u1")
	rec := httptest.NewRecorder()
	if _, err := env.mgr.Create(context.Background(), rec, "acme", "u1", Meta{}, false); err != nil {
		t.Fatal(err)
	}

	// Mismo token, otro tenant: unauthenticated, nunca un error distinto.
	res, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(), requestWith(rec), "globex", ResolveOpts{})
	if err != nil || res != nil {
		t.Fatalf("cross-tenant: (%v, %v), want (nil, nil)", res, err)
	}
	res, err = env.mgr.Resolve(context.Background(), httptest.NewRecorder(), requestWith(rec), "acme", ResolveOpts{})
	if err != nil || res == nil {
		t.Fatalf("same tenant: (%v, %v)", res, err)
	}
}

func TestRevokeCurrentAndAll(t *testing.T) {
	env := newTestEnv(t, Policy{})
	env.seedUser(t, "", "u1")
	ctx := context.Background()

	rec1 := httptest.NewRecorder()
	s1, err := env.mgr.Create(ctx, rec1, "", "u1", Meta{}, false)
	if err != nil {
		t.Fatal(err)
	}
	rec2 := httptest.NewRecorder()
	if _, err := env.mgr.Create(ctx, rec2, "", "u1", Meta{}, false); err != nil {
		t.Fatal(err)
	}
	rec3 := httptest.NewRecorder()
	if _, err := env.mgr.Create(ctx, rec3, "", "u1", Meta{}, false); err != nil {
		t.Fatal(err)
	}

	// revokeOtherSessions: quedan sólo s1.
	if err := env.mgr.RevokeAll(ctx, "", "u1", s1.ID); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	list, err := env.mgr.List(ctx, "", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != s1.ID {
		t.Fatalf("after RevokeAll: %d rows", len(list))
	}

	// Sign-out de la actual.
	rec4 := httptest.NewRecorder()
	if err := env.mgr.RevokeCurrent(ctx, rec4, requestWith(rec1), ""); err != nil {
		t.Fatalf("RevokeCurrent: %v", err)
	}
	res, err := env.mgr.Resolve(ctx, httptest.NewRecorder(), requestWith(rec1), "", ResolveOpts{})
	if err != nil || res != nil {
		t.Fatalf("after sign-out: (%v, %v)", res, err)
	}
}

func TestRevokeByIDRequiresOwnership(t *testing.T) {
	env := newTestEnv(t, Policy{})
	env.seedUser(t, "", "u1")
	env.seedUser(t, "", "u2")
	ctx := context.Background()

	rec := httptest.NewRecorder()
	s1, err := env.mgr.Create(ctx, rec, "", "u1", Meta{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.mgr.RevokeByID(ctx, "", "u2", s1.ID); err != core.ErrNotFound {
		t.Fatalf("foreign revoke: %v, want ErrNotFound", err)
	}
	if err := env.mgr.RevokeByID(ctx, "", "u1", s1.ID); err != nil {
		t.Fatalf("owner revoke: %v", err)
	}
}

func TestSetActiveOrganization(t *testing.T) {
	env := newTestEnv(t, Policy{CacheEnabled: true})
	env.seedUser(t, "", "u1")
	ctx := context.Background()

	rec := httptest.NewRecorder()
	if _, err := env.mgr.Create(ctx, rec, "", "u1", Meta{}, false); err != nil {
		t.Fatal(err)
	}
	rec2 := httptest.NewRecorder()
	res, err := env.mgr.Resolve(ctx, rec2, requestWith(rec), "", ResolveOpts{DisableCookieCache: true})
	if err != nil || res == nil {
		t.Fatalf("(%v, %v)", res, err)
	}

	org := "org-7"
	team := "team-1"
	if err := env.mgr.SetActiveTeam(ctx, httptest.NewRecorder(), requestWith(rec), res, &team); err != nil {
		t.Fatal(err)
	}
	if err := env.mgr.SetActiveOrganization(ctx, httptest.NewRecorder(), requestWith(rec), res, &org); err != nil {
		t.Fatal(err)
	}
	// Cambiar de org resetea el team activo.
	if res.Session.ActiveTeamID != nil {
		t.Fatal("ActiveTeamID should reset on org switch")
	}

	got, err := env.mgr.Resolve(ctx, httptest.NewRecorder(), requestWith(rec), "", ResolveOpts{DisableCookieCache: true})
	if err != nil || got == nil {
		t.Fatalf("(%v, %v)", got, err)
	}
	if got.Session.ActiveOrganizationID == nil || *got.Session.ActiveOrganizationID != "org-7" {
		t.Fatalf("ActiveOrganizationID=%v", got.Session.ActiveOrganizationID)
	}
}

// El snapshot de session_data sólo vale junto al session_token que lo
// emitió: mezclado con otro token válido del mismo user se ignora.
func TestCookieCacheBoundToToken(t *testing.T) {
	env := newTestEnv(t, Policy{CacheEnabled: true})
	env.seedUser(t, "", "u1")

	recA := httptest.NewRecorder()
	if _, err := env.mgr.Create(context.Background(), recA, "", "u1", Meta{}, false); err != nil {
		t.Fatal(err)
	}
	recB := httptest.NewRecorder()
	sessB, err := env.mgr.Create(context.Background(), recB, "", "u1", Meta{}, false)
	if err != nil {
		t.Fatal(err)
	}

	var tokenB, dataA string
	for _, c := range recB.Result().Cookies() {
		if c.Name == DefaultCookieName {
			tokenB = c.Value
		}
	}
	for _, c := range recA.Result().Cookies() {
		if c.Name == DefaultDataCookieName {
			dataA = c.Value
		}
	}
	if tokenB == "" || dataA == "" {
		t.Fatal("faltan cookies de setup")
	}

	// token de B + snapshot de A: nada de fast path, la lectura va al store
	r := httptest.NewRequest(http.MethodGet, "/session", nil)
	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: tokenB})
	r.AddCookie(&http.Cookie{Name: DefaultDataCookieName, Value: dataA})

	reads := env.store.sessionReads
	res, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(), r, "", ResolveOpts{})
	if err != nil || res == nil {
		t.Fatalf("Resolve: (%+v, %v)", res, err)
	}
	if res.FromCache {
		t.Fatal("snapshot de otra sesión sirvió como fast path")
	}
	if res.Session.ID != sessB.ID {
		t.Fatalf("resolvió %s, esperaba %s", res.Session.ID, sessB.ID)
	}
	if env.store.sessionReads != reads+1 {
		t.Fatalf("sessionReads = %d, esperaba %d", env.store.sessionReads, reads+1)
	}

	// el par legítimo (token y snapshot de B) sí evita el store
	res2, err := env.mgr.Resolve(context.Background(), httptest.NewRecorder(), requestWith(recB), "", ResolveOpts{})
	if err != nil || res2 == nil {
		t.Fatalf("Resolve propio: (%+v, %v)", res2, err)
	}
	if !res2.FromCache || res2.Session.ID != sessB.ID {
		t.Fatalf("fast path propio: FromCache=%v id=%s", res2.FromCache, res2.Session.ID)
	}
}
