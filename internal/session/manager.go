// Package session implementa el motor de sesiones: emisión, resolución
// con rolling renewal, revocación y el cookie cache (espejo firmado y
// cifrado de {session,user} para evitar un hit al store por request).
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/cache"
	"github.com/dropDatabas3/portero/internal/plugin"
	"github.com/dropDatabas3/portero/internal/security/cookiesign"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
	tokens "github.com/dropDatabas3/portero/internal/security/token"
	"github.com/dropDatabas3/portero/internal/store/core"
)

// Policy son los knobs de sesión del deployment.
type Policy struct {
	ExpiresIn time.Duration // vida total de la sesión
	UpdateAge time.Duration // throttle del rolling renewal

	CookieName       string
	DataCookieName   string
	DontRememberName string
	CookieDomain     string
	SameSite         string
	Secure           bool

	// Cookie cache: ventana de staleness aceptada. Mutaciones directas al
	// usuario (admin update) NO se reflejan hasta que el TTL venza; quien
	// necesite consistencia fuerte pasa DisableCookieCache en esa lectura.
	CacheEnabled bool
	CacheTTL     time.Duration // default 5m

	// SecondaryEnabled espeja sesiones en el cache store (redis) keyed por
	// token hash; las lecturas intentan el espejo antes que el primario.
	SecondaryEnabled bool

	MultiTenant bool
}

func (p *Policy) defaults() {
	if p.ExpiresIn <= 0 {
		p.ExpiresIn = 7 * 24 * time.Hour
	}
	if p.UpdateAge <= 0 {
		p.UpdateAge = 24 * time.Hour
	}
	if p.CookieName == "" {
		p.CookieName = DefaultCookieName
	}
	if p.DataCookieName == "" {
		p.DataCookieName = DefaultDataCookieName
	}
	if p.DontRememberName == "" {
		p.DontRememberName = DefaultDontRememberName
	}
	if p.CacheTTL <= 0 {
		p.CacheTTL = 5 * time.Minute
	}
}

// Manager orquesta store primario, cache secundario y cookies.
type Manager struct {
	store   core.Repository
	second  cache.Cache // puede ser nil
	signer  *cookiesign.Signer
	box     *secretbox.Box
	policy  Policy
	plugins *plugin.AuthContext

	now func() time.Time // inyectable para tests de renewal
}

func NewManager(store core.Repository, second cache.Cache, signer *cookiesign.Signer, box *secretbox.Box, policy Policy, plugins *plugin.AuthContext) *Manager {
	policy.defaults()
	return &Manager{
		store:   store,
		second:  second,
		signer:  signer,
		box:     box,
		policy:  policy,
		plugins: plugins,
		now:     time.Now,
	}
}

// Policy expone la policy efectiva (read-only tras boot).
func (m *Manager) Policy() Policy { return m.policy }

// Meta es la metadata del request que queda en la fila de sesión.
type Meta struct {
	IPAddress string
	UserAgent string
}

// Resolved es el par {session,user} devuelto por Resolve.
type Resolved struct {
	Session   *core.Session
	User      map[string]any
	FromCache bool
}

// ResolveOpts modula una resolución puntual.
type ResolveOpts struct {
	// DisableCookieCache fuerza la lectura del store (consistencia fuerte).
	DisableCookieCache bool
	// DisableRefresh suprime el rolling renewal en esta lectura.
	DisableRefresh bool
}

// ─────────────────────────── Create ───────────────────────────

// Create emite una sesión nueva para userID: token opaco, fila en el
// primario, espejo opcional en el secundario y cookies en la respuesta.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter, tenantID, userID string, meta Meta, dontRemember bool) (*core.Session, error) {
	user, err := m.store.GetUserByID(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	ev := &plugin.Event{Op: "session.create", TenantID: tenantID, UserID: userID}
	if m.plugins != nil {
		if err := m.plugins.RunBefore(ctx, ev); err != nil {
			return nil, err
		}
	}

	raw, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	sess := &core.Session{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		UserID:    userID,
		TokenHash: tokens.SHA256Base64URL(raw),
		ExpiresAt: now.Add(m.policy.ExpiresIn),
		CreatedAt: now,
		UpdatedAt: now,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	m.mirrorSet(sess)

	m.setSessionCookie(w, raw, sess, user, dontRemember)

	if m.plugins != nil {
		ev.Data = map[string]any{"session_id": sess.ID}
		m.plugins.RunAfter(ctx, ev)
	}
	return sess, nil
}

// setSessionCookie es el primitivo compartido: firma el token, escribe la
// cookie principal, el marker dont_remember y refresca el cookie cache.
// Cambios de active-org/team reusan esto porque dejan el cache viejo.
func (m *Manager) setSessionCookie(w http.ResponseWriter, rawToken string, sess *core.Session, user *core.User, dontRemember bool) {
	maxAge := time.Until(sess.ExpiresAt)
	if dontRemember {
		maxAge = 0 // session cookie: muere con el browser
	}
	http.SetCookie(w, buildCookie(m.policy.CookieName, m.signer.Sign(rawToken),
		m.policy.CookieDomain, m.policy.SameSite, m.policy.Secure, maxAge))

	if dontRemember {
		http.SetCookie(w, buildCookie(m.policy.DontRememberName, m.signer.Sign("1"),
			m.policy.CookieDomain, m.policy.SameSite, m.policy.Secure, 0))
	}

	if m.policy.CacheEnabled && user != nil {
		if enc, err := m.encodeCookieCache(sess, user, m.now().UTC()); err == nil {
			http.SetCookie(w, buildCookie(m.policy.DataCookieName, enc,
				m.policy.CookieDomain, m.policy.SameSite, m.policy.Secure, m.policy.CacheTTL))
		}
	}
}

// ─────────────────────────── Resolve ───────────────────────────

// Resolve implementa getSession. Devuelve (nil, nil) para unauthenticated:
// cookie ausente, firma inválida, sesión vencida o de otro tenant. Los
// errores reales de store se propagan para que el caller los loguee como 500.
func (m *Manager) Resolve(ctx context.Context, w http.ResponseWriter, r *http.Request, tenantID string, opts ResolveOpts) (*Resolved, error) {
	ck, err := r.Cookie(m.policy.CookieName)
	if err != nil || ck.Value == "" {
		return nil, nil
	}
	rawToken, err := m.signer.Verify(ck.Value)
	if err != nil {
		// Firma rota: cookie forjada o secret rotado. Limpiar y salir.
		m.clearCookies(w)
		return nil, nil
	}
	now := m.now().UTC()
	tokenHash := tokens.SHA256Base64URL(rawToken)

	// Fast path: cookie cache vigente. Cero round-trips al store. El snapshot
	// sólo vale junto al token que lo emitió: mezclado con otro session_token
	// válido se ignora y se cae al store.
	if m.policy.CacheEnabled && !opts.DisableCookieCache {
		if dck, err := r.Cookie(m.policy.DataCookieName); err == nil && dck.Value != "" {
			if p, ok := m.decodeCookieCache(dck.Value, now); ok && p.TokenHash == tokenHash {
				if p.Session.ExpiresAt.After(now) && tenantMatches(tenantID, p.Session.TenantID) {
					// TokenHash no viaja dentro del Session JSON; se repone
					// del token presentado para que mirror/reissue funcionen.
					p.Session.TokenHash = tokenHash
					return &Resolved{Session: p.Session, User: p.User, FromCache: true}, nil
				}
			}
		}
	}

	sess, err := m.lookup(ctx, tenantID, tokenHash)
	if errors.Is(err, core.ErrNotFound) {
		m.clearCookies(w)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !sess.ExpiresAt.After(now) {
		// Lazy expiry cleanup: fila vencida se borra en la lectura.
		if derr := m.store.DeleteSession(ctx, tenantID, sess.ID); derr != nil && !errors.Is(derr, core.ErrNotFound) {
			log.Printf(`{"level":"warn","msg":"session_expiry_cleanup_failed","err":"%v"}`, derr)
		}
		m.mirrorDel(sess.TokenHash)
		m.clearCookies(w)
		return nil, nil
	}

	user, err := m.store.GetUserByID(ctx, tenantID, sess.UserID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			m.clearCookies(w)
			return nil, nil
		}
		return nil, err
	}

	dontRemember := m.hasDontRememberMarker(r)

	// Rolling renewal: sólo pasada la ventana de updateAge, y nunca con
	// el marker dont_remember presente.
	if !dontRemember && !opts.DisableRefresh {
		dueToBeUpdatedAt := sess.ExpiresAt.Add(-m.policy.ExpiresIn).Add(m.policy.UpdateAge)
		if !now.Before(dueToBeUpdatedAt) {
			newExp := now.Add(m.policy.ExpiresIn)
			ok, err := m.store.UpdateSessionExpiry(ctx, tenantID, sess.ID, newExp, now)
			if err != nil {
				return nil, err
			}
			if !ok {
				// Perdimos la carrera contra un revoke concurrente.
				m.mirrorDel(sess.TokenHash)
				m.clearCookies(w)
				return nil, nil
			}
			sess.ExpiresAt = newExp
			sess.UpdatedAt = now
			m.mirrorSet(sess)
			m.setSessionCookie(w, rawToken, sess, user, false)
			return &Resolved{Session: sess, User: m.FilterUser(user)}, nil
		}
	}

	// Refrescar el cookie cache aunque no haya renewal: la lectura ya pagó
	// el round-trip, el snapshot nuevo amortiza las siguientes.
	if m.policy.CacheEnabled && !opts.DisableCookieCache {
		if enc, err := m.encodeCookieCache(sess, user, now); err == nil {
			http.SetCookie(w, buildCookie(m.policy.DataCookieName, enc,
				m.policy.CookieDomain, m.policy.SameSite, m.policy.Secure, m.policy.CacheTTL))
		}
	}
	return &Resolved{Session: sess, User: m.FilterUser(user)}, nil
}

func tenantMatches(filter, row string) bool {
	return filter == "" || filter == row
}

func (m *Manager) hasDontRememberMarker(r *http.Request) bool {
	ck, err := r.Cookie(m.policy.DontRememberName)
	if err != nil || ck.Value == "" {
		return false
	}
	_, err = m.signer.Verify(ck.Value)
	return err == nil
}

// lookup intenta el espejo secundario antes del primario.
func (m *Manager) lookup(ctx context.Context, tenantID, tokenHash string) (*core.Session, error) {
	if m.policy.SecondaryEnabled && m.second != nil {
		if b, ok := m.second.Get("sid:" + tokenHash); ok {
			var sess core.Session
			if json.Unmarshal(b, &sess) == nil {
				if !tenantMatches(tenantID, sess.TenantID) {
					// Fila de otro tenant: not-found, sin tocar el primario.
					return nil, core.ErrNotFound
				}
				// TokenHash no viaja en JSON; se recupera de la key.
				sess.TokenHash = tokenHash
				return &sess, nil
			}
		}
	}
	return m.store.GetSessionByTokenHash(ctx, tenantID, tokenHash)
}

func (m *Manager) mirrorSet(sess *core.Session) {
	if !m.policy.SecondaryEnabled || m.second == nil {
		return
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return
	}
	m.second.Set("sid:"+sess.TokenHash, b, time.Until(sess.ExpiresAt))
}

func (m *Manager) mirrorDel(tokenHash string) {
	if m.second != nil {
		m.second.Delete("sid:" + tokenHash)
	}
}

func (m *Manager) clearCookies(w http.ResponseWriter) {
	http.SetCookie(w, buildDeletionCookie(m.policy.CookieName, m.policy.CookieDomain, m.policy.SameSite, m.policy.Secure))
	http.SetCookie(w, buildDeletionCookie(m.policy.DataCookieName, m.policy.CookieDomain, m.policy.SameSite, m.policy.Secure))
	http.SetCookie(w, buildDeletionCookie(m.policy.DontRememberName, m.policy.CookieDomain, m.policy.SameSite, m.policy.Secure))
}

// ─────────────────────────── Revoke ───────────────────────────

// RevokeCurrent invalida la sesión del request (sign-out).
func (m *Manager) RevokeCurrent(ctx context.Context, w http.ResponseWriter, r *http.Request, tenantID string) error {
	ck, err := r.Cookie(m.policy.CookieName)
	if err == nil && ck.Value != "" {
		if rawToken, verr := m.signer.Verify(ck.Value); verr == nil {
			hash := tokens.SHA256Base64URL(rawToken)
			if derr := m.store.DeleteSessionByTokenHash(ctx, tenantID, hash); derr != nil && !errors.Is(derr, core.ErrNotFound) {
				return derr
			}
			m.mirrorDel(hash)
		}
	}
	m.clearCookies(w)
	return nil
}

// RevokeByID borra una sesión puntual del usuario (debe pertenecerle).
func (m *Manager) RevokeByID(ctx context.Context, tenantID, userID, sessionID string) error {
	sessions, err := m.store.ListSessionsForUser(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			if err := m.store.DeleteSession(ctx, tenantID, s.ID); err != nil {
				return err
			}
			m.mirrorDel(s.TokenHash)
			if m.plugins != nil {
				m.plugins.RunAfter(ctx, &plugin.Event{Op: "session.revoke", TenantID: tenantID, UserID: userID,
					Data: map[string]any{"session_id": sessionID}})
			}
			return nil
		}
	}
	return core.ErrNotFound
}

// RevokeAll borra todas las sesiones del usuario; exceptSessionID != ""
// preserva la actual (semántica revokeOtherSessions).
func (m *Manager) RevokeAll(ctx context.Context, tenantID, userID, exceptSessionID string) error {
	sessions, err := m.store.ListSessionsForUser(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteSessionsForUser(ctx, tenantID, userID, exceptSessionID); err != nil {
		return err
	}
	for _, s := range sessions {
		if s.ID != exceptSessionID {
			m.mirrorDel(s.TokenHash)
		}
	}
	return nil
}

// List devuelve las sesiones vivas del usuario.
func (m *Manager) List(ctx context.Context, tenantID, userID string) ([]*core.Session, error) {
	return m.store.ListSessionsForUser(ctx, tenantID, userID)
}

// ─────────────── Active organization / team ───────────────

// SetActiveOrganization mueve el puntero de org activa y re-emite la cookie
// (el cookie cache quedó stale con el puntero viejo).
func (m *Manager) SetActiveOrganization(ctx context.Context, w http.ResponseWriter, r *http.Request, res *Resolved, orgID *string) error {
	tenantID := res.Session.TenantID
	if err := m.store.UpdateSessionActiveOrg(ctx, tenantID, res.Session.ID, orgID); err != nil {
		return err
	}
	res.Session.ActiveOrganizationID = orgID
	res.Session.ActiveTeamID = nil
	m.mirrorSet(res.Session)
	m.reissueDataCookie(ctx, w, r, res.Session)
	return nil
}

// SetActiveTeam ídem para el team activo.
func (m *Manager) SetActiveTeam(ctx context.Context, w http.ResponseWriter, r *http.Request, res *Resolved, teamID *string) error {
	tenantID := res.Session.TenantID
	if err := m.store.UpdateSessionActiveTeam(ctx, tenantID, res.Session.ID, teamID); err != nil {
		return err
	}
	res.Session.ActiveTeamID = teamID
	m.mirrorSet(res.Session)
	m.reissueDataCookie(ctx, w, r, res.Session)
	return nil
}

func (m *Manager) reissueDataCookie(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *core.Session) {
	if !m.policy.CacheEnabled {
		return
	}
	user, err := m.store.GetUserByID(ctx, sess.TenantID, sess.UserID)
	if err != nil {
		return
	}
	if enc, err := m.encodeCookieCache(sess, user, m.now().UTC()); err == nil {
		http.SetCookie(w, buildCookie(m.policy.DataCookieName, enc,
			m.policy.CookieDomain, m.policy.SameSite, m.policy.Secure, m.policy.CacheTTL))
	}
}
