// Package memory implementa core.Repository sobre maps con mutex.
// Driver para desarrollo y tests; la semántica (tenant scoping, errores,
// condiciones de carrera en UpdateSessionExpiry) replica la del driver pg.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/portero/internal/store/core"
	"github.com/google/uuid"
)

type Store struct {
	mu sync.RWMutex

	users         map[string]*core.User         // id
	sessions      map[string]*core.Session      // id
	accounts      map[string]*core.Account      // id
	clients       map[string]*core.OAuthClient  // client_id
	consents      map[string]*core.OAuthConsent // id
	refreshTokens map[string]*core.RefreshToken // id
	ssoProviders  map[string]*core.SSOProvider  // provider_id
}

func New() *Store {
	return &Store{
		users:         map[string]*core.User{},
		sessions:      map[string]*core.Session{},
		accounts:      map[string]*core.Account{},
		clients:       map[string]*core.OAuthClient{},
		consents:      map[string]*core.OAuthConsent{},
		refreshTokens: map[string]*core.RefreshToken{},
		ssoProviders:  map[string]*core.SSOProvider{},
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

// tenantMatch aplica el scoping: tenantID vacío = multi-tenancy off.
func tenantMatch(filter, row string) bool {
	return filter == "" || strings.EqualFold(filter, row)
}

// ───────────────────────── Users ─────────────────────────

func (s *Store) CreateUser(ctx context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	// Unicidad de email por tenant exacto, como los índices parciales de pg:
	// el tenant vacío es su propio scope, no un comodín.
	for _, ex := range s.users {
		if ex.TenantID == u.TenantID && strings.EqualFold(ex.Email, u.Email) {
			return core.ErrConflict
		}
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, tenantID, id string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || !tenantMatch(tenantID, u.TenantID) {
		return nil, core.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, tenantID, email string) (*core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if tenantMatch(tenantID, u.TenantID) && strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) UpdateUser(ctx context.Context, u *core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.users[u.ID]
	if !ok || !tenantMatch(u.TenantID, ex.TenantID) {
		return core.ErrNotFound
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// ─────────────────────── Sessions ───────────────────────

func (s *Store) CreateSession(ctx context.Context, sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	for _, ex := range s.sessions {
		if ex.TokenHash == sess.TokenHash {
			return core.ErrConflict
		}
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tenantID, tokenHash string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			// Una fila de otro tenant se comporta como not-found.
			if !tenantMatch(tenantID, sess.TenantID) {
				return nil, core.ErrNotFound
			}
			cp := *sess
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) UpdateSessionExpiry(ctx context.Context, tenantID, id string, expiresAt, updatedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !tenantMatch(tenantID, sess.TenantID) {
		return false, nil
	}
	sess.ExpiresAt = expiresAt
	sess.UpdatedAt = updatedAt
	return true, nil
}

func (s *Store) UpdateSessionActiveOrg(ctx context.Context, tenantID, id string, orgID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !tenantMatch(tenantID, sess.TenantID) {
		return core.ErrNotFound
	}
	sess.ActiveOrganizationID = orgID
	// Cambiar de org resetea el team activo.
	sess.ActiveTeamID = nil
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) UpdateSessionActiveTeam(ctx context.Context, tenantID, id string, teamID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !tenantMatch(tenantID, sess.TenantID) {
		return core.ErrNotFound
	}
	sess.ActiveTeamID = teamID
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !tenantMatch(tenantID, sess.TenantID) {
		return core.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteSessionByTokenHash(ctx context.Context, tenantID, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.TokenHash == tokenHash && tenantMatch(tenantID, sess.TenantID) {
			delete(s.sessions, id)
			return nil
		}
	}
	return core.ErrNotFound
}

func (s *Store) DeleteSessionsForUser(ctx context.Context, tenantID, userID, exceptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UserID == userID && tenantMatch(tenantID, sess.TenantID) && id != exceptID {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *Store) ListSessionsForUser(ctx context.Context, tenantID, userID string) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Session
	now := time.Now()
	for _, sess := range s.sessions {
		if sess.UserID == userID && tenantMatch(tenantID, sess.TenantID) && sess.ExpiresAt.After(now) {
			cp := *sess
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ─────────────────────── Accounts ───────────────────────

func (s *Store) CreateAccount(ctx context.Context, a *core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	// Mismo scoping exacto que el índice único de pg sobre
	// (provider_id, account_id, COALESCE(tenant_id,'')).
	for _, ex := range s.accounts {
		if ex.TenantID == a.TenantID && ex.ProviderID == a.ProviderID && ex.AccountID == a.AccountID {
			return core.ErrConflict
		}
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Store) GetAccountByProviderSubject(ctx context.Context, tenantID, providerID, subject string) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if tenantMatch(tenantID, a.TenantID) && a.ProviderID == providerID && a.AccountID == subject {
			cp := *a
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) GetAccountsForUser(ctx context.Context, tenantID, userID string) ([]*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Account
	for _, a := range s.accounts {
		if tenantMatch(tenantID, a.TenantID) && a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateAccountTokens(ctx context.Context, a *core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.accounts[a.ID]
	if !ok {
		return core.ErrNotFound
	}
	ex.AccessToken = a.AccessToken
	ex.RefreshToken = a.RefreshToken
	ex.AccessTokenExpiresAt = a.AccessTokenExpiresAt
	ex.RefreshTokenExpiresAt = a.RefreshTokenExpiresAt
	ex.Scope = a.Scope
	ex.IDToken = a.IDToken
	ex.UpdatedAt = time.Now().UTC()
	return nil
}

// ───────────────────── OAuth clients ─────────────────────

func (s *Store) CreateOAuthClient(ctx context.Context, c *core.OAuthClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ClientID]; ok {
		return core.ErrConflict
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	s.clients[c.ClientID] = &cp
	return nil
}

func (s *Store) GetOAuthClientByClientID(ctx context.Context, clientID string) (*core.OAuthClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ─────────────────────── Consents ───────────────────────

func (s *Store) UpsertConsent(ctx context.Context, c *core.OAuthConsent) (*core.OAuthConsent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, ex := range s.consents {
		if tenantMatch(c.TenantID, ex.TenantID) && ex.ClientID == c.ClientID && ex.UserID == c.UserID && ex.ReferenceID == c.ReferenceID {
			ex.Scopes = append([]string(nil), c.Scopes...)
			ex.UpdatedAt = now
			cp := *ex
			return &cp, nil
		}
	}
	n := *c
	n.ID = uuid.NewString()
	n.CreatedAt = now
	n.UpdatedAt = now
	s.consents[n.ID] = &n
	cp := n
	return &cp, nil
}

func (s *Store) GetConsent(ctx context.Context, tenantID, clientID, userID, referenceID string) (*core.OAuthConsent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.consents {
		if tenantMatch(tenantID, c.TenantID) && c.ClientID == clientID && c.UserID == userID && c.ReferenceID == referenceID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

// ──────────────────── Refresh tokens ────────────────────

func (s *Store) CreateRefreshToken(ctx context.Context, rt *core.RefreshToken) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := *rt
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.IssuedAt.IsZero() {
		n.IssuedAt = time.Now().UTC()
	}
	s.refreshTokens[n.ID] = &n
	return n.ID, nil
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*core.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rt := range s.refreshTokens {
		if rt.TokenHash == tokenHash {
			cp := *rt
			return &cp, nil
		}
	}
	return nil, core.ErrNotFound
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refreshTokens[id]
	if !ok {
		return core.ErrNotFound
	}
	now := time.Now().UTC()
	rt.RevokedAt = &now
	return nil
}

// ───────────────────── SSO providers ─────────────────────

func (s *Store) CreateSSOProvider(ctx context.Context, p *core.SSOProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ssoProviders[p.ProviderID]; ok {
		return core.ErrConflict
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	s.ssoProviders[p.ProviderID] = &cp
	return nil
}

func (s *Store) GetSSOProviderByProviderID(ctx context.Context, providerID string) (*core.SSOProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.ssoProviders[providerID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) UpdateSSOProviderConfig(ctx context.Context, providerID string, cfg *core.OIDCConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ssoProviders[providerID]
	if !ok {
		return core.ErrNotFound
	}
	p.OIDCConfig = cfg
	return nil
}
