package client

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/portero/internal/plugin"
	"github.com/dropDatabas3/portero/internal/store/core"
)

var (
	// ErrSignupDisabled: sujeto desconocido con implicit sign-up apagado y
	// sin requestSignUp explícito.
	ErrSignupDisabled = errors.New("provider signup disabled")
	// ErrAccountNotLinked: existe un usuario con ese email pero el provider
	// no está en la allow-list de auto-linking.
	ErrAccountNotLinked = errors.New("account not linked")
)

// Flow resuelve el tramo post-callback: perfil → Account → User.
type Flow struct {
	store   core.Repository
	plugins *plugin.AuthContext
	now     func() time.Time
}

func NewFlow(store core.Repository, plugins *plugin.AuthContext) *Flow {
	return &Flow{store: store, plugins: plugins, now: time.Now}
}

// Result es el desenlace de LinkOrCreate.
type Result struct {
	UserID    string
	IsNewUser bool
}

// LinkOrCreate aplica las reglas de vinculación:
//  1. Account (providerId, subject) existente → actualizar tokens, usar su user.
//  2. Usuario existente con el email del perfil → link sólo si el provider
//     es trusted; si no, ErrAccountNotLinked.
//  3. Nadie → sign-up, salvo DisableImplicitSignUp sin requestSignUp.
//
// El orden de creación user-antes-que-account garantiza que nunca queda un
// Account huérfano: si la segunda escritura falla, queda un user sin
// account, que el próximo callback repara por la rama de email.
func (f *Flow) LinkOrCreate(ctx context.Context, tenantID string, p *Provider, prof *Profile, tr *TokenResponse, requestSignUp bool) (*Result, error) {
	acct, err := f.store.GetAccountByProviderSubject(ctx, tenantID, p.ID, prof.Subject)
	if err == nil {
		if uerr := f.refreshAccountTokens(ctx, acct, tr); uerr != nil {
			return nil, uerr
		}
		if p.OverrideUserInfo {
			f.overrideProfile(ctx, tenantID, acct.UserID, prof)
		}
		return &Result{UserID: acct.UserID}, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	// Sin vínculo previo: buscar por email.
	if prof.Email != "" {
		u, err := f.store.GetUserByEmail(ctx, tenantID, prof.Email)
		if err == nil {
			if !p.TrustedForLinking || !prof.EmailVerified {
				return nil, ErrAccountNotLinked
			}
			if err := f.createAccount(ctx, tenantID, u.ID, p.ID, prof.Subject, tr); err != nil {
				return nil, err
			}
			return &Result{UserID: u.ID}, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
	}

	// Usuario nuevo.
	if p.DisableImplicitSignUp && !requestSignUp {
		return nil, ErrSignupDisabled
	}
	now := f.now().UTC()
	u := &core.User{
		ID:            uuid.NewString(),
		TenantID:      tenantID,
		Email:         prof.Email,
		EmailVerified: prof.EmailVerified,
		Name:          prof.Name,
		Image:         prof.Picture,
		Status:        "active",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	ev := &plugin.Event{Op: "user.create", TenantID: tenantID, Data: map[string]any{"email": u.Email, "provider": p.ID}}
	if f.plugins != nil {
		if err := f.plugins.RunBefore(ctx, ev); err != nil {
			return nil, err
		}
	}
	if err := f.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, core.ErrConflict) {
			// Carrera con otro callback del mismo email: reintentar el link.
			if u2, gerr := f.store.GetUserByEmail(ctx, tenantID, prof.Email); gerr == nil {
				if !p.TrustedForLinking || !prof.EmailVerified {
					return nil, ErrAccountNotLinked
				}
				if cerr := f.createAccount(ctx, tenantID, u2.ID, p.ID, prof.Subject, tr); cerr != nil {
					return nil, cerr
				}
				return &Result{UserID: u2.ID}, nil
			}
		}
		return nil, err
	}
	if err := f.createAccount(ctx, tenantID, u.ID, p.ID, prof.Subject, tr); err != nil {
		return nil, err
	}
	if f.plugins != nil {
		ev.UserID = u.ID
		f.plugins.RunAfter(ctx, ev)
	}
	return &Result{UserID: u.ID, IsNewUser: true}, nil
}

func (f *Flow) createAccount(ctx context.Context, tenantID, userID, providerID, subject string, tr *TokenResponse) error {
	now := f.now().UTC()
	a := &core.Account{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		UserID:     userID,
		ProviderID: providerID,
		AccountID:  subject,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	applyTokens(a, tr, now)
	return f.store.CreateAccount(ctx, a)
}

func (f *Flow) refreshAccountTokens(ctx context.Context, a *core.Account, tr *TokenResponse) error {
	applyTokens(a, tr, f.now().UTC())
	return f.store.UpdateAccountTokens(ctx, a)
}

func applyTokens(a *core.Account, tr *TokenResponse, now time.Time) {
	if tr == nil {
		return
	}
	a.UpdatedAt = now
	a.AccessToken = strPtr(tr.AccessToken)
	if tr.RefreshToken != "" {
		a.RefreshToken = strPtr(tr.RefreshToken)
	}
	if tr.IDToken != "" {
		a.IDToken = strPtr(tr.IDToken)
	}
	if tr.Scope != "" {
		a.Scope = strPtr(tr.Scope)
	}
	if tr.ExpiresIn > 0 {
		exp := now.Add(time.Duration(tr.ExpiresIn) * time.Second)
		a.AccessTokenExpiresAt = &exp
	}
}

func (f *Flow) overrideProfile(ctx context.Context, tenantID, userID string, prof *Profile) {
	u, err := f.store.GetUserByID(ctx, tenantID, userID)
	if err != nil {
		return
	}
	changed := false
	if prof.Name != "" && prof.Name != u.Name {
		u.Name = prof.Name
		changed = true
	}
	if prof.Picture != "" && prof.Picture != u.Image {
		u.Image = prof.Picture
		changed = true
	}
	if changed {
		u.UpdatedAt = f.now().UTC()
		_ = f.store.UpdateUser(ctx, u)
	}
}

// GetAccessToken devuelve un access token vigente para la cuenta vinculada,
// refrescando lazy contra el provider si el guardado ya venció.
func (f *Flow) GetAccessToken(ctx context.Context, hc *HTTPClient, p *Provider, tenantID, userID string) (string, error) {
	accts, err := f.store.GetAccountsForUser(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	var acct *core.Account
	for _, a := range accts {
		if a.ProviderID == p.ID {
			acct = a
			break
		}
	}
	if acct == nil || acct.AccessToken == nil {
		return "", core.ErrNotFound
	}
	now := f.now().UTC()
	if acct.AccessTokenExpiresAt == nil || acct.AccessTokenExpiresAt.After(now) {
		return *acct.AccessToken, nil
	}
	if acct.RefreshToken == nil {
		return "", core.ErrNotFound
	}
	tr, err := hc.RefreshAccessToken(ctx, p, *acct.RefreshToken)
	if err != nil {
		return "", err
	}
	if err := f.refreshAccountTokens(ctx, acct, tr); err != nil {
		return "", err
	}
	return tr.AccessToken, nil
}

func strPtr(s string) *string { return &s }
