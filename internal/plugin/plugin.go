// Package plugin es la capa de composición: cada feature aporta schema,
// endpoints y hooks como registros tipados que se resuelven UNA vez en
// boot a un AuthContext inmutable. Nada de monkey-patching en runtime;
// el orden de registro define la precedencia y es determinístico.
package plugin

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"

	jwtx "github.com/dropDatabas3/portero/internal/jwt"
	"github.com/dropDatabas3/portero/internal/schema"
)

// Event es el payload que ven los hooks before/after.
type Event struct {
	Op       string // "session.create", "session.revoke", "oauth.callback", "oauth.token", ...
	TenantID string
	UserID   string
	Data     map[string]any
}

// Hook se ejecuta antes o después de una operación. Un error en un hook
// before aborta la operación; en after sólo se loguea.
type Hook func(ctx context.Context, ev *Event) error

// Plugin es el registro de capacidades de una feature.
type Plugin struct {
	ID string

	// UserSchema aporta campos user-defined al schema del usuario.
	UserSchema schema.Table

	// Routes monta endpoints propios del plugin.
	Routes func(r chi.Router)

	// Before/After por operación.
	Before map[string][]Hook
	After  map[string][]Hook

	// SigningKeys: capacidad de firma asimétrica (el "JWT plugin").
	// Si algún plugin la aporta, el provider firma EdDSA y publica JWKS.
	SigningKeys *jwtx.Keystore

	// UserInfoClaims permite a un plugin sumar claims al userinfo response.
	UserInfoClaims func(ctx context.Context, userID string, scopes []string) map[string]any
}

// AuthContext es el resultado inmutable del fold de plugins.
type AuthContext struct {
	userSchema     schema.Table
	routes         []func(chi.Router)
	before         map[string][]Hook
	after          map[string][]Hook
	signingKeys    *jwtx.Keystore
	userInfoClaims []func(ctx context.Context, userID string, scopes []string) map[string]any
}

// Registry acumula plugins en orden de declaración.
type Registry struct {
	plugins []Plugin
	ids     map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{ids: map[string]bool{}}
}

func (r *Registry) Register(p Plugin) error {
	if p.ID == "" {
		return fmt.Errorf("plugin: empty id")
	}
	if r.ids[p.ID] {
		return fmt.Errorf("plugin: duplicate id %q", p.ID)
	}
	r.ids[p.ID] = true
	r.plugins = append(r.plugins, p)
	return nil
}

// Compose hace el fold single-pass sobre la lista ordenada de plugins.
// Ante colisión (schema, signing keys) gana el declarado más tarde.
func (r *Registry) Compose() *AuthContext {
	ac := &AuthContext{
		userSchema: schema.Table{},
		before:     map[string][]Hook{},
		after:      map[string][]Hook{},
	}
	for _, p := range r.plugins {
		ac.userSchema = schema.Merge(ac.userSchema, p.UserSchema)
		if p.Routes != nil {
			ac.routes = append(ac.routes, p.Routes)
		}
		for op, hs := range p.Before {
			ac.before[op] = append(ac.before[op], hs...)
		}
		for op, hs := range p.After {
			ac.after[op] = append(ac.after[op], hs...)
		}
		if p.SigningKeys != nil {
			ac.signingKeys = p.SigningKeys
		}
		if p.UserInfoClaims != nil {
			ac.userInfoClaims = append(ac.userInfoClaims, p.UserInfoClaims)
		}
	}
	return ac
}

// UserSchema devuelve la tabla compuesta de campos user-defined.
func (a *AuthContext) UserSchema() schema.Table { return a.userSchema }

// SigningKeys devuelve el keystore si algún plugin lo aportó (puede ser nil).
func (a *AuthContext) SigningKeys() *jwtx.Keystore { return a.signingKeys }

// MountRoutes monta las rutas de todos los plugins.
func (a *AuthContext) MountRoutes(r chi.Router) {
	for _, f := range a.routes {
		f(r)
	}
}

// RunBefore ejecuta los hooks before de op; el primer error aborta.
func (a *AuthContext) RunBefore(ctx context.Context, ev *Event) error {
	for _, h := range a.before[ev.Op] {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// RunAfter ejecuta los hooks after de op; los errores no abortan.
func (a *AuthContext) RunAfter(ctx context.Context, ev *Event) {
	for _, h := range a.after[ev.Op] {
		_ = h(ctx, ev)
	}
}

// AdditionalUserInfoClaims junta los claims aportados por plugins.
func (a *AuthContext) AdditionalUserInfoClaims(ctx context.Context, userID string, scopes []string) map[string]any {
	out := map[string]any{}
	for _, f := range a.userInfoClaims {
		for k, v := range f(ctx, userID, scopes) {
			out[k] = v
		}
	}
	return out
}
