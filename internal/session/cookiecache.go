package session

import (
	"encoding/json"
	"time"

	"github.com/dropDatabas3/portero/internal/store/core"
)

// cachePayload es el snapshot {session,user} que viaja en session_data.
// User va como map ya filtrado por el schema (campos returned=false fuera);
// ExpiresAt es el TTL propio del cache, independiente del de la sesión.
// TokenHash ata el snapshot al session_token que lo emitió: una session_data
// de otra sesión del mismo user no sirve como fast path.
type cachePayload struct {
	Session   *core.Session  `json:"session"`
	User      map[string]any `json:"user"`
	TokenHash string         `json:"token_hash"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// encodeCookieCache cifra+autentica el payload (AES-GCM vía secretbox).
func (m *Manager) encodeCookieCache(sess *core.Session, user *core.User, now time.Time) (string, error) {
	p := cachePayload{
		Session:   sess,
		User:      m.FilterUser(user),
		TokenHash: sess.TokenHash,
		ExpiresAt: now.Add(m.policy.CacheTTL),
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return m.box.Encrypt(b)
}

// decodeCookieCache revierte encodeCookieCache. Cualquier cookie alterada,
// ilegible o vencida se trata como cache miss, nunca como error.
func (m *Manager) decodeCookieCache(raw string, now time.Time) (*cachePayload, bool) {
	pt, err := m.box.Decrypt(raw)
	if err != nil {
		return nil, false
	}
	var p cachePayload
	if err := json.Unmarshal(pt, &p); err != nil {
		return nil, false
	}
	if p.Session == nil || now.After(p.ExpiresAt) {
		return nil, false
	}
	return &p, true
}

// FilterUser aplana el usuario a un map y filtra metadata por schema.
// Es la ÚNICA forma de serializar un core.User hacia el cliente: campos
// returned=false nunca salen por acá.
func (m *Manager) FilterUser(u *core.User) map[string]any {
	if u == nil {
		return nil
	}
	out := map[string]any{
		"id":             u.ID,
		"email":          u.Email,
		"email_verified": u.EmailVerified,
		"name":           u.Name,
		"image":          u.Image,
		"created_at":     u.CreatedAt,
		"updated_at":     u.UpdatedAt,
	}
	if u.TenantID != "" {
		out["tenant_id"] = u.TenantID
	}
	if m.plugins != nil {
		for k, v := range m.plugins.UserSchema().FilterReturned(u.Metadata) {
			out[k] = v
		}
	} else {
		for k, v := range u.Metadata {
			out[k] = v
		}
	}
	return out
}
