package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// KeyStatus del ciclo de rotación.
type KeyStatus string

const (
	KeyActive   KeyStatus = "active"
	KeyRetiring KeyStatus = "retiring"
)

// SigningKey es un par Ed25519 con su KID.
type SigningKey struct {
	KID        string    `json:"kid"`
	Alg        string    `json:"alg"` // "EdDSA"
	PublicKey  []byte    `json:"public_key"`
	PrivateKey []byte    `json:"private_key,omitempty"`
	Status     KeyStatus `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Keystore guarda las claves de firma asimétrica. Su presencia habilita
// EdDSA; si es nil el Issuer degrada a HMAC con el server secret.
type Keystore struct {
	mu   sync.RWMutex
	keys []SigningKey
}

var ErrNoActiveKey = errors.New("jwt: no active signing key")

// NewKeystore genera una clave activa nueva en memoria.
func NewKeystore() (*Keystore, error) {
	ks := &Keystore{}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// LoadKeystore lee una clave persistida en JSON (generada con `portero keys`).
func LoadKeystore(path string) (*Keystore, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks []SigningKey
	if err := json.Unmarshal(b, &ks); err != nil {
		return nil, fmt.Errorf("jwt: parse keystore: %w", err)
	}
	for _, k := range ks {
		if k.Status == KeyActive && len(k.PrivateKey) == ed25519.PrivateKeySize {
			return &Keystore{keys: ks}, nil
		}
	}
	return nil, ErrNoActiveKey
}

// Rotate genera una clave nueva como activa y marca la anterior retiring.
// La retiring sigue publicada en JWKS para validar tokens en vuelo.
func (ks *Keystore) Rotate() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(pub)
	k := SigningKey{
		KID:        base64.RawURLEncoding.EncodeToString(sum[:8]),
		Alg:        "EdDSA",
		PublicKey:  pub,
		PrivateKey: priv,
		Status:     KeyActive,
		CreatedAt:  time.Now().UTC(),
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for i := range ks.keys {
		if ks.keys[i].Status == KeyActive {
			ks.keys[i].Status = KeyRetiring
		}
	}
	ks.keys = append(ks.keys, k)
	return nil
}

// Active devuelve (kid, priv, pub) de la clave activa.
func (ks *Keystore) Active() (string, ed25519.PrivateKey, ed25519.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	for i := len(ks.keys) - 1; i >= 0; i-- {
		k := ks.keys[i]
		if k.Status == KeyActive {
			return k.KID, ed25519.PrivateKey(k.PrivateKey), ed25519.PublicKey(k.PublicKey), nil
		}
	}
	return "", nil, nil, ErrNoActiveKey
}

// PublicKeyByKID resuelve la pubkey por kid (active o retiring).
func (ks *Keystore) PublicKeyByKID(kid string) (ed25519.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	for _, k := range ks.keys {
		if k.KID == kid {
			return ed25519.PublicKey(k.PublicKey), nil
		}
	}
	return nil, fmt.Errorf("jwt: unknown kid %q", kid)
}

// Export devuelve las claves completas, material privado incluido.
// Sólo lo usa el CLI para persistir el keystore a disco.
func (ks *Keystore) Export() []SigningKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]SigningKey, len(ks.keys))
	copy(out, ks.keys)
	return out
}

// Snapshot devuelve las claves sin material privado (para JWKS).
func (ks *Keystore) Snapshot() []SigningKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]SigningKey, 0, len(ks.keys))
	for _, k := range ks.keys {
		k.PrivateKey = nil
		out = append(out, k)
	}
	return out
}
