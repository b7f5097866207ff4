// Package cookiesign firma valores de cookie con HMAC-SHA256.
// Formato: <valor>.<base64url(mac)>. El valor nunca lleva puntos
// (tokens opacos base64url), así que el split por el último '.' es seguro.
package cookiesign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

var ErrBadSignature = errors.New("cookiesign: invalid signature")

// Signer firma y verifica valores con un secret compartido del servidor.
type Signer struct {
	secret []byte
}

func New(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) mac(value string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(value))
	return h.Sum(nil)
}

// Sign devuelve value.mac.
func (s *Signer) Sign(value string) string {
	return value + "." + base64.RawURLEncoding.EncodeToString(s.mac(value))
}

// Verify valida la firma y devuelve el valor original.
// La comparación es en tiempo constante.
func (s *Signer) Verify(signed string) (string, error) {
	idx := strings.LastIndexByte(signed, '.')
	if idx <= 0 || idx == len(signed)-1 {
		return "", ErrBadSignature
	}
	value, macB64 := signed[:idx], signed[idx+1:]
	got, err := base64.RawURLEncoding.DecodeString(macB64)
	if err != nil {
		return "", ErrBadSignature
	}
	if !hmac.Equal(got, s.mac(value)) {
		return "", ErrBadSignature
	}
	return value, nil
}
