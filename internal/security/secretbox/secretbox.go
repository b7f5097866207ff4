// Package secretbox cifra payloads chicos con AES-256-GCM.
// Se usa para el cookie cache de sesión (session_data) y para secrets
// de providers guardados en la config. Formato: base64(nonce)|base64(ct).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	nonceSizeGCM      = 12 // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32 // 32 bytes => AES-256
	sep               = "|"
)

var ErrBadKey = errors.New("secretbox: key must decode to 32 bytes")

// Box encapsula una clave maestra. A diferencia de una global de proceso,
// permite que cada componente reciba su clave por inyección (config).
type Box struct {
	key []byte
}

// New construye un Box a partir de una clave base64 (std o raw).
func New(keyB64 string) (*Box, error) {
	keyB64 = strings.TrimSpace(keyB64)
	if keyB64 == "" {
		return nil, fmt.Errorf("secretbox: empty key; genere una con: openssl rand -base64 32")
	}
	k, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		k, err = base64.RawStdEncoding.DecodeString(keyB64)
		if err != nil {
			return nil, fmt.Errorf("secretbox: decode key: %w", err)
		}
	}
	if len(k) != requiredKeyLength {
		return nil, ErrBadKey
	}
	b := &Box{key: make([]byte, requiredKeyLength)}
	copy(b.key, k)
	return b, nil
}

// Derive construye un Box desde una clave raw de 32 bytes (p.ej. sha256 del secret).
func Derive(raw [32]byte) *Box {
	b := &Box{key: make([]byte, requiredKeyLength)}
	copy(b.key, raw[:])
	return b
}

// Encrypt cifra plainText y devuelve base64(nonce)|base64(ciphertext).
func (b *Box) Encrypt(plainText []byte) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	ct := aesgcm.Seal(nil, nonce, plainText, nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt revierte Encrypt. Falla si el ciphertext fue alterado (GCM auth).
func (b *Box) Decrypt(cipherText string) ([]byte, error) {
	parts := strings.SplitN(cipherText, sep, 2)
	if len(parts) != 2 {
		return nil, errors.New("secretbox: malformed ciphertext")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSizeGCM {
		return nil, errors.New("secretbox: bad nonce")
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("secretbox: bad ciphertext")
	}
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("secretbox: open: %w", err)
	}
	return pt, nil
}
