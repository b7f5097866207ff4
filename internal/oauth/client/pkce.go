package client

import tokens "github.com/dropDatabas3/portero/internal/security/token"

// GeneratePKCE devuelve (code_verifier, code_challenge) S256.
// Sólo S256: plain no se emite nunca.
func GeneratePKCE() (verifier, challenge string, err error) {
	verifier, err = tokens.GenerateOpaqueToken(32)
	if err != nil {
		return "", "", err
	}
	return verifier, tokens.SHA256Base64URL(verifier), nil
}
