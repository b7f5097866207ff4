package jwt

import "encoding/base64"

// JWK es la representación pública de una clave para /jwks.
type JWK struct {
	KID string `json:"kid"`
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	X   string `json:"x,omitempty"`
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// BuildJWKS arma el key set público del Issuer.
// En modo HMAC devuelve un set vacío: claves simétricas jamás se publican.
func (i *Issuer) BuildJWKS() JWKS {
	out := JWKS{Keys: []JWK{}}
	if i.Keys == nil {
		return out
	}
	for _, k := range i.Keys.Snapshot() {
		if len(k.PublicKey) == 0 {
			continue
		}
		out.Keys = append(out.Keys, JWK{
			KID: k.KID,
			Kty: "OKP",
			Crv: "Ed25519",
			Alg: k.Alg,
			Use: "sig",
			X:   base64.RawURLEncoding.EncodeToString(k.PublicKey),
		})
	}
	return out
}
