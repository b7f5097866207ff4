// Package jwt emite y valida los tokens del provider (access, id_token).
package jwt

import (
	"crypto/ed25519"
	"log"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Issuer firma tokens. Con keystore presente firma EdDSA y publica JWKS;
// sin keystore degrada a HMAC-SHA256 con el server secret. La degradación
// es una decisión de capability-detection: operadores sin setup de claves
// siguen teniendo id_tokens funcionales, a costa de rotación de claves.
type Issuer struct {
	Iss       string
	Keys      *Keystore // nil => HMAC
	Secret    []byte    // server secret, usado sólo en modo HMAC
	AccessTTL time.Duration
	IDTTL     time.Duration
}

func NewIssuer(iss string, ks *Keystore, secret string) *Issuer {
	if ks == nil {
		log.Printf(`{"level":"warn","msg":"jwt_symmetric_fallback","detail":"no signing keystore configured; id_tokens will be HMAC-signed and JWKS will be empty"}`)
	}
	return &Issuer{
		Iss:       iss,
		Keys:      ks,
		Secret:    []byte(secret),
		AccessTTL: 15 * time.Minute,
		IDTTL:     15 * time.Minute,
	}
}

// Alg devuelve el algoritmo efectivo de firma.
func (i *Issuer) Alg() string {
	if i.Keys != nil {
		return "EdDSA"
	}
	return "HS256"
}

func (i *Issuer) sign(claims jwtv5.MapClaims) (string, error) {
	if i.Keys != nil {
		kid, priv, _, err := i.Keys.Active()
		if err != nil {
			return "", err
		}
		tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
		tk.Header["kid"] = kid
		tk.Header["typ"] = "JWT"
		return tk.SignedString(priv)
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	return tk.SignedString(i.Secret)
}

// Keyfunc elige la clave de verificación por 'kid' (EdDSA) o el secret (HMAC).
func (i *Issuer) Keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		if i.Keys == nil {
			return i.Secret, nil
		}
		kid, _ := t.Header["kid"].(string)
		if kid != "" {
			return i.Keys.PublicKeyByKID(kid)
		}
		_, _, pub, err := i.Keys.Active()
		if err != nil {
			return nil, err
		}
		return ed25519.PublicKey(pub), nil
	}
}

// ValidMethods para jwtv5.WithValidMethods según el modo.
func (i *Issuer) ValidMethods() []string {
	return []string{i.Alg()}
}

func (i *Issuer) baseClaims(sub, aud string, ttl time.Duration) (jwtv5.MapClaims, time.Time) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	return jwtv5.MapClaims{
		"iss": i.Iss,
		"sub": sub,
		"aud": aud,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}, exp
}

// IssueAccess emite un Access Token con claims estándar + std (flat) y custom (anidado).
func (i *Issuer) IssueAccess(sub, aud string, std map[string]any, custom map[string]any) (string, time.Time, error) {
	claims, exp := i.baseClaims(sub, aud, i.AccessTTL)
	for k, v := range std {
		claims[k] = v
	}
	if len(custom) > 0 {
		claims["custom"] = custom
	}
	signed, err := i.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// IssueIDToken emite un ID Token OIDC con claims estándar y extras top-level.
func (i *Issuer) IssueIDToken(sub, aud string, std map[string]any, extra map[string]any) (string, time.Time, error) {
	claims, exp := i.baseClaims(sub, aud, i.IDTTL)
	for k, v := range std {
		claims[k] = v
	}
	for k, v := range extra {
		claims[k] = v
	}
	signed, err := i.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse valida un token emitido por este Issuer y devuelve sus claims.
func (i *Issuer) Parse(raw string) (jwtv5.MapClaims, error) {
	tk, err := jwtv5.Parse(raw, i.Keyfunc(),
		jwtv5.WithValidMethods(i.ValidMethods()),
		jwtv5.WithIssuer(i.Iss),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok || !tk.Valid {
		return nil, jwtv5.ErrTokenInvalidClaims
	}
	return claims, nil
}
