package session

import (
	"log"
	"net/http"
	"strings"
	"time"
)

// Nombres de cookie. Son superficie de compatibilidad: no renombrar.
const (
	DefaultCookieName       = "session_token"
	DefaultDataCookieName   = "session_data"
	DefaultDontRememberName = "dont_remember"
)

// parseSameSite convierte el string de config a http.SameSite.
// Acepta: "", "lax", "strict", "none" (case-insensitive). Default: Lax.
func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		// SameSite=None requiere Secure=true en navegadores modernos.
		// No forzamos Secure acá para no romper http://localhost.
		return http.SameSiteNoneMode
	default:
		log.Printf("cookie: SameSite desconocido=%q, usando Lax", s)
		return http.SameSiteLaxMode
	}
}

// buildCookie arma una cookie HttpOnly con flags de seguridad.
// maxAge <= 0 produce una session cookie (sin Expires/Max-Age): el browser
// la descarta al cerrar; es el vehículo de dontRememberMe.
func buildCookie(name, value, domain, sameSite string, secure bool, maxAge time.Duration) *http.Cookie {
	ss := parseSameSite(sameSite)
	if ss == http.SameSiteNoneMode && !secure {
		log.Printf("cookie: SameSite=None sin Secure; algunos navegadores pueden rechazar la cookie (domain=%q)", domain)
	}
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: ss,
	}
	if maxAge > 0 {
		c.Expires = time.Now().UTC().Add(maxAge)
		c.MaxAge = int(maxAge.Seconds())
	}
	if domain != "" {
		c.Domain = domain
	}
	return c
}

// buildDeletionCookie devuelve una cookie que borra la homónima del browser.
func buildDeletionCookie(name, domain, sameSite string, secure bool) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   secure,
		HttpOnly: true,
		SameSite: parseSameSite(sameSite),
	}
	if domain != "" {
		c.Domain = domain
	}
	return c
}
