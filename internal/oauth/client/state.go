package client

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/portero/internal/cache"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
	tokens "github.com/dropDatabas3/portero/internal/security/token"
)

// StateCookieName transporta el OAuthState cifrado entre el sign-in y el
// callback. Single-use: el callback lo consume y lo borra.
const StateCookieName = "oauth_state"

const stateTTL = 10 * time.Minute

// OAuthState es el estado por intento de sign-in. CodeVerifier nunca debe
// ser legible por el browser, por eso el blob va cifrado (no sólo firmado).
type OAuthState struct {
	State              string         `json:"state"`
	ProviderID         string         `json:"provider_id"`
	TenantID           string         `json:"tenant_id,omitempty"`
	CallbackURL        string         `json:"callback_url"`
	ErrorCallbackURL   string         `json:"error_callback_url,omitempty"`
	NewUserCallbackURL string         `json:"new_user_callback_url,omitempty"`
	RequestSignUp      bool           `json:"request_sign_up,omitempty"`
	CodeVerifier       string         `json:"code_verifier,omitempty"`
	Nonce              string         `json:"nonce,omitempty"`
	// ResumeQuery preserva la query original de /oauth2/authorize cuando el
	// authorize redirige a login y el flujo tiene que retomarse después.
	ResumeQuery string    `json:"resume_query,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

var (
	ErrStateInvalid = errors.New("oauth state invalid or expired")
	ErrStateReplay  = errors.New("oauth state already consumed")
)

// StateCodec emite y consume OAuthState: blob cifrado en cookie + entrada
// en cache para forzar single-use entre instancias.
type StateCodec struct {
	box      *secretbox.Box
	cache    cache.Cache
	secure   bool
	sameSite string
	domain   string
	now      func() time.Time
}

func NewStateCodec(box *secretbox.Box, c cache.Cache, domain, sameSite string, secure bool) *StateCodec {
	return &StateCodec{box: box, cache: c, secure: secure, sameSite: sameSite, domain: domain, now: time.Now}
}

// Issue crea el state, lo registra en cache y escribe la cookie.
// Devuelve el valor de state para componer la URL de autorización.
func (sc *StateCodec) Issue(w http.ResponseWriter, st *OAuthState) (string, error) {
	raw, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return "", err
	}
	st.State = raw
	st.ExpiresAt = sc.now().UTC().Add(stateTTL)

	b, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	enc, err := sc.box.Encrypt(b)
	if err != nil {
		return "", err
	}
	// La entrada de cache es el candado de single-use; el contenido vive en
	// la cookie para no cargar el cache con blobs.
	sc.cache.Set("oauthstate:"+tokens.SHA256Base64URL(raw), []byte("1"), stateTTL)

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    enc,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sameSiteOf(sc.sameSite),
		Domain:   sc.domain,
	})
	return raw, nil
}

// Consume valida y quema el state del callback. La comparación contra la
// cookie cierra el CSRF; el GetDel del cache cierra el replay.
func (sc *StateCodec) Consume(w http.ResponseWriter, r *http.Request, gotState string) (*OAuthState, error) {
	defer sc.clearCookie(w)

	ck, err := r.Cookie(StateCookieName)
	if err != nil || ck.Value == "" {
		return nil, ErrStateInvalid
	}
	pt, err := sc.box.Decrypt(ck.Value)
	if err != nil {
		return nil, ErrStateInvalid
	}
	var st OAuthState
	if err := json.Unmarshal(pt, &st); err != nil {
		return nil, ErrStateInvalid
	}
	if gotState == "" || st.State != gotState {
		return nil, ErrStateInvalid
	}
	if sc.now().UTC().After(st.ExpiresAt) {
		return nil, ErrStateInvalid
	}
	if _, ok := sc.cache.GetDel("oauthstate:" + tokens.SHA256Base64URL(gotState)); !ok {
		return nil, ErrStateReplay
	}
	return &st, nil
}

func (sc *StateCodec) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   sc.secure,
		HttpOnly: true,
		SameSite: sameSiteOf(sc.sameSite),
		Domain:   sc.domain,
	})
}

func sameSiteOf(s string) http.SameSite {
	switch s {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
