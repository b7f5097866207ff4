package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		// dev | staging | prod
		Env string `yaml:"app_env"`
	} `yaml:"app"`

	Server struct {
		Addr               string   `yaml:"addr"`
		BaseURL            string   `yaml:"base_url"` // URL pública (issuer, redirects)
		CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
		LoginURL           string   `yaml:"login_url"`   // página de login del deployment
		ConsentURL         string   `yaml:"consent_url"` // página de consentimiento
	} `yaml:"server"`

	Storage struct {
		Driver   string `yaml:"driver"` // postgres | memory
		DSN      string `yaml:"dsn"`
		Postgres struct {
			MaxConns        int    `yaml:"max_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Cache struct {
		Kind  string `yaml:"kind"` // memory | redis
		Redis struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
		Memory struct {
			DefaultTTL string `yaml:"default_ttl"`
		} `yaml:"memory"`
	} `yaml:"cache"`

	Session struct {
		ExpiresIn        string `yaml:"expires_in"` // vida total
		UpdateAge        string `yaml:"update_age"` // ventana de rolling renewal
		CookieName       string `yaml:"cookie_name"`
		DataCookieName   string `yaml:"data_cookie_name"`
		Domain           string `yaml:"domain"`
		SameSite         string `yaml:"samesite"`
		Secure           bool   `yaml:"secure"`
		CookieCache      bool   `yaml:"cookie_cache"`
		CookieCacheTTL   string `yaml:"cookie_cache_ttl"`
		SecondaryStorage bool   `yaml:"secondary_storage"` // espejo en redis
	} `yaml:"session"`

	JWT struct {
		Issuer       string `yaml:"issuer"` // default: server.base_url
		AccessTTL    string `yaml:"access_ttl"`
		IDTokenTTL   string `yaml:"id_token_ttl"`
		RefreshTTL   string `yaml:"refresh_ttl"`
		KeystorePath string `yaml:"keystore_path"` // vacío => HMAC fallback
	} `yaml:"jwt"`

	Security struct {
		// Secret maestro: firma de cookies, cifrado de state y HMAC fallback.
		Secret             string `yaml:"secret"`
		SecretBoxMasterKey string `yaml:"secretbox_master_key"` // base64(32 bytes); vacío deriva del secret
		PasswordMinLength  int    `yaml:"password_min_length"`
	} `yaml:"security"`

	MultiTenant struct {
		Enabled bool   `yaml:"enabled"`
		Header  string `yaml:"header"` // header con el tenant id
	} `yaml:"multi_tenant"`

	Rate struct {
		Enabled     bool   `yaml:"enabled"`
		Window      string `yaml:"window"`
		MaxRequests int    `yaml:"max_requests"`
	} `yaml:"rate"`

	Register struct {
		Disabled  bool `yaml:"disabled"` // apaga /sign-up/email
		AutoLogin bool `yaml:"auto_login"`
	} `yaml:"register"`

	// Providers OAuth2/OIDC upstream (nuestro rol de RP).
	Providers []ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	ID                    string            `yaml:"id"`
	ClientID              string            `yaml:"client_id"`
	ClientSecret          string            `yaml:"client_secret"`
	DiscoveryURL          string            `yaml:"discovery_url"`
	AuthEndpoint          string            `yaml:"auth_endpoint"`
	TokenEndpoint         string            `yaml:"token_endpoint"`
	UserInfoEndpoint      string            `yaml:"userinfo_endpoint"`
	Scopes                []string          `yaml:"scopes"`
	AuthMethod            string            `yaml:"auth_method"` // client_secret_basic|client_secret_post|none
	PKCE                  bool              `yaml:"pkce"`
	ExtraAuthParams       map[string]string `yaml:"extra_auth_params"`
	Trusted               bool              `yaml:"trusted"` // habilita auto-link por email
	DisableImplicitSignUp bool              `yaml:"disable_implicit_signup"`
	OverrideUserInfo      bool              `yaml:"override_user_info"`
}

func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:8080"
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.LoginURL == "" {
		c.Server.LoginURL = c.Server.BaseURL + "/login"
	}
	if c.Server.ConsentURL == "" {
		c.Server.ConsentURL = c.Server.BaseURL + "/consent"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "memory"
	}
	if c.Cache.Memory.DefaultTTL == "" {
		c.Cache.Memory.DefaultTTL = "2m"
	}
	if c.Session.ExpiresIn == "" {
		c.Session.ExpiresIn = "168h" // 7d
	}
	if c.Session.UpdateAge == "" {
		c.Session.UpdateAge = "24h"
	}
	if c.Session.SameSite == "" {
		c.Session.SameSite = "lax"
	}
	if c.Session.CookieCacheTTL == "" {
		c.Session.CookieCacheTTL = "5m"
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = c.Server.BaseURL
	}
	if c.JWT.AccessTTL == "" {
		c.JWT.AccessTTL = "15m"
	}
	if c.JWT.IDTokenTTL == "" {
		c.JWT.IDTokenTTL = "15m"
	}
	if c.JWT.RefreshTTL == "" {
		c.JWT.RefreshTTL = "720h" // 30d
	}
	if c.Security.PasswordMinLength == 0 {
		c.Security.PasswordMinLength = 10
	}
	if c.MultiTenant.Header == "" {
		c.MultiTenant.Header = "X-Tenant-ID"
	}
	if c.Rate.Window == "" {
		c.Rate.Window = "1m"
	}
	if c.Rate.MaxRequests == 0 {
		c.Rate.MaxRequests = 60
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		if len(p.Scopes) == 0 {
			p.Scopes = []string{"openid", "email", "profile"}
		}
		if p.AuthMethod == "" {
			p.AuthMethod = "client_secret_basic"
		}
	}
}

func (c *Config) Validate() error {
	if c.Security.Secret == "" {
		return errors.New("config: security.secret es obligatorio")
	}
	if len(c.Security.Secret) < 16 {
		return errors.New("config: security.secret demasiado corto (mínimo 16 bytes)")
	}
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("config: storage.driver %q no soportado", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return errors.New("config: storage.dsn requerido con driver postgres")
	}
	switch c.Cache.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: cache.kind %q no soportado", c.Cache.Kind)
	}
	if c.Cache.Kind == "redis" && c.Cache.Redis.Addr == "" {
		return errors.New("config: cache.redis.addr requerido con kind redis")
	}
	if c.Session.SecondaryStorage && c.Cache.Kind != "redis" {
		return errors.New("config: session.secondary_storage requiere cache redis")
	}
	// validate string durations
	for _, d := range []string{
		c.Session.ExpiresIn, c.Session.UpdateAge, c.Session.CookieCacheTTL,
		c.JWT.AccessTTL, c.JWT.IDTokenTTL, c.JWT.RefreshTTL, c.Rate.Window,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("config: duración inválida %q: %w", d, err)
		}
	}
	seen := map[string]bool{}
	for _, p := range c.Providers {
		if p.ID == "" || p.ClientID == "" {
			return errors.New("config: provider sin id o client_id")
		}
		if seen[p.ID] {
			return fmt.Errorf("config: provider %q duplicado", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// Dur parsea una duración ya validada; el fallback cubre config vieja.
func Dur(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvCSV(key string) ([]string, bool) {
	if s, ok := getEnvStr(key); ok {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, true
	}
	return nil, false
}

// applyEnvOverrides: pisa config.yaml con variables de entorno.
func (c *Config) applyEnvOverrides() {
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := getEnvStr("SERVER_BASE_URL"); ok {
		c.Server.BaseURL = v
	}
	if v, ok := getEnvCSV("SERVER_CORS_ALLOWED_ORIGINS"); ok {
		c.Server.CORSAllowedOrigins = v
	}
	if v, ok := getEnvStr("STORAGE_DRIVER"); ok {
		c.Storage.Driver = v
	}
	if v, ok := getEnvStr("STORAGE_DSN"); ok {
		c.Storage.DSN = v
	}
	if v, ok := getEnvStr("CACHE_KIND"); ok {
		c.Cache.Kind = v
	}
	if v, ok := getEnvStr("CACHE_REDIS_ADDR"); ok {
		c.Cache.Redis.Addr = v
	}
	if v, ok := getEnvInt("CACHE_REDIS_DB"); ok {
		c.Cache.Redis.DB = v
	}
	if v, ok := getEnvStr("SECURITY_SECRET"); ok {
		c.Security.Secret = v
	}
	if v, ok := getEnvStr("SECRETBOX_MASTER_KEY"); ok {
		c.Security.SecretBoxMasterKey = v
	}
	if v, ok := getEnvStr("JWT_KEYSTORE_PATH"); ok {
		c.JWT.KeystorePath = v
	}
	if v, ok := getEnvBool("MULTI_TENANT_ENABLED"); ok {
		c.MultiTenant.Enabled = v
	}
	if v, ok := getEnvBool("RATE_ENABLED"); ok {
		c.Rate.Enabled = v
	}
	if v, ok := getEnvBool("SESSION_SECURE"); ok {
		c.Session.Secure = v
	}
}
