// Package app arma el contenedor de dependencias a partir de config y
// plugins. Todo lo que los handlers necesitan cuelga de acá.
package app

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/portero/internal/cache"
	cachemem "github.com/dropDatabas3/portero/internal/cache/memory"
	cacheredis "github.com/dropDatabas3/portero/internal/cache/redis"
	"github.com/dropDatabas3/portero/internal/config"
	jwtx "github.com/dropDatabas3/portero/internal/jwt"
	oauthc "github.com/dropDatabas3/portero/internal/oauth/client"
	"github.com/dropDatabas3/portero/internal/plugin"
	"github.com/dropDatabas3/portero/internal/rate"
	"github.com/dropDatabas3/portero/internal/security/cookiesign"
	"github.com/dropDatabas3/portero/internal/security/secretbox"
	"github.com/dropDatabas3/portero/internal/session"
	"github.com/dropDatabas3/portero/internal/store/core"
	storemem "github.com/dropDatabas3/portero/internal/store/memory"
	storepg "github.com/dropDatabas3/portero/internal/store/pg"
)

type Container struct {
	Cfg *config.Config

	Store   core.Repository
	Cache   cache.Cache
	Box     *secretbox.Box
	Signer  *cookiesign.Signer
	Issuer  *jwtx.Issuer
	Plugins *plugin.AuthContext

	Sessions   *session.Manager
	Providers  *oauthc.Registry
	OAuthHTTP  *oauthc.HTTPClient
	Flow       *oauthc.Flow
	States     *oauthc.StateCodec
	Limiter    rate.Limiter
	RefreshTTL time.Duration

	redis *rdb.Client // nil con cache memory
}

// New construye el contenedor. reg puede ser nil (deployment sin plugins).
func New(ctx context.Context, cfg *config.Config, reg *plugin.Registry) (*Container, error) {
	c := &Container{Cfg: cfg}

	if reg == nil {
		reg = plugin.NewRegistry()
	}
	c.Plugins = reg.Compose()

	// Secretbox: master key de config o derivada del secret maestro.
	if cfg.Security.SecretBoxMasterKey != "" {
		box, err := secretbox.New(cfg.Security.SecretBoxMasterKey)
		if err != nil {
			return nil, fmt.Errorf("app: secretbox_master_key: %w", err)
		}
		c.Box = box
	} else {
		c.Box = secretbox.Derive(sha256.Sum256([]byte(cfg.Security.Secret)))
	}
	c.Signer = cookiesign.New(cfg.Security.Secret)

	// Store
	switch cfg.Storage.Driver {
	case "postgres":
		st, err := storepg.New(ctx, cfg.Storage.DSN, storepg.Tuning{
			MaxOpenConns:    cfg.Storage.Postgres.MaxConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		c.Store = st
	default:
		c.Store = storemem.New()
	}

	// Cache
	switch cfg.Cache.Kind {
	case "redis":
		c.redis = rdb.NewClient(&rdb.Options{Addr: cfg.Cache.Redis.Addr, DB: cfg.Cache.Redis.DB})
		c.Cache = cacheredis.NewFromClient(c.redis)
	default:
		c.Cache = cachemem.New(config.Dur(cfg.Cache.Memory.DefaultTTL, 2*time.Minute))
	}

	// Issuer: keystore de plugin > keystore de config > HMAC fallback.
	ks := c.Plugins.SigningKeys()
	if ks == nil && cfg.JWT.KeystorePath != "" {
		loaded, err := jwtx.LoadKeystore(cfg.JWT.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("app: keystore: %w", err)
		}
		ks = loaded
	}
	if ks == nil {
		log.Printf(`{"level":"warn","msg":"issuer_hmac_fallback","detail":"sin keystore: id/access tokens firmados HS256 con el secret, JWKS vacío"}`)
	}
	c.Issuer = jwtx.NewIssuer(cfg.JWT.Issuer, ks, cfg.Security.Secret)
	c.Issuer.AccessTTL = config.Dur(cfg.JWT.AccessTTL, 15*time.Minute)
	c.Issuer.IDTTL = config.Dur(cfg.JWT.IDTokenTTL, 15*time.Minute)
	c.RefreshTTL = config.Dur(cfg.JWT.RefreshTTL, 720*time.Hour)

	// Session engine
	c.Sessions = session.NewManager(c.Store, c.Cache, c.Signer, c.Box, session.Policy{
		ExpiresIn:        config.Dur(cfg.Session.ExpiresIn, 0),
		UpdateAge:        config.Dur(cfg.Session.UpdateAge, 0),
		CookieName:       cfg.Session.CookieName,
		DataCookieName:   cfg.Session.DataCookieName,
		CookieDomain:     cfg.Session.Domain,
		SameSite:         cfg.Session.SameSite,
		Secure:           cfg.Session.Secure,
		CacheEnabled:     cfg.Session.CookieCache,
		CacheTTL:         config.Dur(cfg.Session.CookieCacheTTL, 0),
		SecondaryEnabled: cfg.Session.SecondaryStorage,
		MultiTenant:      cfg.MultiTenant.Enabled,
	}, c.Plugins)

	// RP: providers configurados + filas SSO
	static := make([]*oauthc.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p := &oauthc.Provider{
			ID:                    pc.ID,
			ClientID:              pc.ClientID,
			ClientSecret:          pc.ClientSecret,
			DiscoveryURL:          pc.DiscoveryURL,
			AuthEndpoint:          pc.AuthEndpoint,
			TokenEndpoint:         pc.TokenEndpoint,
			UserInfoEndpoint:      pc.UserInfoEndpoint,
			Scopes:                pc.Scopes,
			AuthMethod:            pc.AuthMethod,
			UsePKCE:               pc.PKCE,
			ExtraAuthParams:       pc.ExtraAuthParams,
			TrustedForLinking:     pc.Trusted,
			DisableImplicitSignUp: pc.DisableImplicitSignUp,
			OverrideUserInfo:      pc.OverrideUserInfo,
		}
		oauthc.ApplyPreset(p)
		static = append(static, p)
	}
	providers, err := oauthc.NewRegistry(static, c.Store, c.Box)
	if err != nil {
		return nil, fmt.Errorf("app: providers: %w", err)
	}
	c.Providers = providers
	c.OAuthHTTP = oauthc.NewHTTPClient()
	c.Flow = oauthc.NewFlow(c.Store, c.Plugins)
	c.States = oauthc.NewStateCodec(c.Box, c.Cache, cfg.Session.Domain, cfg.Session.SameSite, cfg.Session.Secure)

	// Rate limiting
	switch {
	case !cfg.Rate.Enabled:
		c.Limiter = rate.Noop{}
	case c.redis != nil:
		c.Limiter = rate.NewRedisLimiter(c.redis, cfg.Cache.Redis.Prefix+"rl:", cfg.Rate.MaxRequests, config.Dur(cfg.Rate.Window, time.Minute))
	default:
		c.Limiter = rate.NewMemoryLimiter(cfg.Rate.MaxRequests, config.Dur(cfg.Rate.Window, time.Minute))
		log.Printf(`{"level":"warn","msg":"rate_limiter_memory","detail":"límite por proceso, no compartido entre réplicas"}`)
	}

	return c, nil
}

// CheckRedis devuelve nil si no hay redis configurado.
func (c *Container) CheckRedis(ctx context.Context) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Close libera pools y conexiones.
func (c *Container) Close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if closer, ok := c.Store.(interface{ Close() }); ok {
		closer.Close()
	}
}
