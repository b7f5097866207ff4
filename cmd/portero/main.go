package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/portero/internal/app"
	"github.com/dropDatabas3/portero/internal/config"
	httpx "github.com/dropDatabas3/portero/internal/http"
	"github.com/dropDatabas3/portero/internal/http/handlers"
	jwtx "github.com/dropDatabas3/portero/internal/jwt"
	"github.com/dropDatabas3/portero/internal/plugin"
	storepg "github.com/dropDatabas3/portero/internal/store/pg"
	migrations "github.com/dropDatabas3/portero/migrations/postgres"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string

	root := &cobra.Command{
		Use:   "portero",
		Short: "Servicio de autenticación: sesiones, OAuth2 RP y provider OIDC",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", envOr("PORTERO_CONFIG", "config.yaml"), "ruta al config YAML")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfgPath)
		},
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "Administra el keystore EdDSA",
	}
	var keysOut string
	keysGen := &cobra.Command{
		Use:   "generate",
		Short: "Genera un keystore nuevo con una clave activa",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := jwtx.NewKeystore()
			if err != nil {
				return err
			}
			return writeKeystore(ks, keysOut)
		},
	}
	keysRotate := &cobra.Command{
		Use:   "rotate",
		Short: "Rota la clave activa (la anterior queda retiring)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := jwtx.LoadKeystore(keysOut)
			if err != nil {
				return err
			}
			if err := ks.Rotate(); err != nil {
				return err
			}
			return writeKeystore(ks, keysOut)
		},
	}
	keys.PersistentFlags().StringVar(&keysOut, "file", envOr("JWT_KEYSTORE_PATH", "keystore.json"), "archivo del keystore")
	keys.AddCommand(keysGen, keysRotate)

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones SQL embebidas (sólo driver postgres)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cfgPath)
		},
	}

	root.AddCommand(serve, keys, migrate)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.New(ctx, cfg, plugin.NewRegistry())
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer c.Close()

	h := httpx.HandlerSet{
		OIDCDiscovery:   handlers.NewOIDCDiscoveryHandler(c),
		JWKS:            handlers.NewJWKSHandler(c),
		OAuthRegister:   handlers.NewOAuthRegisterHandler(c),
		OAuthAuthorize:  handlers.NewOAuthAuthorizeHandler(c),
		ConsentInfo:     handlers.NewConsentInfoHandler(c),
		ConsentDecision: handlers.NewConsentDecisionHandler(c),
		OAuthToken:      handlers.NewOAuthTokenHandler(c),
		UserInfo:        handlers.NewUserInfoHandler(c),

		SignUpEmail:   handlers.NewSignUpEmailHandler(c),
		SignInEmail:   handlers.NewSignInEmailHandler(c),
		SignOut:       handlers.NewSignOutHandler(c),
		SignInOAuth:   handlers.NewSignInOAuthHandler(c),
		OAuthCallback: handlers.NewOAuthCallbackHandler(c),
		SSORegister:   handlers.NewSSORegisterHandler(c),

		GetSession:            handlers.NewGetSessionHandler(c),
		ListSessions:          handlers.NewListSessionsHandler(c),
		RevokeSession:         handlers.NewRevokeSessionHandler(c),
		RevokeSessions:        handlers.NewRevokeSessionsHandler(c),
		SetActiveOrganization: handlers.NewSetActiveOrganizationHandler(c),
		SetActiveTeam:         handlers.NewSetActiveTeamHandler(c),

		Healthz: handlers.NewHealthzHandler(),
		Readyz:  handlers.NewReadyzHandler(c),
	}

	srv := httpx.NewServer(cfg.Server.Addr, httpx.NewRouter(c, h))
	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Printf(`{"evento":"server_stopped"}`)
	return nil
}

func runMigrate(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("migrate: el driver configurado es %q, no postgres", cfg.Storage.Driver)
	}
	st, err := storepg.New(ctx, cfg.Storage.DSN, storepg.Tuning{})
	if err != nil {
		return err
	}
	defer st.Close()

	names, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.FS.ReadFile(name)
		if err != nil {
			return err
		}
		if err := st.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		log.Printf(`{"evento":"migration_applied","file":%q}`, name)
	}
	return nil
}

func writeKeystore(ks *jwtx.Keystore, path string) error {
	b, err := json.MarshalIndent(ks.Export(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return err
	}
	fmt.Println("keystore escrito en", path)
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
