// okta is a small web application which signs its users in with Okta.
//
// Configure it with OKTA_* environment variables (see oidc.LoadConfigFromEnv),
// an env file or a yaml config file:
//
//	okta serve --env-file .env
//	okta serve --config okta.yaml --redis-addr localhost:6379
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oktaauth/oidc"
	"github.com/hashicorp/oktaauth/oidc/callback"
	"github.com/hashicorp/oktaauth/session/memory"
	redisstore "github.com/hashicorp/oktaauth/session/redis"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	envFile   string
	cfgFile   string
	redisAddr string
	addr      string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:           "okta",
	Short:         "Sign in to a web application with Okta",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the application",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&envFile, "env-file", "", "env file to read OKTA_* settings from")
	f.StringVar(&cfgFile, "config", "", "yaml config file, used instead of the environment")
	f.StringVar(&redisAddr, "redis-addr", "", "keep sessions in redis at this address instead of in memory")
	f.StringVar(&addr, "addr", "localhost:8080", "address to listen on")
	f.StringVar(&logLevel, "log-level", "info", "log level")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*oidc.Config, error) {
	if cfgFile != "" {
		return oidc.LoadConfigFile(cfgFile)
	}
	var opts []oidc.Option
	if envFile != "" {
		opts = append(opts, oidc.WithEnvFile(envFile))
	}
	return oidc.LoadConfigFromEnv(oidc.DefaultEnvPrefix, opts...)
}

func newStore(ctx context.Context) (oidc.SessionStore, func(), error) {
	if redisAddr == "" {
		s := memory.NewStore()
		return s, func() { _ = s.Close() }, nil
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	s, err := redisstore.NewStore(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return s, func() { _ = client.Close() }, nil
}

func serve(ctx context.Context) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "okta",
		Level: hclog.LevelFromString(logLevel),
	})

	c, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := newStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	p, err := oidc.NewProvider(c, store, oidc.WithLogger(logger.Named("provider")))
	if err != nil {
		return err
	}
	defer p.Done()

	users := newUserStore()
	registry := callback.NewRegistry()
	if err := registry.Register("users", users); err != nil {
		return err
	}
	h, err := callback.NewHandler(p,
		callback.WithRegistry(registry),
		callback.WithConsumer(defaultConsumer(c, users)),
		callback.WithSessionIdentifier(&callback.CookieSessions{Insecure: c.Debug}),
		callback.WithBeforeLogout(func(_ context.Context, sessionID string) error {
			users.logout(sessionID)
			return nil
		}),
		callback.WithLogger(logger.Named("callback")),
	)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(c.URLPrefix+"/", h)
	mux.Handle("/", h.RequireLogin(home(users, h)))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "debug", c.Debug)
		srvCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// defaultConsumer leaves the choice to the configured
// AFTER_AUTHENTICATION_HANDLER when there is one.
func defaultConsumer(c *oidc.Config, users *userStore) callback.UserinfoConsumer {
	if c.AfterAuthenticationHandler != "" {
		return nil
	}
	return users
}
