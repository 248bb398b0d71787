package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/OpenCoralTools/oct-registry/docs/schema/openapi"
	"github.com/OpenCoralTools/oct-registry/internal/adapters/registries"
	"github.com/OpenCoralTools/oct-registry/internal/auth"
	"github.com/OpenCoralTools/oct-registry/internal/bundled"
	"github.com/OpenCoralTools/oct-registry/internal/config"
	"github.com/OpenCoralTools/oct-registry/internal/editor"
	"github.com/OpenCoralTools/oct-registry/internal/gateway"
	"github.com/OpenCoralTools/oct-registry/internal/observability"
	"github.com/OpenCoralTools/oct-registry/internal/schema"
	"github.com/OpenCoralTools/oct-registry/pkg/registry"
)

func serveCmd(load func() (*config.Config, *slog.Logger, error)) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry editing API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.ListenAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.listen_addr)")
	return cmd
}

// app holds the wired service.
type app struct {
	handler     http.Handler
	store       gateway.Store
	session     *auth.Session
	editors     map[registry.Name]*editor.Editor
	unsubscribe func()
	logger      *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	verifier, err := newVerifier(cfg)
	if err != nil {
		return nil, err
	}
	session := auth.NewSession(verifier, auth.WithLogger(logger))
	store, err := cfg.OpenStore(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Gateway.Driver, err)
	}
	src, err := cfg.SchemaSource()
	if err != nil {
		_ = gateway.Close(store)
		return nil, err
	}
	loader := schema.NewLoader(src)
	metrics := observability.NewPrometheusRecorder()
	recorder := observability.Multi(metrics, observability.NewExpvarRecorder(""))

	a := &app{store: store, session: session, editors: make(map[registry.Name]*editor.Editor), logger: logger}
	served := make(map[registry.Name]registries.Editor)
	for _, name := range registry.Names() {
		ed, err := editor.New(editor.Config{
			Registry:    name,
			Store:       store,
			Schemas:     loader,
			Credentials: session,
			Fallback:    bundled.Records,
			DataDir:     cfg.Gateway.DataDir,
			Logger:      logger.With("registry", string(name)),
			Recorder:    recorder,
		})
		if err != nil {
			_ = gateway.Close(store)
			return nil, err
		}
		a.editors[name] = ed
		served[name] = ed
	}

	if cfg.Auth.Token != "" {
		if _, err := session.Login(ctx, cfg.Auth.Token); err != nil {
			logger.Warn("configured token rejected, starting read-only", "error", err)
		}
	}
	a.loadAll(ctx)
	a.unsubscribe = session.Subscribe(func(state auth.State) {
		logger.Info("session changed, reloading registries", "authenticated", state.Authenticated)
		go a.loadAll(context.Background())
	})

	h := registries.NewHandler(served, session)
	h.Metrics = metrics.Handler()
	h.OpenAPI = openapi.Spec()
	h.Logger = logger
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.Handle("/", h)
	a.handler = mux
	return a, nil
}

func newVerifier(cfg *config.Config) (auth.Verifier, error) {
	if gateway.Driver(cfg.Gateway.Driver) == gateway.DriverGitHub || cfg.Auth.VerifyURL != "" {
		return auth.NewGitHubVerifier(cfg.VerifyURL(), nil)
	}
	// Local drivers accept only the configured token.
	static := auth.StaticVerifier{}
	if cfg.Auth.Token != "" {
		static[cfg.Auth.Token] = auth.User{Login: "maintainer"}
	}
	return static, nil
}

// loadAll loads every registry concurrently. Schema failures leave that
// registry read-only; they do not stop the service.
func (a *app) loadAll(ctx context.Context) {
	var g errgroup.Group
	for name, ed := range a.editors {
		g.Go(func() error {
			if err := ed.Load(ctx); err != nil {
				a.logger.Error("registry unavailable for editing", "registry", name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (a *app) Close() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	for _, ed := range a.editors {
		ed.Close()
	}
	return gateway.Close(a.store)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("octregistry ready", "version", Version, "addr", srv.Addr, "driver", cfg.Gateway.Driver)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
