package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/authority"
	"github.com/MrEthical07/authority/directory"
	promexport "github.com/MrEthical07/authority/metrics/export/prometheus"
	"github.com/MrEthical07/authority/middleware"
	"github.com/MrEthical07/authority/oauth"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const (
	serverRequestTimeout = 15 * time.Second
	serverReadTimeout    = 10 * time.Second
	serverWriteTimeout   = 20 * time.Second
	serverIdleTimeout    = 60 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server exposing /auth/login, /auth/callback, /auth/refresh,
/auth/logout and /auth/sessions, plus /healthz and /metrics.`,
		RunE: runServe,
	}
	cmd.Flags().String("address", "", "Address to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("address"); addr != "" {
		cfg.Address = addr
	}

	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

// buildServer wires storage, the directory, the provider and the router.
// cleanup releases them in reverse order.
func buildServer(ctx context.Context, cfg *serverConfig, logger *slog.Logger) (*http.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	authCfg, err := cfg.authorityConfig()
	if err != nil {
		return nil, cleanup, fmt.Errorf("authority config: %w", err)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      []string{cfg.Redis.Addr},
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: 1,
	})
	closers = append(closers, func() { _ = rdb.Close() })

	var dir authority.Directory
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("open database: %w", err)
		}
		closers = append(closers, pool.Close)
		pg, err := directory.NewPostgres(pool)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		dir = pg
		logger.Info("using postgres directory")
	} else {
		dir = cfg.staticDirectory()
		logger.Info("using static directory", "principals", len(cfg.Principals))
	}

	b := authority.New().
		WithConfig(authCfg).
		WithRedis(rdb).
		WithPermissions(cfg.permissions()).
		WithRoles(cfg.Roles).
		WithDirectory(dir).
		WithLogger(logger).
		WithAuditSink(authority.NewSlogSink(logger.With("component", "audit")))

	if cfg.oidcEnabled() {
		provider, err := oauth.NewOIDCProvider(ctx, cfg.oidcConfig(), oauth.WithLogger(logger.With("component", "oidc")))
		if err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("oidc provider: %w", err)
		}
		b = b.WithProvider(provider)
	} else {
		logger.Warn("no OIDC issuer configured; login endpoints are disabled")
	}

	auth, err := b.Build()
	if err != nil {
		cleanup()
		return nil, func() {}, fmt.Errorf("build authority: %w", err)
	}
	closers = append(closers, auth.Close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		promexport.NewExporter(auth),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	realIP, err := middleware.TrustedRealIP(cfg.TrustedProxies)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, realIP, chimw.Recoverer, chimw.Timeout(serverRequestTimeout), requestLogger(logger))
	r.Get("/healthz", healthHandler(auth))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	middleware.NewHandlers(auth, cfg.cookieConfig(), logger).Register(r)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      r,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}
	return srv, cleanup, nil
}

func healthHandler(auth *authority.Authority) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := auth.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		})
	}
}
