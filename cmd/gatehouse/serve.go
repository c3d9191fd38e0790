// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/config"
	"github.com/gatehouse/gatehouse/internal/gate"
	"github.com/gatehouse/gatehouse/internal/logging"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/internal/session"
	"github.com/gatehouse/gatehouse/internal/session/postgres"
	"github.com/gatehouse/gatehouse/internal/xdg"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the serve subcommand with all flags configured.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auth gate",
		Long: `Start the HTTP listener that serves the login page and
reverse-proxies authenticated requests to the upstream application.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := configFile
			if path == "" {
				// Fall back to $XDG_CONFIG_HOME/gatehouse/config.yaml
				// when present.
				if xdgPath, ok := xdg.DefaultConfigFile(); ok {
					path = xdgPath
				}
			}
			cfg, err := config.Load(path, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	// Flag names mirror config file keys so the flag overlay is 1:1.
	cmd.Flags().String("listen_addr", config.DefaultListenAddr, "gate listen address")
	cmd.Flags().String("metrics_addr", config.DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log_format", config.DefaultLogFormat, "log format (json or text)")
	cmd.Flags().String("upstream_url", "", "upstream application URL")

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logging.SetDefault("gatehouse", version, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session store: Postgres when configured, in-memory otherwise.
	var store session.Store
	if cfg.Session.DatabaseURL != "" {
		pool, err := connectPool(ctx, cfg.Session.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.NewStore(pool)
		slog.Info("using postgres session store")
	} else {
		store = session.NewMemoryStore()
		slog.Info("using in-memory session store")
	}

	mgr, err := session.NewManager(store, auth.LockoutPolicy{
		Threshold: cfg.Lockout.Threshold,
		Cooldown:  cfg.Lockout.Cooldown,
	}, cfg.Session.IdleTimeout)
	if err != nil {
		return err
	}

	hasher := auth.NewArgon2idHasher()
	creds, err := auth.NewStaticStore(auth.Identity{
		Username:     cfg.Identity.Username,
		PasswordHash: cfg.Identity.PasswordHash,
	}, hasher)
	if err != nil {
		return err
	}

	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return oops.Code("CONFIG_INVALID").
			With("upstream_url", cfg.UpstreamURL).
			Wrapf(err, "parsing upstream URL")
	}
	proxy := httputil.NewSingleHostReverseProxy(upstream)

	var ready atomic.Bool

	// Observability server (optional).
	var metrics *observability.Metrics
	var obsServer *observability.Server
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, ready.Load)
		obsErrCh, obsErr := obsServer.Start()
		if obsErr != nil {
			return obsErr
		}
		go func() {
			if serveErr := <-obsErrCh; serveErr != nil {
				slog.Error("observability server failed", "error", serveErr)
			}
		}()
		metrics = obsServer.Metrics()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := obsServer.Stop(shutdownCtx); stopErr != nil {
				slog.Warn("error stopping observability server", "error", stopErr)
			}
		}()
	}

	// Background sweep of expired sessions.
	sweeper := session.NewSweeper(store, cfg.Session.SweepInterval, slog.Default())
	if metrics != nil {
		sweeper.OnSweep(func(removed, active int64) {
			metrics.ObserveSweep(removed)
			metrics.ActiveSessions.Set(float64(active))
		})
	}
	sweeper.Start()
	defer sweeper.Close()

	var throttle *gate.IPThrottle
	if cfg.Throttle.Enabled {
		tc := gate.DefaultThrottleConfig()
		tc.Rate = cfg.Throttle.Rate
		tc.Burst = cfg.Throttle.Burst
		throttle = gate.NewIPThrottle(tc)
		defer throttle.Close()
	}

	gateOpts := gate.Options{
		Credentials:   creds,
		Sessions:      mgr,
		Upstream:      proxy,
		Throttle:      throttle,
		ExcludedPaths: cfg.ExcludedPaths,
		CookieName:    cfg.Session.CookieName,
		CookiePath:    cfg.Session.CookiePath,
		CookieSecure:  cfg.Session.CookieSecure,
		Logger:        slog.Default(),
	}
	if metrics != nil {
		gateOpts.Metrics = metrics
	}
	g, err := gate.New(gateOpts)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			serveErrCh <- serveErr
		}
	}()

	ready.Store(true)
	slog.Info("gate started",
		"listen_addr", cfg.ListenAddr,
		"upstream_url", cfg.UpstreamURL,
		"metrics_addr", cfg.MetricsAddr,
	)

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case serveErr := <-serveErrCh:
		return oops.With("listen_addr", cfg.ListenAddr).Wrapf(serveErr, "gate listener failed")
	}

	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return oops.With("operation", "shutdown_gate").Wrap(err)
	}

	slog.Info("gate stopped")
	return nil
}

// connectPool establishes the Postgres pool, retrying the initial ping
// with exponential backoff so the gate survives starting before its
// database.
func connectPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "create connection pool").
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			slog.Warn("database not reachable yet, retrying", "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	}); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			Wrap(err)
	}

	return pool, nil
}
