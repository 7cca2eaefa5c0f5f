package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/useradmin/internal/accounts"
	"github.com/geocoder89/useradmin/internal/auth"
	"github.com/geocoder89/useradmin/internal/config"
	"github.com/geocoder89/useradmin/internal/db"
	httpx "github.com/geocoder89/useradmin/internal/http"
	"github.com/geocoder89/useradmin/internal/observability"
	"github.com/geocoder89/useradmin/internal/redisclient"
	"github.com/geocoder89/useradmin/internal/repo/memory"
	"github.com/geocoder89/useradmin/internal/repo/postgres"
	"github.com/geocoder89/useradmin/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// Load the config set up
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// start up the observability logger
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	startCtx, cancelStart := config.WithTimeout(15 * time.Second)
	defer cancelStart()

	shutdownTracer, err := observability.InitTracer(startCtx, observability.TracerConfig{
		ServiceName: "useradmin",
		Environment: cfg.Env,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.OTLPSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	hasher := security.NewPasswordHasher(cfg.Auth.BcryptCost)
	jwtManager := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL, cfg.Auth.RefreshTTL)

	deps := httpx.Deps{
		Config:   cfg,
		JWT:      jwtManager,
		Prom:     prom,
		Gatherer: reg,
	}

	var closers []func()

	// wire up repositories
	switch cfg.Store {
	case "memory":
		users := memory.NewUsersRepo()
		refresh := memory.NewRefreshTokensRepo()

		if _, err := db.Seed(startCtx, users, hasher, db.DefaultAccounts); err != nil {
			return fmt.Errorf("seed memory store: %w", err)
		}

		deps.Accounts = accounts.NewService(users, hasher, refresh)
		deps.Refresh = refresh
		log.Warn("using in-memory store; data is lost on restart")

	default:
		pool, err := db.NewPool(startCtx, cfg.DBURL, cfg.DB.MaxConns)
		if err != nil {
			return err
		}
		closers = append(closers, pool.Close)

		if err := db.Migrate(startCtx, pool); err != nil {
			pool.Close()
			return err
		}

		users := postgres.NewUsersRepo(pool, prom)
		refresh := postgres.NewRefreshTokensRepo(pool, prom)

		deps.Accounts = accounts.NewService(users, hasher, refresh)
		deps.Refresh = refresh
		deps.Ping = pool.Ping
	}

	if cfg.Redis.Addr != "" {
		rdb := redisclient.New(redisclient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(startCtx); err != nil {
			log.Warn("redis unavailable, login rate limiting disabled", "addr", cfg.Redis.Addr, "err", err)
			_ = rdb.Close()
		} else {
			deps.Limiter = rdb
			closers = append(closers, func() { _ = rdb.Close() })
		}
	}

	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	router, err := httpx.NewRouter(deps)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.Store)
		err := srv.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("server shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}

	if err := shutdownTracer(ctx); err != nil {
		log.Error("tracer shutdown failed", "err", err)
	}

	log.Info("shutdown complete")
	return nil
}
