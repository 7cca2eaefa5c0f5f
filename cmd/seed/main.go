// Command seed prepares the database: it creates it when missing, applies the
// migrations and inserts the default accounts.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/geocoder89/useradmin/internal/config"
	"github.com/geocoder89/useradmin/internal/db"
	"github.com/geocoder89/useradmin/internal/observability"
	"github.com/geocoder89/useradmin/internal/repo/postgres"
	"github.com/geocoder89/useradmin/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := seed(ctx, cfg); err != nil {
		log.Error("seed failed", "err", err)
		os.Exit(1)
	}
}

func seed(ctx context.Context, cfg config.Config) error {
	created, err := db.EnsureDatabase(ctx, cfg.DBURL)
	if err != nil {
		return err
	}
	if created {
		slog.Info("database created")
	} else {
		slog.Info("database already exists")
	}

	pool, err := db.NewPool(ctx, cfg.DBURL, cfg.DB.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	slog.Info("migrations applied")

	users := postgres.NewUsersRepo(pool, nil)
	hasher := security.NewPasswordHasher(cfg.Auth.BcryptCost)

	results, err := db.Seed(ctx, users, hasher, db.DefaultAccounts)
	if err != nil {
		return err
	}

	for _, r := range results {
		slog.Info("seed account", "email", r.User.Email, "role", r.User.Role, "created", r.Created)
	}

	fmt.Println("Default credentials:")
	for _, a := range db.DefaultAccounts {
		fmt.Printf("  %-6s %s / %s\n", a.Role, a.Email, a.Password)
	}

	return nil
}
