// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/titantix/gate/internal/applog"
	"github.com/titantix/gate/internal/config"
	"github.com/titantix/gate/internal/database"
	"github.com/titantix/gate/internal/handler"
	"github.com/titantix/gate/internal/repository"
	"github.com/titantix/gate/internal/service"
	"github.com/titantix/gate/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := applog.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx := context.Background()

	// ── 1. Open the ticket store ──────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── 2. Wire up layers ────────────────────────────────────────────────
	signer, err := token.NewSigner([]byte(cfg.TokenSecret))
	if err != nil {
		return fmt.Errorf("token signer: %w", err)
	}
	ticketSvc := service.NewTicketService(logger, store, signer, cfg.RequestTimeout, cfg.Issue)
	authSvc := service.NewAuthService(logger, store, cfg.Auth)

	if _, err := authSvc.EnsureDefaultAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		return fmt.Errorf("default admin: %w", err)
	}

	// ── 3. Build the router ───────────────────────────────────────────────
	router := handler.NewRouter(
		logger,
		handler.NewTicketHandler(logger, ticketSvc),
		handler.NewAuthHandler(logger, authSvc),
		cfg.CORSOrigins,
	)

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // streamed batch issuance
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{"port": cfg.Port, "store": cfg.StoreDriver}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (repository.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := database.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("connected to PostgreSQL")
		return repository.NewPostgresStore(logger, pool), pool.Close, nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		logger.WithField("path", cfg.SQLitePath).Info("opened SQLite store")
		return repository.NewSQLiteStore(logger, db), func() { _ = db.Close() }, nil

	default:
		logger.Warn("using in-memory store; tickets are lost on exit")
		return repository.NewMemoryStore(), func() {}, nil
	}
}
