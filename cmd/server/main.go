// Command server runs the QuickBooks Web Connector synchronization endpoint.
package main

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

	"github.com/go-chi/chi/v5"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/code-and-effect/effective-qb-sync/internal/api"
	"github.com/code-and-effect/effective-qb-sync/internal/config"
	internaldb "github.com/code-and-effect/effective-qb-sync/internal/db"
	"github.com/code-and-effect/effective-qb-sync/internal/db/repository"
	"github.com/code-and-effect/effective-qb-sync/internal/middleware"
	"github.com/code-and-effect/effective-qb-sync/internal/notify"
	"github.com/code-and-effect/effective-qb-sync/internal/qbxml"
	"github.com/code-and-effect/effective-qb-sync/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var handlerOpts = &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var logger *slog.Logger
	if cfg.IsProduction() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	}
	slog.SetDefault(logger)

	writeDB, readDB, err := internaldb.OpenSQLitePair(cfg.DBPath, 4)
	if err != nil {
		return err
	}
	defer func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	}()

	if err := internaldb.RunMigrations(writeDB); err != nil {
		return err
	}

	store := repository.NewStore(writeDB, readDB, cfg.ItemNameMap)
	discovery := service.NewDiscovery(store)
	builder := &qbxml.Builder{TaxItemName: cfg.TaxItemName}
	notifier := notify.NewWebhook(cfg.NotifyWebhookURL, logger)
	machine := service.NewMachine(store, discovery, builder, notifier,
		cfg.QBUsername, cfg.QBPassword, logger)
	handler := api.NewHandler(machine, cfg.ServerVersion, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))
	router.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Session exchanges are quick, but a slow QuickBooks host can sit
		// on a connection for a while before responding.
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var reaper *service.Reaper
	if cfg.ReaperSchedule != "" {
		reaper = service.NewReaper(store, cfg.ReaperMaxAge, logger)
		if err := reaper.Start(cfg.ReaperSchedule); err != nil {
			return err
		}
		defer reaper.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
