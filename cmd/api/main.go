package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/go-multierror"

	"github.com/IlyasAtabaev731/downline-ledger/internal/accounts"
	"github.com/IlyasAtabaev731/downline-ledger/internal/api"
	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
	"github.com/IlyasAtabaev731/downline-ledger/internal/config"
	"github.com/IlyasAtabaev731/downline-ledger/internal/hierarchy"
	"github.com/IlyasAtabaev731/downline-ledger/internal/ledger"
	"github.com/IlyasAtabaev731/downline-ledger/internal/lib/logger"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage/postgres"
)

func main() {
	cfg := config.MustLoad()

	log := logger.Setup(cfg.Env)

	log.Info("Starting application",
		slog.String("env", cfg.Env),
		slog.String("host", cfg.ApiHost),
		slog.Int("port", cfg.ApiPort),
	)

	storage, err := postgres.New(cfg.Postgres.DSN(), log)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	cache, closeCache := identityCache(cfg.Redis, log)
	resolver := auth.NewResolver(cfg.JWT.Secret, storage, cache, log)

	warmCtx, cancelWarm := context.WithTimeout(context.Background(), 30*time.Second)
	if err := resolver.Warm(warmCtx, storage); err != nil {
		log.Error("Failed to warm identity cache", "error", err)
		cancelWarm()
		os.Exit(1)
	}
	cancelWarm()

	apiServer := api.New(cfg, log, api.Services{
		Ledger:    ledger.New(cfg.Ledger, storage, log),
		Hierarchy: hierarchy.New(cfg.Ledger, storage, log),
		Accounts:  accounts.New(cfg.JWT, storage, resolver, log),
		Resolver:  resolver,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		apiServer.MustStart()
	}()

	<-sigChan
	log.Info("Got signal to shutdown server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result *multierror.Error
	if err := apiServer.Stop(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := closeCache(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := storage.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		log.Error("Shutdown finished with errors", "error", err)
		os.Exit(1)
	}
}

// identityCache returns the Redis-backed cache when enabled, otherwise a
// process-local one, together with its close function.
func identityCache(cfg config.Redis, log *slog.Logger) (auth.Cache, func() error) {
	if !cfg.Enabled {
		return auth.NewMapCache(), func() error { return nil }
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	log.Info("Using redis identity cache", slog.String("addr", cfg.Addr))
	return auth.NewRedisCache(client, cfg.TTL), client.Close
}
