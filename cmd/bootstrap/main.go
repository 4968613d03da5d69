// Command bootstrap creates the owner account of an empty system. It refuses
// to run once any user exists.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/IlyasAtabaev731/downline-ledger/internal/accounts"
	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
	"github.com/IlyasAtabaev731/downline-ledger/internal/config"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/lib/logger"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage/postgres"
)

func main() {
	var username, email string
	flag.StringVar(&username, "username", "owner", "owner username")
	flag.StringVar(&email, "email", "", "owner email")

	// MustLoad parses the flag set, including the ones above.
	cfg := config.MustLoad()
	log := logger.Setup(cfg.Env)

	password := os.Getenv("OWNER_PASSWORD")
	if email == "" || password == "" {
		fmt.Fprintln(os.Stderr, "-email and OWNER_PASSWORD are required")
		os.Exit(2)
	}

	storage, err := postgres.New(cfg.Postgres.DSN(), log)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	svc := accounts.New(cfg.JWT, storage, auth.NewResolver(cfg.JWT.Secret, storage, auth.NewMapCache(), log), log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	owner, err := svc.Bootstrap(ctx, accounts.NewUser{Username: username, Email: email, Password: password})
	if errors.Is(err, domain.ErrAlreadyBootstrapped) {
		log.Info("System already bootstrapped, nothing to do")
		return
	}
	if err != nil {
		log.Error("Bootstrap failed", "error", err)
		os.Exit(1)
	}

	log.Info("Owner created", slog.String("id", owner.ID), slog.String("email", owner.Email))
}
