package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/downline-ledger/internal/lib/jwt"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage"
)

type UserSource interface {
	User(ctx context.Context, id string) (models.User, error)
}

// Cache keeps resolved identities keyed by user id.
type Cache interface {
	Get(ctx context.Context, id string) (Identity, bool, error)
	Set(ctx context.Context, identity Identity) error
	Delete(ctx context.Context, id string) error
}

// Resolver turns bearer tokens into identities.
type Resolver struct {
	secret string
	users  UserSource
	cache  Cache
	logger *slog.Logger
}

func NewResolver(secret string, users UserSource, cache Cache, logger *slog.Logger) *Resolver {
	return &Resolver{
		secret: secret,
		users:  users,
		cache:  cache,
		logger: logger,
	}
}

func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	const op = "auth.Resolve"

	claims, err := jwt.ParseToken(token, r.secret)
	if err != nil {
		return Identity{}, fmt.Errorf("%s: %w: %s", op, domain.ErrUnauthenticated, err)
	}

	identity, err := r.lookup(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Identity{}, fmt.Errorf("%s: %w: unknown user", op, domain.ErrUnauthenticated)
		}
		return Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	if !identity.IsActive {
		return Identity{}, fmt.Errorf("%s: %w: %w", op, domain.ErrUnauthenticated, domain.ErrInactiveUser)
	}
	if identity.PasswordChangedAt != nil && claims.IssuedAt.UnixMicro() < identity.PasswordChangedAt.UnixMicro() {
		return Identity{}, fmt.Errorf("%s: %w: password changed after token was issued", op, domain.ErrUnauthenticated)
	}

	return identity, nil
}

func (r *Resolver) lookup(ctx context.Context, id string) (Identity, error) {
	identity, ok, err := r.cache.Get(ctx, id)
	if err != nil {
		r.logger.Warn("Identity cache read failed", slog.String("user_id", id), "error", err)
	}
	if ok {
		return identity, nil
	}

	user, err := r.users.User(ctx, id)
	if err != nil {
		return Identity{}, err
	}

	identity = IdentityOf(user)
	if err := r.cache.Set(ctx, identity); err != nil {
		r.logger.Warn("Identity cache write failed", slog.String("user_id", id), "error", err)
	}
	return identity, nil
}

// Invalidate drops the cached identity so the next request reloads it.
func (r *Resolver) Invalidate(ctx context.Context, id string) {
	if err := r.cache.Delete(ctx, id); err != nil {
		r.logger.Warn("Identity cache delete failed", slog.String("user_id", id), "error", err)
	}
}

type userLister interface {
	ListUsers(ctx context.Context, filter storage.UserFilter) ([]models.User, int, error)
}

// Warm loads every user's identity into the cache.
func (r *Resolver) Warm(ctx context.Context, users userLister) error {
	const op = "auth.Warm"

	all, _, err := users.ListUsers(ctx, storage.UserFilter{})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, u := range all {
		if err := r.cache.Set(ctx, IdentityOf(u)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	r.logger.Info("Identity cache warmed", slog.Int("users", len(all)))
	return nil
}
