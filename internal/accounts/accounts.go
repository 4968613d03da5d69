// Package accounts manages users of the hierarchy: the one-time owner
// bootstrap, child creation, login and the administrative views.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
	"github.com/IlyasAtabaev731/downline-ledger/internal/config"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/downline-ledger/internal/lib/jwt"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage"
)

const (
	minPasswordLen  = 6
	summaryRowLimit = 10
)

// Invalidator drops cached identities after a status or password change.
type Invalidator interface {
	Invalidate(ctx context.Context, id string)
}

type Service struct {
	store       storage.Store
	invalidator Invalidator
	logger      *slog.Logger
	jwtSecret   string
	tokenTTL    time.Duration
	now         func() time.Time
}

func New(cfg config.JWT, store storage.Store, invalidator Invalidator, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		invalidator: invalidator,
		logger:      logger,
		jwtSecret:   cfg.Secret,
		tokenTTL:    cfg.TTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type NewUser struct {
	Username string
	Email    string
	Password string
	// ParentID attaches the user below another node; empty means the caller.
	ParentID string
	// AsAdmin creates a root-less administrator instead of a child.
	AsAdmin bool
}

func (n NewUser) normalize() (NewUser, error) {
	n.Username = strings.TrimSpace(n.Username)
	n.Email = strings.ToLower(strings.TrimSpace(n.Email))
	if n.Username == "" || n.Email == "" {
		return n, fmt.Errorf("%w: username and email are required", domain.ErrInvalidArgument)
	}
	if len(n.Password) < minPasswordLen {
		return n, fmt.Errorf("%w: password must be at least %d characters", domain.ErrInvalidArgument, minPasswordLen)
	}
	return n, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Bootstrap creates the owner of an empty system. It fails once any user exists.
func (s *Service) Bootstrap(ctx context.Context, n NewUser) (models.User, error) {
	const op = "accounts.Bootstrap"

	n, err := n.normalize()
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	hash, err := hashPassword(n.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	owner := models.User{
		Username:     n.Username,
		Email:        n.Email,
		PasswordHash: hash,
		Role:         models.RoleOwner,
		IsActive:     true,
	}

	err = s.store.RunAtomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		count, err := tx.CountUsers(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrAlreadyBootstrapped
		}
		return tx.CreateUser(ctx, &owner)
	})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("Owner bootstrapped", slog.String("user_id", owner.ID), slog.String("username", owner.Username))
	return owner, nil
}

// CreateUser adds a node below ParentID (default: the caller), or a root-less
// admin when AsAdmin is set.
func (s *Service) CreateUser(ctx context.Context, caller auth.Identity, n NewUser) (models.User, error) {
	const op = "accounts.CreateUser"

	if err := s.authorizeCreate(caller, &n); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	n, err := n.normalize()
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	hash, err := hashPassword(n.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user := models.User{
		Username:     n.Username,
		Email:        n.Email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		IsActive:     true,
	}

	err = s.store.RunAtomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if n.AsAdmin {
			user.Role = models.RoleAdmin
			return tx.CreateUser(ctx, &user)
		}

		parent, err := tx.User(ctx, n.ParentID)
		if err != nil {
			return fmt.Errorf("parent: %w", err)
		}
		if !parent.IsActive {
			return domain.ErrInactiveUser
		}

		user.ParentID = &parent.ID
		user.Level = parent.Level + 1
		if err := tx.CreateUser(ctx, &user); err != nil {
			return err
		}
		return tx.IncrementDownlineCount(ctx, parent.ID)
	})
	if err != nil {
		s.logger.Warn("User creation rejected", slog.String("op", op), slog.String("caller_id", caller.ID), "error", err)
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Info("User created",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
		slog.Int("level", user.Level),
		slog.String("created_by", caller.ID),
	)
	return user, nil
}

func (s *Service) authorizeCreate(caller auth.Identity, n *NewUser) error {
	if err := auth.Authorize(caller, auth.OpCreateChild); err != nil {
		return err
	}
	if n.AsAdmin {
		if n.ParentID != "" {
			return fmt.Errorf("%w: an admin account has no parent", domain.ErrInvalidArgument)
		}
		return auth.Authorize(caller, auth.OpCreateAdmin)
	}
	if n.ParentID == "" {
		n.ParentID = caller.ID
	}
	if n.ParentID != caller.ID {
		return auth.Authorize(caller, auth.OpCreateAnyUser)
	}
	return nil
}

type LoginResult struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	const op = "accounts.Login"

	user, err := s.store.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return LoginResult{}, fmt.Errorf("%s: %w", op, domain.ErrInvalidCredentials)
		}
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("Login failed", slog.String("user_id", user.ID))
		return LoginResult{}, fmt.Errorf("%s: %w", op, domain.ErrInvalidCredentials)
	}
	if !user.IsActive {
		return LoginResult{}, fmt.Errorf("%s: %w", op, domain.ErrInactiveUser)
	}

	now := s.now()
	token, err := jwt.NewTokenAt(user, s.jwtSecret, now, s.tokenTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.SetLastLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}
	user.LastLogin = &now

	s.logger.Info("User logged in", slog.String("user_id", user.ID))
	return LoginResult{Token: token, User: user}, nil
}

// ToggleStatus flips the active flag of targetID.
func (s *Service) ToggleStatus(ctx context.Context, caller auth.Identity, targetID string) (models.User, error) {
	const op = "accounts.ToggleStatus"

	if err := auth.Authorize(caller, auth.OpToggleStatus); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	var target models.User
	err := s.store.RunAtomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		if target, err = tx.User(ctx, targetID); err != nil {
			return err
		}
		if err := auth.CheckDeactivation(caller, target); err != nil {
			return err
		}
		target.IsActive = !target.IsActive
		return tx.SetActive(ctx, target.ID, target.IsActive)
	})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidator.Invalidate(ctx, target.ID)
	s.logger.Info("User status changed",
		slog.String("user_id", target.ID),
		slog.Bool("is_active", target.IsActive),
		slog.String("changed_by", caller.ID),
	)
	return target, nil
}

// ChangeChildPassword replaces the password of a direct child of the caller.
// Tokens issued before the change stop resolving.
func (s *Service) ChangeChildPassword(ctx context.Context, caller auth.Identity, childID, password string) error {
	const op = "accounts.ChangeChildPassword"

	if err := auth.Authorize(caller, auth.OpChangeChildPassword); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(password) < minPasswordLen {
		return fmt.Errorf("%s: %w: password must be at least %d characters", op, domain.ErrInvalidArgument, minPasswordLen)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = s.store.RunAtomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		child, err := tx.User(ctx, childID)
		if err != nil {
			return err
		}
		if !child.IsChildOf(caller.ID) {
			return domain.ErrUnauthorizedRelation
		}
		return tx.SetPassword(ctx, child.ID, hash, s.now())
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.invalidator.Invalidate(ctx, childID)
	s.logger.Info("Child password changed", slog.String("user_id", childID), slog.String("changed_by", caller.ID))
	return nil
}

func (s *Service) Profile(ctx context.Context, userID string) (models.User, error) {
	const op = "accounts.Profile"

	u, err := s.store.User(ctx, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}
