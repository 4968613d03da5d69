package accounts

import (
	"context"
	"fmt"

	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage"
)

type UserQuery struct {
	Search string
	Page   int
	Limit  int
}

type UserPage struct {
	Users      []models.User     `json:"users"`
	Pagination models.Pagination `json:"pagination"`
}

// ListUsers pages through every user, newest first, optionally filtered by
// a case-insensitive match on username or email.
func (s *Service) ListUsers(ctx context.Context, caller auth.Identity, q UserQuery) (UserPage, error) {
	const op = "accounts.ListUsers"

	if err := auth.Authorize(caller, auth.OpAdminView); err != nil {
		return UserPage{}, fmt.Errorf("%s: %w", op, err)
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = 20
	}

	users, total, err := s.store.ListUsers(ctx, storage.UserFilter{
		Search: q.Search,
		Limit:  q.Limit,
		Offset: (q.Page - 1) * q.Limit,
	})
	if err != nil {
		return UserPage{}, fmt.Errorf("%s: %w", op, err)
	}
	if users == nil {
		users = []models.User{}
	}

	return UserPage{Users: users, Pagination: models.NewPagination(q.Page, q.Limit, total)}, nil
}

// NextLevelUsers lists every user on level 1.
func (s *Service) NextLevelUsers(ctx context.Context, caller auth.Identity) ([]models.User, error) {
	const op = "accounts.NextLevelUsers"

	if err := auth.Authorize(caller, auth.OpAdminView); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	level := 1
	users, _, err := s.store.ListUsers(ctx, storage.UserFilter{Level: &level})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

type BalanceSummary struct {
	Summary            models.BalanceStats  `json:"summary"`
	ByLevel            []models.LevelStat   `json:"by_level"`
	ByRole             []models.RoleStat    `json:"by_role"`
	RecentTransactions []models.Transaction `json:"recent_transactions"`
	TopUsers           []models.User        `json:"top_users"`
}

func (s *Service) BalanceSummary(ctx context.Context, caller auth.Identity) (BalanceSummary, error) {
	const op = "accounts.BalanceSummary"

	if err := auth.Authorize(caller, auth.OpAdminView); err != nil {
		return BalanceSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	var (
		out BalanceSummary
		err error
	)
	if out.Summary, err = s.store.BalanceStats(ctx); err != nil {
		return BalanceSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.ByLevel, err = s.store.BalanceByLevel(ctx); err != nil {
		return BalanceSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.ByRole, err = s.store.BalanceByRole(ctx); err != nil {
		return BalanceSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.RecentTransactions, err = s.store.RecentTransactions(ctx, summaryRowLimit); err != nil {
		return BalanceSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	if out.TopUsers, err = s.store.TopUsers(ctx, summaryRowLimit); err != nil {
		return BalanceSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
