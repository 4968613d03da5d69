// Package storage defines the hierarchy and ledger stores consumed by the
// engines, and the atomic unit of work that spans both.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
)

var (
	ErrUserNotFound = fmt.Errorf("user %w", domain.ErrNotFound)
	ErrUserExists   = domain.ErrUserExists
	// ErrConflict is returned when the store aborts a unit of work because of
	// a concurrent write (serialization failure or deadlock).
	ErrConflict = errors.New("concurrent update conflict")
)

type UserFilter struct {
	Search string
	Level  *int
	Limit  int
	Offset int
}

// Hierarchy holds user nodes and their parent links.
type Hierarchy interface {
	// User loads a node by id. Inside RunAtomic the row stays locked until
	// the unit commits or aborts.
	User(ctx context.Context, id string) (models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)
	Children(ctx context.Context, parentID string) ([]models.User, error)
	CountUsers(ctx context.Context) (int, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]models.User, int, error)

	CreateUser(ctx context.Context, user *models.User) error
	SetBalance(ctx context.Context, id string, balance int64) error
	IncrementDownlineCount(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetPassword(ctx context.Context, id string, hash string, changedAt time.Time) error
	SetLastLogin(ctx context.Context, id string, at time.Time) error

	BalanceStats(ctx context.Context) (models.BalanceStats, error)
	BalanceByLevel(ctx context.Context) ([]models.LevelStat, error)
	BalanceByRole(ctx context.Context) ([]models.RoleStat, error)
	TopUsers(ctx context.Context, limit int) ([]models.User, error)
}

// Ledger is the append-only transaction log.
type Ledger interface {
	AppendTransaction(ctx context.Context, t *models.Transaction) error
	Transactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error)
	Summarize(ctx context.Context, filter models.TransactionFilter) ([]models.TypeSummary, error)
	RecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error)
}

// Tx gives read/write access to both stores inside one unit of work.
type Tx interface {
	Hierarchy
	Ledger
}

type Store interface {
	Tx
	// RunAtomic executes fn in a single unit of work. All writes made through
	// the Tx are committed if fn returns nil and discarded otherwise.
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
