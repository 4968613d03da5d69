// Package memory is an in-process implementation of storage.Store. Units of
// work are serialized and applied to a private copy that replaces the live
// state only on commit.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage"
)

type Storage struct {
	mu    sync.RWMutex
	state *state
}

var _ storage.Store = (*Storage)(nil)

func New() *Storage {
	return &Storage{state: newState()}
}

func (s *Storage) Close() error {
	return nil
}

func (s *Storage) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.state = work
	return nil
}

func read[T any](s *Storage, fn func(st *state) (T, error)) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

func (s *Storage) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

func (s *Storage) User(ctx context.Context, id string) (models.User, error) {
	return read(s, func(st *state) (models.User, error) { return st.User(ctx, id) })
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (models.User, error) {
	return read(s, func(st *state) (models.User, error) { return st.UserByEmail(ctx, email) })
}

func (s *Storage) Children(ctx context.Context, parentID string) ([]models.User, error) {
	return read(s, func(st *state) ([]models.User, error) { return st.Children(ctx, parentID) })
}

func (s *Storage) CountUsers(ctx context.Context) (int, error) {
	return read(s, func(st *state) (int, error) { return st.CountUsers(ctx) })
}

func (s *Storage) ListUsers(ctx context.Context, filter storage.UserFilter) ([]models.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ListUsers(ctx, filter)
}

func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	return s.write(func(st *state) error { return st.CreateUser(ctx, user) })
}

func (s *Storage) SetBalance(ctx context.Context, id string, balance int64) error {
	return s.write(func(st *state) error { return st.SetBalance(ctx, id, balance) })
}

func (s *Storage) IncrementDownlineCount(ctx context.Context, id string) error {
	return s.write(func(st *state) error { return st.IncrementDownlineCount(ctx, id) })
}

func (s *Storage) SetActive(ctx context.Context, id string, active bool) error {
	return s.write(func(st *state) error { return st.SetActive(ctx, id, active) })
}

func (s *Storage) SetPassword(ctx context.Context, id string, hash string, changedAt time.Time) error {
	return s.write(func(st *state) error { return st.SetPassword(ctx, id, hash, changedAt) })
}

func (s *Storage) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	return s.write(func(st *state) error { return st.SetLastLogin(ctx, id, at) })
}

func (s *Storage) BalanceStats(ctx context.Context) (models.BalanceStats, error) {
	return read(s, func(st *state) (models.BalanceStats, error) { return st.BalanceStats(ctx) })
}

func (s *Storage) BalanceByLevel(ctx context.Context) ([]models.LevelStat, error) {
	return read(s, func(st *state) ([]models.LevelStat, error) { return st.BalanceByLevel(ctx) })
}

func (s *Storage) BalanceByRole(ctx context.Context) ([]models.RoleStat, error) {
	return read(s, func(st *state) ([]models.RoleStat, error) { return st.BalanceByRole(ctx) })
}

func (s *Storage) TopUsers(ctx context.Context, limit int) ([]models.User, error) {
	return read(s, func(st *state) ([]models.User, error) { return st.TopUsers(ctx, limit) })
}

func (s *Storage) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	return s.write(func(st *state) error { return st.AppendTransaction(ctx, t) })
}

func (s *Storage) Transactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Transactions(ctx, filter)
}

func (s *Storage) Summarize(ctx context.Context, filter models.TransactionFilter) ([]models.TypeSummary, error) {
	return read(s, func(st *state) ([]models.TypeSummary, error) { return st.Summarize(ctx, filter) })
}

func (s *Storage) RecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	return read(s, func(st *state) ([]models.Transaction, error) { return st.RecentTransactions(ctx, limit) })
}

// state implements storage.Tx without locking; callers hold Storage.mu.
type state struct {
	users map[string]models.User
	order []string
	txs   []models.Transaction
}

func newState() *state {
	return &state{users: make(map[string]models.User)}
}

func (st *state) clone() *state {
	users := make(map[string]models.User, len(st.users))
	for id, u := range st.users {
		users[id] = u
	}
	return &state{
		users: users,
		order: st.order[:len(st.order):len(st.order)],
		txs:   st.txs[:len(st.txs):len(st.txs)],
	}
}

func (st *state) User(_ context.Context, id string) (models.User, error) {
	u, ok := st.users[id]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}
	return u, nil
}

func (st *state) UserByEmail(_ context.Context, email string) (models.User, error) {
	for _, id := range st.order {
		if u := st.users[id]; strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return models.User{}, storage.ErrUserNotFound
}

func (st *state) Children(_ context.Context, parentID string) ([]models.User, error) {
	var children []models.User
	for _, id := range st.order {
		if u := st.users[id]; u.IsChildOf(parentID) {
			children = append(children, u)
		}
	}
	return children, nil
}

func (st *state) CountUsers(_ context.Context) (int, error) {
	return len(st.users), nil
}

func (st *state) ListUsers(_ context.Context, filter storage.UserFilter) ([]models.User, int, error) {
	search := strings.ToLower(filter.Search)
	var matched []models.User
	for i := len(st.order) - 1; i >= 0; i-- {
		u := st.users[st.order[i]]
		if filter.Level != nil && u.Level != *filter.Level {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Username), search) &&
			!strings.Contains(strings.ToLower(u.Email), search) {
			continue
		}
		matched = append(matched, u)
	}
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (st *state) CreateUser(_ context.Context, user *models.User) error {
	for _, u := range st.users {
		if u.Username == user.Username || strings.EqualFold(u.Email, user.Email) {
			return storage.ErrUserExists
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if _, ok := st.users[user.ID]; ok {
		return storage.ErrUserExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	st.users[user.ID] = *user
	st.order = append(st.order, user.ID)
	return nil
}

func (st *state) update(id string, fn func(u *models.User)) error {
	u, ok := st.users[id]
	if !ok {
		return storage.ErrUserNotFound
	}
	fn(&u)
	st.users[id] = u
	return nil
}

func (st *state) SetBalance(_ context.Context, id string, balance int64) error {
	return st.update(id, func(u *models.User) { u.Balance = balance })
}

func (st *state) IncrementDownlineCount(_ context.Context, id string) error {
	return st.update(id, func(u *models.User) { u.DownlineCount++ })
}

func (st *state) SetActive(_ context.Context, id string, active bool) error {
	return st.update(id, func(u *models.User) { u.IsActive = active })
}

func (st *state) SetPassword(_ context.Context, id string, hash string, changedAt time.Time) error {
	return st.update(id, func(u *models.User) {
		u.PasswordHash = hash
		u.PasswordChangedAt = &changedAt
	})
}

func (st *state) SetLastLogin(_ context.Context, id string, at time.Time) error {
	return st.update(id, func(u *models.User) { u.LastLogin = &at })
}

func (st *state) BalanceStats(_ context.Context) (models.BalanceStats, error) {
	var stats models.BalanceStats
	for i, id := range st.order {
		b := st.users[id].Balance
		stats.TotalBalance += b
		if i == 0 || b > stats.MaxBalance {
			stats.MaxBalance = b
		}
		if i == 0 || b < stats.MinBalance {
			stats.MinBalance = b
		}
	}
	stats.TotalUsers = len(st.order)
	if stats.TotalUsers > 0 {
		stats.AvgBalance = float64(stats.TotalBalance) / float64(stats.TotalUsers)
	}
	return stats, nil
}

func (st *state) BalanceByLevel(_ context.Context) ([]models.LevelStat, error) {
	byLevel := make(map[int]*models.LevelStat)
	for _, u := range st.users {
		s, ok := byLevel[u.Level]
		if !ok {
			s = &models.LevelStat{Level: u.Level}
			byLevel[u.Level] = s
		}
		s.UserCount++
		s.TotalBalance += u.Balance
	}
	out := make([]models.LevelStat, 0, len(byLevel))
	for _, s := range byLevel {
		s.AvgBalance = float64(s.TotalBalance) / float64(s.UserCount)
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b models.LevelStat) int { return cmp.Compare(a.Level, b.Level) })
	return out, nil
}

func (st *state) BalanceByRole(_ context.Context) ([]models.RoleStat, error) {
	byRole := make(map[models.Role]*models.RoleStat)
	for _, u := range st.users {
		s, ok := byRole[u.Role]
		if !ok {
			s = &models.RoleStat{Role: u.Role}
			byRole[u.Role] = s
		}
		s.UserCount++
		s.TotalBalance += u.Balance
	}
	out := make([]models.RoleStat, 0, len(byRole))
	for _, s := range byRole {
		s.AvgBalance = float64(s.TotalBalance) / float64(s.UserCount)
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b models.RoleStat) int { return cmp.Compare(a.Role, b.Role) })
	return out, nil
}

func (st *state) TopUsers(_ context.Context, limit int) ([]models.User, error) {
	users := make([]models.User, 0, len(st.order))
	for _, id := range st.order {
		users = append(users, st.users[id])
	}
	slices.SortStableFunc(users, func(a, b models.User) int { return cmp.Compare(b.Balance, a.Balance) })
	return page(users, limit, 0), nil
}

func (st *state) AppendTransaction(_ context.Context, t *models.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	st.txs = append(st.txs, *t)
	return nil
}

func (st *state) newestFirst(filter models.TransactionFilter) []models.Transaction {
	var matched []models.Transaction
	for i := len(st.txs) - 1; i >= 0; i-- {
		if filter.Matches(st.txs[i]) {
			matched = append(matched, st.txs[i])
		}
	}
	return matched
}

func (st *state) Transactions(_ context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error) {
	matched := st.newestFirst(filter)
	return page(matched, filter.Limit, filter.Offset), len(matched), nil
}

func (st *state) Summarize(_ context.Context, filter models.TransactionFilter) ([]models.TypeSummary, error) {
	byType := make(map[models.TransactionType]*models.TypeSummary)
	for _, t := range st.newestFirst(filter) {
		s, ok := byType[t.Type]
		if !ok {
			s = &models.TypeSummary{Type: t.Type}
			byType[t.Type] = s
		}
		s.Count++
		s.TotalAmount += t.Amount
	}
	out := make([]models.TypeSummary, 0, len(byType))
	for _, s := range byType {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b models.TypeSummary) int { return cmp.Compare(a.Type, b.Type) })
	return out, nil
}

func (st *state) RecentTransactions(_ context.Context, limit int) ([]models.Transaction, error) {
	return page(st.newestFirst(models.TransactionFilter{}), limit, 0), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
