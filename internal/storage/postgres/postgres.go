package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage"
)

const userColumns = `id, username, email, password_hash, role, parent_id, level, balance,
	downline_count, is_active, created_at, last_login, password_changed_at`

const transactionColumns = `id, sender_id, receiver_id, owner_id, amount, type, description,
	balance_before, balance_after, level, status, metadata, created_at`

type Storage struct {
	*queries
	db     *sqlx.DB
	logger *slog.Logger
}

var _ storage.Store = (*Storage)(nil)

func New(dbUrl string, logger *slog.Logger) (*Storage, error) {
	db, err := sqlx.Open("postgres", dbUrl)
	if err != nil {
		return nil, fmt.Errorf("database connection error %s", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect database error %s", err)
	}

	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		queries: &queries{ext: db},
		db:      db,
		logger:  logger,
	}
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// RunAtomic runs fn inside a SERIALIZABLE transaction; users read through the
// Tx are locked with SELECT ... FOR UPDATE.
func (s *Storage) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	const op = "storage.postgres.RunAtomic"

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	if err := fn(ctx, &queries{ext: tx, lock: true}); err != nil {
		s.rollback(tx)
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	return nil
}

func (s *Storage) rollback(tx *sqlx.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		s.logger.Error("Failed to rollback transaction", "error", err)
	}
}

// mapError converts driver errors into storage errors where the caller can act on them.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", storage.ErrUserExists, pqErr.Constraint)
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Message)
	}
	return err
}

// queries runs statements against either the pool or an open transaction.
type queries struct {
	ext  sqlx.ExtContext
	lock bool
}

func (q *queries) User(ctx context.Context, id string) (models.User, error) {
	const op = "storage.postgres.User"

	if _, err := uuid.Parse(id); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	query := "SELECT " + userColumns + " FROM users WHERE id = $1"
	if q.lock {
		query += " FOR UPDATE"
	}

	var user models.User
	if err := sqlx.GetContext(ctx, q.ext, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, mapError(err))
	}
	return user, nil
}

func (q *queries) UserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.postgres.UserByEmail"

	var user models.User
	err := sqlx.GetContext(ctx, q.ext, &user, "SELECT "+userColumns+" FROM users WHERE lower(email) = lower($1)", email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (q *queries) Children(ctx context.Context, parentID string) ([]models.User, error) {
	const op = "storage.postgres.Children"

	if _, err := uuid.Parse(parentID); err != nil {
		return nil, nil
	}

	var children []models.User
	err := sqlx.SelectContext(ctx, q.ext, &children,
		"SELECT "+userColumns+" FROM users WHERE parent_id = $1 ORDER BY created_at, id", parentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return children, nil
}

func (q *queries) CountUsers(ctx context.Context) (int, error) {
	const op = "storage.postgres.CountUsers"

	var count int
	if err := sqlx.GetContext(ctx, q.ext, &count, "SELECT count(*) FROM users"); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

func (q *queries) ListUsers(ctx context.Context, filter storage.UserFilter) ([]models.User, int, error) {
	const op = "storage.postgres.ListUsers"

	const where = ` WHERE ($1 = '' OR strpos(lower(username), lower($1)) > 0 OR strpos(lower(email), lower($1)) > 0)
		AND ($2::int IS NULL OR level = $2)`

	var total int
	if err := sqlx.GetContext(ctx, q.ext, &total, "SELECT count(*) FROM users"+where, filter.Search, filter.Level); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	var users []models.User
	err := sqlx.SelectContext(ctx, q.ext, &users,
		"SELECT "+userColumns+" FROM users"+where+" ORDER BY created_at DESC, id LIMIT NULLIF($3, 0) OFFSET $4",
		filter.Search, filter.Level, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	return users, total, nil
}

func (q *queries) CreateUser(ctx context.Context, user *models.User) error {
	const op = "storage.postgres.CreateUser"

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO users (id, username, email, password_hash, role, parent_id, level, balance,
			downline_count, is_active, created_at)
		VALUES (:id, :username, :email, :password_hash, :role, :parent_id, :level, :balance,
			:downline_count, :is_active, :created_at)`, user)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	return nil
}

func (q *queries) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

func (q *queries) SetBalance(ctx context.Context, id string, balance int64) error {
	return q.exec(ctx, "storage.postgres.SetBalance", "UPDATE users SET balance = $1 WHERE id = $2", balance, id)
}

func (q *queries) IncrementDownlineCount(ctx context.Context, id string) error {
	return q.exec(ctx, "storage.postgres.IncrementDownlineCount",
		"UPDATE users SET downline_count = downline_count + 1 WHERE id = $1", id)
}

func (q *queries) SetActive(ctx context.Context, id string, active bool) error {
	return q.exec(ctx, "storage.postgres.SetActive", "UPDATE users SET is_active = $1 WHERE id = $2", active, id)
}

func (q *queries) SetPassword(ctx context.Context, id string, hash string, changedAt time.Time) error {
	return q.exec(ctx, "storage.postgres.SetPassword",
		"UPDATE users SET password_hash = $1, password_changed_at = $2 WHERE id = $3", hash, changedAt, id)
}

func (q *queries) SetLastLogin(ctx context.Context, id string, at time.Time) error {
	return q.exec(ctx, "storage.postgres.SetLastLogin", "UPDATE users SET last_login = $1 WHERE id = $2", at, id)
}

func (q *queries) BalanceStats(ctx context.Context) (models.BalanceStats, error) {
	const op = "storage.postgres.BalanceStats"

	var stats models.BalanceStats
	err := sqlx.GetContext(ctx, q.ext, &stats, `
		SELECT count(*) AS total_users,
			COALESCE(sum(balance), 0) AS total_balance,
			COALESCE(avg(balance), 0)::float8 AS avg_balance,
			COALESCE(max(balance), 0) AS max_balance,
			COALESCE(min(balance), 0) AS min_balance
		FROM users`)
	if err != nil {
		return models.BalanceStats{}, fmt.Errorf("%s: %w", op, err)
	}
	return stats, nil
}

func (q *queries) BalanceByLevel(ctx context.Context) ([]models.LevelStat, error) {
	const op = "storage.postgres.BalanceByLevel"

	var stats []models.LevelStat
	err := sqlx.SelectContext(ctx, q.ext, &stats, `
		SELECT level, count(*) AS user_count, sum(balance) AS total_balance, avg(balance)::float8 AS avg_balance
		FROM users GROUP BY level ORDER BY level`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return stats, nil
}

func (q *queries) BalanceByRole(ctx context.Context) ([]models.RoleStat, error) {
	const op = "storage.postgres.BalanceByRole"

	var stats []models.RoleStat
	err := sqlx.SelectContext(ctx, q.ext, &stats, `
		SELECT role, count(*) AS user_count, sum(balance) AS total_balance, avg(balance)::float8 AS avg_balance
		FROM users GROUP BY role ORDER BY role`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return stats, nil
}

func (q *queries) TopUsers(ctx context.Context, limit int) ([]models.User, error) {
	const op = "storage.postgres.TopUsers"

	var users []models.User
	err := sqlx.SelectContext(ctx, q.ext, &users,
		"SELECT "+userColumns+" FROM users ORDER BY balance DESC, created_at LIMIT NULLIF($1, 0)", limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

func (q *queries) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	const op = "storage.postgres.AppendTransaction"

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Metadata == nil {
		t.Metadata = models.Metadata{}
	}

	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (:id, :sender_id, :receiver_id, :owner_id, :amount, :type, :description,
			:balance_before, :balance_after, :level, :status, :metadata, :created_at)`, t)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}
	return nil
}

func typeArray(types []models.TransactionType) any {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return pq.Array(out)
}

const transactionWhere = ` WHERE ($1 = '' OR owner_id::text = $1)
	AND ($2 = '' OR sender_id::text = $2 OR receiver_id::text = $2)
	AND (cardinality($3::text[]) = 0 OR type = ANY($3))`

func (q *queries) Transactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error) {
	const op = "storage.postgres.Transactions"

	types := typeArray(filter.Types)

	var total int
	if err := sqlx.GetContext(ctx, q.ext, &total, "SELECT count(*) FROM transactions"+transactionWhere, filter.OwnerID, filter.Party, types); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	var txs []models.Transaction
	err := sqlx.SelectContext(ctx, q.ext, &txs,
		"SELECT "+transactionColumns+" FROM transactions"+transactionWhere+" ORDER BY seq DESC LIMIT NULLIF($4, 0) OFFSET $5",
		filter.OwnerID, filter.Party, types, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	return txs, total, nil
}

func (q *queries) Summarize(ctx context.Context, filter models.TransactionFilter) ([]models.TypeSummary, error) {
	const op = "storage.postgres.Summarize"

	var summary []models.TypeSummary
	err := sqlx.SelectContext(ctx, q.ext, &summary,
		"SELECT type, count(*) AS count, COALESCE(sum(amount), 0) AS total_amount FROM transactions"+
			transactionWhere+" GROUP BY type ORDER BY type",
		filter.OwnerID, filter.Party, typeArray(filter.Types))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return summary, nil
}

func (q *queries) RecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	const op = "storage.postgres.RecentTransactions"

	var txs []models.Transaction
	err := sqlx.SelectContext(ctx, q.ext, &txs,
		"SELECT "+transactionColumns+" FROM transactions ORDER BY seq DESC LIMIT NULLIF($1, 0)", limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return txs, nil
}
