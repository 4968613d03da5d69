package ledger

import (
	"context"
	"fmt"

	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
)

const historyLimit = 50

type BalanceResult struct {
	Balance       int64 `json:"balance"`
	Level         int   `json:"level"`
	DownlineCount int   `json:"downline_count"`
}

// Balance reads the current balance of userID. It never writes.
func (e *Engine) Balance(ctx context.Context, userID string) (BalanceResult, error) {
	const op = "ledger.Balance"

	u, err := e.store.User(ctx, userID)
	if err != nil {
		return BalanceResult{}, fmt.Errorf("%s: %w", op, err)
	}
	return BalanceResult{Balance: u.Balance, Level: u.Level, DownlineCount: u.DownlineCount}, nil
}

type StatementQuery struct {
	// Type restricts the statement to one record type; empty means all.
	Type  string
	Page  int
	Limit int
}

type Statement struct {
	Transactions []models.Transaction `json:"transactions"`
	Pagination   models.Pagination    `json:"pagination"`
	Summary      []models.TypeSummary `json:"summary"`
}

// Statement pages through the records naming userID as sender or receiver,
// newest first, together with per-type aggregates over the same filter. Both
// sides of a transfer involving userID are listed.
func (e *Engine) Statement(ctx context.Context, userID string, q StatementQuery) (Statement, error) {
	const op = "ledger.Statement"

	filter := models.TransactionFilter{Party: userID}
	if q.Type != "" {
		t := models.TransactionType(q.Type)
		if !t.Valid() {
			return Statement{}, fmt.Errorf("%s: %w: unknown transaction type %q", op, domain.ErrInvalidArgument, q.Type)
		}
		filter.Types = []models.TransactionType{t}
	}

	page, limit := q.Page, q.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = e.cfg.DefaultPageLimit
	}
	if limit > e.cfg.MaxPageLimit {
		limit = e.cfg.MaxPageLimit
	}

	if _, err := e.store.User(ctx, userID); err != nil {
		return Statement{}, fmt.Errorf("%s: %w", op, err)
	}

	summary, err := e.store.Summarize(ctx, filter)
	if err != nil {
		return Statement{}, fmt.Errorf("%s: %w", op, err)
	}

	filter.Limit = limit
	filter.Offset = (page - 1) * limit
	txs, total, err := e.store.Transactions(ctx, filter)
	if err != nil {
		return Statement{}, fmt.Errorf("%s: %w", op, err)
	}

	return Statement{
		Transactions: nonNil(txs),
		Pagination:   models.NewPagination(page, limit, total),
		Summary:      nonNil(summary),
	}, nil
}

type Direction string

const (
	DirectionAll      Direction = "all"
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

type History struct {
	Transactions []models.Transaction `json:"transactions"`
	Summary      []models.TypeSummary `json:"summary"`
}

// History lists the 50 newest movements of userID in one direction. Credits
// that came from an admin override are reported as received like any other.
func (e *Engine) History(ctx context.Context, userID string, direction Direction) (History, error) {
	const op = "ledger.History"

	var types []models.TransactionType
	switch direction {
	case DirectionSent:
		types = []models.TransactionType{models.TypeDebit}
	case DirectionReceived:
		types = []models.TransactionType{models.TypeCredit}
	case DirectionAll, "":
		types = []models.TransactionType{models.TypeDebit, models.TypeCredit}
	default:
		return History{}, fmt.Errorf("%s: %w: unknown direction %q", op, domain.ErrInvalidArgument, direction)
	}

	if _, err := e.store.User(ctx, userID); err != nil {
		return History{}, fmt.Errorf("%s: %w", op, err)
	}

	filter := models.TransactionFilter{OwnerID: userID, Types: types}
	summary, err := e.store.Summarize(ctx, filter)
	if err != nil {
		return History{}, fmt.Errorf("%s: %w", op, err)
	}

	filter.Limit = historyLimit
	txs, _, err := e.store.Transactions(ctx, filter)
	if err != nil {
		return History{}, fmt.Errorf("%s: %w", op, err)
	}

	return History{Transactions: nonNil(txs), Summary: nonNil(summary)}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
