// Package ledger moves balance between adjacent nodes of the hierarchy and
// records every movement as a pair of immutable transaction records.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"

	"github.com/IlyasAtabaev731/downline-ledger/internal/auth"
	"github.com/IlyasAtabaev731/downline-ledger/internal/config"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
	"github.com/IlyasAtabaev731/downline-ledger/internal/domain/models"
	"github.com/IlyasAtabaev731/downline-ledger/internal/metrics"
	"github.com/IlyasAtabaev731/downline-ledger/internal/storage"
)

const defaultAdminDescription = "Admin credit"

type Engine struct {
	store  storage.Store
	logger *slog.Logger
	cfg    config.Ledger
}

func New(cfg config.Ledger, store storage.Store, logger *slog.Logger) *Engine {
	if cfg.DefaultPageLimit <= 0 {
		cfg.DefaultPageLimit = 20
	}
	if cfg.MaxPageLimit < cfg.DefaultPageLimit {
		cfg.MaxPageLimit = cfg.DefaultPageLimit
	}
	return &Engine{store: store, logger: logger, cfg: cfg}
}

// Party is a participant of a movement with its balance after commit.
type Party struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
}

func partyOf(u models.User) Party {
	return Party{ID: u.ID, Username: u.Username, Balance: u.Balance}
}

type TransferRequest struct {
	ReceiverID  string
	Amount      int64
	Description string
}

type TransferResult struct {
	Sender   Party `json:"sender"`
	Receiver Party `json:"receiver"`
	Amount   int64 `json:"amount"`
}

// Transfer moves Amount from the caller to one of its direct children.
func (e *Engine) Transfer(ctx context.Context, caller auth.Identity, req TransferRequest) (TransferResult, error) {
	const op = "ledger.Transfer"

	log := e.logger.With(
		slog.String("op", op),
		slog.String("sender_id", caller.ID),
		slog.String("receiver_id", req.ReceiverID),
		slog.Int64("amount", req.Amount),
	)

	var res TransferResult
	err := e.transfer(ctx, caller, req, &res)
	metrics.ObserveOperation("transfer", req.Amount, err)
	if err != nil {
		log.Warn("transfer rejected", slog.String("kind", domain.Kind(err)), slog.Any("error", err))
		return TransferResult{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("transfer committed",
		slog.Int64("sender_balance", res.Sender.Balance),
		slog.Int64("receiver_balance", res.Receiver.Balance),
	)
	return res, nil
}

func (e *Engine) transfer(ctx context.Context, caller auth.Identity, req TransferRequest, res *TransferResult) error {
	if err := auth.Authorize(caller, auth.OpTransfer); err != nil {
		return err
	}
	if req.Amount <= 0 {
		return domain.ErrInvalidAmount
	}

	return e.store.RunAtomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		// child before parent, the same order AdminCredit locks in
		receiver, err := tx.User(ctx, req.ReceiverID)
		if err != nil {
			return fmt.Errorf("receiver: %w", err)
		}
		sender, err := tx.User(ctx, caller.ID)
		if err != nil {
			return fmt.Errorf("sender: %w", err)
		}
		if !receiver.IsChildOf(sender.ID) {
			return domain.ErrUnauthorizedRelation
		}
		if !sender.IsActive || !receiver.IsActive {
			return domain.ErrInactiveUser
		}
		if sender.Balance < req.Amount {
			return domain.ErrInsufficientFunds
		}

		debitDesc := "Transfer to " + receiver.Username
		creditDesc := "Transfer from " + sender.Username
		if req.Description != "" {
			debitDesc += ": " + req.Description
			creditDesc += ": " + req.Description
		}

		from, to, err := move(ctx, tx, movement{
			from:       sender,
			to:         receiver,
			amount:     req.Amount,
			debitDesc:  debitDesc,
			creditDesc: creditDesc,
		})
		if err != nil {
			return err
		}

		*res = TransferResult{Sender: partyOf(from), Receiver: partyOf(to), Amount: req.Amount}
		return nil
	})
}

type AdminCreditRequest struct {
	TargetID    string
	Amount      int64
	Description string
}

type AdminCreditResult struct {
	Parent      Party  `json:"parent"`
	Target      Party  `json:"receiver"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// AdminCredit credits the target on behalf of an administrator, funding the
// movement from the target's parent.
func (e *Engine) AdminCredit(ctx context.Context, caller auth.Identity, req AdminCreditRequest) (AdminCreditResult, error) {
	const op = "ledger.AdminCredit"

	log := e.logger.With(
		slog.String("op", op),
		slog.String("admin_id", caller.ID),
		slog.String("target_id", req.TargetID),
		slog.Int64("amount", req.Amount),
	)

	var res AdminCreditResult
	err := e.adminCredit(ctx, caller, req, &res)
	metrics.ObserveOperation("admin_credit", req.Amount, err)
	if err != nil {
		log.Warn("admin credit rejected", slog.String("kind", domain.Kind(err)), slog.Any("error", err))
		return AdminCreditResult{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("admin credit committed",
		slog.String("parent_id", res.Parent.ID),
		slog.Int64("parent_balance", res.Parent.Balance),
		slog.Int64("target_balance", res.Target.Balance),
	)
	return res, nil
}

func (e *Engine) adminCredit(ctx context.Context, caller auth.Identity, req AdminCreditRequest, res *AdminCreditResult) error {
	if err := auth.Authorize(caller, auth.OpAdminCredit); err != nil {
		return err
	}

	description := req.Description
	if description == "" {
		description = defaultAdminDescription
	}

	return e.store.RunAtomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		target, err := tx.User(ctx, req.TargetID)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		if target.ParentID == nil {
			return fmt.Errorf("parent user %w", domain.ErrNotFound)
		}
		parent, err := tx.User(ctx, *target.ParentID)
		if err != nil {
			return fmt.Errorf("parent: %w", err)
		}
		if req.Amount <= 0 {
			return domain.ErrInvalidAmount
		}
		if !parent.IsActive || !target.IsActive {
			return domain.ErrInactiveUser
		}
		if parent.Balance < req.Amount {
			return domain.ErrInsufficientFunds
		}

		from, to, err := move(ctx, tx, movement{
			from:       parent,
			to:         target,
			amount:     req.Amount,
			debitDesc:  "Admin transfer to " + target.Username + ": " + description,
			creditDesc: "Admin credit: " + description,
			metadata:   models.Metadata{"adminAction": true, "adminId": caller.ID},
		})
		if err != nil {
			return err
		}

		*res = AdminCreditResult{
			Parent:      partyOf(from),
			Target:      partyOf(to),
			Amount:      req.Amount,
			Description: description,
		}
		return nil
	})
}

type RechargeResult struct {
	Balance int64 `json:"balance"`
	Amount  int64 `json:"amount"`
}

// Recharge adds amount to the owner's own balance. It is the only operation
// that changes the total balance of the system.
func (e *Engine) Recharge(ctx context.Context, caller auth.Identity, amount int64) (RechargeResult, error) {
	const op = "ledger.Recharge"

	log := e.logger.With(slog.String("op", op), slog.String("owner_id", caller.ID), slog.Int64("amount", amount))

	var res RechargeResult
	err := e.recharge(ctx, caller, amount, &res)
	metrics.ObserveOperation("recharge", amount, err)
	if err != nil {
		log.Warn("recharge rejected", slog.String("kind", domain.Kind(err)), slog.Any("error", err))
		return RechargeResult{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("recharge committed", slog.Int64("balance", res.Balance))
	return res, nil
}

func (e *Engine) recharge(ctx context.Context, caller auth.Identity, amount int64, res *RechargeResult) error {
	if err := auth.Authorize(caller, auth.OpRecharge); err != nil {
		return err
	}
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}

	return e.store.RunAtomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		owner, err := tx.User(ctx, caller.ID)
		if err != nil {
			return err
		}
		if owner.Balance > math.MaxInt64-amount {
			return fmt.Errorf("%w: balance overflow", domain.ErrInvalidAmount)
		}

		after := owner.Balance + amount
		record := &models.Transaction{
			SenderID:      owner.ID,
			ReceiverID:    owner.ID,
			OwnerID:       owner.ID,
			Amount:        amount,
			Type:          models.TypeRecharge,
			Description:   "Self recharge",
			BalanceBefore: owner.Balance,
			BalanceAfter:  after,
			Level:         0,
			Status:        models.StatusCompleted,
		}
		if err := tx.AppendTransaction(ctx, record); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, owner.ID, after); err != nil {
			return err
		}

		*res = RechargeResult{Balance: after, Amount: amount}
		return nil
	})
}

type movement struct {
	from, to   models.User
	amount     int64
	debitDesc  string
	creditDesc string
	metadata   models.Metadata
}

// move writes the debit/credit pair and both new balances through tx. The
// caller has already checked adjacency and funds.
func move(ctx context.Context, tx storage.Tx, m movement) (models.User, models.User, error) {
	from, to := m.from, m.to
	if to.Balance > math.MaxInt64-m.amount {
		return from, to, fmt.Errorf("%w: balance overflow", domain.ErrInvalidAmount)
	}

	level := from.Level - to.Level
	if level < 0 {
		level = -level
	}

	debit := &models.Transaction{
		SenderID:      from.ID,
		ReceiverID:    to.ID,
		OwnerID:       from.ID,
		Amount:        m.amount,
		Type:          models.TypeDebit,
		Description:   m.debitDesc,
		BalanceBefore: from.Balance,
		BalanceAfter:  from.Balance - m.amount,
		Level:         level,
		Status:        models.StatusCompleted,
		Metadata:      maps.Clone(m.metadata),
	}
	credit := &models.Transaction{
		SenderID:      from.ID,
		ReceiverID:    to.ID,
		OwnerID:       to.ID,
		Amount:        m.amount,
		Type:          models.TypeCredit,
		Description:   m.creditDesc,
		BalanceBefore: to.Balance,
		BalanceAfter:  to.Balance + m.amount,
		Level:         level,
		Status:        models.StatusCompleted,
		Metadata:      maps.Clone(m.metadata),
	}

	if err := tx.AppendTransaction(ctx, debit); err != nil {
		return from, to, err
	}
	if err := tx.AppendTransaction(ctx, credit); err != nil {
		return from, to, err
	}
	if err := tx.SetBalance(ctx, from.ID, debit.BalanceAfter); err != nil {
		return from, to, err
	}
	if err := tx.SetBalance(ctx, to.ID, credit.BalanceAfter); err != nil {
		return from, to, err
	}

	from.Balance = debit.BalanceAfter
	to.Balance = credit.BalanceAfter
	return from, to, nil
}
