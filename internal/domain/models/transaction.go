package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type TransactionType string

const (
	TypeCredit     TransactionType = "credit"
	TypeDebit      TransactionType = "debit"
	TypeRecharge   TransactionType = "recharge"
	TypeCommission TransactionType = "commission"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeCredit, TypeDebit, TypeRecharge, TypeCommission:
		return true
	}
	return false
}

type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusPending   TransactionStatus = "pending"
)

// Metadata is a free-form bag persisted as JSONB.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	*m = out
	return nil
}

// Transaction is an immutable ledger record. OwnerID is the party whose
// balance BalanceBefore/BalanceAfter describe.
type Transaction struct {
	ID            string            `json:"id" db:"id"`
	SenderID      string            `json:"sender_id" db:"sender_id"`
	ReceiverID    string            `json:"receiver_id" db:"receiver_id"`
	OwnerID       string            `json:"owner_id" db:"owner_id"`
	Amount        int64             `json:"amount" db:"amount"`
	Type          TransactionType   `json:"type" db:"type"`
	Description   string            `json:"description" db:"description"`
	BalanceBefore int64             `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64             `json:"balance_after" db:"balance_after"`
	Level         int               `json:"level" db:"level"`
	Status        TransactionStatus `json:"status" db:"status"`
	Metadata      Metadata          `json:"metadata" db:"metadata"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// TransactionFilter selects records owned by OwnerID and/or naming Party as
// sender or receiver. Empty fields match anything.
type TransactionFilter struct {
	OwnerID string
	Party   string
	Types   []TransactionType
	Limit   int
	Offset  int
}

func (f TransactionFilter) Matches(t Transaction) bool {
	if f.OwnerID != "" && t.OwnerID != f.OwnerID {
		return false
	}
	if f.Party != "" && t.SenderID != f.Party && t.ReceiverID != f.Party {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, typ := range f.Types {
		if t.Type == typ {
			return true
		}
	}
	return false
}

type TypeSummary struct {
	Type        TransactionType `json:"type" db:"type"`
	Count       int             `json:"count" db:"count"`
	TotalAmount int64           `json:"total_amount" db:"total_amount"`
}
