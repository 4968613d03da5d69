// Package money converts between decimal amounts and integer cents.
package money

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/IlyasAtabaev731/downline-ledger/internal/domain"
)

var maxCents = decimal.NewFromInt(math.MaxInt64)

// Parse reads a decimal with at most two fractional digits and returns it
// in cents. The sign is kept: whether an amount must be positive is up to
// the operation that spends it.
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", domain.ErrInvalidAmount, s)
	}

	cents := d.Shift(2)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("%w: at most two decimal places", domain.ErrInvalidAmount)
	}
	if cents.Abs().GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: too large", domain.ErrInvalidAmount)
	}
	return cents.IntPart(), nil
}

func Format(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Amount accepts both JSON numbers and strings and defers validation to Cents.
type Amount string

func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*a = ""
		return nil
	}
	*a = Amount(strings.Trim(string(b), `"`))
	return nil
}

// Cents parses the amount. A missing amount is zero cents, which every
// ledger operation rejects as an invalid amount at its own point in the
// validation order.
func (a Amount) Cents() (int64, error) {
	if strings.TrimSpace(string(a)) == "" {
		return 0, nil
	}
	return Parse(string(a))
}
