package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency describes a bookkeeping currency. Rounding is the smallest
// representable step, e.g. 0.01 for two decimal places.
type Currency struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	DecimalPlaces int32           `json:"decimal_places"`
	Rounding      decimal.Decimal `json:"rounding"`
	CreatedAt     time.Time       `json:"-"`
	UpdatedAt     time.Time       `json:"-"`
}

// Round snaps an amount to the nearest multiple of the currency rounding.
func (c *Currency) Round(amount decimal.Decimal) decimal.Decimal {
	if c == nil || c.Rounding.IsZero() {
		return amount.Round(2)
	}
	return amount.Div(c.Rounding).Round(0).Mul(c.Rounding)
}

// IsZero reports whether an amount rounds to zero in this currency. Every
// balance comparison in the ledger goes through here so that residuals a
// half-step below the rounding unit count as settled.
func (c *Currency) IsZero(amount decimal.Decimal) bool {
	if c == nil || c.Rounding.IsZero() {
		return amount.Round(2).IsZero()
	}
	return amount.Abs().Cmp(c.Rounding.Div(decimal.NewFromInt(2))) < 0
}

// Compare orders two amounts after rounding both in this currency.
func (c *Currency) Compare(a, b decimal.Decimal) int {
	return c.Round(a).Cmp(c.Round(b))
}

// Rate is one dated conversion quote: 1 base unit = Rate quote units.
type Rate struct {
	ID        int64           `json:"id"`
	Base      string          `json:"base_currency"`
	Quote     string          `json:"quote_currency"`
	Rate      decimal.Decimal `json:"rate"`
	AsOf      time.Time       `json:"as_of"`
	CreatedAt time.Time       `json:"-"`
}

// Convert applies a rate to an amount and rounds in the destination
// currency.
func Convert(amount decimal.Decimal, rate *Rate, dst *Currency) decimal.Decimal {
	return dst.Round(amount.Mul(rate.Rate))
}
