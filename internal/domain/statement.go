package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatementLineState tracks whether a statement line found its move.
type StatementLineState string

const (
	StatementLineOpen       StatementLineState = "open"
	StatementLineReconciled StatementLineState = "reconciled"
)

// Statement is one imported bank statement: a header plus ordered lines.
type Statement struct {
	ID             int64            `json:"id"`
	JournalID      int64            `json:"journal_id"`
	Name           string           `json:"name"`
	Date           time.Time        `json:"date"`
	BalanceStart   decimal.Decimal  `json:"balance_start"`
	BalanceEndReal decimal.Decimal  `json:"balance_end_real"`
	Lines          []*StatementLine `json:"lines,omitempty"`
	CreatedAt      time.Time        `json:"-"`
}

// StatementLine holds the external payload of one bank transaction and,
// once matched, a weak reference to the move that books it. The move
// survives statement deletion.
type StatementLine struct {
	ID          int64              `json:"id"`
	StatementID int64              `json:"statement_id"`
	Date        time.Time          `json:"date"`
	Amount      decimal.Decimal    `json:"amount"` // signed: positive = money in
	PartnerID   *int64             `json:"partner_id,omitempty"`
	Name        string             `json:"name"` // raw description
	Reference   string             `json:"reference,omitempty"`
	MoveID      *int64             `json:"move_id,omitempty"`
	State       StatementLineState `json:"state"`
	CreatedAt   time.Time          `json:"-"`
}

// ComputedBalanceEnd is the start balance plus all line amounts; a valid
// statement matches its declared end balance.
func (s *Statement) ComputedBalanceEnd() decimal.Decimal {
	end := s.BalanceStart
	for _, l := range s.Lines {
		end = end.Add(l.Amount)
	}
	return end
}

// IsValid reports whether the declared end balance agrees with the lines.
func (s *Statement) IsValid(companyCurrency *Currency) bool {
	return companyCurrency.IsZero(s.ComputedBalanceEnd().Sub(s.BalanceEndReal))
}
