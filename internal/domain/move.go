package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"ledger-service/pkg/xerrors"
)

// MoveState is the lifecycle state of a journal entry.
type MoveState string

const (
	MoveStateDraft     MoveState = "draft"
	MoveStatePosted    MoveState = "posted"
	MoveStateCancelled MoveState = "cancelled"
)

// MoveType distinguishes plain entries from the invoice-shaped documents.
type MoveType string

const (
	MoveTypeEntry      MoveType = "entry"
	MoveTypeOutInvoice MoveType = "out_invoice"
	MoveTypeInInvoice  MoveType = "in_invoice"
	MoveTypeOutRefund  MoveType = "out_refund"
	MoveTypeInRefund   MoveType = "in_refund"
	MoveTypeOutReceipt MoveType = "out_receipt"
	MoveTypeInReceipt  MoveType = "in_receipt"
)

// Move is a journal entry: a dated, balanced set of lines on one journal.
type Move struct {
	ID             int64       `json:"id"`
	Name           string      `json:"name"` // allocated from the journal sequence at post time
	Date           time.Time   `json:"date"`
	JournalID      int64       `json:"journal_id"`
	CompanyID      int64       `json:"company_id"`
	CurrencyCode   string      `json:"currency_code"` // company currency
	State          MoveState   `json:"state"`
	Type           MoveType    `json:"type"`
	Reference      string      `json:"reference,omitempty"`
	PaymentID      *int64      `json:"payment_id,omitempty"`
	ReversedMoveID *int64      `json:"reversed_move_id,omitempty"`
	Lines          []*MoveLine `json:"lines,omitempty"`
	PostedAt       *time.Time  `json:"posted_at,omitempty"`
	CreatedAt      time.Time   `json:"-"`
	UpdatedAt      time.Time   `json:"-"`
}

// MoveLine is one side of an entry. Residual fields are only meaningful on
// reconcilable accounts and, once the move is posted, only change through
// partial reconciles.
type MoveLine struct {
	ID                     int64           `json:"id"`
	MoveID                 int64           `json:"move_id"`
	AccountID              int64           `json:"account_id"`
	PartnerID              *int64          `json:"partner_id,omitempty"`
	Name                   string          `json:"name"`
	Debit                  decimal.Decimal `json:"debit"`
	Credit                 decimal.Decimal `json:"credit"`
	CurrencyCode           *string         `json:"currency_code,omitempty"`
	AmountCurrency         decimal.Decimal `json:"amount_currency"`
	DateMaturity           *time.Time      `json:"date_maturity,omitempty"`
	TaxLineID              *int64          `json:"tax_line_id,omitempty"`
	AmountResidual         decimal.Decimal `json:"amount_residual"`
	AmountResidualCurrency decimal.Decimal `json:"amount_residual_currency"`
	FullReconcileID        *int64          `json:"full_reconcile_id,omitempty"`
	PaymentID              *int64          `json:"payment_id,omitempty"`

	Account *Account `json:"account,omitempty"`
}

// Balance is the company-currency signed amount of the line.
func (l *MoveLine) Balance() decimal.Decimal {
	return l.Debit.Sub(l.Credit)
}

// Validate enforces the line-level invariants: non-negative sides, at most
// one side set, and a currency amount signed like the balance.
func (l *MoveLine) Validate() error {
	if l.Debit.IsNegative() || l.Credit.IsNegative() {
		return xerrors.ErrInvalidLineAmounts
	}
	if l.Debit.IsPositive() && l.Credit.IsPositive() {
		return xerrors.ErrInvalidLineAmounts
	}
	if l.CurrencyCode != nil && !l.AmountCurrency.IsZero() {
		balance := l.Balance()
		if !balance.IsZero() && l.AmountCurrency.Sign() != balance.Sign() {
			return xerrors.ErrCurrencySignInvalid
		}
	}
	return nil
}

// IsFullyReconciled reports whether the residual rounds to zero.
func (l *MoveLine) IsFullyReconciled(companyCurrency *Currency) bool {
	if !companyCurrency.IsZero(l.AmountResidual) {
		return false
	}
	if l.CurrencyCode != nil {
		return l.AmountResidualCurrency.IsZero() || companyCurrency.IsZero(l.AmountResidualCurrency)
	}
	return true
}

// Balance sums debit minus credit over all lines, in company currency.
func (m *Move) Balance() decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.Lines {
		total = total.Add(l.Balance())
	}
	return total
}

// IsInvoice reports whether the move is an invoice-shaped document, i.e.
// one whose receivable/payable plug line is recomputed on every save.
func (m *Move) IsInvoice() bool {
	return m.Type != MoveTypeEntry
}

// CheckBalanced fails with Unbalanced when debits and credits differ by
// more than the company currency rounding.
func (m *Move) CheckBalanced(companyCurrency *Currency) error {
	if !companyCurrency.IsZero(m.Balance()) {
		return xerrors.Wrap(xerrors.ErrUnbalanced, "entry %d differs by %s", m.ID, m.Balance().String())
	}
	return nil
}

// CheckHomogeneous enforces that every line belongs to this move's
// journal/company scope. Lines carry no date of their own, so date
// homogeneity is structural.
func (m *Move) CheckHomogeneous() error {
	for _, l := range m.Lines {
		if l.MoveID != 0 && l.MoveID != m.ID {
			return xerrors.ErrMixedMoveLines
		}
		if l.Account != nil && l.Account.CompanyID != m.CompanyID {
			return xerrors.ErrMixedMoveLines
		}
	}
	return nil
}

// CanTransition encodes the admissible edges of the state machine:
// draft→posted, posted→cancelled, cancelled→draft.
func (m *Move) CanTransition(to MoveState) bool {
	switch m.State {
	case MoveStateDraft:
		return to == MoveStatePosted
	case MoveStatePosted:
		return to == MoveStateCancelled
	case MoveStateCancelled:
		return to == MoveStateDraft
	}
	return false
}

// AssertEditable rejects amount/account/tax edits on posted moves and on
// moves dated inside the tax lock period.
func (m *Move) AssertEditable(company *Company, opts Options) error {
	if m.State == MoveStatePosted {
		return xerrors.ErrPostedImmutable
	}
	if !opts.TaxLockOverride && company.IsTaxLocked(m.Date) {
		return xerrors.ErrLockedByTaxPeriod
	}
	return nil
}

// LinePartition splits a payment move's lines by the role of their account.
type LinePartition struct {
	Liquidity   []*MoveLine
	Counterpart []*MoveLine
	WriteOff    []*MoveLine
}

// PartitionPaymentLines classifies lines the way the payment projection
// does: liquidity lines sit on the journal default or outstanding accounts,
// counterpart lines on a receivable/payable or the company transfer account,
// everything else is a write-off.
func PartitionPaymentLines(lines []*MoveLine, journal *Journal, company *Company) LinePartition {
	var p LinePartition
	for _, l := range lines {
		switch {
		case journal.IsPaymentAccount(l.AccountID):
			p.Liquidity = append(p.Liquidity, l)
		case l.AccountID == company.TransferAccountID,
			l.Account != nil && l.Account.IsReceivablePayable():
			p.Counterpart = append(p.Counterpart, l)
		default:
			p.WriteOff = append(p.WriteOff, l)
		}
	}
	return p
}

// ComputePlugLine returns the receivable/payable balancing amount for an
// invoice-shaped move: the negated sum of its product and tax lines. The
// caller rewrites the plug line with this balance on every draft save.
func (m *Move) ComputePlugLine(plugAccountID int64) decimal.Decimal {
	total := decimal.Zero
	for _, l := range m.Lines {
		if l.AccountID == plugAccountID {
			continue
		}
		total = total.Add(l.Balance())
	}
	return total.Neg()
}

// ReversalOf builds an unsaved draft move mirroring a posted one: sides
// swapped and currency amounts negated.
func (m *Move) ReversalOf(date time.Time) *Move {
	rev := &Move{
		Date:           date,
		JournalID:      m.JournalID,
		CompanyID:      m.CompanyID,
		CurrencyCode:   m.CurrencyCode,
		State:          MoveStateDraft,
		Type:           MoveTypeEntry,
		Reference:      "Reversal of: " + m.Name,
		ReversedMoveID: &m.ID,
	}
	for _, l := range m.Lines {
		rev.Lines = append(rev.Lines, &MoveLine{
			AccountID:      l.AccountID,
			PartnerID:      l.PartnerID,
			Name:           l.Name,
			Debit:          l.Credit,
			Credit:         l.Debit,
			CurrencyCode:   l.CurrencyCode,
			AmountCurrency: l.AmountCurrency.Neg(),
			DateMaturity:   l.DateMaturity,
		})
	}
	return rev
}

// Options carries the per-call flags that used to live in ambient context.
type Options struct {
	SkipSync           bool
	DefaultJournalType JournalType
	TaxLockOverride    bool // admin-only
}
