package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"ledger-service/pkg/xerrors"
)

// PartialReconcile allocates an amount between one debit line and one
// credit line on the same reconcilable account. Creating or deleting a
// partial is the only mechanism that may change a posted line's residual.
type PartialReconcile struct {
	ID                   int64           `json:"id"`
	DebitLineID          int64           `json:"debit_move_line_id"`
	CreditLineID         int64           `json:"credit_move_line_id"`
	Amount               decimal.Decimal `json:"amount"` // company currency
	DebitAmountCurrency  decimal.Decimal `json:"debit_amount_currency"`
	CreditAmountCurrency decimal.Decimal `json:"credit_amount_currency"`
	FullReconcileID      *int64          `json:"full_reconcile_id,omitempty"`
	CreatedAt            time.Time       `json:"-"`
}

// FullReconcile stamps a set of partials that collectively zero every
// residual they touch.
type FullReconcile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"-"`
}

// Allocation is one planned partial, still holding the in-memory lines.
type Allocation struct {
	Debit                *MoveLine
	Credit               *MoveLine
	Amount               decimal.Decimal
	DebitAmountCurrency  decimal.Decimal
	CreditAmountCurrency decimal.Decimal
}

// ExchangeDiff is a company-currency remainder left on a line whose
// foreign-currency leg is exhausted; it is cleared by a generated entry in
// the exchange-difference journal.
type ExchangeDiff struct {
	Line   *MoveLine
	Amount decimal.Decimal // signed leftover residual
}

// ReconcilePlan is the outcome of the greedy matching pass. The planner has
// already mutated the residuals of the lines it was given.
type ReconcilePlan struct {
	Allocations     []Allocation
	ExchangeDiffs   []ExchangeDiff
	FullyReconciled bool
}

// ValidateReconcileSet enforces the preconditions: all lines on the same
// reconcilable account and the same partner (or all partner-less).
func ValidateReconcileSet(lines []*MoveLine) error {
	if len(lines) == 0 {
		return xerrors.ErrNothingToDo
	}
	first := lines[0]
	for _, l := range lines {
		if l.AccountID != first.AccountID {
			return xerrors.ErrAccountMismatch
		}
		if l.Account != nil && !l.Account.Reconcilable {
			return xerrors.ErrNotReconcilable
		}
		switch {
		case l.PartnerID == nil && first.PartnerID == nil:
		case l.PartnerID == nil || first.PartnerID == nil:
			return xerrors.ErrPartnerMismatch
		case *l.PartnerID != *first.PartnerID:
			return xerrors.ErrPartnerMismatch
		}
	}
	return nil
}

// maturityKey orders lines for the greedy match: maturity ascending, then
// id ascending. Lines without a maturity sort first.
func maturityKey(a, b *MoveLine) bool {
	switch {
	case a.DateMaturity == nil && b.DateMaturity != nil:
		return true
	case a.DateMaturity != nil && b.DateMaturity == nil:
		return false
	case a.DateMaturity != nil && b.DateMaturity != nil && !a.DateMaturity.Equal(*b.DateMaturity):
		return a.DateMaturity.Before(*b.DateMaturity)
	}
	return a.ID < b.ID
}

func sharedForeignCurrency(d, c *MoveLine, companyCode string) (string, bool) {
	if d.CurrencyCode == nil || c.CurrencyCode == nil {
		return "", false
	}
	if *d.CurrencyCode != *c.CurrencyCode || *d.CurrencyCode == companyCode {
		return "", false
	}
	return *d.CurrencyCode, true
}

func roundIn(currencies map[string]*Currency, code string, amount decimal.Decimal) decimal.Decimal {
	if cur, ok := currencies[code]; ok {
		return cur.Round(amount)
	}
	return amount.Round(2)
}

func zeroIn(currencies map[string]*Currency, code string, amount decimal.Decimal) bool {
	if cur, ok := currencies[code]; ok {
		return cur.IsZero(amount)
	}
	return amount.Round(2).IsZero()
}

// PlanReconciliation runs the greedy match over a validated set: while both
// sides have open residuals, allocate min(|debit residual|, |credit
// residual|) between the oldest lines of each side. When both lines share a
// foreign currency the allocation is driven by the currency leg instead, and
// any company-currency remainder becomes an exchange difference.
//
// The same inputs always produce the same plan; replanning a fully
// reconciled set yields an empty plan.
func PlanReconciliation(lines []*MoveLine, companyCur *Currency, currencies map[string]*Currency) (*ReconcilePlan, error) {
	if err := ValidateReconcileSet(lines); err != nil {
		return nil, err
	}

	var debits, credits []*MoveLine
	for _, l := range lines {
		switch {
		case l.AmountResidual.IsPositive():
			debits = append(debits, l)
		case l.AmountResidual.IsNegative():
			credits = append(credits, l)
		}
	}
	sort.Slice(debits, func(i, j int) bool { return maturityKey(debits[i], debits[j]) })
	sort.Slice(credits, func(i, j int) bool { return maturityKey(credits[i], credits[j]) })

	plan := &ReconcilePlan{}
	for len(debits) > 0 && len(credits) > 0 {
		d, c := debits[0], credits[0]

		var amount, debitCur, creditCur decimal.Decimal
		if code, ok := sharedForeignCurrency(d, c, companyCur.Code); ok {
			// Allocate on the currency leg; the company leg follows.
			amountCur := decimal.Min(d.AmountResidualCurrency, c.AmountResidualCurrency.Neg())
			amount = decimal.Min(d.AmountResidual, c.AmountResidual.Neg())
			debitCur = roundIn(currencies, code, amountCur)
			creditCur = debitCur
		} else {
			amount = decimal.Min(d.AmountResidual, c.AmountResidual.Neg())
			debitCur = currencyShare(d, amount, currencies)
			creditCur = currencyShare(c, amount, currencies)
		}
		amount = companyCur.Round(amount)
		if amount.IsZero() && debitCur.IsZero() {
			break
		}

		plan.Allocations = append(plan.Allocations, Allocation{
			Debit:                d,
			Credit:               c,
			Amount:               amount,
			DebitAmountCurrency:  debitCur,
			CreditAmountCurrency: creditCur,
		})

		d.AmountResidual = d.AmountResidual.Sub(amount)
		d.AmountResidualCurrency = d.AmountResidualCurrency.Sub(debitCur)
		c.AmountResidual = c.AmountResidual.Add(amount)
		c.AmountResidualCurrency = c.AmountResidualCurrency.Add(creditCur)

		if lineExhausted(d, companyCur, currencies) {
			debits = debits[1:]
		}
		if lineExhausted(c, companyCur, currencies) {
			credits = credits[1:]
		}
	}

	// A line whose currency leg is spent but still carries company-currency
	// residual needs an exchange-difference entry.
	allZero := true
	for _, l := range lines {
		if l.CurrencyCode != nil && *l.CurrencyCode != companyCur.Code &&
			zeroIn(currencies, *l.CurrencyCode, l.AmountResidualCurrency) &&
			!companyCur.IsZero(l.AmountResidual) {
			plan.ExchangeDiffs = append(plan.ExchangeDiffs, ExchangeDiff{Line: l, Amount: l.AmountResidual})
			continue
		}
		if !companyCur.IsZero(l.AmountResidual) {
			allZero = false
		}
	}
	plan.FullyReconciled = allZero
	return plan, nil
}

// currencyShare computes the proportional currency-leg magnitude consumed
// when allocating a company-currency amount against a line. Both legs of a
// partial are stored as positive magnitudes.
func currencyShare(l *MoveLine, amount decimal.Decimal, currencies map[string]*Currency) decimal.Decimal {
	if l.CurrencyCode == nil {
		return amount
	}
	if l.AmountResidual.IsZero() {
		return decimal.Zero
	}
	share := l.AmountResidualCurrency.Mul(amount.Div(l.AmountResidual.Abs()))
	return roundIn(currencies, *l.CurrencyCode, share).Abs()
}

func lineExhausted(l *MoveLine, companyCur *Currency, currencies map[string]*Currency) bool {
	if l.CurrencyCode != nil && *l.CurrencyCode != companyCur.Code {
		return zeroIn(currencies, *l.CurrencyCode, l.AmountResidualCurrency)
	}
	return companyCur.IsZero(l.AmountResidual)
}

// ValidatePartial checks a manual allocation between one debit and one
// credit line.
func ValidatePartial(debit, credit *MoveLine, amount decimal.Decimal) error {
	if err := ValidateReconcileSet([]*MoveLine{debit, credit}); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return xerrors.ErrInvalidAllocation
	}
	if amount.Cmp(debit.AmountResidual) > 0 || amount.Cmp(credit.AmountResidual.Neg()) > 0 {
		return xerrors.ErrInvalidAllocation
	}
	return nil
}

// PlanPartial validates a manual allocation, computes its currency legs the
// same way the greedy planner does, and consumes the residuals in place.
func PlanPartial(debit, credit *MoveLine, amount decimal.Decimal, companyCur *Currency, currencies map[string]*Currency) (Allocation, error) {
	if err := ValidatePartial(debit, credit, amount); err != nil {
		return Allocation{}, err
	}
	amount = companyCur.Round(amount)
	a := Allocation{
		Debit:                debit,
		Credit:               credit,
		Amount:               amount,
		DebitAmountCurrency:  currencyShare(debit, amount, currencies),
		CreditAmountCurrency: currencyShare(credit, amount, currencies),
	}
	debit.AmountResidual = debit.AmountResidual.Sub(amount)
	debit.AmountResidualCurrency = debit.AmountResidualCurrency.Sub(a.DebitAmountCurrency)
	credit.AmountResidual = credit.AmountResidual.Add(amount)
	credit.AmountResidualCurrency = credit.AmountResidualCurrency.Add(a.CreditAmountCurrency)
	return a, nil
}

// BuildExchangeMove creates the unsaved entry that clears a company-currency
// remainder: one line zeroing the residual on the reconciled account, one
// counterpart on the configured gain or loss account.
func BuildExchangeMove(diff ExchangeDiff, company *Company, date time.Time) *Move {
	line := diff.Line
	move := &Move{
		Date:         date,
		JournalID:    company.ExchangeJournalID,
		CompanyID:    company.ID,
		CurrencyCode: company.CurrencyCode,
		State:        MoveStateDraft,
		Type:         MoveTypeEntry,
		Reference:    "Currency exchange difference",
	}

	abs := diff.Amount.Abs()
	if diff.Amount.IsPositive() {
		// Leftover debit: credit the account, book the difference as a loss.
		move.Lines = []*MoveLine{
			{AccountID: line.AccountID, PartnerID: line.PartnerID, Name: "Currency exchange difference", Credit: abs, CurrencyCode: line.CurrencyCode},
			{AccountID: company.LossAccountID, PartnerID: line.PartnerID, Name: "Currency exchange difference", Debit: abs},
		}
	} else {
		move.Lines = []*MoveLine{
			{AccountID: line.AccountID, PartnerID: line.PartnerID, Name: "Currency exchange difference", Debit: abs, CurrencyCode: line.CurrencyCode},
			{AccountID: company.GainAccountID, PartnerID: line.PartnerID, Name: "Currency exchange difference", Credit: abs},
		}
	}
	return move
}
