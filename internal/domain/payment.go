package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledger-service/pkg/xerrors"
)

type PaymentType string

const (
	PaymentInbound  PaymentType = "inbound"
	PaymentOutbound PaymentType = "outbound"
)

type PartnerType string

const (
	PartnerCustomer PartnerType = "customer"
	PartnerSupplier PartnerType = "supplier"
)

// Payment is the business-level view over a payment entry. The move is the
// authoritative bookkeeping; the payment header is kept consistent with it
// through the forward/backward projections below.
type Payment struct {
	ID                   int64           `json:"id"`
	MoveID               int64           `json:"move_id"`
	Amount               decimal.Decimal `json:"amount"` // always >= 0
	PaymentType          PaymentType     `json:"payment_type"`
	PartnerType          PartnerType     `json:"partner_type"`
	PartnerID            int64           `json:"partner_id"`
	CurrencyCode         string          `json:"currency_code"`
	JournalID            int64           `json:"journal_id"`
	PaymentMethodID      int64           `json:"payment_method_id"`
	PaymentReference     string          `json:"payment_reference,omitempty"`
	DestinationAccountID int64           `json:"destination_account_id"`
	Date                 time.Time       `json:"date"`
	IsInternalTransfer   bool            `json:"is_internal_transfer"`
	IsReconciled         bool            `json:"is_reconciled"`
	IsMatched            bool            `json:"is_matched"`
	CreatedAt            time.Time       `json:"-"`
	UpdatedAt            time.Time       `json:"-"`
}

// Validate checks the fields that do not need repository lookups.
func (p *Payment) Validate(journal *Journal) error {
	if p.Amount.IsNegative() {
		return xerrors.ErrNegativeAmount
	}
	if p.PaymentType != PaymentInbound && p.PaymentType != PaymentOutbound {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "unknown payment type %q", p.PaymentType)
	}
	if p.PartnerType != PartnerCustomer && p.PartnerType != PartnerSupplier {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "unknown partner type %q", p.PartnerType)
	}
	if journal == nil || !journal.IsLiquidity() {
		return xerrors.ErrMissingJournal
	}
	return nil
}

// WriteOff is a caller-supplied extra line absorbing the difference between
// the paid and invoiced amounts. Amounts are signed like a balance: positive
// debits the write-off account.
type WriteOff struct {
	Amount         decimal.Decimal `json:"amount"`          // company currency
	AmountCurrency decimal.Decimal `json:"amount_currency"` // payment currency
	AccountID      int64           `json:"account_id"`
	Name           string          `json:"name"`
}

// LineSpec is an unsaved move line produced by the projection.
type LineSpec struct {
	AccountID      int64
	PartnerID      *int64
	Name           string
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	CurrencyCode   *string
	AmountCurrency decimal.Decimal
	PaymentID      *int64
}

func specFromBalance(balance decimal.Decimal) (debit, credit decimal.Decimal) {
	if balance.IsPositive() {
		return balance, decimal.Zero
	}
	return decimal.Zero, balance.Neg()
}

// DefaultLineName derives the liquidity label when no payment reference is
// set: "Customer Payment", "Vendor Refund", "Transfer to <journal>", ...
func (p *Payment) DefaultLineName(journal *Journal) string {
	if p.IsInternalTransfer {
		if p.PaymentType == PaymentInbound {
			return "Transfer from " + journal.Name
		}
		return "Transfer to " + journal.Name
	}
	switch {
	case p.PartnerType == PartnerCustomer && p.PaymentType == PaymentInbound:
		return "Customer Payment"
	case p.PartnerType == PartnerCustomer && p.PaymentType == PaymentOutbound:
		return "Customer Refund"
	case p.PartnerType == PartnerSupplier && p.PaymentType == PaymentOutbound:
		return "Vendor Payment"
	default:
		return "Vendor Refund"
	}
}

// ProjectLines is the forward projection: it synthesizes the liquidity and
// counterpart line (plus an optional write-off) for the payment.
//
// balance is the company-currency value of p.Amount at p.Date, positive.
// Signs: an inbound payment debits the outstanding-receipts account and
// credits the counterpart; outbound is the mirror image.
func (p *Payment) ProjectLines(journal *Journal, company *Company, balance decimal.Decimal, writeOff *WriteOff) ([]LineSpec, error) {
	if !journal.OutstandingConfigured() {
		return nil, xerrors.ErrOutstandingNotSet
	}
	if p.Amount.IsZero() && (writeOff == nil || writeOff.Amount.IsZero()) {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "payment amount is zero")
	}
	if p.Amount.IsZero() && writeOff != nil && !writeOff.Amount.IsZero() {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "zero payment cannot carry a write-off")
	}

	var liquidityAccount int64
	liquidityBalance := balance
	liquidityCurrency := p.Amount
	if p.PaymentType == PaymentInbound {
		liquidityAccount = *journal.PaymentDebitAccountID
	} else {
		liquidityAccount = *journal.PaymentCreditAccountID
		liquidityBalance = balance.Neg()
		liquidityCurrency = p.Amount.Neg()
	}

	partnerID := p.PartnerID
	destination := p.DestinationAccountID
	if p.IsInternalTransfer {
		partnerID = company.PartnerID
		destination = company.TransferAccountID
	}

	name := p.PaymentReference
	if name == "" {
		name = p.DefaultLineName(journal)
	}

	writeOffBalance := decimal.Zero
	writeOffCurrency := decimal.Zero
	if writeOff != nil {
		writeOffBalance = writeOff.Amount
		writeOffCurrency = writeOff.AmountCurrency
	}

	counterpartBalance := liquidityBalance.Neg().Sub(writeOffBalance)
	counterpartCurrency := liquidityCurrency.Neg().Sub(writeOffCurrency)

	currency := p.CurrencyCode
	liqDebit, liqCredit := specFromBalance(liquidityBalance)
	cptDebit, cptCredit := specFromBalance(counterpartBalance)

	lines := []LineSpec{
		{
			AccountID:      liquidityAccount,
			PartnerID:      &partnerID,
			Name:           name,
			Debit:          liqDebit,
			Credit:         liqCredit,
			CurrencyCode:   &currency,
			AmountCurrency: liquidityCurrency,
		},
		{
			AccountID:      destination,
			PartnerID:      &partnerID,
			Name:           name,
			Debit:          cptDebit,
			Credit:         cptCredit,
			CurrencyCode:   &currency,
			AmountCurrency: counterpartCurrency,
		},
	}

	if writeOff != nil && !writeOff.Amount.IsZero() {
		woDebit, woCredit := specFromBalance(writeOffBalance)
		lines = append(lines, LineSpec{
			AccountID:      writeOff.AccountID,
			PartnerID:      &partnerID,
			Name:           writeOff.Name,
			Debit:          woDebit,
			Credit:         woCredit,
			CurrencyCode:   &currency,
			AmountCurrency: writeOffCurrency,
		})
	}
	return lines, nil
}

// CheckMoveShape validates the partition of a payment's move on every save:
// exactly one liquidity and one counterpart line, write-off lines on a
// single account, and currency/partner agreement across lines.
func CheckMoveShape(p LinePartition) error {
	if len(p.Liquidity) != 1 || len(p.Counterpart) != 1 {
		return xerrors.Wrap(xerrors.ErrPaymentStructureInvalid,
			"found %d liquidity and %d counterpart lines", len(p.Liquidity), len(p.Counterpart))
	}
	var writeOffAccount int64
	for _, l := range p.WriteOff {
		if writeOffAccount == 0 {
			writeOffAccount = l.AccountID
		} else if l.AccountID != writeOffAccount {
			return xerrors.Wrap(xerrors.ErrPaymentStructureInvalid, "write-off lines disagree on account")
		}
	}

	liquidity := p.Liquidity[0]
	all := append([]*MoveLine{liquidity, p.Counterpart[0]}, p.WriteOff...)
	for _, l := range all {
		if !sameCurrency(liquidity.CurrencyCode, l.CurrencyCode) {
			return xerrors.Wrap(xerrors.ErrPaymentStructureInvalid, "lines disagree on currency")
		}
		if l.PartnerID != nil && liquidity.PartnerID != nil && *l.PartnerID != *liquidity.PartnerID {
			return xerrors.Wrap(xerrors.ErrPaymentStructureInvalid, "lines disagree on partner")
		}
	}
	return nil
}

func sameCurrency(a, b *string) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return *a == *b
	}
}

// InferPayment is the backward projection: it rebuilds the payment header
// from a conforming move. The move stays authoritative; only header fields
// derivable from its lines are returned.
func InferPayment(move *Move, partition LinePartition, companyCurrency string) (*Payment, error) {
	if err := CheckMoveShape(partition); err != nil {
		return nil, err
	}
	liquidity := partition.Liquidity[0]
	counterpart := partition.Counterpart[0]

	partnerType := PartnerSupplier
	if counterpart.Account != nil && counterpart.Account.InternalType == InternalTypeReceivable {
		partnerType = PartnerCustomer
	}

	amountCurrency := liquidity.AmountCurrency
	currency := companyCurrency
	if liquidity.CurrencyCode != nil {
		currency = *liquidity.CurrencyCode
	}
	if amountCurrency.IsZero() {
		amountCurrency = liquidity.Balance()
	}

	paymentType := PaymentOutbound
	if amountCurrency.IsPositive() {
		paymentType = PaymentInbound
	}

	p := &Payment{
		MoveID:               move.ID,
		Amount:               amountCurrency.Abs(),
		PaymentType:          paymentType,
		PartnerType:          partnerType,
		CurrencyCode:         currency,
		JournalID:            move.JournalID,
		DestinationAccountID: counterpart.AccountID,
		Date:                 move.Date,
	}
	if liquidity.PartnerID != nil {
		p.PartnerID = *liquidity.PartnerID
	}
	return p, nil
}

// StatusFromLines derives is_matched / is_reconciled from the move lines.
// The liquidity side counts as matched when its residual is gone, or when
// the payment was booked straight on the journal default account (the user
// manages the journal without statements).
func (p *Payment) StatusFromLines(partition LinePartition, journal *Journal, companyCurrency *Currency) (matched, reconciled bool) {
	matched = true
	for _, l := range partition.Liquidity {
		if l.AccountID == journal.DefaultAccountID {
			continue
		}
		if l.Account != nil && !l.Account.Reconcilable {
			continue
		}
		if !l.IsFullyReconciled(companyCurrency) {
			matched = false
		}
	}
	reconciled = true
	for _, l := range partition.Counterpart {
		if l.Account != nil && !l.Account.Reconcilable {
			continue
		}
		if !l.IsFullyReconciled(companyCurrency) {
			reconciled = false
		}
	}
	return matched, reconciled
}

// Done reports whether the payment needs no further action.
func (p *Payment) Done() bool {
	return p.IsMatched && p.IsReconciled
}

func (p *Payment) String() string {
	return fmt.Sprintf("payment %d (%s %s %s)", p.ID, p.PaymentType, p.Amount.String(), p.CurrencyCode)
}
