package domain

import "time"

// InternalType classifies what an account is used for in the books.
type InternalType string

const (
	InternalTypeReceivable InternalType = "receivable"
	InternalTypePayable    InternalType = "payable"
	InternalTypeLiquidity  InternalType = "liquidity"
	InternalTypeOther      InternalType = "other"
)

// Account is an inert chart-of-accounts entry. Lines on a reconcilable
// account carry residuals; lines on any other account never do.
type Account struct {
	ID           int64        `json:"id"`
	Code         string       `json:"code"`
	Name         string       `json:"name"`
	InternalType InternalType `json:"internal_type"`
	Reconcilable bool         `json:"reconcilable"`
	CompanyID    int64        `json:"company_id"`
	CurrencyCode *string      `json:"currency_code,omitempty"`
	CreatedAt    time.Time    `json:"-"`
	UpdatedAt    time.Time    `json:"-"`
}

func (a *Account) IsReconcilable() bool {
	return a.Reconcilable
}

func (a *Account) IsReceivablePayable() bool {
	return a.InternalType == InternalTypeReceivable || a.InternalType == InternalTypePayable
}

// Partner is a customer or vendor (or the company itself).
type Partner struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CompanyID int64     `json:"company_id"`
	CreatedAt time.Time `json:"-"`
}

// Company carries the bookkeeping configuration shared by all entries:
// home currency, own partner, transfer account for internal transfers,
// exchange-difference journal and accounts, and the tax lock date.
type Company struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	CurrencyCode      string     `json:"currency_code"`
	PartnerID         int64      `json:"partner_id"`
	TransferAccountID int64      `json:"transfer_account_id"`
	ExchangeJournalID int64      `json:"exchange_journal_id"`
	GainAccountID     int64      `json:"gain_exchange_account_id"`
	LossAccountID     int64      `json:"loss_exchange_account_id"`
	TaxLockDate       *time.Time `json:"tax_lock_date,omitempty"`
}

// IsTaxLocked reports whether entries dated on or before the lock date
// may still be touched.
func (c *Company) IsTaxLocked(date time.Time) bool {
	if c.TaxLockDate == nil {
		return false
	}
	return !date.After(*c.TaxLockDate)
}
