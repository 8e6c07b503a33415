package domain

import "time"

// JournalType determines which entries a journal may receive.
type JournalType string

const (
	JournalTypeSale     JournalType = "sale"
	JournalTypePurchase JournalType = "purchase"
	JournalTypeBank     JournalType = "bank"
	JournalTypeCash     JournalType = "cash"
	JournalTypeGeneral  JournalType = "general"
)

// Journal groups entries and, for bank/cash journals, carries the two
// outstanding accounts that bridge payments until a statement matches them.
type Journal struct {
	ID                     int64       `json:"id"`
	Code                   string      `json:"code"`
	Name                   string      `json:"name"`
	Type                   JournalType `json:"type"`
	CompanyID              int64       `json:"company_id"`
	DefaultAccountID       int64       `json:"default_account_id"`
	PaymentDebitAccountID  *int64      `json:"payment_debit_account_id,omitempty"`  // outstanding receipts
	PaymentCreditAccountID *int64      `json:"payment_credit_account_id,omitempty"` // outstanding payments
	CurrencyCode           *string     `json:"currency_code,omitempty"`
	CreatedAt              time.Time   `json:"-"`
	UpdatedAt              time.Time   `json:"-"`
}

// IsLiquidity reports whether the journal may carry payments.
func (j *Journal) IsLiquidity() bool {
	return j.Type == JournalTypeBank || j.Type == JournalTypeCash
}

// OutstandingConfigured reports whether both outstanding accounts are set.
// A payment may not be posted on the journal until they are.
func (j *Journal) OutstandingConfigured() bool {
	return j.PaymentDebitAccountID != nil && j.PaymentCreditAccountID != nil
}

// IsPaymentAccount reports whether the account is the journal's default
// account or one of its outstanding accounts.
func (j *Journal) IsPaymentAccount(accountID int64) bool {
	if accountID == j.DefaultAccountID {
		return true
	}
	if j.PaymentDebitAccountID != nil && *j.PaymentDebitAccountID == accountID {
		return true
	}
	if j.PaymentCreditAccountID != nil && *j.PaymentCreditAccountID == accountID {
		return true
	}
	return false
}

// PaymentMethod is one row of the method catalog. Code is the stable
// identifier consumed by adapter modules (manual, check, batch, sepa, ...).
type PaymentMethod struct {
	ID          int64       `json:"id"`
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	PaymentType PaymentType `json:"payment_type"`
	CreatedAt   time.Time   `json:"-"`
}
