package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func i64(v int64) *int64 { return &v }

func strp(s string) *string { return &s }

func datep(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func usd() *Currency {
	return &Currency{Code: "USD", Name: "US Dollar", DecimalPlaces: 2, Rounding: dec("0.01")}
}

func eur() *Currency {
	return &Currency{Code: "EUR", Name: "Euro", DecimalPlaces: 2, Rounding: dec("0.01")}
}

func testCurrencies() map[string]*Currency {
	return map[string]*Currency{"USD": usd(), "EUR": eur()}
}

func receivableAccount() *Account {
	return &Account{ID: 10, Code: "1100", Name: "Receivables", InternalType: InternalTypeReceivable, Reconcilable: true, CompanyID: 1}
}

func payableAccount() *Account {
	return &Account{ID: 11, Code: "2100", Name: "Payables", InternalType: InternalTypePayable, Reconcilable: true, CompanyID: 1}
}

func expenseAccount() *Account {
	return &Account{ID: 12, Code: "6000", Name: "Expenses", InternalType: InternalTypeOther, CompanyID: 1}
}

func testCompany() *Company {
	return &Company{
		ID:                1,
		Name:              "Acme",
		CurrencyCode:      "USD",
		PartnerID:         999,
		TransferAccountID: 103,
		ExchangeJournalID: 9,
		GainAccountID:     104,
		LossAccountID:     105,
	}
}

func bankJournal() *Journal {
	return &Journal{
		ID:                     7,
		Code:                   "BNK1",
		Name:                   "Bank",
		Type:                   JournalTypeBank,
		CompanyID:              1,
		DefaultAccountID:       100,
		PaymentDebitAccountID:  i64(101),
		PaymentCreditAccountID: i64(102),
	}
}

// openLine builds a posted reconcilable line with its residual frozen at the
// full balance.
func openLine(id int64, account *Account, balance string) *MoveLine {
	b := dec(balance)
	l := &MoveLine{
		ID:             id,
		AccountID:      account.ID,
		Account:        account,
		AmountResidual: b,
	}
	if b.IsPositive() {
		l.Debit = b
	} else {
		l.Credit = b.Neg()
	}
	return l
}

// openFxLine is openLine with a foreign-currency leg.
func openFxLine(id int64, account *Account, balance, amountCur, code string) *MoveLine {
	l := openLine(id, account, balance)
	l.CurrencyCode = strp(code)
	l.AmountCurrency = dec(amountCur)
	l.AmountResidualCurrency = dec(amountCur)
	return l
}
