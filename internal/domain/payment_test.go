package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-service/pkg/xerrors"
)

func newPayment(amount string) *Payment {
	return &Payment{
		Amount:               dec(amount),
		PaymentType:          PaymentInbound,
		PartnerType:          PartnerCustomer,
		PartnerID:            55,
		CurrencyCode:         "USD",
		JournalID:            7,
		DestinationAccountID: 10,
		Date:                 time.Now(),
	}
}

func TestPaymentValidate(t *testing.T) {
	journal := bankJournal()

	t.Run("happy path", func(t *testing.T) {
		assert.NoError(t, newPayment("500").Validate(journal))
	})

	t.Run("negative amount", func(t *testing.T) {
		p := newPayment("500")
		p.Amount = dec("-1")
		assert.ErrorIs(t, p.Validate(journal), xerrors.ErrNegativeAmount)
	})

	t.Run("unknown payment type", func(t *testing.T) {
		p := newPayment("500")
		p.PaymentType = "sideways"
		assert.ErrorIs(t, p.Validate(journal), xerrors.ErrInvalidInput)
	})

	t.Run("non-liquidity journal", func(t *testing.T) {
		sale := &Journal{ID: 3, Type: JournalTypeSale}
		assert.ErrorIs(t, newPayment("500").Validate(sale), xerrors.ErrMissingJournal)
	})
}

func specBalances(specs []LineSpec) decimal.Decimal {
	total := decimal.Zero
	for _, s := range specs {
		total = total.Add(s.Debit).Sub(s.Credit)
	}
	return total
}

func TestProjectLines(t *testing.T) {
	journal := bankJournal()
	company := testCompany()

	t.Run("inbound debits outstanding receipts", func(t *testing.T) {
		p := newPayment("500")
		specs, err := p.ProjectLines(journal, company, dec("500"), nil)
		require.NoError(t, err)
		require.Len(t, specs, 2)

		assert.Equal(t, *journal.PaymentDebitAccountID, specs[0].AccountID)
		assert.True(t, specs[0].Debit.Equal(dec("500")))
		assert.Equal(t, "Customer Payment", specs[0].Name)

		assert.Equal(t, p.DestinationAccountID, specs[1].AccountID)
		assert.True(t, specs[1].Credit.Equal(dec("500")))
		assert.True(t, specBalances(specs).IsZero())
	})

	t.Run("outbound credits outstanding payments", func(t *testing.T) {
		p := newPayment("300")
		p.PaymentType = PaymentOutbound
		p.PartnerType = PartnerSupplier
		p.DestinationAccountID = 11
		specs, err := p.ProjectLines(journal, company, dec("300"), nil)
		require.NoError(t, err)
		require.Len(t, specs, 2)

		assert.Equal(t, *journal.PaymentCreditAccountID, specs[0].AccountID)
		assert.True(t, specs[0].Credit.Equal(dec("300")))
		assert.Equal(t, "Vendor Payment", specs[0].Name)
		assert.True(t, specs[1].Debit.Equal(dec("300")))
		assert.True(t, specBalances(specs).IsZero())
	})

	t.Run("write-off absorbs the difference", func(t *testing.T) {
		p := newPayment("995")
		wo := &WriteOff{Amount: dec("5"), AmountCurrency: dec("5"), AccountID: 60, Name: "Rounding"}
		specs, err := p.ProjectLines(journal, company, dec("995"), wo)
		require.NoError(t, err)
		require.Len(t, specs, 3)

		// Liquidity 995 debit, counterpart -1000, write-off +5.
		assert.True(t, specs[0].Debit.Equal(dec("995")))
		assert.True(t, specs[1].Credit.Equal(dec("1000")))
		assert.True(t, specs[2].Debit.Equal(dec("5")))
		assert.Equal(t, int64(60), specs[2].AccountID)
		assert.Equal(t, "Rounding", specs[2].Name)
		assert.True(t, specBalances(specs).IsZero())
	})

	t.Run("internal transfer rewrites partner and destination", func(t *testing.T) {
		p := newPayment("200")
		p.IsInternalTransfer = true
		p.PaymentType = PaymentOutbound
		specs, err := p.ProjectLines(journal, company, dec("200"), nil)
		require.NoError(t, err)
		require.Len(t, specs, 2)

		assert.Equal(t, company.TransferAccountID, specs[1].AccountID)
		require.NotNil(t, specs[0].PartnerID)
		assert.Equal(t, company.PartnerID, *specs[0].PartnerID)
		assert.Equal(t, "Transfer to Bank", specs[0].Name)
	})

	t.Run("outstanding accounts must be configured", func(t *testing.T) {
		bare := &Journal{ID: 8, Type: JournalTypeBank, DefaultAccountID: 100}
		_, err := newPayment("10").ProjectLines(bare, company, dec("10"), nil)
		assert.ErrorIs(t, err, xerrors.ErrOutstandingNotSet)
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		_, err := newPayment("0").ProjectLines(journal, company, decimal.Zero, nil)
		assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
	})
}

// linesFromSpecs materializes projected specs into move lines, attaching the
// account when known.
func linesFromSpecs(specs []LineSpec, accounts map[int64]*Account) []*MoveLine {
	var lines []*MoveLine
	for i, s := range specs {
		lines = append(lines, &MoveLine{
			ID:             int64(i + 1),
			AccountID:      s.AccountID,
			PartnerID:      s.PartnerID,
			Name:           s.Name,
			Debit:          s.Debit,
			Credit:         s.Credit,
			CurrencyCode:   s.CurrencyCode,
			AmountCurrency: s.AmountCurrency,
			Account:        accounts[s.AccountID],
		})
	}
	return lines
}

func TestPaymentProjectionRoundTrip(t *testing.T) {
	journal := bankJournal()
	company := testCompany()
	accounts := map[int64]*Account{10: receivableAccount()}

	p := newPayment("500")
	specs, err := p.ProjectLines(journal, company, dec("500"), nil)
	require.NoError(t, err)

	move := &Move{ID: 77, JournalID: journal.ID, Date: p.Date, Lines: linesFromSpecs(specs, accounts)}
	partition := PartitionPaymentLines(move.Lines, journal, company)

	inferred, err := InferPayment(move, partition, company.CurrencyCode)
	require.NoError(t, err)

	assert.True(t, inferred.Amount.Equal(p.Amount))
	assert.Equal(t, p.PaymentType, inferred.PaymentType)
	assert.Equal(t, p.PartnerType, inferred.PartnerType)
	assert.Equal(t, p.PartnerID, inferred.PartnerID)
	assert.Equal(t, p.CurrencyCode, inferred.CurrencyCode)
	assert.Equal(t, p.DestinationAccountID, inferred.DestinationAccountID)
	assert.Equal(t, int64(77), inferred.MoveID)
}

func TestCheckMoveShape(t *testing.T) {
	journal := bankJournal()
	company := testCompany()

	shape := func(lines []*MoveLine) error {
		return CheckMoveShape(PartitionPaymentLines(lines, journal, company))
	}

	t.Run("two liquidity lines rejected", func(t *testing.T) {
		err := shape([]*MoveLine{
			{AccountID: *journal.PaymentDebitAccountID},
			{AccountID: journal.DefaultAccountID},
			{AccountID: 10, Account: receivableAccount()},
		})
		assert.ErrorIs(t, err, xerrors.ErrPaymentStructureInvalid)
	})

	t.Run("write-offs disagreeing on account rejected", func(t *testing.T) {
		err := shape([]*MoveLine{
			{AccountID: *journal.PaymentDebitAccountID},
			{AccountID: 10, Account: receivableAccount()},
			{AccountID: 60},
			{AccountID: 61},
		})
		assert.ErrorIs(t, err, xerrors.ErrPaymentStructureInvalid)
	})

	t.Run("currency disagreement rejected", func(t *testing.T) {
		err := shape([]*MoveLine{
			{AccountID: *journal.PaymentDebitAccountID, CurrencyCode: strp("EUR")},
			{AccountID: 10, Account: receivableAccount(), CurrencyCode: strp("USD")},
		})
		assert.ErrorIs(t, err, xerrors.ErrPaymentStructureInvalid)
	})

	t.Run("partner disagreement rejected", func(t *testing.T) {
		err := shape([]*MoveLine{
			{AccountID: *journal.PaymentDebitAccountID, PartnerID: i64(1)},
			{AccountID: 10, Account: receivableAccount(), PartnerID: i64(2)},
		})
		assert.ErrorIs(t, err, xerrors.ErrPaymentStructureInvalid)
	})
}

func TestStatusFromLines(t *testing.T) {
	journal := bankJournal()
	cur := usd()
	p := &Payment{}

	outstanding := &Account{ID: 101, InternalType: InternalTypeLiquidity, Reconcilable: true, CompanyID: 1}

	liquidity := &MoveLine{AccountID: 101, Account: outstanding, Debit: dec("500"), AmountResidual: dec("500")}
	counterpart := &MoveLine{AccountID: 10, Account: receivableAccount(), Credit: dec("500"), AmountResidual: dec("-500")}
	partition := LinePartition{Liquidity: []*MoveLine{liquidity}, Counterpart: []*MoveLine{counterpart}}

	matched, reconciled := p.StatusFromLines(partition, journal, cur)
	assert.False(t, matched)
	assert.False(t, reconciled)

	counterpart.AmountResidual = decimal.Zero
	matched, reconciled = p.StatusFromLines(partition, journal, cur)
	assert.False(t, matched)
	assert.True(t, reconciled)

	liquidity.AmountResidual = decimal.Zero
	matched, _ = p.StatusFromLines(partition, journal, cur)
	assert.True(t, matched)

	t.Run("journal default account is matched by definition", func(t *testing.T) {
		liquidity := &MoveLine{AccountID: journal.DefaultAccountID, Debit: dec("500"), AmountResidual: dec("500")}
		partition := LinePartition{Liquidity: []*MoveLine{liquidity}}
		matched, _ := p.StatusFromLines(partition, journal, cur)
		assert.True(t, matched)
	})
}
