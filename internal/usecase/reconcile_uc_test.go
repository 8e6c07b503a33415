package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ledger-service/internal/domain"
)

type reconcileHarness struct {
	moves *fakeMoveRepo
	recs  *fakeReconcileRepo
	uc    *ReconcileUsecase
}

func newReconcileHarness() *reconcileHarness {
	recv := &domain.Account{ID: 10, Code: "1100", Name: "Receivables", InternalType: domain.InternalTypeReceivable, Reconcilable: true, CompanyID: 1}
	gain := &domain.Account{ID: 104, Code: "7100", Name: "FX gain", InternalType: domain.InternalTypeOther, CompanyID: 1}
	loss := &domain.Account{ID: 105, Code: "7200", Name: "FX loss", InternalType: domain.InternalTypeOther, CompanyID: 1}

	moves := newFakeMoveRepo(recv, gain, loss)
	recs := newFakeReconcileRepo()
	accounts := newFakeAccountRepo()
	accounts.companies[1] = &domain.Company{
		ID: 1, Name: "Acme", CurrencyCode: "USD", PartnerID: 999,
		ExchangeJournalID: 9, GainAccountID: 104, LossAccountID: 105,
	}
	accounts.journals[9] = &domain.Journal{ID: 9, Code: "EXCH", Name: "Exchange differences", Type: domain.JournalTypeGeneral, CompanyID: 1, DefaultAccountID: 105}

	fx := NewFxUsecase(newFakeCurrencyRepo(
		&domain.Currency{Code: "USD", Name: "US Dollar", DecimalPlaces: 2, Rounding: dec("0.01")},
		&domain.Currency{Code: "EUR", Name: "Euro", DecimalPlaces: 2, Rounding: dec("0.01")},
	), nil)

	return &reconcileHarness{
		moves: moves,
		recs:  recs,
		uc:    NewReconcileUsecase(moves, recs, accounts, &fakeSequenceRepo{}, fx, nil, nil, zap.NewNop()),
	}
}

func TestReconcileStampsFullAfterExplicitPartials(t *testing.T) {
	ctx := context.Background()
	h := newReconcileHarness()
	inv := &domain.MoveLine{ID: 1, AccountID: 10, Debit: dec("400"), AmountResidual: dec("400")}
	pay := &domain.MoveLine{ID: 2, AccountID: 10, Credit: dec("400"), AmountResidual: dec("-400")}
	h.moves.seedPostedMove(501, "INV/2026/00001", inv)
	h.moves.seedPostedMove(502, "PAY/2026/00001", pay)

	partial, err := h.uc.ReconcilePartial(ctx, 1, 2, dec("400"))
	require.NoError(t, err)
	assert.Nil(t, partial.FullReconcileID, "a lone explicit partial carries no stamp")
	assert.True(t, inv.AmountResidual.IsZero())
	assert.True(t, pay.AmountResidual.IsZero())
	assert.Empty(t, h.recs.fulls)

	// The full operation on the settled pair stamps the existing chain.
	res, err := h.uc.Reconcile(ctx, []int64{1, 2})
	require.NoError(t, err)
	require.NotNil(t, res.Full)
	require.NotNil(t, h.recs.partials[partial.ID].FullReconcileID)
	assert.Equal(t, res.Full.ID, *h.recs.partials[partial.ID].FullReconcileID)
	require.NotNil(t, inv.FullReconcileID)
	assert.Equal(t, res.Full.ID, *inv.FullReconcileID)
	require.NotNil(t, pay.FullReconcileID)

	// Re-running must not mint a second stamp.
	res2, err := h.uc.Reconcile(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Nil(t, res2.Full)
	assert.Len(t, h.recs.fulls, 1)
}

func TestReconcileStampsEarlierPartialsInChain(t *testing.T) {
	ctx := context.Background()
	h := newReconcileHarness()
	inv := &domain.MoveLine{ID: 1, AccountID: 10, Debit: dec("1000"), AmountResidual: dec("1000")}
	pay1 := &domain.MoveLine{ID: 2, AccountID: 10, Credit: dec("400"), AmountResidual: dec("-400")}
	pay2 := &domain.MoveLine{ID: 3, AccountID: 10, Credit: dec("600"), AmountResidual: dec("-600")}
	h.moves.seedPostedMove(501, "INV/2026/00001", inv)
	h.moves.seedPostedMove(502, "PAY/2026/00001", pay1)
	h.moves.seedPostedMove(503, "PAY/2026/00002", pay2)

	first, err := h.uc.ReconcilePartial(ctx, 1, 2, dec("400"))
	require.NoError(t, err)

	res, err := h.uc.Reconcile(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	require.NotNil(t, res.Full)
	require.Len(t, res.Partials, 1)

	// Both the new allocation and the earlier explicit partial wear the stamp.
	for _, p := range []*domain.PartialReconcile{h.recs.partials[first.ID], h.recs.partials[res.Partials[0].ID]} {
		require.NotNil(t, p.FullReconcileID)
		assert.Equal(t, res.Full.ID, *p.FullReconcileID)
	}
}

func TestBreakRestoresForeignCurrencyResiduals(t *testing.T) {
	ctx := context.Background()
	h := newReconcileHarness()
	// Foreign invoice booked at a stronger rate than the payment: currency
	// legs cancel, 200 of company currency is cleared by an exchange entry.
	inv := &domain.MoveLine{
		ID: 1, AccountID: 10, Debit: dec("1200"),
		CurrencyCode: strp("EUR"), AmountCurrency: dec("400"),
		AmountResidual: dec("1200"), AmountResidualCurrency: dec("400"),
	}
	pay := &domain.MoveLine{
		ID: 2, AccountID: 10, Credit: dec("1000"),
		CurrencyCode: strp("EUR"), AmountCurrency: dec("-400"),
		AmountResidual: dec("-1000"), AmountResidualCurrency: dec("-400"),
	}
	h.moves.seedPostedMove(501, "INV/2026/00001", inv)
	h.moves.seedPostedMove(502, "PAY/2026/00001", pay)

	res, err := h.uc.Reconcile(ctx, []int64{1, 2})
	require.NoError(t, err)
	require.NotNil(t, res.Full)
	require.Len(t, res.ExchangeMoveIDs, 1)
	assert.True(t, inv.AmountResidual.IsZero())
	assert.True(t, inv.AmountResidualCurrency.IsZero())

	require.NoError(t, h.uc.Break(ctx, 1))

	assert.True(t, inv.AmountResidual.Equal(dec("1200")), "company residual restored, got %s", inv.AmountResidual)
	assert.True(t, inv.AmountResidualCurrency.Equal(dec("400")), "currency residual restored, got %s", inv.AmountResidualCurrency)
	assert.True(t, pay.AmountResidual.Equal(dec("-1000")))
	assert.True(t, pay.AmountResidualCurrency.Equal(dec("-400")))
	assert.Nil(t, inv.FullReconcileID)
	assert.Empty(t, h.recs.partials)
	assert.Empty(t, h.recs.fulls)

	// The exchange entry's account line is back at its frozen residual.
	exchange := h.moves.moves[res.ExchangeMoveIDs[0]]
	require.Len(t, exchange.Lines, 2)
	assert.True(t, exchange.Lines[0].AmountResidual.Equal(dec("-200")))
	assert.True(t, exchange.Lines[0].AmountResidualCurrency.IsZero())
}
