package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-service/pkg/xerrors"
)

func exactModel(id int64, seq int) *ReconcileModel {
	return &ReconcileModel{ID: id, Sequence: seq, Name: "Exact match", Action: ActionSuggest, ToleranceKind: ToleranceExact}
}

func statementLine(amount string) *StatementLine {
	return &StatementLine{ID: 1, Amount: dec(amount), Name: "WIRE TRANSFER", State: StatementLineOpen}
}

func TestWithinTolerance(t *testing.T) {
	cur := usd()

	t.Run("exact", func(t *testing.T) {
		m := &ReconcileModel{ToleranceKind: ToleranceExact}
		assert.True(t, m.WithinTolerance(dec("100"), dec("100"), cur))
		assert.True(t, m.WithinTolerance(dec("100"), dec("100.004"), cur))
		assert.False(t, m.WithinTolerance(dec("100"), dec("100.01"), cur))
	})

	t.Run("percent", func(t *testing.T) {
		m := &ReconcileModel{ToleranceKind: TolerancePercent, ToleranceValue: dec("2")}
		assert.True(t, m.WithinTolerance(dec("100"), dec("102"), cur))
		assert.False(t, m.WithinTolerance(dec("100"), dec("102.01"), cur))
	})

	t.Run("fixed", func(t *testing.T) {
		m := &ReconcileModel{ToleranceKind: ToleranceFixed, ToleranceValue: dec("5")}
		assert.True(t, m.WithinTolerance(dec("100"), dec("95"), cur))
		assert.False(t, m.WithinTolerance(dec("100"), dec("94.99"), cur))
	})
}

func TestValidateCandidateAmount(t *testing.T) {
	cur := usd()
	recv := receivableAccount()
	m := exactModel(3, 10)

	t.Run("fresh candidate passes", func(t *testing.T) {
		items := []*MoveLine{openLine(10, recv, "1000")}
		cand := &Candidate{Kind: CandidateMatch, ModelID: 3, LineIDs: []int64{10}}
		assert.NoError(t, m.ValidateCandidateAmount(statementLine("1000"), cand, items, cur))
	})

	t.Run("moved residual is rejected", func(t *testing.T) {
		items := []*MoveLine{openLine(10, recv, "700")}
		cand := &Candidate{Kind: CandidateMatch, ModelID: 3, LineIDs: []int64{10}}
		err := m.ValidateCandidateAmount(statementLine("1000"), cand, items, cur)
		assert.ErrorIs(t, err, xerrors.ErrAmountOutsideTolerance)
	})

	t.Run("write-off remainder is absorbed", func(t *testing.T) {
		items := []*MoveLine{openLine(10, recv, "1000")}
		cand := &Candidate{Kind: CandidateWriteOff, ModelID: 3, LineIDs: []int64{10}, WriteOffAmount: dec("5")}
		assert.NoError(t, m.ValidateCandidateAmount(statementLine("995"), cand, items, cur))
	})

	t.Run("stale write-off is rejected", func(t *testing.T) {
		items := []*MoveLine{openLine(10, recv, "900")}
		cand := &Candidate{Kind: CandidateWriteOff, ModelID: 3, LineIDs: []int64{10}, WriteOffAmount: dec("5")}
		err := m.ValidateCandidateAmount(statementLine("995"), cand, items, cur)
		assert.ErrorIs(t, err, xerrors.ErrAmountOutsideTolerance)
	})

	t.Run("create candidates carry no items", func(t *testing.T) {
		cand := &Candidate{Kind: CandidateCreate, ModelID: 3}
		assert.NoError(t, m.ValidateCandidateAmount(statementLine("995"), cand, nil, cur))
	})
}

func TestModelMatch(t *testing.T) {
	cur := usd()
	recv := receivableAccount()

	t.Run("single item exact hit", func(t *testing.T) {
		open := []*MoveLine{openLine(10, recv, "100"), openLine(11, recv, "250")}
		cand, ok := exactModel(1, 10).Match(statementLine("250"), open, nil, cur)
		require.True(t, ok)
		assert.Equal(t, CandidateMatch, cand.Kind)
		assert.Equal(t, []int64{11}, cand.LineIDs)
	})

	t.Run("money out settles credits", func(t *testing.T) {
		open := []*MoveLine{openLine(10, payableAccount(), "-300")}
		cand, ok := exactModel(1, 10).Match(statementLine("-300"), open, nil, cur)
		require.True(t, ok)
		assert.Equal(t, []int64{10}, cand.LineIDs)
	})

	t.Run("accumulates oldest first", func(t *testing.T) {
		a := openLine(10, recv, "100")
		a.DateMaturity = datep("2026-01-31")
		b := openLine(11, recv, "200")
		b.DateMaturity = datep("2026-02-28")
		cand, ok := exactModel(1, 10).Match(statementLine("300"), []*MoveLine{b, a}, nil, cur)
		require.True(t, ok)
		assert.Equal(t, []int64{10, 11}, cand.LineIDs)
	})

	t.Run("remainder needs a write-off account", func(t *testing.T) {
		open := []*MoveLine{openLine(10, recv, "1000")}

		m := exactModel(1, 10)
		m.Action = ActionWriteOff
		_, ok := m.Match(statementLine("995"), open, nil, cur)
		assert.False(t, ok, "no write-off account configured")

		m.WriteOffAccountID = i64(60)
		m.WriteOffLabel = "Bank fees"
		cand, ok := m.Match(statementLine("995"), open, nil, cur)
		require.True(t, ok)
		assert.Equal(t, CandidateWriteOff, cand.Kind)
		assert.True(t, cand.WriteOffAmount.Equal(dec("5")))
		assert.Equal(t, "Bank fees", cand.WriteOffLabel)
	})

	t.Run("empty pool falls back to counterpart creation", func(t *testing.T) {
		m := exactModel(1, 10)
		m.CounterpartAccountID = i64(70)
		cand, ok := m.Match(statementLine("42.50"), nil, nil, cur)
		require.True(t, ok)
		assert.Equal(t, CandidateCreate, cand.Kind)
		require.NotNil(t, cand.CounterpartAccountID)
		assert.Equal(t, int64(70), *cand.CounterpartAccountID)
	})

	t.Run("partner filter", func(t *testing.T) {
		item := openLine(10, recv, "100")
		item.PartnerID = i64(5)
		line := statementLine("100")
		line.PartnerID = i64(6)
		_, ok := exactModel(1, 10).Match(line, []*MoveLine{item}, nil, cur)
		assert.False(t, ok)

		line.PartnerID = i64(5)
		_, ok = exactModel(1, 10).Match(line, []*MoveLine{item}, nil, cur)
		assert.True(t, ok)
	})

	t.Run("reference predicate", func(t *testing.T) {
		m := exactModel(1, 10)
		m.Predicate.MatchReference = true
		item := openLine(10, recv, "100")
		names := map[int64]string{10: "INV/2026/0042"}

		line := statementLine("100")
		_, ok := m.Match(line, []*MoveLine{item}, names, cur)
		assert.False(t, ok)

		line.Reference = "payment inv/2026/0042 thanks"
		_, ok = m.Match(line, []*MoveLine{item}, names, cur)
		assert.True(t, ok)
	})

	t.Run("amount bounds", func(t *testing.T) {
		min := dec("50")
		max := dec("150")
		m := exactModel(1, 10)
		m.Predicate.MinAmount = &min
		m.Predicate.MaxAmount = &max

		item := openLine(10, recv, "100")
		_, ok := m.Match(statementLine("100"), []*MoveLine{item}, nil, cur)
		assert.True(t, ok)

		item = openLine(10, recv, "40")
		_, ok = m.Match(statementLine("40"), []*MoveLine{item}, nil, cur)
		assert.False(t, ok)

		item = openLine(10, recv, "200")
		_, ok = m.Match(statementLine("200"), []*MoveLine{item}, nil, cur)
		assert.False(t, ok)
	})
}

func TestProposeCandidate(t *testing.T) {
	cur := usd()
	recv := receivableAccount()
	open := []*MoveLine{openLine(10, recv, "100")}

	t.Run("lowest sequence wins", func(t *testing.T) {
		fallback := exactModel(1, 50)
		fallback.CounterpartAccountID = i64(70)
		first := exactModel(2, 5)

		cand, err := ProposeCandidate([]*ReconcileModel{fallback, first}, statementLine("100"), open, nil, cur)
		require.NoError(t, err)
		assert.Equal(t, int64(2), cand.ModelID)
	})

	t.Run("equal sequences break on id", func(t *testing.T) {
		a := exactModel(3, 10)
		b := exactModel(2, 10)
		cand, err := ProposeCandidate([]*ReconcileModel{a, b}, statementLine("100"), open, nil, cur)
		require.NoError(t, err)
		assert.Equal(t, int64(2), cand.ModelID)
	})

	t.Run("no hit", func(t *testing.T) {
		_, err := ProposeCandidate([]*ReconcileModel{exactModel(1, 10)}, statementLine("999"), open, nil, cur)
		assert.ErrorIs(t, err, xerrors.ErrNoMatchingRule)
	})

	t.Run("reconciled line rejected", func(t *testing.T) {
		line := statementLine("100")
		line.State = StatementLineReconciled
		_, err := ProposeCandidate([]*ReconcileModel{exactModel(1, 10)}, line, open, nil, cur)
		assert.ErrorIs(t, err, xerrors.ErrLineAlreadyReconciled)
	})
}
