package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ledger-service/internal/domain"
	publisher "ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReconcileResult reports what one reconciliation call persisted.
type ReconcileResult struct {
	Partials        []*domain.PartialReconcile `json:"partials"`
	Full            *domain.FullReconcile      `json:"full,omitempty"`
	ExchangeMoveIDs []int64                    `json:"exchange_move_ids,omitempty"`
}

// ReconcileUsecase drives the allocation engine: row locks in ascending id
// order, the greedy planner, exchange-difference entries and the full
// reconcile stamp.
type ReconcileUsecase struct {
	moveRepo      repository.MoveRepository
	reconcileRepo repository.ReconcileRepository
	accountRepo   repository.AccountRepository
	sequenceRepo  repository.SequenceRepository
	fxUC          *FxUsecase
	paymentUC     *PaymentUsecase
	events        *publisher.LedgerEventPublisher
	logger        *zap.Logger
}

func NewReconcileUsecase(
	moveRepo repository.MoveRepository,
	reconcileRepo repository.ReconcileRepository,
	accountRepo repository.AccountRepository,
	sequenceRepo repository.SequenceRepository,
	fxUC *FxUsecase,
	paymentUC *PaymentUsecase,
	events *publisher.LedgerEventPublisher,
	logger *zap.Logger,
) *ReconcileUsecase {
	return &ReconcileUsecase{
		moveRepo:      moveRepo,
		reconcileRepo: reconcileRepo,
		accountRepo:   accountRepo,
		sequenceRepo:  sequenceRepo,
		fxUC:          fxUC,
		paymentUC:     paymentUC,
		events:        events,
		logger:        logger,
	}
}

// ===============================
// FULL RECONCILIATION
// ===============================

// Reconcile runs the greedy match over the given lines. Re-running it on an
// already settled set is a no-op.
func (uc *ReconcileUsecase) Reconcile(ctx context.Context, lineIDs []int64) (*ReconcileResult, error) {
	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, lines, err := uc.ReconcileInTx(ctx, tx, lineIDs)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	uc.logger.Info("reconciliation created",
		zap.Int("partials", len(result.Partials)),
		zap.Bool("full", result.Full != nil),
	)
	uc.refreshPaymentStatuses(ctx, lines)
	if result.Full != nil {
		uc.events.ReconcileCreated(ctx, result.Full.ID)
	}
	return result, nil
}

// ReconcileInTx is the transactional core of Reconcile: lock, plan, persist.
// The caller owns the transaction and the post-commit notifications.
func (uc *ReconcileUsecase) ReconcileInTx(ctx context.Context, tx pgx.Tx, lineIDs []int64) (*ReconcileResult, []*domain.MoveLine, error) {
	if len(lineIDs) == 0 {
		return nil, nil, xerrors.ErrNothingToDo
	}

	lines, err := uc.moveRepo.LockLines(ctx, tx, lineIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(lines) != len(dedupe(lineIDs)) {
		return nil, nil, xerrors.Wrap(xerrors.ErrNotFound, "some journal items do not exist")
	}

	company, companyCur, currencies, err := uc.loadContext(ctx, lines)
	if err != nil {
		return nil, nil, err
	}

	plan, err := domain.PlanReconciliation(lines, companyCur, currencies)
	if err != nil {
		return nil, nil, err
	}
	if len(plan.Allocations) == 0 && len(plan.ExchangeDiffs) == 0 {
		if !plan.FullyReconciled {
			// Nothing left to allocate: idempotent success.
			return &ReconcileResult{}, lines, nil
		}
		// Earlier explicit partials already zeroed every residual; the set
		// still deserves its full stamp over the existing chain.
		full, err := uc.stampSettledChain(ctx, tx, lines)
		if err != nil {
			return nil, nil, err
		}
		return &ReconcileResult{Full: full}, lines, nil
	}

	result := &ReconcileResult{}
	touched := make(map[int64]*domain.MoveLine)
	for _, a := range plan.Allocations {
		partial := &domain.PartialReconcile{
			DebitLineID:          a.Debit.ID,
			CreditLineID:         a.Credit.ID,
			Amount:               a.Amount,
			DebitAmountCurrency:  a.DebitAmountCurrency,
			CreditAmountCurrency: a.CreditAmountCurrency,
		}
		if err := uc.reconcileRepo.CreatePartial(ctx, tx, partial); err != nil {
			return nil, nil, err
		}
		result.Partials = append(result.Partials, partial)
		touched[a.Debit.ID] = a.Debit
		touched[a.Credit.ID] = a.Credit
	}

	for _, diff := range plan.ExchangeDiffs {
		partial, moveID, err := uc.bookExchangeDiff(ctx, tx, diff, company)
		if err != nil {
			return nil, nil, err
		}
		result.Partials = append(result.Partials, partial)
		result.ExchangeMoveIDs = append(result.ExchangeMoveIDs, moveID)
		diff.Line.AmountResidual = decimal.Zero
		touched[diff.Line.ID] = diff.Line
	}

	for _, l := range touched {
		if err := uc.moveRepo.UpdateResidual(ctx, tx, l); err != nil {
			return nil, nil, fmt.Errorf("failed to update residual: %w", err)
		}
	}

	if plan.FullyReconciled {
		full := &domain.FullReconcile{Name: "A" + ulid.Make().String()}
		if err := uc.reconcileRepo.CreateFull(ctx, tx, full); err != nil {
			return nil, nil, err
		}
		partialIDs := make([]int64, 0, len(result.Partials))
		seen := make(map[int64]struct{}, len(result.Partials))
		for _, p := range result.Partials {
			p.FullReconcileID = &full.ID
			partialIDs = append(partialIDs, p.ID)
			seen[p.ID] = struct{}{}
		}
		// Explicit partials booked before this call belong to the same chain.
		prior, err := uc.existingPartialIDs(ctx, lines, seen)
		if err != nil {
			return nil, nil, err
		}
		partialIDs = append(partialIDs, prior...)
		if err := uc.reconcileRepo.StampPartials(ctx, tx, partialIDs, full.ID); err != nil {
			return nil, nil, err
		}
		stamped := make([]int64, 0, len(lines))
		for _, l := range lines {
			stamped = append(stamped, l.ID)
		}
		if err := uc.moveRepo.SetFullReconcile(ctx, tx, stamped, &full.ID); err != nil {
			return nil, nil, err
		}
		result.Full = full
	}
	return result, lines, nil
}

// ReconcilePartial allocates an explicit amount between one debit and one
// credit line.
func (uc *ReconcileUsecase) ReconcilePartial(ctx context.Context, debitLineID, creditLineID int64, amount decimal.Decimal) (*domain.PartialReconcile, error) {
	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lines, err := uc.moveRepo.LockLines(ctx, tx, []int64{debitLineID, creditLineID})
	if err != nil {
		return nil, err
	}
	if len(lines) != 2 {
		return nil, xerrors.ErrNotFound
	}
	var debit, credit *domain.MoveLine
	for _, l := range lines {
		switch l.ID {
		case debitLineID:
			debit = l
		case creditLineID:
			credit = l
		}
	}

	_, companyCur, currencies, err := uc.loadContext(ctx, lines)
	if err != nil {
		return nil, err
	}
	a, err := domain.PlanPartial(debit, credit, amount, companyCur, currencies)
	if err != nil {
		return nil, err
	}

	partial := &domain.PartialReconcile{
		DebitLineID:          debit.ID,
		CreditLineID:         credit.ID,
		Amount:               a.Amount,
		DebitAmountCurrency:  a.DebitAmountCurrency,
		CreditAmountCurrency: a.CreditAmountCurrency,
	}
	if err := uc.reconcileRepo.CreatePartial(ctx, tx, partial); err != nil {
		return nil, err
	}
	for _, l := range []*domain.MoveLine{debit, credit} {
		if err := uc.moveRepo.UpdateResidual(ctx, tx, l); err != nil {
			return nil, fmt.Errorf("failed to update residual: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	uc.refreshPaymentStatuses(ctx, lines)
	return partial, nil
}

// stampSettledChain closes a set whose residuals were zeroed entirely by
// earlier explicit partials: the existing chain gets the full stamp. Returns
// nil when the set already carries one.
func (uc *ReconcileUsecase) stampSettledChain(ctx context.Context, tx pgx.Tx, lines []*domain.MoveLine) (*domain.FullReconcile, error) {
	stamped := true
	for _, l := range lines {
		if l.FullReconcileID == nil {
			stamped = false
			break
		}
	}
	if stamped {
		return nil, nil
	}

	partialIDs, err := uc.existingPartialIDs(ctx, lines, map[int64]struct{}{})
	if err != nil {
		return nil, err
	}
	full := &domain.FullReconcile{Name: "A" + ulid.Make().String()}
	if err := uc.reconcileRepo.CreateFull(ctx, tx, full); err != nil {
		return nil, err
	}
	if err := uc.reconcileRepo.StampPartials(ctx, tx, partialIDs, full.ID); err != nil {
		return nil, err
	}
	lineIDs := make([]int64, 0, len(lines))
	for _, l := range lines {
		lineIDs = append(lineIDs, l.ID)
		l.FullReconcileID = &full.ID
	}
	if err := uc.moveRepo.SetFullReconcile(ctx, tx, lineIDs, &full.ID); err != nil {
		return nil, err
	}
	return full, nil
}

// existingPartialIDs collects the persisted partials touching the given
// lines, skipping ids already in seen.
func (uc *ReconcileUsecase) existingPartialIDs(ctx context.Context, lines []*domain.MoveLine, seen map[int64]struct{}) ([]int64, error) {
	ids := make([]int64, 0)
	for _, l := range lines {
		partials, err := uc.reconcileRepo.ListByLine(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list partials: %w", err)
		}
		for _, p := range partials {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// ===============================
// BREAKING
// ===============================

// Break deletes every partial touching the line and restores the peer
// residuals symmetrically. Breaking an unreconciled line is a no-op.
func (uc *ReconcileUsecase) Break(ctx context.Context, lineID int64) error {
	partials, err := uc.reconcileRepo.ListByLine(ctx, lineID)
	if err != nil {
		return fmt.Errorf("failed to list partials: %w", err)
	}
	if len(partials) == 0 {
		return nil
	}

	idSet := map[int64]struct{}{lineID: {}}
	fullSet := map[int64]struct{}{}
	for _, p := range partials {
		idSet[p.DebitLineID] = struct{}{}
		idSet[p.CreditLineID] = struct{}{}
		if p.FullReconcileID != nil {
			fullSet[*p.FullReconcileID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lines, err := uc.moveRepo.LockLines(ctx, tx, ids)
	if err != nil {
		return err
	}
	byID := make(map[int64]*domain.MoveLine, len(lines))
	for _, l := range lines {
		byID[l.ID] = l
	}

	// Clearing full stamps first releases every partial in the chain.
	for fullID := range fullSet {
		if err := uc.reconcileRepo.UnstampFull(ctx, tx, fullID); err != nil {
			return fmt.Errorf("failed to unstamp full reconcile: %w", err)
		}
		if err := uc.reconcileRepo.DeleteFull(ctx, tx, fullID); err != nil {
			return fmt.Errorf("failed to delete full reconcile: %w", err)
		}
	}

	for _, p := range partials {
		if err := uc.reconcileRepo.DeletePartial(ctx, tx, p.ID); err != nil {
			return fmt.Errorf("failed to delete partial: %w", err)
		}
		if d, ok := byID[p.DebitLineID]; ok {
			d.AmountResidual = d.AmountResidual.Add(p.Amount)
			d.AmountResidualCurrency = d.AmountResidualCurrency.Add(p.DebitAmountCurrency)
			d.FullReconcileID = nil
		}
		if c, ok := byID[p.CreditLineID]; ok {
			c.AmountResidual = c.AmountResidual.Sub(p.Amount)
			c.AmountResidualCurrency = c.AmountResidualCurrency.Sub(p.CreditAmountCurrency)
			c.FullReconcileID = nil
		}
	}
	for _, l := range lines {
		if err := uc.moveRepo.UpdateResidual(ctx, tx, l); err != nil {
			return fmt.Errorf("failed to restore residual: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	uc.logger.Info("reconciliation broken",
		zap.Int64("line_id", lineID),
		zap.Int("partials", len(partials)),
	)
	uc.refreshPaymentStatuses(ctx, lines)
	for fullID := range fullSet {
		uc.events.ReconcileBroken(ctx, fullID)
	}
	return nil
}

// ===============================
// EXCHANGE DIFFERENCES
// ===============================

// bookExchangeDiff posts the balancing entry for a company-currency
// remainder and allocates it against the leftover line.
func (uc *ReconcileUsecase) bookExchangeDiff(ctx context.Context, tx pgx.Tx, diff domain.ExchangeDiff, company *domain.Company) (*domain.PartialReconcile, int64, error) {
	journal, err := uc.accountRepo.GetJournal(ctx, company.ExchangeJournalID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get exchange journal: %w", err)
	}

	move := domain.BuildExchangeMove(diff, company, time.Now())
	if err := uc.moveRepo.Create(ctx, tx, move); err != nil {
		return nil, 0, fmt.Errorf("failed to create exchange move: %w", err)
	}
	name, err := uc.sequenceRepo.NextMoveName(ctx, tx, journal.ID, journal.Code, move.Date)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to allocate exchange entry name: %w", err)
	}
	now := time.Now()
	if err := uc.moveRepo.SetState(ctx, tx, move.ID, domain.MoveStatePosted, name, &now); err != nil {
		return nil, 0, fmt.Errorf("failed to post exchange move: %w", err)
	}
	if err := uc.moveRepo.FreezeResiduals(ctx, tx, move.ID); err != nil {
		return nil, 0, fmt.Errorf("failed to freeze exchange residuals: %w", err)
	}

	// The first exchange line sits on the reconciled account and zeroes the
	// leftover.
	counterLine := move.Lines[0]
	abs := diff.Amount.Abs()
	// Currency legs stay zero: the leftover line's foreign leg was spent by
	// the regular allocations and the exchange line books no foreign amount,
	// so breaking this partial must not shift either currency residual.
	partial := &domain.PartialReconcile{
		Amount:               abs,
		DebitAmountCurrency:  decimal.Zero,
		CreditAmountCurrency: decimal.Zero,
	}
	if diff.Amount.IsPositive() {
		partial.DebitLineID = diff.Line.ID
		partial.CreditLineID = counterLine.ID
	} else {
		partial.DebitLineID = counterLine.ID
		partial.CreditLineID = diff.Line.ID
	}
	if err := uc.reconcileRepo.CreatePartial(ctx, tx, partial); err != nil {
		return nil, 0, err
	}

	counterLine.AmountResidual = decimal.Zero
	counterLine.AmountResidualCurrency = decimal.Zero
	if err := uc.moveRepo.UpdateResidual(ctx, tx, counterLine); err != nil {
		return nil, 0, fmt.Errorf("failed to settle exchange line: %w", err)
	}
	return partial, move.ID, nil
}

// ===============================
// HELPERS
// ===============================

func (uc *ReconcileUsecase) loadContext(ctx context.Context, lines []*domain.MoveLine) (*domain.Company, *domain.Currency, map[string]*domain.Currency, error) {
	if len(lines) == 0 || lines[0].Account == nil {
		return nil, nil, nil, xerrors.ErrNotFound
	}
	company, err := uc.accountRepo.GetCompany(ctx, lines[0].Account.CompanyID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to get company: %w", err)
	}
	codes := []string{company.CurrencyCode}
	for _, l := range lines {
		if l.CurrencyCode != nil {
			codes = append(codes, *l.CurrencyCode)
		}
	}
	currencies, err := uc.fxUC.GetCurrencies(ctx, codes)
	if err != nil {
		return nil, nil, nil, err
	}
	return company, currencies[company.CurrencyCode], currencies, nil
}

func (uc *ReconcileUsecase) refreshPaymentStatuses(ctx context.Context, lines []*domain.MoveLine) {
	seen := map[int64]struct{}{}
	for _, l := range lines {
		if l.PaymentID == nil {
			continue
		}
		if _, ok := seen[*l.PaymentID]; ok {
			continue
		}
		seen[*l.PaymentID] = struct{}{}
		if err := uc.paymentUC.RefreshStatus(ctx, *l.PaymentID); err != nil {
			uc.logger.Warn("failed to refresh payment status",
				zap.Int64("payment_id", *l.PaymentID),
				zap.Error(err),
			)
		}
	}
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
