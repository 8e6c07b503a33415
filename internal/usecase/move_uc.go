package usecase

import (
	"context"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	publisher "ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentSyncer is the backward-projection hook: after a payment move's
// lines change, the owning payment header is rebuilt from them. Wired in by
// the server to avoid a usecase cycle.
type PaymentSyncer interface {
	SyncFromMove(ctx context.Context, tx pgx.Tx, move *domain.Move, opts domain.Options) error
}

// MoveUsecase owns the journal-entry lifecycle: draft edits, posting with
// sequence allocation, cancellation and reversal.
type MoveUsecase struct {
	moveRepo     repository.MoveRepository
	accountRepo  repository.AccountRepository
	sequenceRepo repository.SequenceRepository
	fxUC         *FxUsecase
	events       *publisher.LedgerEventPublisher
	logger       *zap.Logger

	paymentSync PaymentSyncer
}

func NewMoveUsecase(
	moveRepo repository.MoveRepository,
	accountRepo repository.AccountRepository,
	sequenceRepo repository.SequenceRepository,
	fxUC *FxUsecase,
	events *publisher.LedgerEventPublisher,
	logger *zap.Logger,
) *MoveUsecase {
	return &MoveUsecase{
		moveRepo:     moveRepo,
		accountRepo:  accountRepo,
		sequenceRepo: sequenceRepo,
		fxUC:         fxUC,
		events:       events,
		logger:       logger,
	}
}

// SetPaymentSync installs the backward projection. Must be called before
// serving requests.
func (uc *MoveUsecase) SetPaymentSync(s PaymentSyncer) {
	uc.paymentSync = s
}

// ===============================
// DRAFT LIFECYCLE
// ===============================

// CreateDraft validates and stores a new draft entry.
func (uc *MoveUsecase) CreateDraft(ctx context.Context, move *domain.Move, opts domain.Options) (*domain.Move, error) {
	company, err := uc.accountRepo.GetCompany(ctx, move.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	move.State = domain.MoveStateDraft
	if move.Type == "" {
		move.Type = domain.MoveTypeEntry
	}
	move.CurrencyCode = company.CurrencyCode

	if !opts.TaxLockOverride && company.IsTaxLocked(move.Date) {
		return nil, xerrors.ErrLockedByTaxPeriod
	}
	if err := uc.prepareLines(ctx, move); err != nil {
		return nil, err
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := uc.moveRepo.Create(ctx, tx, move); err != nil {
		return nil, fmt.Errorf("failed to create move: %w", err)
	}
	if err := uc.syncPayment(ctx, tx, move, opts); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return move, nil
}

// UpdateDraft replaces the header and lines of a draft entry.
func (uc *MoveUsecase) UpdateDraft(ctx context.Context, move *domain.Move, opts domain.Options) (*domain.Move, error) {
	existing, company, err := uc.loadEditable(ctx, move.ID, opts)
	if err != nil {
		return nil, err
	}
	move.CompanyID = existing.CompanyID
	move.JournalID = existing.JournalID
	move.CurrencyCode = company.CurrencyCode
	move.State = existing.State
	move.Type = existing.Type

	if err := uc.prepareLines(ctx, move); err != nil {
		return nil, err
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := uc.moveRepo.UpdateHeader(ctx, tx, move); err != nil {
		return nil, fmt.Errorf("failed to update move: %w", err)
	}
	if err := uc.moveRepo.ReplaceLines(ctx, tx, move.ID, move.Lines); err != nil {
		return nil, fmt.Errorf("failed to replace lines: %w", err)
	}
	if err := uc.syncPayment(ctx, tx, move, opts); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return uc.moveRepo.GetByID(ctx, move.ID)
}

// AddLine appends one line to a draft entry.
func (uc *MoveUsecase) AddLine(ctx context.Context, moveID int64, line *domain.MoveLine, opts domain.Options) (*domain.Move, error) {
	return uc.editLines(ctx, moveID, opts, func(m *domain.Move) error {
		line.MoveID = moveID
		m.Lines = append(m.Lines, line)
		return nil
	})
}

// EditLine rewrites one line of a draft entry.
func (uc *MoveUsecase) EditLine(ctx context.Context, line *domain.MoveLine, opts domain.Options) (*domain.Move, error) {
	existing, err := uc.moveRepo.GetLine(ctx, line.ID)
	if err != nil {
		return nil, err
	}
	return uc.editLines(ctx, existing.MoveID, opts, func(m *domain.Move) error {
		for i, l := range m.Lines {
			if l.ID == line.ID {
				line.MoveID = m.ID
				m.Lines[i] = line
				return nil
			}
		}
		return xerrors.ErrNotFound
	})
}

// RemoveLine drops one line from a draft entry.
func (uc *MoveUsecase) RemoveLine(ctx context.Context, lineID int64, opts domain.Options) (*domain.Move, error) {
	existing, err := uc.moveRepo.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	return uc.editLines(ctx, existing.MoveID, opts, func(m *domain.Move) error {
		for i, l := range m.Lines {
			if l.ID == lineID {
				m.Lines = append(m.Lines[:i], m.Lines[i+1:]...)
				return nil
			}
		}
		return xerrors.ErrNotFound
	})
}

func (uc *MoveUsecase) editLines(ctx context.Context, moveID int64, opts domain.Options, mutate func(*domain.Move) error) (*domain.Move, error) {
	move, _, err := uc.loadEditable(ctx, moveID, opts)
	if err != nil {
		return nil, err
	}
	if err := mutate(move); err != nil {
		return nil, err
	}
	if err := uc.prepareLines(ctx, move); err != nil {
		return nil, err
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := uc.moveRepo.ReplaceLines(ctx, tx, move.ID, move.Lines); err != nil {
		return nil, fmt.Errorf("failed to replace lines: %w", err)
	}
	if err := uc.syncPayment(ctx, tx, move, opts); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return uc.moveRepo.GetByID(ctx, move.ID)
}

// ===============================
// STATE TRANSITIONS
// ===============================

// Post flips a balanced draft to posted: the journal sequence assigns the
// definitive name and residuals are frozen on reconcilable lines.
func (uc *MoveUsecase) Post(ctx context.Context, moveID int64, opts domain.Options) (*domain.Move, error) {
	move, err := uc.moveRepo.GetByID(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if !move.CanTransition(domain.MoveStatePosted) {
		return nil, xerrors.Wrap(xerrors.ErrInvalidTransition, "cannot post from %s", move.State)
	}
	if len(move.Lines) == 0 {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "entry %d has no lines", move.ID)
	}

	company, err := uc.accountRepo.GetCompany(ctx, move.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	if !opts.TaxLockOverride && company.IsTaxLocked(move.Date) {
		return nil, xerrors.ErrLockedByTaxPeriod
	}

	companyCur, err := uc.companyCurrency(ctx, company)
	if err != nil {
		return nil, err
	}
	for _, l := range move.Lines {
		if err := l.Validate(); err != nil {
			return nil, err
		}
	}
	if err := move.CheckHomogeneous(); err != nil {
		return nil, err
	}
	if err := move.CheckBalanced(companyCur); err != nil {
		return nil, err
	}

	journal, err := uc.accountRepo.GetJournal(ctx, move.JournalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	name := move.Name
	if name == "" {
		name, err = uc.sequenceRepo.NextMoveName(ctx, tx, journal.ID, journal.Code, move.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate entry name: %w", err)
		}
	}
	now := time.Now()
	if err := uc.moveRepo.SetState(ctx, tx, move.ID, domain.MoveStatePosted, name, &now); err != nil {
		return nil, fmt.Errorf("failed to post move: %w", err)
	}
	if err := uc.moveRepo.FreezeResiduals(ctx, tx, move.ID); err != nil {
		return nil, fmt.Errorf("failed to freeze residuals: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	uc.logger.Info("entry posted",
		zap.Int64("move_id", move.ID),
		zap.String("name", name),
	)
	uc.events.MovePosted(ctx, move.ID, name, move.JournalID)
	return uc.moveRepo.GetByID(ctx, move.ID)
}

// Cancel moves a posted entry to cancelled. Entries with live
// reconciliations must be broken first.
func (uc *MoveUsecase) Cancel(ctx context.Context, moveID int64) (*domain.Move, error) {
	move, err := uc.moveRepo.GetByID(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if !move.CanTransition(domain.MoveStateCancelled) {
		return nil, xerrors.Wrap(xerrors.ErrInvalidTransition, "cannot cancel from %s", move.State)
	}
	reconciled, err := uc.moveRepo.HasReconciledLines(ctx, moveID)
	if err != nil {
		return nil, fmt.Errorf("failed to check reconciliations: %w", err)
	}
	if reconciled {
		return nil, xerrors.ErrLinesReconciled
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := uc.moveRepo.SetState(ctx, tx, moveID, domain.MoveStateCancelled, "", nil); err != nil {
		return nil, fmt.Errorf("failed to cancel move: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	uc.events.Publish(ctx, &publisher.LedgerEvent{
		EventType: publisher.EventMoveCancelled,
		MoveID:    moveID,
		MoveName:  move.Name,
		JournalID: move.JournalID,
	})
	return uc.moveRepo.GetByID(ctx, moveID)
}

// ResetToDraft reopens a cancelled entry. The allocated name survives.
func (uc *MoveUsecase) ResetToDraft(ctx context.Context, moveID int64) (*domain.Move, error) {
	move, err := uc.moveRepo.GetByID(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if !move.CanTransition(domain.MoveStateDraft) {
		return nil, xerrors.Wrap(xerrors.ErrInvalidTransition, "cannot reset from %s", move.State)
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := uc.moveRepo.SetState(ctx, tx, moveID, domain.MoveStateDraft, "", nil); err != nil {
		return nil, fmt.Errorf("failed to reset move: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return uc.moveRepo.GetByID(ctx, moveID)
}

// Unlink deletes a draft or cancelled entry.
func (uc *MoveUsecase) Unlink(ctx context.Context, moveID int64, opts domain.Options) error {
	move, err := uc.moveRepo.GetByID(ctx, moveID)
	if err != nil {
		return err
	}
	if move.State == domain.MoveStatePosted {
		return xerrors.ErrPostedImmutable
	}
	company, err := uc.accountRepo.GetCompany(ctx, move.CompanyID)
	if err != nil {
		return fmt.Errorf("failed to get company: %w", err)
	}
	if !opts.TaxLockOverride && company.IsTaxLocked(move.Date) {
		return xerrors.ErrLockedByTaxPeriod
	}
	reconciled, err := uc.moveRepo.HasReconciledLines(ctx, moveID)
	if err != nil {
		return fmt.Errorf("failed to check reconciliations: %w", err)
	}
	if reconciled {
		return xerrors.ErrLinesReconciled
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := uc.moveRepo.Delete(ctx, tx, moveID); err != nil {
		return fmt.Errorf("failed to delete move: %w", err)
	}
	return tx.Commit(ctx)
}

// Reverse creates the mirrored draft of a posted entry. Posting and
// reconciling the reversal is the supported way to back out booked amounts.
func (uc *MoveUsecase) Reverse(ctx context.Context, moveID int64, date time.Time, opts domain.Options) (*domain.Move, error) {
	move, err := uc.moveRepo.GetByID(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if move.State != domain.MoveStatePosted {
		return nil, xerrors.Wrap(xerrors.ErrInvalidTransition, "only posted entries can be reversed")
	}
	reversal := move.ReversalOf(date)
	return uc.CreateDraft(ctx, reversal, opts)
}

// GetByID retrieves a move with its lines.
func (uc *MoveUsecase) GetByID(ctx context.Context, id int64) (*domain.Move, error) {
	return uc.moveRepo.GetByID(ctx, id)
}

// ===============================
// HELPERS
// ===============================

// prepareLines attaches accounts, validates each line, enforces set-level
// homogeneity and recomputes the plug line of invoice-shaped moves.
func (uc *MoveUsecase) prepareLines(ctx context.Context, move *domain.Move) error {
	ids := make([]int64, 0, len(move.Lines))
	for _, l := range move.Lines {
		ids = append(ids, l.AccountID)
	}
	accounts, err := uc.accountRepo.GetAccounts(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}
	for _, l := range move.Lines {
		a, ok := accounts[l.AccountID]
		if !ok {
			return xerrors.Wrap(xerrors.ErrNotFound, "account %d", l.AccountID)
		}
		l.Account = a
	}

	if move.IsInvoice() {
		uc.recomputePlug(move)
	}
	for _, l := range move.Lines {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	return move.CheckHomogeneous()
}

// recomputePlug rewrites the receivable/payable balancing line so invoice
// moves stay balanced across draft edits.
func (uc *MoveUsecase) recomputePlug(move *domain.Move) {
	var plug *domain.MoveLine
	for _, l := range move.Lines {
		if l.Account != nil && l.Account.IsReceivablePayable() {
			plug = l
			break
		}
	}
	if plug == nil {
		return
	}
	balance := move.ComputePlugLine(plug.AccountID)
	if balance.IsPositive() {
		plug.Debit = balance
		plug.Credit = decimal.Zero
	} else {
		plug.Debit = decimal.Zero
		plug.Credit = balance.Neg()
	}
}

func (uc *MoveUsecase) syncPayment(ctx context.Context, tx pgx.Tx, move *domain.Move, opts domain.Options) error {
	if opts.SkipSync || move.PaymentID == nil || uc.paymentSync == nil {
		return nil
	}
	if err := uc.paymentSync.SyncFromMove(ctx, tx, move, opts); err != nil {
		return fmt.Errorf("failed to sync payment from move: %w", err)
	}
	return nil
}

func (uc *MoveUsecase) loadEditable(ctx context.Context, moveID int64, opts domain.Options) (*domain.Move, *domain.Company, error) {
	move, err := uc.moveRepo.GetByID(ctx, moveID)
	if err != nil {
		return nil, nil, err
	}
	company, err := uc.accountRepo.GetCompany(ctx, move.CompanyID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get company: %w", err)
	}
	if err := move.AssertEditable(company, opts); err != nil {
		return nil, nil, err
	}
	return move, company, nil
}

func (uc *MoveUsecase) companyCurrency(ctx context.Context, company *domain.Company) (*domain.Currency, error) {
	cur, err := uc.fxUC.GetCurrency(ctx, company.CurrencyCode)
	if err != nil {
		return nil, fmt.Errorf("failed to get company currency: %w", err)
	}
	return cur, nil
}
