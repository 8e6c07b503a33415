package usecase

import (
	"context"
	"fmt"

	"ledger-service/internal/domain"
	publisher "ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// PaymentUsecase keeps a payment header and its journal entry consistent:
// edits on the payment rewrite the move lines (forward projection), edits on
// the move rebuild the header (backward projection). Options.SkipSync is the
// only cycle breaker between the two.
type PaymentUsecase struct {
	paymentRepo repository.PaymentRepository
	moveRepo    repository.MoveRepository
	accountRepo repository.AccountRepository
	fxUC        *FxUsecase
	moveUC      *MoveUsecase
	events      *publisher.LedgerEventPublisher
	logger      *zap.Logger
}

func NewPaymentUsecase(
	paymentRepo repository.PaymentRepository,
	moveRepo repository.MoveRepository,
	accountRepo repository.AccountRepository,
	fxUC *FxUsecase,
	moveUC *MoveUsecase,
	events *publisher.LedgerEventPublisher,
	logger *zap.Logger,
) *PaymentUsecase {
	return &PaymentUsecase{
		paymentRepo: paymentRepo,
		moveRepo:    moveRepo,
		accountRepo: accountRepo,
		fxUC:        fxUC,
		moveUC:      moveUC,
		events:      events,
		logger:      logger,
	}
}

// ===============================
// LIFECYCLE
// ===============================

// Create validates the payment, projects its lines and stores the payment
// together with its draft entry.
func (uc *PaymentUsecase) Create(ctx context.Context, p *domain.Payment, writeOff *domain.WriteOff) (*domain.Payment, error) {
	journal, err := uc.accountRepo.GetJournal(ctx, p.JournalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	if err := p.Validate(journal); err != nil {
		return nil, err
	}
	if err := uc.checkMethodAllowed(ctx, journal.ID, p); err != nil {
		return nil, err
	}

	company, err := uc.accountRepo.GetCompany(ctx, journal.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	if !p.IsInternalTransfer {
		destination, err := uc.accountRepo.GetAccount(ctx, p.DestinationAccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to get destination account: %w", err)
		}
		if !destination.IsReceivablePayable() {
			return nil, xerrors.Wrap(xerrors.ErrInvalidInput,
				"destination account %s must be receivable or payable", destination.Code)
		}
	}

	balance, err := uc.fxUC.Convert(ctx, p.Amount, p.CurrencyCode, company.CurrencyCode, p.Date)
	if err != nil {
		return nil, err
	}
	specs, err := p.ProjectLines(journal, company, balance, writeOff)
	if err != nil {
		return nil, err
	}

	move := &domain.Move{
		Date:         p.Date,
		JournalID:    journal.ID,
		CompanyID:    company.ID,
		CurrencyCode: company.CurrencyCode,
		State:        domain.MoveStateDraft,
		Type:         domain.MoveTypeEntry,
		Reference:    p.PaymentReference,
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := uc.moveRepo.Create(ctx, tx, move); err != nil {
		return nil, fmt.Errorf("failed to create payment move: %w", err)
	}
	p.MoveID = move.ID
	if err := uc.paymentRepo.Create(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	for _, spec := range specs {
		line := specToLine(spec, move.ID, p.ID)
		if err := uc.moveRepo.InsertLine(ctx, tx, line); err != nil {
			return nil, fmt.Errorf("failed to insert payment line: %w", err)
		}
	}
	move.PaymentID = &p.ID
	if err := uc.moveRepo.UpdateHeader(ctx, tx, move); err != nil {
		return nil, fmt.Errorf("failed to link payment move: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	uc.logger.Info("payment created",
		zap.Int64("payment_id", p.ID),
		zap.Int64("move_id", move.ID),
		zap.String("type", string(p.PaymentType)),
	)
	return p, nil
}

// Update applies edited payment fields by rewriting the move lines from the
// forward projection. Only draft payments may be edited.
func (uc *PaymentUsecase) Update(ctx context.Context, p *domain.Payment, writeOff *domain.WriteOff, opts domain.Options) (*domain.Payment, error) {
	existing, err := uc.paymentRepo.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	p.MoveID = existing.MoveID

	move, err := uc.moveRepo.GetByID(ctx, p.MoveID)
	if err != nil {
		return nil, err
	}
	journal, err := uc.accountRepo.GetJournal(ctx, p.JournalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	if err := p.Validate(journal); err != nil {
		return nil, err
	}
	company, err := uc.accountRepo.GetCompany(ctx, journal.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	if err := move.AssertEditable(company, opts); err != nil {
		return nil, err
	}

	balance, err := uc.fxUC.Convert(ctx, p.Amount, p.CurrencyCode, company.CurrencyCode, p.Date)
	if err != nil {
		return nil, err
	}
	specs, err := p.ProjectLines(journal, company, balance, writeOff)
	if err != nil {
		return nil, err
	}
	lines := make([]*domain.MoveLine, 0, len(specs))
	for _, spec := range specs {
		lines = append(lines, specToLine(spec, move.ID, p.ID))
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Forward projection owns this write; the backward sync stays off.
	if err := uc.moveRepo.ReplaceLines(ctx, tx, move.ID, lines); err != nil {
		return nil, fmt.Errorf("failed to replace payment lines: %w", err)
	}
	move.Date = p.Date
	move.Reference = p.PaymentReference
	if err := uc.moveRepo.UpdateHeader(ctx, tx, move); err != nil {
		return nil, fmt.Errorf("failed to update payment move: %w", err)
	}
	if err := uc.paymentRepo.Update(ctx, tx, p); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return uc.paymentRepo.GetByID(ctx, p.ID)
}

// Post verifies the move still has the payment shape and posts it.
func (uc *PaymentUsecase) Post(ctx context.Context, paymentID int64, opts domain.Options) (*domain.Payment, error) {
	p, err := uc.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	move, err := uc.moveRepo.GetByID(ctx, p.MoveID)
	if err != nil {
		return nil, err
	}
	journal, err := uc.accountRepo.GetJournal(ctx, p.JournalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	company, err := uc.accountRepo.GetCompany(ctx, journal.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	partition := domain.PartitionPaymentLines(move.Lines, journal, company)
	if err := domain.CheckMoveShape(partition); err != nil {
		return nil, err
	}

	if _, err := uc.moveUC.Post(ctx, p.MoveID, opts); err != nil {
		return nil, err
	}
	if err := uc.RefreshStatus(ctx, paymentID); err != nil {
		return nil, err
	}

	uc.events.PaymentPosted(ctx, p.ID, p.MoveID, p.Amount, p.CurrencyCode)
	return uc.paymentRepo.GetByID(ctx, paymentID)
}

// Cancel cancels the payment's move. Reconciled payments must be broken
// apart first.
func (uc *PaymentUsecase) Cancel(ctx context.Context, paymentID int64) (*domain.Payment, error) {
	p, err := uc.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if _, err := uc.moveUC.Cancel(ctx, p.MoveID); err != nil {
		return nil, err
	}
	return uc.paymentRepo.GetByID(ctx, paymentID)
}

// GetByID retrieves a payment.
func (uc *PaymentUsecase) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	return uc.paymentRepo.GetByID(ctx, id)
}

// ListByPartner retrieves payments for a partner, newest first.
func (uc *PaymentUsecase) ListByPartner(ctx context.Context, partnerID int64, limit, offset int) ([]*domain.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	return uc.paymentRepo.ListByPartner(ctx, partnerID, limit, offset)
}

// ===============================
// PROJECTIONS
// ===============================

// SyncFromMove is the backward projection: after a payment move's lines
// changed, rebuild the derivable header fields from them. Implements
// PaymentSyncer.
func (uc *PaymentUsecase) SyncFromMove(ctx context.Context, tx pgx.Tx, move *domain.Move, opts domain.Options) error {
	if move.PaymentID == nil {
		return nil
	}
	p, err := uc.paymentRepo.GetByID(ctx, *move.PaymentID)
	if err != nil {
		return err
	}
	journal, err := uc.accountRepo.GetJournal(ctx, move.JournalID)
	if err != nil {
		return fmt.Errorf("failed to get journal: %w", err)
	}
	company, err := uc.accountRepo.GetCompany(ctx, move.CompanyID)
	if err != nil {
		return fmt.Errorf("failed to get company: %w", err)
	}

	partition := domain.PartitionPaymentLines(move.Lines, journal, company)
	inferred, err := domain.InferPayment(move, partition, company.CurrencyCode)
	if err != nil {
		return err
	}

	p.Amount = inferred.Amount
	p.PaymentType = inferred.PaymentType
	p.PartnerType = inferred.PartnerType
	p.PartnerID = inferred.PartnerID
	p.CurrencyCode = inferred.CurrencyCode
	p.DestinationAccountID = inferred.DestinationAccountID
	p.Date = move.Date

	if err := uc.paymentRepo.Update(ctx, tx, p); err != nil {
		return fmt.Errorf("failed to sync payment header: %w", err)
	}
	return nil
}

// RefreshStatus rederives is_matched / is_reconciled from the move lines.
func (uc *PaymentUsecase) RefreshStatus(ctx context.Context, paymentID int64) error {
	p, err := uc.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	move, err := uc.moveRepo.GetByID(ctx, p.MoveID)
	if err != nil {
		return err
	}
	journal, err := uc.accountRepo.GetJournal(ctx, move.JournalID)
	if err != nil {
		return fmt.Errorf("failed to get journal: %w", err)
	}
	company, err := uc.accountRepo.GetCompany(ctx, move.CompanyID)
	if err != nil {
		return fmt.Errorf("failed to get company: %w", err)
	}
	companyCur, err := uc.fxUC.GetCurrency(ctx, company.CurrencyCode)
	if err != nil {
		return err
	}

	partition := domain.PartitionPaymentLines(move.Lines, journal, company)
	matched, reconciled := p.StatusFromLines(partition, journal, companyCur)
	if matched == p.IsMatched && reconciled == p.IsReconciled {
		return nil
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := uc.paymentRepo.SetStatus(ctx, tx, paymentID, matched, reconciled); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	return tx.Commit(ctx)
}

// ===============================
// HELPERS
// ===============================

func (uc *PaymentUsecase) checkMethodAllowed(ctx context.Context, journalID int64, p *domain.Payment) error {
	methods, err := uc.accountRepo.ListJournalMethods(ctx, journalID, p.PaymentType)
	if err != nil {
		return fmt.Errorf("failed to list journal methods: %w", err)
	}
	for _, m := range methods {
		if m.ID == p.PaymentMethodID {
			return nil
		}
	}
	return xerrors.ErrMethodNotAllowed
}

func specToLine(spec domain.LineSpec, moveID, paymentID int64) *domain.MoveLine {
	return &domain.MoveLine{
		MoveID:         moveID,
		AccountID:      spec.AccountID,
		PartnerID:      spec.PartnerID,
		Name:           spec.Name,
		Debit:          spec.Debit,
		Credit:         spec.Credit,
		CurrencyCode:   spec.CurrencyCode,
		AmountCurrency: spec.AmountCurrency,
		PaymentID:      &paymentID,
	}
}
