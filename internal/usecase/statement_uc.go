package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	publisher "ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/pkg/xerrors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const modelCacheKey = "stmt:models"

// StatementUsecase ingests bank statements and drives rule-based matching:
// propose a candidate per line, accept it into a posted move plus
// reconciliation, or sweep a whole statement with auto-validating rules.
type StatementUsecase struct {
	statementRepo repository.StatementRepository
	modelRepo     repository.ReconcileModelRepository
	moveRepo      repository.MoveRepository
	accountRepo   repository.AccountRepository
	sequenceRepo  repository.SequenceRepository
	fxUC          *FxUsecase
	reconcileUC   *ReconcileUsecase
	redisClient   *redis.Client
	events        *publisher.LedgerEventPublisher
	logger        *zap.Logger
}

func NewStatementUsecase(
	statementRepo repository.StatementRepository,
	modelRepo repository.ReconcileModelRepository,
	moveRepo repository.MoveRepository,
	accountRepo repository.AccountRepository,
	sequenceRepo repository.SequenceRepository,
	fxUC *FxUsecase,
	reconcileUC *ReconcileUsecase,
	redisClient *redis.Client,
	events *publisher.LedgerEventPublisher,
	logger *zap.Logger,
) *StatementUsecase {
	return &StatementUsecase{
		statementRepo: statementRepo,
		modelRepo:     modelRepo,
		moveRepo:      moveRepo,
		accountRepo:   accountRepo,
		sequenceRepo:  sequenceRepo,
		fxUC:          fxUC,
		reconcileUC:   reconcileUC,
		redisClient:   redisClient,
		events:        events,
		logger:        logger,
	}
}

// ===============================
// INGESTION
// ===============================

// Ingest stores a statement after checking its declared end balance against
// the line sum.
func (uc *StatementUsecase) Ingest(ctx context.Context, s *domain.Statement) (*domain.Statement, error) {
	journal, err := uc.accountRepo.GetJournal(ctx, s.JournalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	if !journal.IsLiquidity() {
		return nil, xerrors.ErrMissingJournal
	}
	_, companyCur, err := uc.journalContext(ctx, journal)
	if err != nil {
		return nil, err
	}
	if !s.IsValid(companyCur) {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput,
			"declared end balance %s does not match line sum %s",
			s.BalanceEndReal.String(), s.ComputedBalanceEnd().String())
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := uc.statementRepo.Create(ctx, tx, s); err != nil {
		return nil, fmt.Errorf("failed to create statement: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	uc.logger.Info("statement ingested",
		zap.Int64("statement_id", s.ID),
		zap.Int("lines", len(s.Lines)),
	)
	return s, nil
}

// GetByID retrieves a statement with its lines.
func (uc *StatementUsecase) GetByID(ctx context.Context, id int64) (*domain.Statement, error) {
	return uc.statementRepo.GetByID(ctx, id)
}

// Delete removes a statement: matched lines get their reconciliations
// broken, created moves survive detached.
func (uc *StatementUsecase) Delete(ctx context.Context, statementID int64) error {
	s, err := uc.statementRepo.GetByID(ctx, statementID)
	if err != nil {
		return err
	}
	for _, line := range s.Lines {
		if line.MoveID == nil {
			continue
		}
		move, err := uc.moveRepo.GetByID(ctx, *line.MoveID)
		if err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				continue
			}
			return err
		}
		for _, ml := range move.Lines {
			if ml.Account != nil && ml.Account.Reconcilable {
				if err := uc.reconcileUC.Break(ctx, ml.ID); err != nil {
					return err
				}
			}
		}
	}

	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := uc.statementRepo.Delete(ctx, tx, statementID); err != nil {
		return fmt.Errorf("failed to delete statement: %w", err)
	}
	return tx.Commit(ctx)
}

// ===============================
// MATCHING
// ===============================

// Propose runs the ordered rule list against one open line and returns the
// first candidate. NoMatchingRule when every rule passes.
func (uc *StatementUsecase) Propose(ctx context.Context, lineID int64) (*domain.Candidate, error) {
	line, err := uc.statementRepo.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	s, err := uc.statementRepo.GetByID(ctx, line.StatementID)
	if err != nil {
		return nil, err
	}
	journal, err := uc.accountRepo.GetJournal(ctx, s.JournalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	company, companyCur, err := uc.journalContext(ctx, journal)
	if err != nil {
		return nil, err
	}

	models, err := uc.models(ctx)
	if err != nil {
		return nil, err
	}
	open, moveNames, err := uc.moveRepo.ListOpenItems(ctx, company.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open items: %w", err)
	}
	return domain.ProposeCandidate(models, line, open, moveNames, companyCur)
}

// Accept books the statement line: a posted move with the liquidity side on
// the journal default account, reconciled against the candidate's open
// items (plus write-off), or originated on the rule's counterpart account.
func (uc *StatementUsecase) Accept(ctx context.Context, lineID int64, cand *domain.Candidate) (*domain.StatementLine, error) {
	tx, err := uc.moveRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	line, err := uc.statementRepo.LockLine(ctx, tx, lineID)
	if err != nil {
		return nil, err
	}
	if line.State == domain.StatementLineReconciled {
		return nil, xerrors.ErrLineAlreadyReconciled
	}
	s, err := uc.statementRepo.GetByID(ctx, line.StatementID)
	if err != nil {
		return nil, err
	}
	journal, err := uc.accountRepo.GetJournal(ctx, s.JournalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	company, companyCur, err := uc.journalContext(ctx, journal)
	if err != nil {
		return nil, err
	}

	counterpartAccount, items, err := uc.resolveCounterpart(ctx, cand)
	if err != nil {
		return nil, err
	}
	if cand.Kind != domain.CandidateCreate {
		// Open items may have moved since the proposal; the accepted numbers
		// must still hold against the originating rule's tolerance.
		model, err := uc.modelRepo.GetByID(ctx, cand.ModelID)
		if err != nil {
			return nil, fmt.Errorf("failed to get reconcile model: %w", err)
		}
		if err := model.ValidateCandidateAmount(line, cand, items, companyCur); err != nil {
			return nil, err
		}
	}

	// A bank line often arrives without a partner; the matched open items
	// supply it so the counterpart can join their reconcilable set.
	partnerID := line.PartnerID
	if partnerID == nil && len(items) > 0 {
		partnerID = items[0].PartnerID
	}
	move, err := uc.buildLineMove(line, cand, journal, company, counterpartAccount, partnerID)
	if err != nil {
		return nil, err
	}
	if err := uc.moveRepo.Create(ctx, tx, move); err != nil {
		return nil, fmt.Errorf("failed to create statement move: %w", err)
	}
	name, err := uc.sequenceRepo.NextMoveName(ctx, tx, journal.ID, journal.Code, move.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate entry name: %w", err)
	}
	now := time.Now()
	if err := uc.moveRepo.SetState(ctx, tx, move.ID, domain.MoveStatePosted, name, &now); err != nil {
		return nil, fmt.Errorf("failed to post statement move: %w", err)
	}
	if err := uc.moveRepo.FreezeResiduals(ctx, tx, move.ID); err != nil {
		return nil, fmt.Errorf("failed to freeze residuals: %w", err)
	}

	var result *ReconcileResult
	var touched []*domain.MoveLine
	if cand.Kind != domain.CandidateCreate {
		// The counterpart line settles the chosen open items.
		ids := make([]int64, 0, len(items)+1)
		ids = append(ids, move.Lines[1].ID)
		for _, it := range items {
			ids = append(ids, it.ID)
		}
		result, touched, err = uc.reconcileUC.ReconcileInTx(ctx, tx, ids)
		if err != nil {
			return nil, err
		}
	}

	if err := uc.statementRepo.SetLineMatched(ctx, tx, line.ID, move.ID); err != nil {
		return nil, fmt.Errorf("failed to mark line reconciled: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	uc.logger.Info("statement line matched",
		zap.Int64("line_id", line.ID),
		zap.Int64("move_id", move.ID),
		zap.String("kind", string(cand.Kind)),
	)
	uc.events.StatementLineMatched(ctx, line.ID, move.ID)
	if result != nil {
		uc.reconcileUC.refreshPaymentStatuses(ctx, touched)
		if result.Full != nil {
			uc.events.ReconcileCreated(ctx, result.Full.ID)
		}
	}
	return uc.statementRepo.GetLine(ctx, lineID)
}

// AutoProcess sweeps a statement with auto-validating rules only. It stops
// at the first line without such a match and reports how many lines it
// settled; re-running resumes from the stop point.
func (uc *StatementUsecase) AutoProcess(ctx context.Context, statementID int64) (int, error) {
	s, err := uc.statementRepo.GetByID(ctx, statementID)
	if err != nil {
		return 0, err
	}
	journal, err := uc.accountRepo.GetJournal(ctx, s.JournalID)
	if err != nil {
		return 0, fmt.Errorf("failed to get journal: %w", err)
	}
	company, companyCur, err := uc.journalContext(ctx, journal)
	if err != nil {
		return 0, err
	}

	// Only auto-validating rules take part; suggest and write-off rules that
	// would hit first in Propose must not block the sweep.
	models, err := uc.models(ctx)
	if err != nil {
		return 0, err
	}
	auto := models[:0:0]
	for _, m := range models {
		if m.Action == domain.ActionAutoValidate {
			auto = append(auto, m)
		}
	}
	if len(auto) == 0 {
		return 0, nil
	}

	lines, err := uc.statementRepo.ListOpenLines(ctx, statementID)
	if err != nil {
		return 0, fmt.Errorf("failed to list open lines: %w", err)
	}

	processed := 0
	for _, line := range lines {
		// Each accept consumes residuals, so the open pool is re-read per line.
		open, moveNames, err := uc.moveRepo.ListOpenItems(ctx, company.ID)
		if err != nil {
			return processed, fmt.Errorf("failed to list open items: %w", err)
		}
		cand, err := domain.ProposeCandidate(auto, line, open, moveNames, companyCur)
		if err != nil {
			if errors.Is(err, xerrors.ErrNoMatchingRule) {
				return processed, nil
			}
			return processed, err
		}
		if _, err := uc.Accept(ctx, line.ID, cand); err != nil {
			if errors.Is(err, xerrors.ErrLineAlreadyReconciled) {
				continue
			}
			return processed, err
		}
		processed++
	}
	return processed, nil
}

// ===============================
// RULE MANAGEMENT
// ===============================

// CreateModel stores a matching rule and drops the cached rule list.
func (uc *StatementUsecase) CreateModel(ctx context.Context, m *domain.ReconcileModel) error {
	if err := uc.modelRepo.Create(ctx, m); err != nil {
		return fmt.Errorf("failed to create reconcile model: %w", err)
	}
	uc.invalidateModelCache(ctx)
	return nil
}

// UpdateModel rewrites a matching rule and drops the cached rule list.
func (uc *StatementUsecase) UpdateModel(ctx context.Context, m *domain.ReconcileModel) error {
	if err := uc.modelRepo.Update(ctx, m); err != nil {
		return fmt.Errorf("failed to update reconcile model: %w", err)
	}
	uc.invalidateModelCache(ctx)
	return nil
}

// DeleteModel removes a matching rule and drops the cached rule list.
func (uc *StatementUsecase) DeleteModel(ctx context.Context, id int64) error {
	if err := uc.modelRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete reconcile model: %w", err)
	}
	uc.invalidateModelCache(ctx)
	return nil
}

// models returns the ordered rule list with short-lived caching.
func (uc *StatementUsecase) models(ctx context.Context) ([]*domain.ReconcileModel, error) {
	if uc.redisClient != nil {
		if val, err := uc.redisClient.Get(ctx, modelCacheKey).Result(); err == nil {
			var models []*domain.ReconcileModel
			if jsonErr := json.Unmarshal([]byte(val), &models); jsonErr == nil {
				return models, nil
			}
		}
	}

	models, err := uc.modelRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconcile models: %w", err)
	}

	if uc.redisClient != nil {
		if data, err := json.Marshal(models); err == nil {
			_ = uc.redisClient.Set(ctx, modelCacheKey, data, 1*time.Minute).Err()
		}
	}
	return models, nil
}

func (uc *StatementUsecase) invalidateModelCache(ctx context.Context) {
	if uc.redisClient != nil {
		_ = uc.redisClient.Del(ctx, modelCacheKey).Err()
	}
}

// ===============================
// HELPERS
// ===============================

func (uc *StatementUsecase) journalContext(ctx context.Context, journal *domain.Journal) (*domain.Company, *domain.Currency, error) {
	company, err := uc.accountRepo.GetCompany(ctx, journal.CompanyID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get company: %w", err)
	}
	companyCur, err := uc.fxUC.GetCurrency(ctx, company.CurrencyCode)
	if err != nil {
		return nil, nil, err
	}
	return company, companyCur, nil
}

// resolveCounterpart decides which account the counterpart line books on
// and loads the open items taking part in the reconciliation.
func (uc *StatementUsecase) resolveCounterpart(ctx context.Context, cand *domain.Candidate) (int64, []*domain.MoveLine, error) {
	if cand.Kind == domain.CandidateCreate {
		if cand.CounterpartAccountID == nil {
			return 0, nil, xerrors.Wrap(xerrors.ErrInvalidInput, "create candidate lacks a counterpart account")
		}
		return *cand.CounterpartAccountID, nil, nil
	}
	if len(cand.LineIDs) == 0 {
		return 0, nil, xerrors.Wrap(xerrors.ErrInvalidInput, "match candidate carries no open items")
	}
	items := make([]*domain.MoveLine, 0, len(cand.LineIDs))
	for _, id := range cand.LineIDs {
		l, err := uc.moveRepo.GetLine(ctx, id)
		if err != nil {
			return 0, nil, err
		}
		items = append(items, l)
	}
	return items[0].AccountID, items, nil
}

// buildLineMove shapes the entry booking one statement line: liquidity on
// the journal default account for the signed amount, the counterpart
// settling (or originating) the rest, and an optional write-off plug.
// partnerID comes from the line or is inferred from the matched open items.
func (uc *StatementUsecase) buildLineMove(line *domain.StatementLine, cand *domain.Candidate, journal *domain.Journal, company *domain.Company, counterpartAccountID int64, partnerID *int64) (*domain.Move, error) {
	label := line.Name
	if label == "" {
		label = line.Reference
	}

	liquidity := &domain.MoveLine{
		AccountID: journal.DefaultAccountID,
		PartnerID: partnerID,
		Name:      label,
	}
	setBalance(liquidity, line.Amount)

	sign := decimal.NewFromInt(1)
	if line.Amount.IsNegative() {
		sign = decimal.NewFromInt(-1)
	}

	counterpartBalance := line.Amount.Neg()
	writeOffBalance := decimal.Zero
	if cand.Kind == domain.CandidateWriteOff {
		// Settle the open items in full; the plug absorbs the remainder.
		writeOffBalance = sign.Mul(cand.WriteOffAmount)
		counterpartBalance = counterpartBalance.Sub(writeOffBalance)
	}
	counterpart := &domain.MoveLine{
		AccountID: counterpartAccountID,
		PartnerID: partnerID,
		Name:      label,
	}
	setBalance(counterpart, counterpartBalance)

	move := &domain.Move{
		Date:         line.Date,
		JournalID:    journal.ID,
		CompanyID:    company.ID,
		CurrencyCode: company.CurrencyCode,
		State:        domain.MoveStateDraft,
		Type:         domain.MoveTypeEntry,
		Reference:    line.Reference,
		Lines:        []*domain.MoveLine{liquidity, counterpart},
	}
	if cand.Kind == domain.CandidateWriteOff {
		if cand.WriteOffAccountID == nil {
			return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "write-off candidate lacks an account")
		}
		name := cand.WriteOffLabel
		if name == "" {
			name = "Write-off"
		}
		writeOff := &domain.MoveLine{
			AccountID: *cand.WriteOffAccountID,
			PartnerID: partnerID,
			Name:      name,
		}
		setBalance(writeOff, writeOffBalance)
		move.Lines = append(move.Lines, writeOff)
	}
	return move, nil
}

func setBalance(l *domain.MoveLine, balance decimal.Decimal) {
	if balance.IsNegative() {
		l.Debit = decimal.Zero
		l.Credit = balance.Neg()
	} else {
		l.Debit = balance
		l.Credit = decimal.Zero
	}
}
