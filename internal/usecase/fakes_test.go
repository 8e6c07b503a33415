package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// In-memory repositories backing the usecase tests. They keep the same
// pointer identity the pgx repositories simulate through re-reads, so
// assertions can inspect stored state directly.

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func i64(v int64) *int64 { return &v }

func strp(s string) *string { return &s }

// fakeTx satisfies pgx.Tx for usecases that only begin, commit and roll
// back; the fakes never touch the transaction itself.
type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(ctx context.Context) error   { return nil }
func (fakeTx) Rollback(ctx context.Context) error { return nil }

// ===============================
// MOVES
// ===============================

type fakeMoveRepo struct {
	moves    map[int64]*domain.Move
	lines    map[int64]*domain.MoveLine
	accounts map[int64]*domain.Account
	nextMove int64
	nextLine int64
}

func newFakeMoveRepo(accounts ...*domain.Account) *fakeMoveRepo {
	r := &fakeMoveRepo{
		moves:    map[int64]*domain.Move{},
		lines:    map[int64]*domain.MoveLine{},
		accounts: map[int64]*domain.Account{},
		nextMove: 1000,
		nextLine: 1000,
	}
	for _, a := range accounts {
		r.accounts[a.ID] = a
	}
	return r
}

// seedPostedMove registers a posted move and its lines under explicit ids.
func (r *fakeMoveRepo) seedPostedMove(id int64, name string, lines ...*domain.MoveLine) *domain.Move {
	m := &domain.Move{ID: id, Name: name, State: domain.MoveStatePosted, Type: domain.MoveTypeEntry, CompanyID: 1, Lines: lines}
	for _, l := range lines {
		l.MoveID = id
		if l.Account == nil {
			l.Account = r.accounts[l.AccountID]
		}
		r.lines[l.ID] = l
	}
	r.moves[id] = m
	return m
}

func (r *fakeMoveRepo) BeginTx(ctx context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (r *fakeMoveRepo) Create(ctx context.Context, tx pgx.Tx, m *domain.Move) error {
	r.nextMove++
	m.ID = r.nextMove
	for _, l := range m.Lines {
		r.nextLine++
		l.ID = r.nextLine
		l.MoveID = m.ID
		if l.Account == nil {
			l.Account = r.accounts[l.AccountID]
		}
		r.lines[l.ID] = l
	}
	r.moves[m.ID] = m
	return nil
}

func (r *fakeMoveRepo) GetByID(ctx context.Context, id int64) (*domain.Move, error) {
	m, ok := r.moves[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return m, nil
}

func (r *fakeMoveRepo) UpdateHeader(ctx context.Context, tx pgx.Tx, m *domain.Move) error { return nil }

func (r *fakeMoveRepo) SetState(ctx context.Context, tx pgx.Tx, moveID int64, state domain.MoveState, name string, postedAt *time.Time) error {
	m, ok := r.moves[moveID]
	if !ok {
		return xerrors.ErrNotFound
	}
	m.State = state
	if name != "" {
		m.Name = name
	}
	m.PostedAt = postedAt
	return nil
}

func (r *fakeMoveRepo) Delete(ctx context.Context, tx pgx.Tx, moveID int64) error {
	delete(r.moves, moveID)
	return nil
}

func (r *fakeMoveRepo) GetLine(ctx context.Context, id int64) (*domain.MoveLine, error) {
	l, ok := r.lines[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return l, nil
}

func (r *fakeMoveRepo) InsertLine(ctx context.Context, tx pgx.Tx, l *domain.MoveLine) error {
	r.nextLine++
	l.ID = r.nextLine
	r.lines[l.ID] = l
	return nil
}

func (r *fakeMoveRepo) UpdateLine(ctx context.Context, tx pgx.Tx, l *domain.MoveLine) error {
	return nil
}

func (r *fakeMoveRepo) DeleteLine(ctx context.Context, tx pgx.Tx, id int64) error {
	delete(r.lines, id)
	return nil
}

func (r *fakeMoveRepo) ReplaceLines(ctx context.Context, tx pgx.Tx, moveID int64, lines []*domain.MoveLine) error {
	m, ok := r.moves[moveID]
	if !ok {
		return xerrors.ErrNotFound
	}
	for _, l := range m.Lines {
		delete(r.lines, l.ID)
	}
	m.Lines = lines
	for _, l := range lines {
		r.nextLine++
		l.ID = r.nextLine
		l.MoveID = moveID
		r.lines[l.ID] = l
	}
	return nil
}

func (r *fakeMoveRepo) FreezeResiduals(ctx context.Context, tx pgx.Tx, moveID int64) error {
	m, ok := r.moves[moveID]
	if !ok {
		return xerrors.ErrNotFound
	}
	for _, l := range m.Lines {
		a := r.accounts[l.AccountID]
		if a == nil || !a.Reconcilable {
			continue
		}
		l.AmountResidual = l.Debit.Sub(l.Credit)
		if l.CurrencyCode != nil {
			l.AmountResidualCurrency = l.AmountCurrency
		} else {
			l.AmountResidualCurrency = decimal.Zero
		}
	}
	return nil
}

func (r *fakeMoveRepo) LockLines(ctx context.Context, tx pgx.Tx, ids []int64) ([]*domain.MoveLine, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var out []*domain.MoveLine
	seen := map[int64]struct{}{}
	for _, id := range sorted {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		l, ok := r.lines[id]
		if !ok {
			continue
		}
		if l.Account == nil {
			l.Account = r.accounts[l.AccountID]
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *fakeMoveRepo) UpdateResidual(ctx context.Context, tx pgx.Tx, l *domain.MoveLine) error {
	stored, ok := r.lines[l.ID]
	if !ok {
		return xerrors.ErrNotFound
	}
	stored.AmountResidual = l.AmountResidual
	stored.AmountResidualCurrency = l.AmountResidualCurrency
	stored.FullReconcileID = l.FullReconcileID
	return nil
}

func (r *fakeMoveRepo) SetFullReconcile(ctx context.Context, tx pgx.Tx, lineIDs []int64, fullID *int64) error {
	for _, id := range lineIDs {
		if l, ok := r.lines[id]; ok {
			l.FullReconcileID = fullID
		}
	}
	return nil
}

func (r *fakeMoveRepo) ListOpenItems(ctx context.Context, companyID int64) ([]*domain.MoveLine, map[int64]string, error) {
	var out []*domain.MoveLine
	names := map[int64]string{}
	var ids []int64
	for id := range r.moves {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		m := r.moves[id]
		if m.State != domain.MoveStatePosted || m.CompanyID != companyID {
			continue
		}
		for _, l := range m.Lines {
			a := r.accounts[l.AccountID]
			if a == nil || !a.IsReceivablePayable() || l.AmountResidual.IsZero() {
				continue
			}
			out = append(out, l)
			names[l.ID] = m.Name
		}
	}
	return out, names, nil
}

func (r *fakeMoveRepo) HasReconciledLines(ctx context.Context, moveID int64) (bool, error) {
	return false, nil
}

// ===============================
// RECONCILES
// ===============================

type fakeReconcileRepo struct {
	partials    map[int64]*domain.PartialReconcile
	fulls       map[int64]*domain.FullReconcile
	nextPartial int64
	nextFull    int64
}

func newFakeReconcileRepo() *fakeReconcileRepo {
	return &fakeReconcileRepo{
		partials: map[int64]*domain.PartialReconcile{},
		fulls:    map[int64]*domain.FullReconcile{},
	}
}

func (r *fakeReconcileRepo) CreatePartial(ctx context.Context, tx pgx.Tx, p *domain.PartialReconcile) error {
	r.nextPartial++
	p.ID = r.nextPartial
	r.partials[p.ID] = p
	return nil
}

func (r *fakeReconcileRepo) ListByLine(ctx context.Context, lineID int64) ([]*domain.PartialReconcile, error) {
	var out []*domain.PartialReconcile
	for _, p := range r.partials {
		if p.DebitLineID == lineID || p.CreditLineID == lineID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeReconcileRepo) DeletePartial(ctx context.Context, tx pgx.Tx, id int64) error {
	delete(r.partials, id)
	return nil
}

func (r *fakeReconcileRepo) CreateFull(ctx context.Context, tx pgx.Tx, f *domain.FullReconcile) error {
	r.nextFull++
	f.ID = r.nextFull
	r.fulls[f.ID] = f
	return nil
}

func (r *fakeReconcileRepo) StampPartials(ctx context.Context, tx pgx.Tx, partialIDs []int64, fullID int64) error {
	for _, id := range partialIDs {
		if p, ok := r.partials[id]; ok {
			stamped := fullID
			p.FullReconcileID = &stamped
		}
	}
	return nil
}

func (r *fakeReconcileRepo) UnstampFull(ctx context.Context, tx pgx.Tx, fullID int64) error {
	for _, p := range r.partials {
		if p.FullReconcileID != nil && *p.FullReconcileID == fullID {
			p.FullReconcileID = nil
		}
	}
	return nil
}

func (r *fakeReconcileRepo) DeleteFull(ctx context.Context, tx pgx.Tx, fullID int64) error {
	delete(r.fulls, fullID)
	return nil
}

// ===============================
// ACCOUNTS
// ===============================

type fakeAccountRepo struct {
	companies map[int64]*domain.Company
	accounts  map[int64]*domain.Account
	journals  map[int64]*domain.Journal
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		companies: map[int64]*domain.Company{},
		accounts:  map[int64]*domain.Account{},
		journals:  map[int64]*domain.Journal{},
	}
}

func (r *fakeAccountRepo) GetCompany(ctx context.Context, id int64) (*domain.Company, error) {
	c, ok := r.companies[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return c, nil
}

func (r *fakeAccountRepo) GetPartner(ctx context.Context, id int64) (*domain.Partner, error) {
	return nil, xerrors.ErrNotFound
}

func (r *fakeAccountRepo) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return a, nil
}

func (r *fakeAccountRepo) GetAccounts(ctx context.Context, ids []int64) (map[int64]*domain.Account, error) {
	out := map[int64]*domain.Account{}
	for _, id := range ids {
		if a, ok := r.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (r *fakeAccountRepo) GetJournal(ctx context.Context, id int64) (*domain.Journal, error) {
	j, ok := r.journals[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return j, nil
}

func (r *fakeAccountRepo) GetPaymentMethod(ctx context.Context, id int64) (*domain.PaymentMethod, error) {
	return nil, xerrors.ErrNotFound
}

func (r *fakeAccountRepo) ListJournalMethods(ctx context.Context, journalID int64, paymentType domain.PaymentType) ([]*domain.PaymentMethod, error) {
	return nil, nil
}

func (r *fakeAccountRepo) CreateCompany(ctx context.Context, c *domain.Company) error {
	r.companies[c.ID] = c
	return nil
}

func (r *fakeAccountRepo) CreatePartner(ctx context.Context, p *domain.Partner) error { return nil }

func (r *fakeAccountRepo) CreateAccount(ctx context.Context, a *domain.Account) error {
	r.accounts[a.ID] = a
	return nil
}

func (r *fakeAccountRepo) CreateJournal(ctx context.Context, j *domain.Journal) error {
	r.journals[j.ID] = j
	return nil
}

func (r *fakeAccountRepo) CreatePaymentMethod(ctx context.Context, m *domain.PaymentMethod) error {
	return nil
}

func (r *fakeAccountRepo) LinkJournalMethod(ctx context.Context, journalID, methodID int64) error {
	return nil
}

// ===============================
// CURRENCIES, SEQUENCES
// ===============================

type fakeCurrencyRepo struct {
	currencies map[string]*domain.Currency
}

func newFakeCurrencyRepo(currencies ...*domain.Currency) *fakeCurrencyRepo {
	r := &fakeCurrencyRepo{currencies: map[string]*domain.Currency{}}
	for _, c := range currencies {
		r.currencies[c.Code] = c
	}
	return r
}

func (r *fakeCurrencyRepo) GetCurrency(ctx context.Context, code string) (*domain.Currency, error) {
	c, ok := r.currencies[code]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return c, nil
}

func (r *fakeCurrencyRepo) ListCurrencies(ctx context.Context) ([]*domain.Currency, error) {
	var out []*domain.Currency
	for _, c := range r.currencies {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeCurrencyRepo) UpsertCurrency(ctx context.Context, c *domain.Currency) error {
	r.currencies[c.Code] = c
	return nil
}

func (r *fakeCurrencyRepo) GetRate(ctx context.Context, base, quote string, asOf time.Time) (*domain.Rate, error) {
	return nil, xerrors.ErrMissingRate
}

func (r *fakeCurrencyRepo) UpsertRate(ctx context.Context, rate *domain.Rate) error { return nil }

type fakeSequenceRepo struct {
	n int
}

func (r *fakeSequenceRepo) NextMoveName(ctx context.Context, tx pgx.Tx, journalID int64, journalCode string, date time.Time) (string, error) {
	r.n++
	return fmt.Sprintf("%s/%d/%05d", journalCode, date.Year(), r.n), nil
}

// ===============================
// STATEMENTS, MODELS
// ===============================

type fakeStatementRepo struct {
	statements map[int64]*domain.Statement
	lines      map[int64]*domain.StatementLine
}

func newFakeStatementRepo() *fakeStatementRepo {
	return &fakeStatementRepo{
		statements: map[int64]*domain.Statement{},
		lines:      map[int64]*domain.StatementLine{},
	}
}

func (r *fakeStatementRepo) seed(s *domain.Statement) {
	r.statements[s.ID] = s
	for _, l := range s.Lines {
		l.StatementID = s.ID
		r.lines[l.ID] = l
	}
}

func (r *fakeStatementRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Statement) error {
	r.seed(s)
	return nil
}

func (r *fakeStatementRepo) GetByID(ctx context.Context, id int64) (*domain.Statement, error) {
	s, ok := r.statements[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return s, nil
}

func (r *fakeStatementRepo) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	s, ok := r.statements[id]
	if !ok {
		return xerrors.ErrNotFound
	}
	for _, l := range s.Lines {
		delete(r.lines, l.ID)
	}
	delete(r.statements, id)
	return nil
}

func (r *fakeStatementRepo) GetLine(ctx context.Context, id int64) (*domain.StatementLine, error) {
	l, ok := r.lines[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return l, nil
}

func (r *fakeStatementRepo) LockLine(ctx context.Context, tx pgx.Tx, id int64) (*domain.StatementLine, error) {
	return r.GetLine(ctx, id)
}

func (r *fakeStatementRepo) SetLineMatched(ctx context.Context, tx pgx.Tx, lineID, moveID int64) error {
	l, ok := r.lines[lineID]
	if !ok {
		return xerrors.ErrNotFound
	}
	l.MoveID = &moveID
	l.State = domain.StatementLineReconciled
	return nil
}

func (r *fakeStatementRepo) ResetLine(ctx context.Context, tx pgx.Tx, lineID int64) error {
	l, ok := r.lines[lineID]
	if !ok {
		return xerrors.ErrNotFound
	}
	l.MoveID = nil
	l.State = domain.StatementLineOpen
	return nil
}

func (r *fakeStatementRepo) ListOpenLines(ctx context.Context, statementID int64) ([]*domain.StatementLine, error) {
	s, ok := r.statements[statementID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	var out []*domain.StatementLine
	for _, l := range s.Lines {
		if l.State == domain.StatementLineOpen {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeModelRepo struct {
	models map[int64]*domain.ReconcileModel
}

func newFakeModelRepo(models ...*domain.ReconcileModel) *fakeModelRepo {
	r := &fakeModelRepo{models: map[int64]*domain.ReconcileModel{}}
	for _, m := range models {
		r.models[m.ID] = m
	}
	return r
}

func (r *fakeModelRepo) Create(ctx context.Context, m *domain.ReconcileModel) error {
	r.models[m.ID] = m
	return nil
}

func (r *fakeModelRepo) GetByID(ctx context.Context, id int64) (*domain.ReconcileModel, error) {
	m, ok := r.models[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return m, nil
}

func (r *fakeModelRepo) List(ctx context.Context) ([]*domain.ReconcileModel, error) {
	var out []*domain.ReconcileModel
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeModelRepo) Update(ctx context.Context, m *domain.ReconcileModel) error {
	r.models[m.ID] = m
	return nil
}

func (r *fakeModelRepo) Delete(ctx context.Context, id int64) error {
	delete(r.models, id)
	return nil
}
