package repository

import (
	"context"
	"errors"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MoveRepository persists journal entries and their lines. Every write that
// touches more than one row runs inside a caller-provided transaction.
type MoveRepository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)

	Create(ctx context.Context, tx pgx.Tx, m *domain.Move) error
	GetByID(ctx context.Context, id int64) (*domain.Move, error)
	UpdateHeader(ctx context.Context, tx pgx.Tx, m *domain.Move) error
	SetState(ctx context.Context, tx pgx.Tx, moveID int64, state domain.MoveState, name string, postedAt *time.Time) error
	Delete(ctx context.Context, tx pgx.Tx, moveID int64) error

	GetLine(ctx context.Context, id int64) (*domain.MoveLine, error)
	InsertLine(ctx context.Context, tx pgx.Tx, l *domain.MoveLine) error
	UpdateLine(ctx context.Context, tx pgx.Tx, l *domain.MoveLine) error
	DeleteLine(ctx context.Context, tx pgx.Tx, id int64) error
	ReplaceLines(ctx context.Context, tx pgx.Tx, moveID int64, lines []*domain.MoveLine) error

	// FreezeResiduals stamps residual = debit - credit (and the currency
	// leg) on every reconcilable line of the move, at post time.
	FreezeResiduals(ctx context.Context, tx pgx.Tx, moveID int64) error

	// LockLines takes row locks in ascending id order and returns the
	// locked lines with their accounts loaded.
	LockLines(ctx context.Context, tx pgx.Tx, ids []int64) ([]*domain.MoveLine, error)
	UpdateResidual(ctx context.Context, tx pgx.Tx, l *domain.MoveLine) error
	SetFullReconcile(ctx context.Context, tx pgx.Tx, lineIDs []int64, fullID *int64) error

	// ListOpenItems returns unreconciled receivable/payable lines of posted
	// moves for one company, plus the move name per line for text matching.
	ListOpenItems(ctx context.Context, companyID int64) ([]*domain.MoveLine, map[int64]string, error)
	HasReconciledLines(ctx context.Context, moveID int64) (bool, error)
}

type moveRepo struct {
	db *pgxpool.Pool
}

func NewMoveRepo(db *pgxpool.Pool) MoveRepository {
	return &moveRepo{db: db}
}

func (r *moveRepo) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.BeginTx(ctx, pgx.TxOptions{})
}

func (r *moveRepo) Create(ctx context.Context, tx pgx.Tx, m *domain.Move) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO moves (name, date, journal_id, company_id, currency_code, state, type, reference, payment_id, reversed_move_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, m.Name, m.Date, m.JournalID, m.CompanyID, m.CurrencyCode, m.State, m.Type,
		m.Reference, m.PaymentID, m.ReversedMoveID).Scan(&m.ID)
	if err != nil {
		return xerrors.FromPG(err)
	}
	for _, l := range m.Lines {
		l.MoveID = m.ID
		if err := r.InsertLine(ctx, tx, l); err != nil {
			return err
		}
	}
	return nil
}

func (r *moveRepo) GetByID(ctx context.Context, id int64) (*domain.Move, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, date, journal_id, company_id, currency_code, state, type,
		       reference, payment_id, reversed_move_id, posted_at, created_at, updated_at
		FROM moves
		WHERE id=$1
	`, id)

	var m domain.Move
	err := row.Scan(&m.ID, &m.Name, &m.Date, &m.JournalID, &m.CompanyID, &m.CurrencyCode,
		&m.State, &m.Type, &m.Reference, &m.PaymentID, &m.ReversedMoveID,
		&m.PostedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, lineSelect+`
		WHERE ml.move_id=$1
		ORDER BY ml.id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		m.Lines = append(m.Lines, l)
	}
	return &m, rows.Err()
}

const lineSelect = `
	SELECT ml.id, ml.move_id, ml.account_id, ml.partner_id, ml.name,
	       ml.debit, ml.credit, ml.currency_code, ml.amount_currency, ml.date_maturity,
	       ml.tax_line_id, ml.amount_residual, ml.amount_residual_currency,
	       ml.full_reconcile_id, ml.payment_id,
	       a.id, a.code, a.name, a.internal_type, a.reconcilable, a.company_id, a.currency_code
	FROM move_lines ml
	JOIN accounts a ON a.id = ml.account_id`

func scanLine(row pgx.Row) (*domain.MoveLine, error) {
	var l domain.MoveLine
	var a domain.Account
	err := row.Scan(&l.ID, &l.MoveID, &l.AccountID, &l.PartnerID, &l.Name,
		&l.Debit, &l.Credit, &l.CurrencyCode, &l.AmountCurrency, &l.DateMaturity,
		&l.TaxLineID, &l.AmountResidual, &l.AmountResidualCurrency,
		&l.FullReconcileID, &l.PaymentID,
		&a.ID, &a.Code, &a.Name, &a.InternalType, &a.Reconcilable, &a.CompanyID, &a.CurrencyCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	l.Account = &a
	return &l, nil
}

func (r *moveRepo) UpdateHeader(ctx context.Context, tx pgx.Tx, m *domain.Move) error {
	_, err := tx.Exec(ctx, `
		UPDATE moves
		SET date=$2, reference=$3, payment_id=$4, updated_at=NOW()
		WHERE id=$1
	`, m.ID, m.Date, m.Reference, m.PaymentID)
	return err
}

func (r *moveRepo) SetState(ctx context.Context, tx pgx.Tx, moveID int64, state domain.MoveState, name string, postedAt *time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE moves
		SET state=$2, name=COALESCE(NULLIF($3,''), name), posted_at=$4, updated_at=NOW()
		WHERE id=$1
	`, moveID, state, name, postedAt)
	return err
}

func (r *moveRepo) Delete(ctx context.Context, tx pgx.Tx, moveID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM moves WHERE id=$1`, moveID)
	return err
}

func (r *moveRepo) GetLine(ctx context.Context, id int64) (*domain.MoveLine, error) {
	return scanLine(r.db.QueryRow(ctx, lineSelect+` WHERE ml.id=$1`, id))
}

func (r *moveRepo) InsertLine(ctx context.Context, tx pgx.Tx, l *domain.MoveLine) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO move_lines (move_id, account_id, partner_id, name, debit, credit,
		                        currency_code, amount_currency, date_maturity, tax_line_id,
		                        amount_residual, amount_residual_currency, payment_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING id
	`, l.MoveID, l.AccountID, l.PartnerID, l.Name, l.Debit, l.Credit,
		l.CurrencyCode, l.AmountCurrency, l.DateMaturity, l.TaxLineID,
		l.AmountResidual, l.AmountResidualCurrency, l.PaymentID).Scan(&l.ID)
	return xerrors.FromPG(err)
}

func (r *moveRepo) UpdateLine(ctx context.Context, tx pgx.Tx, l *domain.MoveLine) error {
	_, err := tx.Exec(ctx, `
		UPDATE move_lines
		SET account_id=$2, partner_id=$3, name=$4, debit=$5, credit=$6,
		    currency_code=$7, amount_currency=$8, date_maturity=$9, tax_line_id=$10, payment_id=$11
		WHERE id=$1
	`, l.ID, l.AccountID, l.PartnerID, l.Name, l.Debit, l.Credit,
		l.CurrencyCode, l.AmountCurrency, l.DateMaturity, l.TaxLineID, l.PaymentID)
	return xerrors.FromPG(err)
}

func (r *moveRepo) DeleteLine(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM move_lines WHERE id=$1`, id)
	return err
}

func (r *moveRepo) ReplaceLines(ctx context.Context, tx pgx.Tx, moveID int64, lines []*domain.MoveLine) error {
	if _, err := tx.Exec(ctx, `DELETE FROM move_lines WHERE move_id=$1`, moveID); err != nil {
		return err
	}
	for _, l := range lines {
		l.MoveID = moveID
		if err := r.InsertLine(ctx, tx, l); err != nil {
			return err
		}
	}
	return nil
}

func (r *moveRepo) FreezeResiduals(ctx context.Context, tx pgx.Tx, moveID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE move_lines ml
		SET amount_residual = CASE WHEN a.reconcilable THEN ml.debit - ml.credit ELSE 0 END,
		    amount_residual_currency = CASE
		        WHEN a.reconcilable AND ml.currency_code IS NOT NULL THEN ml.amount_currency
		        ELSE 0 END
		FROM accounts a
		WHERE ml.move_id=$1 AND a.id = ml.account_id
	`, moveID)
	return err
}

func (r *moveRepo) LockLines(ctx context.Context, tx pgx.Tx, ids []int64) ([]*domain.MoveLine, error) {
	// Locks are taken in ascending id order to keep lock acquisition
	// deadlock-free across concurrent reconciliations.
	rows, err := tx.Query(ctx, lineSelect+`
		WHERE ml.id = ANY($1)
		ORDER BY ml.id
		FOR UPDATE OF ml
	`, ids)
	if err != nil {
		return nil, xerrors.FromPG(err)
	}
	defer rows.Close()

	var lines []*domain.MoveLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *moveRepo) UpdateResidual(ctx context.Context, tx pgx.Tx, l *domain.MoveLine) error {
	_, err := tx.Exec(ctx, `
		UPDATE move_lines
		SET amount_residual=$2, amount_residual_currency=$3, full_reconcile_id=$4
		WHERE id=$1
	`, l.ID, l.AmountResidual, l.AmountResidualCurrency, l.FullReconcileID)
	return err
}

func (r *moveRepo) SetFullReconcile(ctx context.Context, tx pgx.Tx, lineIDs []int64, fullID *int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE move_lines SET full_reconcile_id=$2 WHERE id = ANY($1)
	`, lineIDs, fullID)
	return err
}

func (r *moveRepo) ListOpenItems(ctx context.Context, companyID int64) ([]*domain.MoveLine, map[int64]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT ml.id, ml.move_id, ml.account_id, ml.partner_id, ml.name,
		       ml.debit, ml.credit, ml.currency_code, ml.amount_currency, ml.date_maturity,
		       ml.tax_line_id, ml.amount_residual, ml.amount_residual_currency,
		       ml.full_reconcile_id, ml.payment_id,
		       a.id, a.code, a.name, a.internal_type, a.reconcilable, a.company_id, a.currency_code,
		       mv.name
		FROM move_lines ml
		JOIN accounts a ON a.id = ml.account_id
		JOIN moves mv ON mv.id = ml.move_id
		WHERE mv.company_id=$1
		  AND mv.state='posted'
		  AND a.internal_type IN ('receivable','payable')
		  AND ml.amount_residual <> 0
		ORDER BY ml.date_maturity NULLS FIRST, ml.id
	`, companyID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var lines []*domain.MoveLine
	names := make(map[int64]string)
	for rows.Next() {
		var l domain.MoveLine
		var a domain.Account
		var moveName string
		err := rows.Scan(&l.ID, &l.MoveID, &l.AccountID, &l.PartnerID, &l.Name,
			&l.Debit, &l.Credit, &l.CurrencyCode, &l.AmountCurrency, &l.DateMaturity,
			&l.TaxLineID, &l.AmountResidual, &l.AmountResidualCurrency,
			&l.FullReconcileID, &l.PaymentID,
			&a.ID, &a.Code, &a.Name, &a.InternalType, &a.Reconcilable, &a.CompanyID, &a.CurrencyCode,
			&moveName)
		if err != nil {
			return nil, nil, err
		}
		l.Account = &a
		lines = append(lines, &l)
		names[l.ID] = moveName
	}
	return lines, names, rows.Err()
}

func (r *moveRepo) HasReconciledLines(ctx context.Context, moveID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM partial_reconciles pr
			JOIN move_lines ml ON ml.id IN (pr.debit_move_line_id, pr.credit_move_line_id)
			WHERE ml.move_id=$1
		)
	`, moveID).Scan(&exists)
	return exists, err
}
