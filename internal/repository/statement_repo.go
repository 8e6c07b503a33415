package repository

import (
	"context"
	"errors"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StatementRepository interface {
	Create(ctx context.Context, tx pgx.Tx, s *domain.Statement) error
	GetByID(ctx context.Context, id int64) (*domain.Statement, error)
	Delete(ctx context.Context, tx pgx.Tx, id int64) error

	GetLine(ctx context.Context, id int64) (*domain.StatementLine, error)
	LockLine(ctx context.Context, tx pgx.Tx, id int64) (*domain.StatementLine, error)
	SetLineMatched(ctx context.Context, tx pgx.Tx, lineID, moveID int64) error
	ResetLine(ctx context.Context, tx pgx.Tx, lineID int64) error
	ListOpenLines(ctx context.Context, statementID int64) ([]*domain.StatementLine, error)
}

type statementRepo struct {
	db *pgxpool.Pool
}

func NewStatementRepo(db *pgxpool.Pool) StatementRepository {
	return &statementRepo{db: db}
}

func (r *statementRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.Statement) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO bank_statements (journal_id, name, date, balance_start, balance_end_real)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, s.JournalID, s.Name, s.Date, s.BalanceStart, s.BalanceEndReal).Scan(&s.ID)
	if err != nil {
		return xerrors.FromPG(err)
	}
	for _, l := range s.Lines {
		l.StatementID = s.ID
		l.State = domain.StatementLineOpen
		err := tx.QueryRow(ctx, `
			INSERT INTO bank_statement_lines (statement_id, date, amount, partner_id, name, reference, state)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			RETURNING id
		`, l.StatementID, l.Date, l.Amount, l.PartnerID, l.Name, l.Reference, l.State).Scan(&l.ID)
		if err != nil {
			return xerrors.FromPG(err)
		}
	}
	return nil
}

const statementLineColumns = `id, statement_id, date, amount, partner_id, name, reference, move_id, state, created_at`

func scanStatementLine(row pgx.Row) (*domain.StatementLine, error) {
	var l domain.StatementLine
	err := row.Scan(&l.ID, &l.StatementID, &l.Date, &l.Amount, &l.PartnerID,
		&l.Name, &l.Reference, &l.MoveID, &l.State, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (r *statementRepo) GetByID(ctx context.Context, id int64) (*domain.Statement, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, journal_id, name, date, balance_start, balance_end_real, created_at
		FROM bank_statements
		WHERE id=$1
	`, id)

	var s domain.Statement
	err := row.Scan(&s.ID, &s.JournalID, &s.Name, &s.Date, &s.BalanceStart, &s.BalanceEndReal, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+statementLineColumns+`
		FROM bank_statement_lines
		WHERE statement_id=$1
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanStatementLine(rows)
		if err != nil {
			return nil, err
		}
		s.Lines = append(s.Lines, l)
	}
	return &s, rows.Err()
}

func (r *statementRepo) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	// Lines cascade; matched moves survive (weak reference).
	_, err := tx.Exec(ctx, `DELETE FROM bank_statements WHERE id=$1`, id)
	return err
}

func (r *statementRepo) GetLine(ctx context.Context, id int64) (*domain.StatementLine, error) {
	return scanStatementLine(r.db.QueryRow(ctx, `
		SELECT `+statementLineColumns+` FROM bank_statement_lines WHERE id=$1
	`, id))
}

func (r *statementRepo) LockLine(ctx context.Context, tx pgx.Tx, id int64) (*domain.StatementLine, error) {
	return scanStatementLine(tx.QueryRow(ctx, `
		SELECT `+statementLineColumns+` FROM bank_statement_lines WHERE id=$1 FOR UPDATE
	`, id))
}

func (r *statementRepo) SetLineMatched(ctx context.Context, tx pgx.Tx, lineID, moveID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE bank_statement_lines SET move_id=$2, state='reconciled' WHERE id=$1
	`, lineID, moveID)
	return err
}

func (r *statementRepo) ResetLine(ctx context.Context, tx pgx.Tx, lineID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE bank_statement_lines SET move_id=NULL, state='open' WHERE id=$1
	`, lineID)
	return err
}

func (r *statementRepo) ListOpenLines(ctx context.Context, statementID int64) ([]*domain.StatementLine, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+statementLineColumns+`
		FROM bank_statement_lines
		WHERE statement_id=$1 AND state='open'
		ORDER BY id
	`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []*domain.StatementLine
	for rows.Next() {
		l, err := scanStatementLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
