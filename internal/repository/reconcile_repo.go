package repository

import (
	"context"
	"errors"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReconcileRepository interface {
	CreatePartial(ctx context.Context, tx pgx.Tx, p *domain.PartialReconcile) error
	ListByLine(ctx context.Context, lineID int64) ([]*domain.PartialReconcile, error)
	DeletePartial(ctx context.Context, tx pgx.Tx, id int64) error

	CreateFull(ctx context.Context, tx pgx.Tx, f *domain.FullReconcile) error
	StampPartials(ctx context.Context, tx pgx.Tx, partialIDs []int64, fullID int64) error
	UnstampFull(ctx context.Context, tx pgx.Tx, fullID int64) error
	DeleteFull(ctx context.Context, tx pgx.Tx, fullID int64) error
}

type reconcileRepo struct {
	db *pgxpool.Pool
}

func NewReconcileRepo(db *pgxpool.Pool) ReconcileRepository {
	return &reconcileRepo{db: db}
}

func (r *reconcileRepo) CreatePartial(ctx context.Context, tx pgx.Tx, p *domain.PartialReconcile) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO partial_reconciles (debit_move_line_id, credit_move_line_id, amount,
		                                debit_amount_currency, credit_amount_currency, full_reconcile_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, p.DebitLineID, p.CreditLineID, p.Amount,
		p.DebitAmountCurrency, p.CreditAmountCurrency, p.FullReconcileID).Scan(&p.ID)
	return xerrors.FromPG(err)
}

func (r *reconcileRepo) ListByLine(ctx context.Context, lineID int64) ([]*domain.PartialReconcile, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, debit_move_line_id, credit_move_line_id, amount,
		       debit_amount_currency, credit_amount_currency, full_reconcile_id, created_at
		FROM partial_reconciles
		WHERE debit_move_line_id=$1 OR credit_move_line_id=$1
		ORDER BY id
	`, lineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partials []*domain.PartialReconcile
	for rows.Next() {
		var p domain.PartialReconcile
		err := rows.Scan(&p.ID, &p.DebitLineID, &p.CreditLineID, &p.Amount,
			&p.DebitAmountCurrency, &p.CreditAmountCurrency, &p.FullReconcileID, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		partials = append(partials, &p)
	}
	return partials, rows.Err()
}

func (r *reconcileRepo) DeletePartial(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM partial_reconciles WHERE id=$1`, id)
	return err
}

func (r *reconcileRepo) CreateFull(ctx context.Context, tx pgx.Tx, f *domain.FullReconcile) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO full_reconciles (name) VALUES ($1) RETURNING id
	`, f.Name).Scan(&f.ID)
	return xerrors.FromPG(err)
}

func (r *reconcileRepo) StampPartials(ctx context.Context, tx pgx.Tx, partialIDs []int64, fullID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE partial_reconciles SET full_reconcile_id=$2 WHERE id = ANY($1)
	`, partialIDs, fullID)
	return err
}

func (r *reconcileRepo) UnstampFull(ctx context.Context, tx pgx.Tx, fullID int64) error {
	if _, err := tx.Exec(ctx, `
		UPDATE partial_reconciles SET full_reconcile_id=NULL WHERE full_reconcile_id=$1
	`, fullID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE move_lines SET full_reconcile_id=NULL WHERE full_reconcile_id=$1
	`, fullID)
	return err
}

func (r *reconcileRepo) DeleteFull(ctx context.Context, tx pgx.Tx, fullID int64) error {
	_, err := tx.Exec(ctx, `DELETE FROM full_reconciles WHERE id=$1`, fullID)
	return err
}
