package repository

import (
	"context"
	"errors"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, p *domain.Payment) error
	GetByID(ctx context.Context, id int64) (*domain.Payment, error)
	GetByMoveID(ctx context.Context, moveID int64) (*domain.Payment, error)
	Update(ctx context.Context, tx pgx.Tx, p *domain.Payment) error
	SetStatus(ctx context.Context, tx pgx.Tx, id int64, matched, reconciled bool) error
	ListByPartner(ctx context.Context, partnerID int64, limit, offset int) ([]*domain.Payment, error)
}

type paymentRepo struct {
	db *pgxpool.Pool
}

func NewPaymentRepo(db *pgxpool.Pool) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, move_id, amount, payment_type, partner_type, partner_id,
	currency_code, journal_id, payment_method_id, payment_reference, destination_account_id,
	date, is_internal_transfer, is_reconciled, is_matched, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.MoveID, &p.Amount, &p.PaymentType, &p.PartnerType, &p.PartnerID,
		&p.CurrencyCode, &p.JournalID, &p.PaymentMethodID, &p.PaymentReference, &p.DestinationAccountID,
		&p.Date, &p.IsInternalTransfer, &p.IsReconciled, &p.IsMatched, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO payments (move_id, amount, payment_type, partner_type, partner_id,
		                      currency_code, journal_id, payment_method_id, payment_reference,
		                      destination_account_id, date, is_internal_transfer)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id
	`, p.MoveID, p.Amount, p.PaymentType, p.PartnerType, p.PartnerID,
		p.CurrencyCode, p.JournalID, p.PaymentMethodID, p.PaymentReference,
		p.DestinationAccountID, p.Date, p.IsInternalTransfer).Scan(&p.ID)
	return xerrors.FromPG(err)
}

func (r *paymentRepo) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id=$1`, id))
}

func (r *paymentRepo) GetByMoveID(ctx context.Context, moveID int64) (*domain.Payment, error) {
	return scanPayment(r.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE move_id=$1`, moveID))
}

func (r *paymentRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments
		SET amount=$2, payment_type=$3, partner_type=$4, partner_id=$5, currency_code=$6,
		    journal_id=$7, payment_method_id=$8, payment_reference=$9, destination_account_id=$10,
		    date=$11, is_internal_transfer=$12, updated_at=NOW()
		WHERE id=$1
	`, p.ID, p.Amount, p.PaymentType, p.PartnerType, p.PartnerID, p.CurrencyCode,
		p.JournalID, p.PaymentMethodID, p.PaymentReference, p.DestinationAccountID,
		p.Date, p.IsInternalTransfer)
	return xerrors.FromPG(err)
}

func (r *paymentRepo) SetStatus(ctx context.Context, tx pgx.Tx, id int64, matched, reconciled bool) error {
	_, err := tx.Exec(ctx, `
		UPDATE payments SET is_matched=$2, is_reconciled=$3, updated_at=NOW() WHERE id=$1
	`, id, matched, reconciled)
	return err
}

func (r *paymentRepo) ListByPartner(ctx context.Context, partnerID int64, limit, offset int) ([]*domain.Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE partner_id=$1
		ORDER BY date DESC, id DESC
		LIMIT $2 OFFSET $3
	`, partnerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
