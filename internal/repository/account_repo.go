package repository

import (
	"context"
	"errors"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountRepository serves the inert ledger configuration: companies,
// partners, accounts, journals and the payment method catalog.
type AccountRepository interface {
	GetCompany(ctx context.Context, id int64) (*domain.Company, error)
	GetPartner(ctx context.Context, id int64) (*domain.Partner, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	GetAccounts(ctx context.Context, ids []int64) (map[int64]*domain.Account, error)
	GetJournal(ctx context.Context, id int64) (*domain.Journal, error)
	GetPaymentMethod(ctx context.Context, id int64) (*domain.PaymentMethod, error)
	ListJournalMethods(ctx context.Context, journalID int64, paymentType domain.PaymentType) ([]*domain.PaymentMethod, error)

	CreateCompany(ctx context.Context, c *domain.Company) error
	CreatePartner(ctx context.Context, p *domain.Partner) error
	CreateAccount(ctx context.Context, a *domain.Account) error
	CreateJournal(ctx context.Context, j *domain.Journal) error
	CreatePaymentMethod(ctx context.Context, m *domain.PaymentMethod) error
	LinkJournalMethod(ctx context.Context, journalID, methodID int64) error
}

type accountRepo struct {
	db *pgxpool.Pool
}

func NewAccountRepo(db *pgxpool.Pool) AccountRepository {
	return &accountRepo{db: db}
}

func (r *accountRepo) GetCompany(ctx context.Context, id int64) (*domain.Company, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, currency_code, partner_id, transfer_account_id,
		       exchange_journal_id, gain_exchange_account_id, loss_exchange_account_id, tax_lock_date
		FROM companies
		WHERE id=$1
	`, id)

	var c domain.Company
	err := row.Scan(&c.ID, &c.Name, &c.CurrencyCode, &c.PartnerID, &c.TransferAccountID,
		&c.ExchangeJournalID, &c.GainAccountID, &c.LossAccountID, &c.TaxLockDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *accountRepo) GetPartner(ctx context.Context, id int64) (*domain.Partner, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, company_id, created_at FROM partners WHERE id=$1
	`, id)

	var p domain.Partner
	if err := row.Scan(&p.ID, &p.Name, &p.CompanyID, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.InternalType, &a.Reconcilable,
		&a.CompanyID, &a.CurrencyCode, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

const accountColumns = `id, code, name, internal_type, reconcilable, company_id, currency_code, created_at, updated_at`

func (r *accountRepo) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id=$1
	`, id))
}

func (r *accountRepo) GetAccounts(ctx context.Context, ids []int64) (map[int64]*domain.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make(map[int64]*domain.Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts[a.ID] = a
	}
	return accounts, rows.Err()
}

func (r *accountRepo) GetJournal(ctx context.Context, id int64) (*domain.Journal, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, code, name, type, company_id, default_account_id,
		       payment_debit_account_id, payment_credit_account_id, currency_code, created_at, updated_at
		FROM journals
		WHERE id=$1
	`, id)

	var j domain.Journal
	err := row.Scan(&j.ID, &j.Code, &j.Name, &j.Type, &j.CompanyID, &j.DefaultAccountID,
		&j.PaymentDebitAccountID, &j.PaymentCreditAccountID, &j.CurrencyCode, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *accountRepo) GetPaymentMethod(ctx context.Context, id int64) (*domain.PaymentMethod, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, code, name, payment_type, created_at FROM payment_methods WHERE id=$1
	`, id)

	var m domain.PaymentMethod
	if err := row.Scan(&m.ID, &m.Code, &m.Name, &m.PaymentType, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *accountRepo) ListJournalMethods(ctx context.Context, journalID int64, paymentType domain.PaymentType) ([]*domain.PaymentMethod, error) {
	rows, err := r.db.Query(ctx, `
		SELECT m.id, m.code, m.name, m.payment_type, m.created_at
		FROM payment_methods m
		JOIN journal_payment_methods jm ON jm.payment_method_id = m.id
		WHERE jm.journal_id=$1 AND m.payment_type=$2
		ORDER BY m.id
	`, journalID, paymentType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []*domain.PaymentMethod
	for rows.Next() {
		var m domain.PaymentMethod
		if err := rows.Scan(&m.ID, &m.Code, &m.Name, &m.PaymentType, &m.CreatedAt); err != nil {
			return nil, err
		}
		methods = append(methods, &m)
	}
	return methods, rows.Err()
}

func (r *accountRepo) CreateCompany(ctx context.Context, c *domain.Company) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO companies (name, currency_code, partner_id, transfer_account_id,
		                       exchange_journal_id, gain_exchange_account_id, loss_exchange_account_id, tax_lock_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, c.Name, c.CurrencyCode, c.PartnerID, c.TransferAccountID,
		c.ExchangeJournalID, c.GainAccountID, c.LossAccountID, c.TaxLockDate).Scan(&c.ID)
}

func (r *accountRepo) CreatePartner(ctx context.Context, p *domain.Partner) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO partners (name, company_id) VALUES ($1,$2) RETURNING id
	`, p.Name, p.CompanyID).Scan(&p.ID)
}

func (r *accountRepo) CreateAccount(ctx context.Context, a *domain.Account) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO accounts (code, name, internal_type, reconcilable, company_id, currency_code)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, a.Code, a.Name, a.InternalType, a.Reconcilable, a.CompanyID, a.CurrencyCode).Scan(&a.ID)
}

func (r *accountRepo) CreateJournal(ctx context.Context, j *domain.Journal) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO journals (code, name, type, company_id, default_account_id,
		                      payment_debit_account_id, payment_credit_account_id, currency_code)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, j.Code, j.Name, j.Type, j.CompanyID, j.DefaultAccountID,
		j.PaymentDebitAccountID, j.PaymentCreditAccountID, j.CurrencyCode).Scan(&j.ID)
}

func (r *accountRepo) CreatePaymentMethod(ctx context.Context, m *domain.PaymentMethod) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO payment_methods (code, name, payment_type) VALUES ($1,$2,$3) RETURNING id
	`, m.Code, m.Name, m.PaymentType).Scan(&m.ID)
}

func (r *accountRepo) LinkJournalMethod(ctx context.Context, journalID, methodID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO journal_payment_methods (journal_id, payment_method_id)
		VALUES ($1,$2)
		ON CONFLICT DO NOTHING
	`, journalID, methodID)
	return err
}
