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

type CurrencyRepository interface {
	GetCurrency(ctx context.Context, code string) (*domain.Currency, error)
	ListCurrencies(ctx context.Context) ([]*domain.Currency, error)
	UpsertCurrency(ctx context.Context, c *domain.Currency) error

	// GetRate returns the latest rate at or before asOf; MissingRate when
	// the table has none.
	GetRate(ctx context.Context, base, quote string, asOf time.Time) (*domain.Rate, error)
	UpsertRate(ctx context.Context, rate *domain.Rate) error
}

type currencyRepo struct {
	db *pgxpool.Pool
}

func NewCurrencyRepo(db *pgxpool.Pool) CurrencyRepository {
	return &currencyRepo{db: db}
}

func (r *currencyRepo) GetCurrency(ctx context.Context, code string) (*domain.Currency, error) {
	row := r.db.QueryRow(ctx, `
		SELECT code, name, decimal_places, rounding, created_at, updated_at
		FROM currencies
		WHERE code=$1
	`, code)

	var c domain.Currency
	if err := row.Scan(&c.Code, &c.Name, &c.DecimalPlaces, &c.Rounding, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *currencyRepo) ListCurrencies(ctx context.Context) ([]*domain.Currency, error) {
	rows, err := r.db.Query(ctx, `
		SELECT code, name, decimal_places, rounding, created_at, updated_at
		FROM currencies
		ORDER BY code ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var currencies []*domain.Currency
	for rows.Next() {
		var c domain.Currency
		if err := rows.Scan(&c.Code, &c.Name, &c.DecimalPlaces, &c.Rounding, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		currencies = append(currencies, &c)
	}
	return currencies, rows.Err()
}

func (r *currencyRepo) UpsertCurrency(ctx context.Context, c *domain.Currency) error {
	now := time.Now()
	_, err := r.db.Exec(ctx, `
		INSERT INTO currencies (code, name, decimal_places, rounding, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name,
		    decimal_places = EXCLUDED.decimal_places,
		    rounding = EXCLUDED.rounding,
		    updated_at = EXCLUDED.updated_at
	`, c.Code, c.Name, c.DecimalPlaces, c.Rounding, now)
	return err
}

func (r *currencyRepo) GetRate(ctx context.Context, base, quote string, asOf time.Time) (*domain.Rate, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, base_currency, quote_currency, rate, as_of, created_at
		FROM currency_rates
		WHERE base_currency=$1 AND quote_currency=$2 AND as_of <= $3
		ORDER BY as_of DESC
		LIMIT 1
	`, base, quote, asOf)

	var rate domain.Rate
	if err := row.Scan(&rate.ID, &rate.Base, &rate.Quote, &rate.Rate, &rate.AsOf, &rate.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrMissingRate
		}
		return nil, err
	}
	return &rate, nil
}

func (r *currencyRepo) UpsertRate(ctx context.Context, rate *domain.Rate) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO currency_rates (base_currency, quote_currency, rate, as_of)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (base_currency, quote_currency, as_of) DO UPDATE
		SET rate = EXCLUDED.rate
	`, rate.Base, rate.Quote, rate.Rate, rate.AsOf)
	return err
}
