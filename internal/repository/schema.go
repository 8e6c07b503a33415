package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS companies (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    currency_code VARCHAR(8) NOT NULL,
    partner_id BIGINT NOT NULL,
    transfer_account_id BIGINT NOT NULL DEFAULT 0,
    exchange_journal_id BIGINT NOT NULL DEFAULT 0,
    gain_exchange_account_id BIGINT NOT NULL DEFAULT 0,
    loss_exchange_account_id BIGINT NOT NULL DEFAULT 0,
    tax_lock_date DATE
);

CREATE TABLE IF NOT EXISTS partners (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    company_id BIGINT NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS currencies (
    code VARCHAR(8) PRIMARY KEY,
    name VARCHAR(64) NOT NULL,
    decimal_places SMALLINT NOT NULL DEFAULT 2,
    rounding NUMERIC(18,6) NOT NULL DEFAULT 0.01,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS currency_rates (
    id BIGSERIAL PRIMARY KEY,
    base_currency VARCHAR(8) NOT NULL,
    quote_currency VARCHAR(8) NOT NULL,
    rate NUMERIC(24,12) NOT NULL,
    as_of DATE NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(base_currency, quote_currency, as_of)
);

CREATE TABLE IF NOT EXISTS accounts (
    id BIGSERIAL PRIMARY KEY,
    code VARCHAR(32) NOT NULL,
    name VARCHAR(255) NOT NULL,
    internal_type VARCHAR(16) NOT NULL,
    reconcilable BOOLEAN NOT NULL DEFAULT false,
    company_id BIGINT NOT NULL REFERENCES companies(id),
    currency_code VARCHAR(8),
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(company_id, code)
);

CREATE TABLE IF NOT EXISTS journals (
    id BIGSERIAL PRIMARY KEY,
    code VARCHAR(8) NOT NULL,
    name VARCHAR(255) NOT NULL,
    type VARCHAR(16) NOT NULL,
    company_id BIGINT NOT NULL REFERENCES companies(id),
    default_account_id BIGINT NOT NULL REFERENCES accounts(id),
    payment_debit_account_id BIGINT REFERENCES accounts(id),
    payment_credit_account_id BIGINT REFERENCES accounts(id),
    currency_code VARCHAR(8),
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(company_id, code)
);

CREATE TABLE IF NOT EXISTS journal_sequences (
    journal_id BIGINT NOT NULL REFERENCES journals(id),
    year INTEGER NOT NULL,
    next_number BIGINT NOT NULL DEFAULT 1,
    PRIMARY KEY(journal_id, year)
);

CREATE TABLE IF NOT EXISTS payment_methods (
    id BIGSERIAL PRIMARY KEY,
    code VARCHAR(32) NOT NULL,
    name VARCHAR(255) NOT NULL,
    payment_type VARCHAR(16) NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE(code, payment_type)
);

CREATE TABLE IF NOT EXISTS journal_payment_methods (
    journal_id BIGINT NOT NULL REFERENCES journals(id),
    payment_method_id BIGINT NOT NULL REFERENCES payment_methods(id),
    PRIMARY KEY(journal_id, payment_method_id)
);

CREATE TABLE IF NOT EXISTS moves (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(64) NOT NULL DEFAULT '/',
    date DATE NOT NULL,
    journal_id BIGINT NOT NULL REFERENCES journals(id),
    company_id BIGINT NOT NULL REFERENCES companies(id),
    currency_code VARCHAR(8) NOT NULL,
    state VARCHAR(16) NOT NULL DEFAULT 'draft',
    type VARCHAR(16) NOT NULL DEFAULT 'entry',
    reference VARCHAR(255) NOT NULL DEFAULT '',
    payment_id BIGINT,
    reversed_move_id BIGINT REFERENCES moves(id),
    posted_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS move_lines (
    id BIGSERIAL PRIMARY KEY,
    move_id BIGINT NOT NULL REFERENCES moves(id) ON DELETE CASCADE,
    account_id BIGINT NOT NULL REFERENCES accounts(id),
    partner_id BIGINT REFERENCES partners(id),
    name VARCHAR(255) NOT NULL DEFAULT '',
    debit NUMERIC(18,6) NOT NULL DEFAULT 0 CHECK (debit >= 0),
    credit NUMERIC(18,6) NOT NULL DEFAULT 0 CHECK (credit >= 0),
    currency_code VARCHAR(8),
    amount_currency NUMERIC(18,6) NOT NULL DEFAULT 0,
    date_maturity DATE,
    tax_line_id BIGINT,
    amount_residual NUMERIC(18,6) NOT NULL DEFAULT 0,
    amount_residual_currency NUMERIC(18,6) NOT NULL DEFAULT 0,
    full_reconcile_id BIGINT,
    payment_id BIGINT,
    CHECK (NOT (debit > 0 AND credit > 0))
);

CREATE TABLE IF NOT EXISTS payments (
    id BIGSERIAL PRIMARY KEY,
    move_id BIGINT NOT NULL UNIQUE REFERENCES moves(id),
    amount NUMERIC(18,6) NOT NULL CHECK (amount >= 0),
    payment_type VARCHAR(16) NOT NULL,
    partner_type VARCHAR(16) NOT NULL,
    partner_id BIGINT NOT NULL REFERENCES partners(id),
    currency_code VARCHAR(8) NOT NULL,
    journal_id BIGINT NOT NULL REFERENCES journals(id),
    payment_method_id BIGINT NOT NULL REFERENCES payment_methods(id),
    payment_reference VARCHAR(255) NOT NULL DEFAULT '',
    destination_account_id BIGINT NOT NULL REFERENCES accounts(id),
    date DATE NOT NULL,
    is_internal_transfer BOOLEAN NOT NULL DEFAULT false,
    is_reconciled BOOLEAN NOT NULL DEFAULT false,
    is_matched BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS full_reconciles (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(64) NOT NULL UNIQUE,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS partial_reconciles (
    id BIGSERIAL PRIMARY KEY,
    debit_move_line_id BIGINT NOT NULL REFERENCES move_lines(id),
    credit_move_line_id BIGINT NOT NULL REFERENCES move_lines(id),
    amount NUMERIC(18,6) NOT NULL CHECK (amount > 0),
    debit_amount_currency NUMERIC(18,6) NOT NULL DEFAULT 0,
    credit_amount_currency NUMERIC(18,6) NOT NULL DEFAULT 0,
    full_reconcile_id BIGINT REFERENCES full_reconciles(id),
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS bank_statements (
    id BIGSERIAL PRIMARY KEY,
    journal_id BIGINT NOT NULL REFERENCES journals(id),
    name VARCHAR(255) NOT NULL DEFAULT '',
    date DATE NOT NULL,
    balance_start NUMERIC(18,6) NOT NULL DEFAULT 0,
    balance_end_real NUMERIC(18,6) NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS bank_statement_lines (
    id BIGSERIAL PRIMARY KEY,
    statement_id BIGINT NOT NULL REFERENCES bank_statements(id) ON DELETE CASCADE,
    date DATE NOT NULL,
    amount NUMERIC(18,6) NOT NULL,
    partner_id BIGINT REFERENCES partners(id),
    name VARCHAR(512) NOT NULL DEFAULT '',
    reference VARCHAR(255) NOT NULL DEFAULT '',
    move_id BIGINT REFERENCES moves(id),
    state VARCHAR(16) NOT NULL DEFAULT 'open',
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS reconcile_models (
    id BIGSERIAL PRIMARY KEY,
    sequence INTEGER NOT NULL DEFAULT 10,
    name VARCHAR(255) NOT NULL,
    match_predicate JSONB NOT NULL DEFAULT '{}',
    action VARCHAR(16) NOT NULL DEFAULT 'suggest',
    tolerance_kind VARCHAR(16) NOT NULL DEFAULT 'exact',
    tolerance_value NUMERIC(18,6) NOT NULL DEFAULT 0,
    counterpart_account_id BIGINT REFERENCES accounts(id),
    write_off_account_id BIGINT REFERENCES accounts(id),
    write_off_label VARCHAR(255) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_move_lines_move_id ON move_lines(move_id);
CREATE INDEX IF NOT EXISTS idx_move_lines_account ON move_lines(account_id);
CREATE INDEX IF NOT EXISTS idx_move_lines_partner ON move_lines(partner_id);
CREATE INDEX IF NOT EXISTS idx_move_lines_open
    ON move_lines(account_id, partner_id) WHERE amount_residual <> 0;
CREATE INDEX IF NOT EXISTS idx_partials_debit ON partial_reconciles(debit_move_line_id);
CREATE INDEX IF NOT EXISTS idx_partials_credit ON partial_reconciles(credit_move_line_id);
CREATE INDEX IF NOT EXISTS idx_statement_lines_statement ON bank_statement_lines(statement_id);
CREATE INDEX IF NOT EXISTS idx_statement_lines_state ON bank_statement_lines(state);
CREATE INDEX IF NOT EXISTS idx_moves_journal_date ON moves(journal_id, date);
CREATE INDEX IF NOT EXISTS idx_rates_lookup ON currency_rates(base_currency, quote_currency, as_of DESC);
`

// EnsureSchema creates all tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
