package repository

import (
	"context"
	"encoding/json"
	"errors"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ReconcileModelRepository interface {
	Create(ctx context.Context, m *domain.ReconcileModel) error
	GetByID(ctx context.Context, id int64) (*domain.ReconcileModel, error)
	List(ctx context.Context) ([]*domain.ReconcileModel, error)
	Update(ctx context.Context, m *domain.ReconcileModel) error
	Delete(ctx context.Context, id int64) error
}

type reconcileModelRepo struct {
	db *pgxpool.Pool
}

func NewReconcileModelRepo(db *pgxpool.Pool) ReconcileModelRepository {
	return &reconcileModelRepo{db: db}
}

const modelColumns = `id, sequence, name, match_predicate, action, tolerance_kind,
	tolerance_value, counterpart_account_id, write_off_account_id, write_off_label, created_at`

func scanModel(row pgx.Row) (*domain.ReconcileModel, error) {
	var m domain.ReconcileModel
	var predicate []byte
	err := row.Scan(&m.ID, &m.Sequence, &m.Name, &predicate, &m.Action, &m.ToleranceKind,
		&m.ToleranceValue, &m.CounterpartAccountID, &m.WriteOffAccountID, &m.WriteOffLabel, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	if len(predicate) > 0 {
		if err := json.Unmarshal(predicate, &m.Predicate); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

func (r *reconcileModelRepo) Create(ctx context.Context, m *domain.ReconcileModel) error {
	predicate, err := json.Marshal(m.Predicate)
	if err != nil {
		return err
	}
	err = r.db.QueryRow(ctx, `
		INSERT INTO reconcile_models (sequence, name, match_predicate, action, tolerance_kind,
		                              tolerance_value, counterpart_account_id, write_off_account_id, write_off_label)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, m.Sequence, m.Name, predicate, m.Action, m.ToleranceKind,
		m.ToleranceValue, m.CounterpartAccountID, m.WriteOffAccountID, m.WriteOffLabel).Scan(&m.ID)
	return xerrors.FromPG(err)
}

func (r *reconcileModelRepo) GetByID(ctx context.Context, id int64) (*domain.ReconcileModel, error) {
	return scanModel(r.db.QueryRow(ctx, `SELECT `+modelColumns+` FROM reconcile_models WHERE id=$1`, id))
}

// List returns all models in application order.
func (r *reconcileModelRepo) List(ctx context.Context) ([]*domain.ReconcileModel, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+modelColumns+`
		FROM reconcile_models
		ORDER BY sequence, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*domain.ReconcileModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

func (r *reconcileModelRepo) Update(ctx context.Context, m *domain.ReconcileModel) error {
	predicate, err := json.Marshal(m.Predicate)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE reconcile_models
		SET sequence=$2, name=$3, match_predicate=$4, action=$5, tolerance_kind=$6,
		    tolerance_value=$7, counterpart_account_id=$8, write_off_account_id=$9, write_off_label=$10
		WHERE id=$1
	`, m.ID, m.Sequence, m.Name, predicate, m.Action, m.ToleranceKind,
		m.ToleranceValue, m.CounterpartAccountID, m.WriteOffAccountID, m.WriteOffLabel)
	if err != nil {
		return xerrors.FromPG(err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *reconcileModelRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM reconcile_models WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
