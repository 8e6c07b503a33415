package repository

import (
	"context"
	"fmt"
	"time"

	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SequenceRepository allocates human-readable entry names per journal and
// year, e.g. BNK1/2026/00042. Allocation holds the sequence row lock, so
// concurrent posters serialize and numbering stays monotonic.
type SequenceRepository interface {
	NextMoveName(ctx context.Context, tx pgx.Tx, journalID int64, journalCode string, date time.Time) (string, error)
}

type sequenceRepo struct {
	db *pgxpool.Pool
}

func NewSequenceRepo(db *pgxpool.Pool) SequenceRepository {
	return &sequenceRepo{db: db}
}

func (r *sequenceRepo) NextMoveName(ctx context.Context, tx pgx.Tx, journalID int64, journalCode string, date time.Time) (string, error) {
	year := date.Year()
	if _, err := tx.Exec(ctx, `
		INSERT INTO journal_sequences (journal_id, year, next_number)
		VALUES ($1,$2,1)
		ON CONFLICT (journal_id, year) DO NOTHING
	`, journalID, year); err != nil {
		return "", xerrors.FromPG(err)
	}

	var number int64
	err := tx.QueryRow(ctx, `
		SELECT next_number FROM journal_sequences
		WHERE journal_id=$1 AND year=$2
		FOR UPDATE
	`, journalID, year).Scan(&number)
	if err != nil {
		return "", xerrors.FromPG(err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE journal_sequences SET next_number = next_number + 1
		WHERE journal_id=$1 AND year=$2
	`, journalID, year); err != nil {
		return "", xerrors.FromPG(err)
	}
	return fmt.Sprintf("%s/%d/%05d", journalCode, year, number), nil
}
