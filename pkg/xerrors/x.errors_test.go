package xerrors

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsSentinel(t *testing.T) {
	err := Wrap(ErrUnbalanced, "entry %d differs by %s", 42, "0.05")
	assert.ErrorIs(t, err, ErrUnbalanced)
	assert.Contains(t, err.Error(), "entry 42")

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, KindUnbalanced, e.Kind)
	assert.Equal(t, "unbalanced", e.Code)
}

func TestIsRetriable(t *testing.T) {
	assert.True(t, IsRetriable(ErrConcurrentUpdate))
	assert.True(t, IsRetriable(Wrap(ErrMissingRate, "EUR to USD at 2026-01-01")))
	assert.False(t, IsRetriable(ErrUnbalanced))
	assert.False(t, IsRetriable(errors.New("plain")))
}

func TestFromPG(t *testing.T) {
	assert.ErrorIs(t, FromPG(&pgconn.PgError{Code: "40001"}), ErrConcurrentUpdate)
	assert.ErrorIs(t, FromPG(&pgconn.PgError{Code: "40P01"}), ErrConcurrentUpdate)
	assert.ErrorIs(t, FromPG(&pgconn.PgError{Code: "23505"}), ErrConcurrentUpdate)

	other := &pgconn.PgError{Code: "23503"}
	assert.Equal(t, error(other), FromPG(other))
}
