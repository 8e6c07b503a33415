package xerrors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind groups errors by the contract they break.
type Kind string

const (
	KindInput        Kind = "input_invalid"
	KindState        Kind = "state_invalid"
	KindUnbalanced   Kind = "unbalanced"
	KindStructure    Kind = "structure_invalid"
	KindReconcile    Kind = "reconcile_precondition"
	KindLocked       Kind = "locked_by_tax_period"
	KindMissingRate  Kind = "missing_rate"
	KindConcurrent   Kind = "concurrent_update"
	KindNotFound     Kind = "not_found"
)

// Error is a typed domain error carrying a machine code and a
// user-facing message. Retriable errors are safe to replay as-is.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retriable bool
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func newRetriable(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Retriable: true}
}

// Generic
var (
	ErrNotFound     = newError(KindNotFound, "not_found", "record not found")
	ErrInvalidInput = newError(KindInput, "invalid_input", "invalid input provided")
)

// Payment
var (
	ErrMissingJournal          = newError(KindInput, "missing_journal", "payment requires a bank or cash journal")
	ErrOutstandingNotSet       = newError(KindInput, "outstanding_not_set", "journal outstanding receipt/payment accounts are not configured")
	ErrMethodNotAllowed        = newError(KindInput, "method_not_allowed", "payment method is not allowed on this journal for this direction")
	ErrNegativeAmount          = newError(KindInput, "negative_amount", "payment amount must be positive")
	ErrPaymentStructureInvalid = newError(KindStructure, "payment_structure_invalid", "payment entry requires exactly one liquidity line and one counterpart line")
)

// Move
var (
	ErrUnbalanced          = newError(KindUnbalanced, "unbalanced", "sum of debits does not equal sum of credits")
	ErrInvalidTransition   = newError(KindState, "invalid_transition", "state transition not permitted")
	ErrLinesReconciled     = newError(KindState, "lines_reconciled", "journal items are still reconciled; break the reconciliation first")
	ErrPostedImmutable     = newError(KindState, "posted_immutable", "posted entries cannot be modified")
	ErrLockedByTaxPeriod   = newError(KindLocked, "locked_by_tax_period", "entry date falls before the tax lock date")
	ErrMixedMoveLines      = newError(KindInput, "mixed_move_lines", "all journal items must share the entry's date, journal and company")
	ErrInvalidLineAmounts  = newError(KindInput, "invalid_line_amounts", "a journal item carries both a debit and a credit")
	ErrCurrencySignInvalid = newError(KindInput, "currency_sign_invalid", "amount in currency must carry the sign of the balance")
)

// Reconciliation
var (
	ErrAccountMismatch  = newError(KindReconcile, "account_mismatch", "journal items to reconcile must share the same account")
	ErrPartnerMismatch  = newError(KindReconcile, "partner_mismatch", "journal items to reconcile must share the same partner")
	ErrNotReconcilable  = newError(KindReconcile, "not_reconcilable", "account does not allow reconciliation")
	ErrNothingToDo      = newError(KindReconcile, "nothing_to_reconcile", "no residual left to allocate")
	ErrInvalidAllocation = newError(KindInput, "invalid_allocation", "allocation exceeds a residual or is not positive")
)

// Statement matching
var (
	ErrNoMatchingRule         = newError(KindNotFound, "no_matching_rule", "no reconciliation model matches this statement line")
	ErrAmountOutsideTolerance = newError(KindInput, "amount_outside_tolerance", "candidate amount falls outside the model tolerance")
	ErrLineAlreadyReconciled  = newError(KindState, "line_already_reconciled", "statement line is already reconciled")
)

// Infrastructure
var (
	ErrMissingRate      = newRetriable(KindMissingRate, "missing_rate", "no exchange rate available at or before the requested date")
	ErrConcurrentUpdate = newRetriable(KindConcurrent, "concurrent_update", "another transaction touched the same rows; retry")
)

// Wrap keeps the sentinel reachable through errors.Is while adding context.
func Wrap(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

// IsRetriable reports whether the error (or any wrapped cause) is safe to retry.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable
	}
	return false
}

// ParsePGErrorCode extracts the SQLSTATE from a postgres error.
func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// FromPG maps low-level postgres failures onto domain errors. Serialization
// failures and deadlocks surface as retriable concurrent updates.
func FromPG(err error) error {
	switch ParsePGErrorCode(err) {
	case "40001", "40P01", "55P03":
		return ErrConcurrentUpdate
	case "23505":
		return ErrConcurrentUpdate
	}
	return err
}
