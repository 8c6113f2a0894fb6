package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

// Kind is the machine-readable class of a settlement failure.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindAmountMismatch      Kind = "amount_mismatch"
	KindReferenceNotFound   Kind = "reference_not_found"
	KindAlreadyUsed         Kind = "already_used"
	KindTicketConflict      Kind = "ticket_conflict"
	KindRateUnavailable     Kind = "rate_unavailable"
	KindPersistence         Kind = "persistence"
	KindCompensationFailure Kind = "compensation_failure"
)

// SettlementError is returned by Settle for every failure.  Numbers is set
// for ticket conflicts; SaleID is set when a sale was created and could
// not be rolled back.
type SettlementError struct {
	Kind    Kind
	Message string
	Numbers []model.TicketNumber
	SaleID  uint64
	Err     error
}

func (e *SettlementError) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(e.Numbers) > 0 {
		msg += " [" + model.JoinNumbers(e.Numbers) + "]"
	}
	if e.SaleID != 0 {
		msg += fmt.Sprintf(" (sale %d)", e.SaleID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SettlementError) Unwrap() error { return e.Err }

// Is matches another SettlementError of the same kind, so the sentinels
// below work with errors.Is.
func (e *SettlementError) Is(target error) bool {
	var t *SettlementError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

var (
	ErrInvalidRequest      = &SettlementError{Kind: KindInvalidRequest}
	ErrAmountMismatch      = &SettlementError{Kind: KindAmountMismatch}
	ErrReferenceNotFound   = &SettlementError{Kind: KindReferenceNotFound}
	ErrAlreadyUsed         = &SettlementError{Kind: KindAlreadyUsed}
	ErrTicketConflict      = &SettlementError{Kind: KindTicketConflict}
	ErrRateUnavailable     = &SettlementError{Kind: KindRateUnavailable}
	ErrPersistence         = &SettlementError{Kind: KindPersistence}
	ErrCompensationFailure = &SettlementError{Kind: KindCompensationFailure}
)

// KindOf returns the kind of a settlement error, or "" for other errors.
func KindOf(err error) Kind {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func newError(kind Kind, msg string, cause error) *SettlementError {
	return &SettlementError{Kind: kind, Message: msg, Err: cause}
}

func conflictError(nums []model.TicketNumber) *SettlementError {
	return &SettlementError{
		Kind:    KindTicketConflict,
		Message: "some numbers were sold to another buyer, remove them and retry",
		Numbers: nums,
	}
}
