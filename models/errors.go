package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindAllocationFailed         ErrorKind = "AllocationFailed"
	KindLedgerWriteFailed        ErrorKind = "LedgerWriteFailed"
	KindLedgerInconsistency      ErrorKind = "LedgerInconsistency"
	KindDuplicateIdentity        ErrorKind = "DuplicateIdentity"
	KindAvailabilityInsufficient ErrorKind = "AvailabilityInsufficient"
	KindValidationFailed         ErrorKind = "ValidationFailed"
	KindCancelled                ErrorKind = "Cancelled"
	KindStoreFailed              ErrorKind = "StoreFailed"
)

// DistError is the error type returned by distribution workflows.
// errors.Is matches on Kind against the Err* sentinels below.
type DistError struct {
	Kind  ErrorKind
	Op    string
	Field string
	Msg   string
	Err   error
}

var (
	ErrAllocationFailed         = &DistError{Kind: KindAllocationFailed}
	ErrLedgerWriteFailed        = &DistError{Kind: KindLedgerWriteFailed}
	ErrLedgerInconsistency      = &DistError{Kind: KindLedgerInconsistency}
	ErrDuplicateIdentity        = &DistError{Kind: KindDuplicateIdentity}
	ErrAvailabilityInsufficient = &DistError{Kind: KindAvailabilityInsufficient}
	ErrValidationFailed         = &DistError{Kind: KindValidationFailed}
	ErrCancelled                = &DistError{Kind: KindCancelled}
	ErrStoreFailed              = &DistError{Kind: KindStoreFailed}
)

func (e *DistError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *DistError) Unwrap() error {
	return e.Err
}

func (e *DistError) Is(target error) bool {
	t, ok := target.(*DistError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func NewDistError(kind ErrorKind, op string, msg string, err error) *DistError {
	return &DistError{Kind: kind, Op: op, Msg: msg, Err: err}
}

// NewValidationError reports a local input problem on one field.
func NewValidationError(field string, format string, args ...any) *DistError {
	return &DistError{Kind: KindValidationFailed, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first DistError in err's chain, or StoreFailed.
func KindOf(err error) ErrorKind {
	var de *DistError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStoreFailed
}

// IsRecoverable is true for kinds the user can fix by answering the prompt again.
func IsRecoverable(err error) bool {
	switch KindOf(err) {
	case KindDuplicateIdentity, KindValidationFailed:
		return true
	}
	return false
}
