// Package errs defines the error taxonomy shared by the claims, invoicing
// and payments services. Handlers map each class to an HTTP status; callers
// branch with errors.As / the Is* helpers.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports malformed input: non-positive amounts, empty item
// lists, missing references.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string { return e.Detail }

// Validation builds a ValidationError.
func Validation(format string, args ...interface{}) error {
	return &ValidationError{Detail: fmt.Sprintf(format, args...)}
}

// InvalidStateError reports an operation that is not legal from the entity's
// current state, e.g. deciding an already-decided claim.
type InvalidStateError struct {
	Detail string
}

func (e *InvalidStateError) Error() string { return e.Detail }

// InvalidState builds an InvalidStateError.
func InvalidState(format string, args ...interface{}) error {
	return &InvalidStateError{Detail: fmt.Sprintf(format, args...)}
}

// ConflictError reports a uniqueness violation: duplicate invoice for a
// claim, recommendation already invoiced, appointment already claimed.
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string { return e.Detail }

// Conflict builds a ConflictError.
func Conflict(format string, args ...interface{}) error {
	return &ConflictError{Detail: fmt.Sprintf(format, args...)}
}

// OverpaymentError reports a payment that would push an invoice past its
// total.
type OverpaymentError struct {
	Detail string
}

func (e *OverpaymentError) Error() string { return e.Detail }

// Overpayment builds an OverpaymentError.
func Overpayment(format string, args ...interface{}) error {
	return &OverpaymentError{Detail: fmt.Sprintf(format, args...)}
}

// VerificationError reports a gateway signature/payload mismatch. Always
// fatal to the payment attempt.
type VerificationError struct {
	Detail string
}

func (e *VerificationError) Error() string { return e.Detail }

// Verification builds a VerificationError.
func Verification(format string, args ...interface{}) error {
	return &VerificationError{Detail: fmt.Sprintf(format, args...)}
}

// UpstreamTimeoutError reports that the risk-scoring call exceeded its
// budget.
type UpstreamTimeoutError struct {
	Detail string
}

func (e *UpstreamTimeoutError) Error() string { return e.Detail }

// UpstreamTimeout builds an UpstreamTimeoutError.
func UpstreamTimeout(format string, args ...interface{}) error {
	return &UpstreamTimeoutError{Detail: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Detail string
}

func (e *NotFoundError) Error() string { return e.Detail }

// NotFound builds a NotFoundError.
func NotFound(format string, args ...interface{}) error {
	return &NotFoundError{Detail: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsOverpayment reports whether err is an OverpaymentError.
func IsOverpayment(err error) bool {
	var e *OverpaymentError
	return errors.As(err, &e)
}

// IsVerification reports whether err is a VerificationError.
func IsVerification(err error) bool {
	var e *VerificationError
	return errors.As(err, &e)
}

// IsUpstreamTimeout reports whether err is an UpstreamTimeoutError.
func IsUpstreamTimeout(err error) bool {
	var e *UpstreamTimeoutError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// HTTPStatus maps an error to the HTTP status a handler should return.
func HTTPStatus(err error) int {
	switch {
	case IsValidation(err):
		return http.StatusBadRequest
	case IsInvalidState(err):
		return http.StatusConflict
	case IsConflict(err):
		return http.StatusConflict
	case IsOverpayment(err):
		return http.StatusUnprocessableEntity
	case IsVerification(err):
		return http.StatusBadRequest
	case IsUpstreamTimeout(err):
		return http.StatusGatewayTimeout
	case IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
