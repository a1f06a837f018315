package service

import (
	"errors"
	"fmt"
)

// Kind classifies a service error for the transport layer
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConsistency
	KindGateway
	KindConflict
	KindUnauthorized
)

// Error codes surfaced to API callers
const (
	CodeInvalidRequest     = "InvalidRequest"
	CodeProductNotFound    = "ProductNotFound"
	CodeSizeUnavailable    = "SizeUnavailable"
	CodeTotalPriceMismatch = "TotalPriceMismatch"
	CodeGatewayError       = "GatewayError"
	CodeNotFound           = "NotFound"
	CodeConflict           = "Conflict"
	CodeUnauthorized       = "Unauthorized"
)

// Error represents a service error. Message is safe to show to the caller; Err is not.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func validationError(format string, args ...interface{}) *Error {
	return newError(KindValidation, CodeInvalidRequest, fmt.Sprintf(format, args...), nil)
}

func notFoundError(message string, err error) *Error {
	return newError(KindNotFound, CodeNotFound, message, err)
}

// AsError returns the *Error wrapped by err, if any
func AsError(err error) (*Error, bool) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or "" for errors not raised by this package
func CodeOf(err error) string {
	if svcErr, ok := AsError(err); ok {
		return svcErr.Code
	}
	return ""
}

// Reason is a payment failure code carried on the failure redirect
type Reason string

const (
	ReasonInsufficientBalance    Reason = "insufficient_balance"
	ReasonVerificationFailed     Reason = "verification_failed"
	ReasonIntentNotFoundMismatch Reason = "purchased_item_not_found_or_amount_mismatch"
	ReasonProductNotFound        Reason = "product_not_found"
	ReasonSizeNotFound           Reason = "size_not_found"
	ReasonServerError            Reason = "server_error"
)
