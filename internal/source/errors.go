package source

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes data source errors.
type ErrorCode string

const (
	// ErrCodeTransport indicates the backend could not be reached.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeQuery indicates the backend rejected the query (unknown table or
	// column, bad filter or sort) or its rows could not be decoded.
	ErrCodeQuery ErrorCode = "QUERY"

	// ErrCodeAmbiguousResult indicates an arity one query matched two or
	// more rows. It is a kind of query error.
	ErrCodeAmbiguousResult ErrorCode = "AMBIGUOUS_RESULT"

	// ErrCodeSubscription indicates the change feed could not be established
	// or was lost.
	ErrCodeSubscription ErrorCode = "SUBSCRIPTION"
)

// Error is a classified data source failure.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Table is the table involved, if known.
	Table string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Table != "" {
		msg += fmt.Sprintf(" (table=%s)", e.Table)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransportError wraps a connectivity failure.
func NewTransportError(table string, err error) *Error {
	return &Error{Code: ErrCodeTransport, Message: "backend unreachable", Table: table, Err: err}
}

// NewQueryError wraps a rejected or malformed query.
func NewQueryError(table, message string, err error) *Error {
	return &Error{Code: ErrCodeQuery, Message: message, Table: table, Err: err}
}

// NewAmbiguousResultError reports that an arity one query matched n rows.
// n is a lower bound: the backend is only asked for two.
func NewAmbiguousResultError(table string, n int) *Error {
	return &Error{
		Code:    ErrCodeAmbiguousResult,
		Message: fmt.Sprintf("expected at most one row, got %d or more", n),
		Table:   table,
	}
}

// NewSubscriptionError wraps a failed or lost change feed.
func NewSubscriptionError(table string, err error) *Error {
	return &Error{Code: ErrCodeSubscription, Message: "change subscription unavailable", Table: table, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsTransportError returns true if err is a transport error.
// Uses errors.As to handle wrapped errors.
func IsTransportError(err error) bool {
	return CodeOf(err) == ErrCodeTransport
}

// IsQueryError returns true if err is a query error, including an ambiguous
// result.
func IsQueryError(err error) bool {
	code := CodeOf(err)
	return code == ErrCodeQuery || code == ErrCodeAmbiguousResult
}

// IsAmbiguousResult returns true if err reports an ambiguous arity one result.
func IsAmbiguousResult(err error) bool {
	return CodeOf(err) == ErrCodeAmbiguousResult
}

// IsSubscriptionError returns true if err is a subscription error.
func IsSubscriptionError(err error) bool {
	return CodeOf(err) == ErrCodeSubscription
}

// UserMessage returns text suitable for an end user. Driver details stay in
// the logs.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch CodeOf(err) {
	case ErrCodeTransport:
		return "Could not reach the server. Try again shortly."
	case ErrCodeQuery:
		return "The data could not be loaded."
	case ErrCodeAmbiguousResult:
		return "More than one record matched where exactly one was expected."
	case ErrCodeSubscription:
		return "Live updates are unavailable; data may be out of date."
	default:
		return "Unexpected error while loading data."
	}
}
