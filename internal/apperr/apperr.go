// Package apperr defines the error kinds surfaced to API callers.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	InvalidState
	Conflict
	Unauthorized
	Forbidden
)

func (k Kind) String() string {
	return [...]string{"internal", "validation", "not_found", "invalid_state", "conflict", "unauthorized", "forbidden"}[k]
}

// HTTPStatus maps a kind onto the response status code. Lifecycle violations
// (InvalidState, Conflict) are reported as 400.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation, InvalidState, Conflict:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Packages declare their sentinels with New and
// compare with errors.Is.
type Error struct {
	Kind    Kind
	Message string
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func (e *Error) Error() string {
	return e.Message
}

type kinder interface {
	Kind() Kind
}

// KindOf returns the kind of the first classified error in err's chain, or
// Internal when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return Internal
}

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries field level detail for malformed input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	return e.Fields[0].Field + ": " + e.Fields[0].Message
}

func (e *ValidationError) Kind() Kind {
	return Validation
}

func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: msg}}}
}
