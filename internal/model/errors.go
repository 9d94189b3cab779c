package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyInput is returned when the SQL text is blank.
var ErrEmptyInput = errors.New("empty SQL input")

// ErrNotFound is returned when no model exists for an identifier.
var ErrNotFound = errors.New("template not found")

// NotFound wraps ErrNotFound with the identifier that was looked up.
func NotFound(identifier string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, identifier)
}

// ParseError reports SQL that is not a single parseable SELECT.
type ParseError struct {
	SQL    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Reason, e.Err)
	}
	return "parse error: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports malformed caller-supplied predicates.
type ValidationError struct {
	Field    string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, strings.Join(e.Problems, "; "))
}

// TxError reports a store transaction that failed and was rolled back.
type TxError struct {
	Op         string
	Identifier string
	Err        error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("store %s %q rolled back: %v", e.Op, e.Identifier, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }
