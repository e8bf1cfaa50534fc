package formula

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching.
var (
	ErrSyntax          = errors.New("formula syntax error")
	ErrUnknownVariable = errors.New("unknown variable")
	ErrNotNumeric      = errors.New("variable is not numeric")
	ErrArithmetic      = errors.New("arithmetic error")
)

// SyntaxError reports a malformed formula. Raised by Parse only.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("formula syntax error at offset %d: %s", e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// VariableError reports an identifier that is missing or not numeric.
type VariableError struct {
	Name string
	Err  error // ErrUnknownVariable or ErrNotNumeric
}

func (e *VariableError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Name)
}

func (e *VariableError) Unwrap() error { return e.Err }

// ArithmeticError reports division by zero or a non-finite result.
type ArithmeticError struct {
	Msg string
}

func (e *ArithmeticError) Error() string {
	return "arithmetic error: " + e.Msg
}

func (e *ArithmeticError) Unwrap() error { return ErrArithmetic }
