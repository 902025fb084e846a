package formula

import (
	"errors"
	"fmt"
)

var (
	// ErrDivisionByZero is returned when a divisor evaluates to zero.
	// Rows failing this way produce a null value without an error message.
	ErrDivisionByZero = errors.New("division by zero")

	// ErrInvalidResult is returned when a row evaluates to a value that is
	// not a finite number, usually because a referenced cell is not numeric.
	ErrInvalidResult = errors.New("Invalid calculation result")
)

// ParseError reports a syntactically malformed formula
type ParseError struct {
	Pos int // rune offset, -1 when the error is not tied to a position
	Msg string
}

func (e *ParseError) Error() string {
	if e.Pos < 0 {
		return e.Msg
	}
	return fmt.Sprintf("%s at position %d", e.Msg, e.Pos+1)
}

// UndefinedSymbolError is returned when a row has no value bound for a
// referenced column
type UndefinedSymbolError struct {
	Name string
}

func (e *UndefinedSymbolError) Error() string {
	return fmt.Sprintf("Undefined symbol %s", e.Name)
}
