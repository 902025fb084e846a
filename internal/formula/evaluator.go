package formula

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vitebski/calc-columns/pkg/models"
)

// CalculationResult holds one value per input row, nil where the row could
// not be evaluated, plus the messages describing failed rows.
type CalculationResult struct {
	Values []*float64 `json:"values"`
	Errors []string   `json:"errors"`
}

// RowResult is the outcome of evaluating a formula against one row.
// Err is nil on success; otherwise Value is meaningless.
type RowResult struct {
	Value float64
	Err   error
}

// OK reports whether the row evaluated to a finite number
func (r RowResult) OK() bool {
	return r.Err == nil
}

// Ptr returns the value as a pointer, nil when the row failed
func (r RowResult) Ptr() *float64 {
	if r.Err != nil {
		return nil
	}
	v := r.Value
	return &v
}

// EvaluateRow evaluates the formula against a single row
func EvaluateRow(parsed *ParsedFormula, row models.Row) RowResult {
	if parsed == nil || parsed.Root == nil {
		return RowResult{Err: errors.New("formula has not been parsed")}
	}

	value, err := parsed.Root.Eval(row)
	if err != nil {
		return RowResult{Err: err}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return RowResult{Err: ErrInvalidResult}
	}
	return RowResult{Value: value}
}

// Execute evaluates the formula against every row in order. A failing row
// never stops the batch: it yields a nil value and, unless the failure is a
// division by zero, a "Row <n>: <reason>" message with n counted from 1.
func Execute(parsed *ParsedFormula, rows []models.Row) CalculationResult {
	result := CalculationResult{
		Values: make([]*float64, 0, len(rows)),
		Errors: []string{},
	}

	for i, row := range rows {
		outcome := EvaluateRow(parsed, row)
		result.Values = append(result.Values, outcome.Ptr())

		if msg := RowErrorMessage(i, outcome.Err); msg != "" {
			result.Errors = append(result.Errors, msg)
		}
	}

	return result
}

// RowErrorMessage formats the message reported for the row at index i.
// It returns "" for successful rows and for division by zero.
func RowErrorMessage(i int, err error) string {
	if err == nil || errors.Is(err, ErrDivisionByZero) {
		return ""
	}
	return fmt.Sprintf("Row %d: %s", i+1, err.Error())
}

// ToNumber converts a cell value to a float64. Numeric strings are parsed,
// booleans count as 1 and 0; anything else is not numeric.
func ToNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		return parseNumeric(v)
	case []byte:
		return parseNumeric(string(v))
	}
	return 0, false
}

func parseNumeric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
