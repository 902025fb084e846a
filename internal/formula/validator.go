package formula

import (
	"errors"
	"fmt"

	"github.com/vitebski/calc-columns/pkg/models"
)

// NoReferencesWarning is attached to formulas that reference no columns
const NoReferencesWarning = "Formula contains no column references"

// ValidationResult describes whether a formula can be used with a column set
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// UnknownColumnError formats the error reported for a column that is not
// part of the dataset
func UnknownColumnError(name string) string {
	return fmt.Sprintf("Column '%s' not found in dataset", name)
}

// Validate checks a formula against the columns known for a dataset. It
// never fails on bad input; problems are collected into the result.
func Validate(formula string, knownColumns []string) ValidationResult {
	result := ValidationResult{Errors: []string{}, Warnings: []string{}}

	parsed, err := Parse(formula)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	known := make(map[string]bool, len(knownColumns))
	for _, col := range knownColumns {
		known[col] = true
	}

	for _, v := range parsed.Variables {
		if !known[v] {
			result.Errors = append(result.Errors, UnknownColumnError(v))
		}
	}

	// dry run with every known column bound to 1; an unknown column would
	// only repeat the errors above
	if len(result.Errors) == 0 {
		sample := make(models.Row, len(knownColumns))
		for _, col := range knownColumns {
			sample[col] = 1.0
		}
		outcome := EvaluateRow(parsed, sample)
		if outcome.Err != nil && !errors.Is(outcome.Err, ErrDivisionByZero) && !errors.Is(outcome.Err, ErrInvalidResult) {
			result.Errors = append(result.Errors, fmt.Sprintf("Formula evaluation error: %s", outcome.Err.Error()))
		}
	}

	if len(parsed.Variables) == 0 {
		result.Warnings = append(result.Warnings, NoReferencesWarning)
	}

	result.IsValid = len(result.Errors) == 0
	return result
}
