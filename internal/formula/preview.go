package formula

import "github.com/vitebski/calc-columns/pkg/models"

// PreviewRowLimit is the number of rows a preview evaluates
const PreviewRowLimit = 10

// PreviewResult is the interactive feedback for a formula being edited
type PreviewResult struct {
	ColumnName    string     `json:"columnName"`
	Formula       string     `json:"formula"`
	PreviewValues []*float64 `json:"previewValues"`
	Errors        []string   `json:"errors"`
}

// Preview validates the formula and evaluates it against at most the first
// PreviewRowLimit rows. When validation fails no rows are evaluated and the
// validator's errors are returned instead.
func Preview(formula string, rows []models.Row, knownColumns []string) PreviewResult {
	result := PreviewResult{
		Formula:       formula,
		PreviewValues: []*float64{},
		Errors:        []string{},
	}

	validation := Validate(formula, knownColumns)
	if !validation.IsValid {
		result.Errors = validation.Errors
		return result
	}

	// Validate already parsed the formula successfully
	parsed, err := Parse(formula)
	if err != nil {
		result.Errors = []string{err.Error()}
		return result
	}

	if len(rows) > PreviewRowLimit {
		rows = rows[:PreviewRowLimit]
	}

	calc := Execute(parsed, rows)
	result.PreviewValues = calc.Values
	result.Errors = calc.Errors
	return result
}
