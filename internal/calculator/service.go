// Package calculator runs formulas against stored uploads and manages the
// calculated columns defined on them.
package calculator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vitebski/calc-columns/internal/analyzer"
	"github.com/vitebski/calc-columns/internal/formula"
	"github.com/vitebski/calc-columns/internal/store"
	"github.com/vitebski/calc-columns/pkg/models"
)

// UploadSource provides the column set and rows of an upload
type UploadSource interface {
	GetColumnNames(ctx context.Context, userID, uploadID int64) ([]string, error)
	GetRows(ctx context.Context, userID, uploadID int64, limit, offset int) ([]models.Row, error)
}

// ValidationFailedError is returned when a formula is rejected on save or execute
type ValidationFailedError struct {
	Errors []string
}

func (e *ValidationFailedError) Error() string {
	return "formula validation failed: " + strings.Join(e.Errors, "; ")
}

// Service combines uploads, stored calculated columns and the formula engine
type Service struct {
	Uploads UploadSource
	Columns store.Store
	Logger  *logrus.Logger
}

// NewService creates a new calculator service
func NewService(uploads UploadSource, columns store.Store, logger *logrus.Logger) *Service {
	return &Service{
		Uploads: uploads,
		Columns: columns,
		Logger:  logger,
	}
}

// KnownColumns returns the names a formula on this upload may reference:
// the upload's own columns followed by its calculated columns
func (s *Service) KnownColumns(ctx context.Context, userID, uploadID int64) ([]string, []models.CalculatedColumn, error) {
	base, err := s.Uploads.GetColumnNames(ctx, userID, uploadID)
	if err != nil {
		return nil, nil, err
	}
	calculated, err := s.Columns.List(ctx, userID, uploadID)
	if err != nil {
		return nil, nil, err
	}

	known := make([]string, 0, len(base)+len(calculated))
	known = append(known, base...)
	for _, c := range calculated {
		known = append(known, c.ColumnName)
	}
	return known, calculated, nil
}

// Validate checks a formula against the upload's columns
func (s *Service) Validate(ctx context.Context, userID, uploadID int64, f string) (formula.ValidationResult, error) {
	known, _, err := s.KnownColumns(ctx, userID, uploadID)
	if err != nil {
		return formula.ValidationResult{}, err
	}
	return formula.Validate(f, known), nil
}

// Preview evaluates a formula over the first rows of the upload, with
// calculated columns already filled in
func (s *Service) Preview(ctx context.Context, userID, uploadID int64, f string) (formula.PreviewResult, error) {
	data, err := s.Materialize(ctx, userID, uploadID, formula.PreviewRowLimit, 0)
	if err != nil {
		return formula.PreviewResult{}, err
	}

	known := append(append([]string{}, data.Columns...), data.CalculatedColumns...)
	return formula.Preview(f, data.Rows, known), nil
}

// Execute validates a formula and evaluates it over a page of the upload
func (s *Service) Execute(ctx context.Context, userID, uploadID int64, f string, limit, offset int) (formula.CalculationResult, error) {
	data, err := s.Materialize(ctx, userID, uploadID, limit, offset)
	if err != nil {
		return formula.CalculationResult{}, err
	}

	known := append(append([]string{}, data.Columns...), data.CalculatedColumns...)
	validation := formula.Validate(f, known)
	if !validation.IsValid {
		return formula.CalculationResult{}, &ValidationFailedError{Errors: validation.Errors}
	}

	parsed, err := formula.Parse(f)
	if err != nil {
		return formula.CalculationResult{}, &ValidationFailedError{Errors: []string{err.Error()}}
	}
	return formula.Execute(parsed, data.Rows), nil
}

// Save validates the formula against the upload and stores the column.
// The name may not shadow an upload column or an existing calculated column.
func (s *Service) Save(ctx context.Context, userID, uploadID int64, columnName, f string) (*models.CalculatedColumn, error) {
	known, _, err := s.KnownColumns(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(columnName)
	for _, k := range known {
		if k == name {
			return nil, fmt.Errorf("column '%s': %w", name, store.ErrDuplicateColumn)
		}
	}

	validation := formula.Validate(f, known)
	if !validation.IsValid {
		s.Logger.Infof("Rejected formula for column %s on upload %d: %v", name, uploadID, validation.Errors)
		return nil, &ValidationFailedError{Errors: validation.Errors}
	}

	return s.Columns.Save(ctx, userID, uploadID, name, f)
}

// List returns the upload's calculated columns, newest first
func (s *Service) List(ctx context.Context, userID, uploadID int64) ([]models.CalculatedColumn, error) {
	if _, err := s.Uploads.GetColumnNames(ctx, userID, uploadID); err != nil {
		return nil, err
	}
	return s.Columns.List(ctx, userID, uploadID)
}

// Delete removes one of the user's calculated columns
func (s *Service) Delete(ctx context.Context, userID, columnID int64) error {
	return s.Columns.Delete(ctx, userID, columnID)
}

// Materialize returns a page of upload rows extended with every calculated
// column. Columns are evaluated in dependency order so later columns see
// the values of earlier ones. Circular or broken columns are nil in every
// row and their problems are listed under Errors.
func (s *Service) Materialize(ctx context.Context, userID, uploadID int64, limit, offset int) (*models.MaterializedData, error) {
	base, err := s.Uploads.GetColumnNames(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}
	calculated, err := s.Columns.List(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}
	rows, err := s.Uploads.GetRows(ctx, userID, uploadID, limit, offset)
	if err != nil {
		return nil, err
	}

	deps := analyzer.NewDependencyAnalyzer(base, calculated, s.Logger)
	if err := deps.Analyze(); err != nil {
		return nil, err
	}

	data := &models.MaterializedData{
		Columns:           base,
		CalculatedColumns: make([]string, 0, len(deps.Columns)),
		Rows:              make([]models.Row, len(rows)),
		Errors:            make(map[string][]string),
	}
	for _, c := range deps.Columns {
		data.CalculatedColumns = append(data.CalculatedColumns, c.ColumnName)
	}
	for i, row := range rows {
		data.Rows[i] = row.Clone()
	}

	if offset < 0 {
		offset = 0
	}

	for _, name := range deps.GetEvaluationOrder() {
		if !deps.Evaluable(name) {
			for _, row := range data.Rows {
				row[name] = nil
			}
			data.Errors[name] = append(data.Errors[name], deps.Problems[name]...)
			continue
		}

		parsed := deps.Parsed[name]
		for i, row := range data.Rows {
			outcome := formula.EvaluateRow(parsed, row)
			if outcome.OK() {
				row[name] = outcome.Value
			} else {
				row[name] = nil
			}
			if msg := formula.RowErrorMessage(offset+i, outcome.Err); msg != "" {
				data.Errors[name] = append(data.Errors[name], msg)
			}
		}
	}

	s.Logger.WithFields(logrus.Fields{
		"upload_id":  uploadID,
		"rows":       len(data.Rows),
		"calculated": len(data.CalculatedColumns),
	}).Debug("Materialized upload")
	return data, nil
}
