// Package store persists calculated column definitions per upload and owner.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/calc-columns/internal/connector"
	"github.com/vitebski/calc-columns/pkg/models"
)

// MaxColumnNameLength matches the column_name VARCHAR size
const MaxColumnNameLength = 255

var (
	// ErrNotFound is returned when a column is missing or owned by someone else
	ErrNotFound = errors.New("Calculated column not found or access denied")
	// ErrDuplicateColumn is returned when the upload already has a column with that name
	ErrDuplicateColumn = errors.New("a column with this name already exists")
	// ErrInvalidColumnName is returned for empty, oversized or suspicious names
	ErrInvalidColumnName = errors.New("invalid column name")
	// ErrEmptyFormula is returned when saving a column without a formula
	ErrEmptyFormula = errors.New("formula cannot be empty")
)

// PersistenceError wraps a failed database operation
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("calculated column %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store is the persistence contract for calculated columns
type Store interface {
	Save(ctx context.Context, userID, uploadID int64, columnName, formula string) (*models.CalculatedColumn, error)
	List(ctx context.Context, userID, uploadID int64) ([]models.CalculatedColumn, error)
	GetByID(ctx context.Context, userID, columnID int64) (*models.CalculatedColumn, error)
	Delete(ctx context.Context, userID, columnID int64) error
}

// CalculatedColumnStore is the MySQL implementation of Store
type CalculatedColumnStore struct {
	DB     *connector.DatabaseConnector
	Logger *logrus.Logger
	now    func() time.Time
}

var _ Store = (*CalculatedColumnStore)(nil)

// NewCalculatedColumnStore creates a store backed by db
func NewCalculatedColumnStore(db *connector.DatabaseConnector, logger *logrus.Logger) *CalculatedColumnStore {
	return &CalculatedColumnStore{
		DB:     db,
		Logger: logger,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// CheckColumnName screens a column name before it is stored
func CheckColumnName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidColumnName)
	}
	if utf8.RuneCountInString(trimmed) > MaxColumnNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidColumnName, MaxColumnNameLength)
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(trimmed); isSQLi {
		return fmt.Errorf("%w: rejected pattern %s", ErrInvalidColumnName, fingerprint)
	}
	return nil
}

// Save inserts a new column definition. The formula is stored verbatim;
// validating it against the upload's columns is the caller's job.
func (s *CalculatedColumnStore) Save(ctx context.Context, userID, uploadID int64, columnName, formula string) (*models.CalculatedColumn, error) {
	if err := CheckColumnName(columnName); err != nil {
		s.Logger.Warningf("Rejected column name %q for upload %d: %v", columnName, uploadID, err)
		return nil, err
	}
	if strings.TrimSpace(formula) == "" {
		return nil, ErrEmptyFormula
	}

	col := &models.CalculatedColumn{
		UserID:     userID,
		UploadID:   uploadID,
		ColumnName: strings.TrimSpace(columnName),
		Formula:    formula,
		CreatedAt:  s.now(),
	}

	id, err := s.DB.ExecuteInsert(ctx,
		"INSERT INTO calculated_columns (user_id, upload_id, column_name, formula, created_at) VALUES (?, ?, ?, ?, ?)",
		col.UserID, col.UploadID, col.ColumnName, col.Formula, col.CreatedAt)
	if err != nil {
		if connector.IsDuplicateKey(err) {
			err = ErrDuplicateColumn
		}
		return nil, &PersistenceError{Op: "save", Err: err}
	}
	col.ID = id

	s.Logger.WithFields(logrus.Fields{
		"column_id": id,
		"upload_id": uploadID,
		"user_id":   userID,
	}).Infof("Saved calculated column %s", col.ColumnName)
	return col, nil
}

// List returns the user's columns for the upload, newest first
func (s *CalculatedColumnStore) List(ctx context.Context, userID, uploadID int64) ([]models.CalculatedColumn, error) {
	result, err := s.DB.ExecuteQuery(ctx,
		`SELECT id, user_id, upload_id, column_name, formula, created_at
		FROM calculated_columns
		WHERE user_id = ? AND upload_id = ?
		ORDER BY created_at DESC, id DESC`,
		userID, uploadID)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}

	columns := make([]models.CalculatedColumn, 0, len(result))
	for _, row := range result {
		col, err := columnFromRow(row)
		if err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		columns = append(columns, *col)
	}
	return columns, nil
}

// GetByID returns the column if it exists and belongs to userID
func (s *CalculatedColumnStore) GetByID(ctx context.Context, userID, columnID int64) (*models.CalculatedColumn, error) {
	result, err := s.DB.ExecuteQuery(ctx,
		`SELECT id, user_id, upload_id, column_name, formula, created_at
		FROM calculated_columns
		WHERE id = ? AND user_id = ?`,
		columnID, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}

	col, err := columnFromRow(result[0])
	if err != nil {
		return nil, &PersistenceError{Op: "get", Err: err}
	}
	return col, nil
}

// Delete removes the column only when it belongs to userID
func (s *CalculatedColumnStore) Delete(ctx context.Context, userID, columnID int64) error {
	affected, err := s.DB.ExecuteStatement(ctx,
		"DELETE FROM calculated_columns WHERE id = ? AND user_id = ?",
		columnID, userID)
	if err != nil {
		return &PersistenceError{Op: "delete", Err: err}
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.Logger.Infof("Deleted calculated column %d", columnID)
	return nil
}

func columnFromRow(row map[string]interface{}) (*models.CalculatedColumn, error) {
	id, err := connector.Int64Value(row, "id")
	if err != nil {
		return nil, err
	}
	userID, err := connector.Int64Value(row, "user_id")
	if err != nil {
		return nil, err
	}
	uploadID, err := connector.Int64Value(row, "upload_id")
	if err != nil {
		return nil, err
	}

	return &models.CalculatedColumn{
		ID:         id,
		UserID:     userID,
		UploadID:   uploadID,
		ColumnName: connector.StringValue(row, "column_name"),
		Formula:    connector.StringValue(row, "formula"),
		CreatedAt:  connector.TimeValue(row, "created_at"),
	}, nil
}
