// Package uploads stores ingested CSV data: the upload record with its
// ordered column set and one JSON document per row.
package uploads

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/calc-columns/internal/connector"
	"github.com/vitebski/calc-columns/pkg/models"
)

const (
	// DefaultBatchSize is the number of rows inserted per prepared batch
	DefaultBatchSize = 100
	// MaxPageSize caps the rows returned by a single GetRows call
	MaxPageSize = 1000
)

var (
	// ErrNotFound is returned when the upload does not exist or belongs to another user
	ErrNotFound = errors.New("upload not found")
	// ErrNoColumns is returned when creating an upload without a column set
	ErrNoColumns = errors.New("upload must have at least one column")
)

// Repository reads and writes uploads
type Repository struct {
	DB        *connector.DatabaseConnector
	BatchSize int
	Logger    *logrus.Logger
}

// NewRepository creates a new upload repository
func NewRepository(db *connector.DatabaseConnector, logger *logrus.Logger) *Repository {
	return &Repository{
		DB:        db,
		BatchSize: DefaultBatchSize,
		Logger:    logger,
	}
}

// Create stores the upload and its rows in one transaction. Rows are
// written in batches of BatchSize.
func (r *Repository) Create(ctx context.Context, userID int64, filename string, columns []string, rows []models.Row) (*models.Upload, error) {
	if len(columns) == 0 {
		return nil, ErrNoColumns
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return nil, fmt.Errorf("duplicate column %q in upload", c)
		}
		seen[c] = true
	}

	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return nil, fmt.Errorf("encoding column names: %w", err)
	}

	upload := &models.Upload{
		UserID:      userID,
		Filename:    filename,
		ColumnNames: columns,
		RowCount:    len(rows),
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}

	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	err = r.DB.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO uploads (user_id, filename, column_names, row_count, created_at) VALUES (?, ?, ?, ?, ?)",
			userID, filename, string(columnsJSON), len(rows), upload.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting upload: %w", err)
		}
		if upload.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading upload id: %w", err)
		}

		var paramsList [][]interface{}
		for i, row := range rows {
			data, err := json.Marshal(row)
			if err != nil {
				return fmt.Errorf("encoding row %d: %w", i+1, err)
			}
			paramsList = append(paramsList, []interface{}{upload.ID, i, string(data)})

			if len(paramsList) >= batchSize || i == len(rows)-1 {
				if _, err := connector.ExecuteManyTx(ctx, tx, "INSERT INTO upload_rows (upload_id, row_index, data) VALUES (?, ?, ?)", paramsList); err != nil {
					return fmt.Errorf("inserting rows: %w", err)
				}
				paramsList = nil
			}
		}
		return nil
	})
	if err != nil {
		r.Logger.Errorf("Error creating upload %s: %v", filename, err)
		return nil, err
	}

	r.Logger.Infof("Stored upload %d (%s) with %d rows", upload.ID, filename, len(rows))
	return upload, nil
}

// Get returns the upload if it belongs to userID
func (r *Repository) Get(ctx context.Context, userID, uploadID int64) (*models.Upload, error) {
	result, err := r.DB.ExecuteQuery(ctx,
		"SELECT id, user_id, filename, column_names, row_count, created_at FROM uploads WHERE id = ? AND user_id = ?",
		uploadID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading upload %d: %w", uploadID, err)
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return uploadFromRow(result[0])
}

// List returns the user's uploads, newest first
func (r *Repository) List(ctx context.Context, userID int64) ([]models.Upload, error) {
	result, err := r.DB.ExecuteQuery(ctx,
		"SELECT id, user_id, filename, column_names, row_count, created_at FROM uploads WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}

	uploads := make([]models.Upload, 0, len(result))
	for _, row := range result {
		u, err := uploadFromRow(row)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, *u)
	}
	return uploads, nil
}

// GetColumnNames returns the ordered column set of the upload
func (r *Repository) GetColumnNames(ctx context.Context, userID, uploadID int64) ([]string, error) {
	upload, err := r.Get(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}
	return upload.ColumnNames, nil
}

// GetRows returns a page of the upload's rows in upload order
func (r *Repository) GetRows(ctx context.Context, userID, uploadID int64, limit, offset int) ([]models.Row, error) {
	limit, offset = ClampPage(limit, offset)

	result, err := r.DB.ExecuteQuery(ctx,
		`SELECT r.data FROM upload_rows r
		JOIN uploads u ON u.id = r.upload_id
		WHERE r.upload_id = ? AND u.user_id = ?
		ORDER BY r.row_index
		LIMIT ? OFFSET ?`,
		uploadID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("loading rows of upload %d: %w", uploadID, err)
	}

	rows := make([]models.Row, 0, len(result))
	for i, rec := range result {
		row, err := decodeRow(connector.StringValue(rec, "data"))
		if err != nil {
			r.Logger.Warningf("Skipping undecodable row %d of upload %d: %v", offset+i+1, uploadID, err)
			row = models.Row{}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ClampPage normalises paging parameters: a non-positive or oversized limit
// becomes MaxPageSize and a negative offset becomes 0
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func uploadFromRow(row map[string]interface{}) (*models.Upload, error) {
	id, err := connector.Int64Value(row, "id")
	if err != nil {
		return nil, err
	}
	userID, err := connector.Int64Value(row, "user_id")
	if err != nil {
		return nil, err
	}
	rowCount, err := connector.Int64Value(row, "row_count")
	if err != nil {
		return nil, err
	}

	var columns []string
	if err := json.Unmarshal([]byte(connector.StringValue(row, "column_names")), &columns); err != nil {
		return nil, fmt.Errorf("decoding column names of upload %d: %w", id, err)
	}

	return &models.Upload{
		ID:          id,
		UserID:      userID,
		Filename:    connector.StringValue(row, "filename"),
		ColumnNames: columns,
		RowCount:    int(rowCount),
		CreatedAt:   connector.TimeValue(row, "created_at"),
	}, nil
}

// decodeRow keeps numbers as json.Number so integer cells survive intact
func decodeRow(data string) (models.Row, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	row := models.Row{}
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}
