package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitebski/calc-columns/internal/calculator"
	"github.com/vitebski/calc-columns/internal/connector"
	"github.com/vitebski/calc-columns/internal/formula"
	"github.com/vitebski/calc-columns/internal/store"
	"github.com/vitebski/calc-columns/internal/uploads"
	"github.com/vitebski/calc-columns/pkg/models"
)

type stubService struct {
	validate    func(userID, uploadID int64, f string) (formula.ValidationResult, error)
	preview     func(userID, uploadID int64, f string) (formula.PreviewResult, error)
	execute     func(userID, uploadID int64, f string, limit, offset int) (formula.CalculationResult, error)
	save        func(userID, uploadID int64, name, f string) (*models.CalculatedColumn, error)
	list        func(userID, uploadID int64) ([]models.CalculatedColumn, error)
	del         func(userID, columnID int64) error
	materialize func(userID, uploadID int64, limit, offset int) (*models.MaterializedData, error)
}

func (s *stubService) Validate(_ context.Context, userID, uploadID int64, f string) (formula.ValidationResult, error) {
	return s.validate(userID, uploadID, f)
}

func (s *stubService) Preview(_ context.Context, userID, uploadID int64, f string) (formula.PreviewResult, error) {
	return s.preview(userID, uploadID, f)
}

func (s *stubService) Execute(_ context.Context, userID, uploadID int64, f string, limit, offset int) (formula.CalculationResult, error) {
	return s.execute(userID, uploadID, f, limit, offset)
}

func (s *stubService) Save(_ context.Context, userID, uploadID int64, name, f string) (*models.CalculatedColumn, error) {
	return s.save(userID, uploadID, name, f)
}

func (s *stubService) List(_ context.Context, userID, uploadID int64) ([]models.CalculatedColumn, error) {
	return s.list(userID, uploadID)
}

func (s *stubService) Delete(_ context.Context, userID, columnID int64) error {
	return s.del(userID, columnID)
}

func (s *stubService) Materialize(_ context.Context, userID, uploadID int64, limit, offset int) (*models.MaterializedData, error) {
	return s.materialize(userID, uploadID, limit, offset)
}

func newTestRouter(svc CalculationService) http.Handler {
	logger, _ := test.NewNullLogger()
	return NewRouter(NewHandler(svc, 0, logger), logger)
}

func do(t *testing.T, h http.Handler, method, path, body string, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthNeedsNoUser(t *testing.T) {
	rec := do(t, newTestRouter(&stubService{}), http.MethodGet, "/health", "", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPIRequiresUser(t *testing.T) {
	router := newTestRouter(&stubService{})

	for _, userID := range []string{"", "abc", "0", "-4"} {
		rec := do(t, router, http.MethodPost, "/api/calculations/validate", `{"formula":"a"}`, userID)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "user %q", userID)
		assert.Equal(t, "unauthorized", decodeBody(t, rec)["error"])
	}
}

func TestValidateEndpoint(t *testing.T) {
	router := newTestRouter(&stubService{})

	rec := do(t, router, http.MethodPost, "/api/calculations/validate",
		`{"formula":"price * missing_col","columns":["price","quantity"]}`, "1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isValid":false,"errors":["Column 'missing_col' not found in dataset"],"warnings":[]}`, rec.Body.String())
}

func TestValidateEndpointRejectsOversizedFormula(t *testing.T) {
	router := newTestRouter(&stubService{})

	body := `{"formula":"` + strings.Repeat("-", 1<<20) + `price","columns":["price"]}`
	rec := do(t, router, http.MethodPost, "/api/calculations/validate", body, "1")

	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody(t, rec)
	assert.Equal(t, false, result["isValid"])
	assert.Contains(t, fmt.Sprint(result["errors"]), "formula is too long")
}

func TestPreviewEndpointUsesRowKeys(t *testing.T) {
	router := newTestRouter(&stubService{})

	body := `{"formula":"(High + Low) / 2","rows":[{"High":10,"Low":8},{"High":12,"Low":9},{"High":"bad","Low":5}]}`
	rec := do(t, router, http.MethodPost, "/api/calculations/preview", body, "1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"columnName": "",
		"formula": "(High + Low) / 2",
		"previewValues": [9, 10.5, null],
		"errors": ["Row 3: Invalid calculation result"]
	}`, rec.Body.String())
}

func TestInvalidJSONBody(t *testing.T) {
	rec := do(t, newTestRouter(&stubService{}), http.MethodPost, "/api/calculations/validate", `{"formula":`, "1")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
}

func TestSaveColumnCreated(t *testing.T) {
	svc := &stubService{
		save: func(userID, uploadID int64, name, f string) (*models.CalculatedColumn, error) {
			assert.Equal(t, int64(7), userID)
			assert.Equal(t, int64(3), uploadID)
			return &models.CalculatedColumn{ID: 1, UserID: userID, UploadID: uploadID, ColumnName: name, Formula: f}, nil
		},
	}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/uploads/3/calculated-columns",
		`{"columnName":"Mid","formula":"(High + Low) / 2"}`, "7")

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Mid", body["columnName"])
	assert.Equal(t, "(High + Low) / 2", body["formula"])
}

func TestSaveColumnValidationError(t *testing.T) {
	svc := &stubService{
		save: func(int64, int64, string, string) (*models.CalculatedColumn, error) {
			return nil, &calculator.ValidationFailedError{Errors: []string{"Column 'missing_col' not found in dataset"}}
		},
	}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/uploads/3/calculated-columns",
		`{"columnName":"Bad","formula":"missing_col"}`, "7")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{
		"error": "validation_error",
		"message": "Formula validation failed",
		"errors": ["Column 'missing_col' not found in dataset"]
	}`, rec.Body.String())
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"upload missing", uploads.ErrNotFound, http.StatusNotFound, "not_found"},
		{"duplicate", fmt.Errorf("column 'Mid': %w", store.ErrDuplicateColumn), http.StatusConflict, "duplicate_column"},
		{"bad name", store.ErrInvalidColumnName, http.StatusBadRequest, "invalid_request"},
		{"database", &store.PersistenceError{Op: "save", Err: fmt.Errorf("gone")}, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				save: func(int64, int64, string, string) (*models.CalculatedColumn, error) { return nil, tt.err },
			}
			rec := do(t, newTestRouter(svc), http.MethodPost, "/api/uploads/3/calculated-columns",
				`{"columnName":"Mid","formula":"High"}`, "7")

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody(t, rec)["error"])
		})
	}
}

func TestListColumns(t *testing.T) {
	svc := &stubService{
		list: func(userID, uploadID int64) ([]models.CalculatedColumn, error) {
			return []models.CalculatedColumn{
				{ID: 2, ColumnName: "Range", Formula: "High - Low"},
				{ID: 1, ColumnName: "Mid", Formula: "(High + Low) / 2"},
			}, nil
		},
	}

	rec := do(t, newTestRouter(svc), http.MethodGet, "/api/uploads/3/calculated-columns", "", "7")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
	assert.Len(t, body["columns"], 2)
}

func TestInvalidUploadID(t *testing.T) {
	rec := do(t, newTestRouter(&stubService{}), http.MethodGet, "/api/uploads/abc/calculated-columns", "", "7")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecutePaging(t *testing.T) {
	var gotLimit, gotOffset int
	svc := &stubService{
		execute: func(_, _ int64, _ string, limit, offset int) (formula.CalculationResult, error) {
			gotLimit, gotOffset = limit, offset
			v := 3.0
			return formula.CalculationResult{Values: []*float64{&v}, Errors: []string{}}, nil
		},
	}
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodPost, "/api/uploads/3/calculations/execute?limit=5000&offset=20", `{"formula":"High"}`, "7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uploads.MaxPageSize, gotLimit)
	assert.Equal(t, 20, gotOffset)
	assert.JSONEq(t, `{"values":[3],"errors":[]}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/uploads/3/calculations/execute?limit=-1", `{"formula":"High"}`, "7")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadData(t *testing.T) {
	svc := &stubService{
		materialize: func(_, _ int64, limit, offset int) (*models.MaterializedData, error) {
			return &models.MaterializedData{
				Columns:           []string{"High", "Low"},
				CalculatedColumns: []string{"Mid"},
				Rows:              []models.Row{{"High": 10, "Low": 8, "Mid": 9.0}},
				Errors:            map[string][]string{},
			}, nil
		},
	}

	rec := do(t, newTestRouter(svc), http.MethodGet, "/api/uploads/3/data?limit=10", "", "7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"columns": ["High", "Low"],
		"calculatedColumns": ["Mid"],
		"rows": [{"High": 10, "Low": 8, "Mid": 9}],
		"errors": {}
	}`, rec.Body.String())
}

// The delete route runs against the real service and store so the owner
// scoping in the SQL statement is exercised end to end.
func TestDeleteColumnIsOwnerScoped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, _ := test.NewNullLogger()
	conn := connector.NewFromDB(db, "calc", logger)
	svc := calculator.NewService(uploads.NewRepository(conn, logger), store.NewCalculatedColumnStore(conn, logger), logger)
	router := NewRouter(NewHandler(svc, 0, logger), logger)

	mock.ExpectExec("DELETE FROM calculated_columns WHERE id = \\? AND user_id = \\?").
		WithArgs(int64(5), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM calculated_columns WHERE id = \\? AND user_id = \\?").
		WithArgs(int64(5), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := do(t, router, http.MethodDelete, "/api/calculated-columns/5", "", "2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Calculated column not found or access denied", decodeBody(t, rec)["message"])

	rec = do(t, router, http.MethodDelete, "/api/calculated-columns/5", "", "1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	assert.NoError(t, mock.ExpectationsWereMet())
}
