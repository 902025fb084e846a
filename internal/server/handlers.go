package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/calc-columns/internal/calculator"
	"github.com/vitebski/calc-columns/internal/formula"
	"github.com/vitebski/calc-columns/internal/store"
	"github.com/vitebski/calc-columns/internal/uploads"
	"github.com/vitebski/calc-columns/pkg/models"
)

const maxBodyBytes = 10 << 20

// CalculationService is what the handlers need from the calculator
type CalculationService interface {
	Validate(ctx context.Context, userID, uploadID int64, f string) (formula.ValidationResult, error)
	Preview(ctx context.Context, userID, uploadID int64, f string) (formula.PreviewResult, error)
	Execute(ctx context.Context, userID, uploadID int64, f string, limit, offset int) (formula.CalculationResult, error)
	Save(ctx context.Context, userID, uploadID int64, columnName, f string) (*models.CalculatedColumn, error)
	List(ctx context.Context, userID, uploadID int64) ([]models.CalculatedColumn, error)
	Delete(ctx context.Context, userID, columnID int64) error
	Materialize(ctx context.Context, userID, uploadID int64, limit, offset int) (*models.MaterializedData, error)
}

var _ CalculationService = (*calculator.Service)(nil)

// Handler serves the calculated column API
type Handler struct {
	Service        CalculationService
	MaxRowsPerPage int
	Logger         *logrus.Logger
}

// NewHandler creates the API handler
func NewHandler(service CalculationService, maxRowsPerPage int, logger *logrus.Logger) *Handler {
	if maxRowsPerPage <= 0 || maxRowsPerPage > uploads.MaxPageSize {
		maxRowsPerPage = uploads.MaxPageSize
	}
	return &Handler{
		Service:        service,
		MaxRowsPerPage: maxRowsPerPage,
		Logger:         logger,
	}
}

type formulaRequest struct {
	Formula string       `json:"formula"`
	Columns []string     `json:"columns"`
	Rows    []models.Row `json:"rows"`
}

type saveColumnRequest struct {
	ColumnName string `json:"columnName"`
	Formula    string `json:"formula"`
}

type columnListResponse struct {
	Columns []models.CalculatedColumn `json:"columns"`
	Total   int                       `json:"total"`
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ValidateFormula validates a formula against a caller supplied column set
func (h *Handler) ValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req formulaRequest
	if !h.decode(w, r, &req) {
		return
	}
	_ = WriteJSON(w, http.StatusOK, formula.Validate(req.Formula, req.Columns))
}

// PreviewFormula previews a formula over caller supplied rows. Without an
// explicit column set the keys of the rows are used.
func (h *Handler) PreviewFormula(w http.ResponseWriter, r *http.Request) {
	var req formulaRequest
	if !h.decode(w, r, &req) {
		return
	}

	columns := req.Columns
	if len(columns) == 0 {
		columns = rowKeys(req.Rows)
	}
	_ = WriteJSON(w, http.StatusOK, formula.Preview(req.Formula, req.Rows, columns))
}

// ValidateForUpload validates a formula against an upload's columns
func (h *Handler) ValidateForUpload(w http.ResponseWriter, r *http.Request) {
	userID, uploadID, ok := h.uploadScope(w, r)
	if !ok {
		return
	}
	var req formulaRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Service.Validate(r.Context(), userID, uploadID, req.Formula)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, result)
}

// PreviewForUpload previews a formula over the first rows of an upload
func (h *Handler) PreviewForUpload(w http.ResponseWriter, r *http.Request) {
	userID, uploadID, ok := h.uploadScope(w, r)
	if !ok {
		return
	}
	var req formulaRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Service.Preview(r.Context(), userID, uploadID, req.Formula)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, result)
}

// ExecuteForUpload evaluates a formula over a page of an upload
func (h *Handler) ExecuteForUpload(w http.ResponseWriter, r *http.Request) {
	userID, uploadID, ok := h.uploadScope(w, r)
	if !ok {
		return
	}
	limit, offset, ok := h.page(w, r)
	if !ok {
		return
	}
	var req formulaRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.Service.Execute(r.Context(), userID, uploadID, req.Formula, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, result)
}

// ListColumns lists an upload's calculated columns, newest first
func (h *Handler) ListColumns(w http.ResponseWriter, r *http.Request) {
	userID, uploadID, ok := h.uploadScope(w, r)
	if !ok {
		return
	}

	columns, err := h.Service.List(r.Context(), userID, uploadID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, columnListResponse{Columns: columns, Total: len(columns)})
}

// SaveColumn validates and stores a calculated column
func (h *Handler) SaveColumn(w http.ResponseWriter, r *http.Request) {
	userID, uploadID, ok := h.uploadScope(w, r)
	if !ok {
		return
	}
	var req saveColumnRequest
	if !h.decode(w, r, &req) {
		return
	}

	col, err := h.Service.Save(r.Context(), userID, uploadID, req.ColumnName, req.Formula)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, col)
}

// DeleteColumn removes one of the caller's calculated columns
func (h *Handler) DeleteColumn(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	columnID, err := strconv.ParseInt(chi.URLParam(r, "columnID"), 10, 64)
	if err != nil || columnID <= 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid column id")
		return
	}

	if err := h.Service.Delete(r.Context(), userID, columnID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadData returns a page of upload rows with calculated columns filled in
func (h *Handler) UploadData(w http.ResponseWriter, r *http.Request) {
	userID, uploadID, ok := h.uploadScope(w, r)
	if !ok {
		return
	}
	limit, offset, ok := h.page(w, r)
	if !ok {
		return
	}

	data, err := h.Service.Materialize(r.Context(), userID, uploadID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, data)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) uploadScope(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, _ := UserIDFromContext(r.Context())
	uploadID, err := strconv.ParseInt(chi.URLParam(r, "uploadID"), 10, 64)
	if err != nil || uploadID <= 0 {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid upload id")
		return 0, 0, false
	}
	return userID, uploadID, true
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	limit, offset := h.MaxRowsPerPage, 0
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return 0, 0, false
		}
		if n < limit {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var validationErr *calculator.ValidationFailedError

	switch {
	case errors.As(err, &validationErr):
		_ = WriteJSON(w, http.StatusBadRequest, validationErrorBody{
			Error:   "validation_error",
			Message: "Formula validation failed",
			Errors:  validationErr.Errors,
		})
	case errors.Is(err, uploads.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "Upload not found")
	case errors.Is(err, store.ErrNotFound):
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", store.ErrNotFound.Error())
	case errors.Is(err, store.ErrDuplicateColumn):
		_ = ErrorResponse(w, http.StatusConflict, "duplicate_column", err.Error())
	case errors.Is(err, store.ErrInvalidColumnName), errors.Is(err, store.ErrEmptyFormula):
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.Logger.Errorf("Request failed: %v", err)
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// rowKeys returns the sorted union of the rows' keys
func rowKeys(rows []models.Row) []string {
	seen := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
