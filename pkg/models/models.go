package models

import "time"

// Row is one record of an upload, keyed by column name
type Row map[string]interface{}

// Clone returns a shallow copy of the row
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Upload represents one ingested CSV file and its column schema
type Upload struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	Filename    string    `json:"filename"`
	ColumnNames []string  `json:"columnNames"`
	RowCount    int       `json:"rowCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CalculatedColumn is a persisted formula definition scoped to an upload and its owner
type CalculatedColumn struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	UploadID   int64     `json:"uploadId"`
	ColumnName string    `json:"columnName"`
	Formula    string    `json:"formula"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ColumnCategory classifies a calculated column by its dependencies
type ColumnCategory int

const (
	// Base columns reference only upload columns
	Base ColumnCategory = iota
	// Derived columns reference other calculated columns
	Derived
	// Circular columns take part in a reference cycle
	Circular
	// Broken columns reference a column that no longer exists
	Broken
)

func (c ColumnCategory) String() string {
	switch c {
	case Base:
		return "Base"
	case Derived:
		return "Derived"
	case Circular:
		return "Circular"
	case Broken:
		return "Broken"
	}
	return "Unknown"
}

// MaterializedData holds upload rows extended with calculated column values
type MaterializedData struct {
	Columns           []string            `json:"columns"`
	CalculatedColumns []string            `json:"calculatedColumns"`
	Rows              []Row               `json:"rows"`
	Errors            map[string][]string `json:"errors"`
}
