package connector

import (
	"fmt"
	"strconv"
	"time"
)

// Int64Value reads an integer column from a row returned by ExecuteQuery
func Int64Value(row map[string]interface{}, column string) (int64, error) {
	switch v := row[column].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case nil:
		return 0, fmt.Errorf("column %s is NULL", column)
	default:
		n, err := strconv.ParseInt(fmt.Sprintf("%v", v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", column, err)
		}
		return n, nil
	}
}

// StringValue reads a text column, returning "" for NULL
func StringValue(row map[string]interface{}, column string) string {
	switch v := row[column].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// TimeValue reads a DATETIME/TIMESTAMP column scanned with parseTime=true
func TimeValue(row map[string]interface{}, column string) time.Time {
	switch v := row[column].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
			return t
		}
	}
	return time.Time{}
}
