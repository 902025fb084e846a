package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/vitebski/calc-columns/internal/analyzer"
	"github.com/vitebski/calc-columns/internal/formula"
	"github.com/vitebski/calc-columns/pkg/models"
)

func TestSetupLogging(t *testing.T) {
	t.Setenv("CALC_LOG_LEVEL", "")

	logger := SetupLogging("")
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected default log level to be info, got %s", logger.Level)
	}

	logger = SetupLogging("debug")
	if logger.Level != logrus.DebugLevel {
		t.Errorf("Expected log level to be debug, got %s", logger.Level)
	}

	logger = SetupLogging("warn")
	if logger.Level != logrus.WarnLevel {
		t.Errorf("Expected log level to be warn, got %s", logger.Level)
	}

	logger = SetupLogging("invalid")
	if logger.Level != logrus.InfoLevel {
		t.Errorf("Expected log level to be info for invalid input, got %s", logger.Level)
	}

	t.Setenv("CALC_LOG_LEVEL", "error")
	logger = SetupLogging("")
	if logger.Level != logrus.ErrorLevel {
		t.Errorf("Expected log level from CALC_LOG_LEVEL to be error, got %s", logger.Level)
	}
}

func TestLoadEnvironmentVariables(t *testing.T) {
	logger, _ := test.NewNullLogger()
	// godotenv does not override variables that are already set
	for _, key := range []string{"MYSQL_HOST", "MYSQL_USER", "MYSQL_DATABASE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	envFile := filepath.Join(t.TempDir(), ".env")
	if LoadEnvironmentVariables(envFile, logger) {
		t.Error("Expected missing variables to be reported")
	}

	content := "MYSQL_HOST=db\nMYSQL_USER=calc\nMYSQL_DATABASE=calc\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if !LoadEnvironmentVariables(envFile, logger) {
		t.Error("Expected variables from the env file to be loaded")
	}
	if os.Getenv("MYSQL_HOST") != "db" {
		t.Errorf("Expected MYSQL_HOST to be db, got %q", os.Getenv("MYSQL_HOST"))
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "42")
	if value := GetEnvInt("TEST_ENV_INT", 10); value != 42 {
		t.Errorf("Expected value to be 42, got %d", value)
	}

	t.Setenv("TEST_ENV_INT", "")
	if value := GetEnvInt("TEST_ENV_INT", 10); value != 10 {
		t.Errorf("Expected value to be 10 (default), got %d", value)
	}

	t.Setenv("TEST_ENV_INT", "not-an-int")
	if value := GetEnvInt("TEST_ENV_INT", 10); value != 10 {
		t.Errorf("Expected value to be 10 (default) for invalid input, got %d", value)
	}
}

func TestValidateConnectionParams(t *testing.T) {
	logger, _ := test.NewNullLogger()

	if !ValidateConnectionParams("localhost", "user", "password", "database", "3306", logger) {
		t.Error("Expected validation to pass with valid parameters")
	}
	if ValidateConnectionParams("", "user", "password", "database", "3306", logger) {
		t.Error("Expected validation to fail with missing host")
	}
	if ValidateConnectionParams("localhost", "", "password", "database", "3306", logger) {
		t.Error("Expected validation to fail with missing user")
	}
	if ValidateConnectionParams("localhost", "user", "password", "", "3306", logger) {
		t.Error("Expected validation to fail with missing database")
	}
	if ValidateConnectionParams("localhost", "user", "password", "database", "not-a-port", logger) {
		t.Error("Expected validation to fail with invalid port")
	}
	if !ValidateConnectionParams("localhost", "user", "", "database", "3306", logger) {
		t.Error("Expected validation to pass with empty password")
	}
}

func TestFormatValue(t *testing.T) {
	v := 10.5
	if got := FormatValue(&v); got != "10.5" {
		t.Errorf("Expected 10.5, got %s", got)
	}
	if got := FormatValue(nil); got != "null" {
		t.Errorf("Expected null, got %s", got)
	}
}

func TestPrintValidationReport(t *testing.T) {
	var buf bytes.Buffer
	PrintValidationReport(&buf, "price * missing_col", formula.Validate("price * missing_col", []string{"price"}))

	out := buf.String()
	if !strings.Contains(out, "Column 'missing_col' not found in dataset") {
		t.Errorf("Expected unknown column error in report, got:\n%s", out)
	}
	if strings.Contains(out, "Formula is valid") {
		t.Errorf("Did not expect invalid formula to be reported valid:\n%s", out)
	}
}

func TestPrintPreviewReport(t *testing.T) {
	rows := []models.Row{
		{"High": 10.0, "Low": 8.0},
		{"High": "bad", "Low": 5.0},
	}
	var buf bytes.Buffer
	PrintPreviewReport(&buf, formula.Preview("(High + Low) / 2", rows, []string{"High", "Low"}))

	out := buf.String()
	for _, want := range []string{"  1. 9", "  2. null", "Row 2: Invalid calculation result"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in report, got:\n%s", want, out)
		}
	}
}

func TestPrintDependencyReport(t *testing.T) {
	logger, _ := test.NewNullLogger()
	da := analyzer.NewDependencyAnalyzer([]string{"High", "Low"}, []models.CalculatedColumn{
		{ID: 1, ColumnName: "Mid", Formula: "(High + Low) / 2"},
		{ID: 2, ColumnName: "A", Formula: "B"},
		{ID: 3, ColumnName: "B", Formula: "A"},
	}, logger)
	if err := da.Analyze(); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	PrintDependencyReport(&buf, da)

	out := buf.String()
	for _, want := range []string{"Calculated columns: 3", "Circular: 2", "A <-> B", "Mid (Base)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in report, got:\n%s", want, out)
		}
	}
}

func TestPrintMaterializeSummary(t *testing.T) {
	data := &models.MaterializedData{
		Columns:           []string{"High", "Low"},
		CalculatedColumns: []string{"Mid"},
		Rows: []models.Row{
			{"High": 10.0, "Low": 8.0, "Mid": 9.0},
			{"High": "bad", "Low": 5.0, "Mid": nil},
		},
		Errors: map[string][]string{"Mid": {"Row 2: Invalid calculation result"}},
	}

	var buf bytes.Buffer
	PrintMaterializeSummary(&buf, data)

	lines := strings.Split(buf.String(), "\n")
	if lines[0] != "High\tLow\tMid" {
		t.Errorf("Unexpected header %q", lines[0])
	}
	if lines[1] != "10\t8\t9" {
		t.Errorf("Unexpected first row %q", lines[1])
	}
	if lines[2] != "bad\t5\t" {
		t.Errorf("Unexpected second row %q", lines[2])
	}
	if !strings.Contains(buf.String(), "Mid (1):") {
		t.Errorf("Expected error section, got:\n%s", buf.String())
	}
}
