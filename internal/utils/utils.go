package utils

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/calc-columns/internal/analyzer"
	"github.com/vitebski/calc-columns/internal/formula"
	"github.com/vitebski/calc-columns/pkg/models"
)

// SetupLogging configures the logging system. An empty level falls back to
// CALC_LOG_LEVEL and then to info.
func SetupLogging(logLevel string) *logrus.Logger {
	logger := logrus.New()

	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv("CALC_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetOutput(os.Stderr)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from envFile if it
// exists and reports whether every MYSQL_* variable needed to connect is set
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		}
	}

	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Debugf("Loaded environment variables from %s", envFile)
		}
	}

	var missingVars []string
	for _, v := range []string{"MYSQL_HOST", "MYSQL_USER", "MYSQL_DATABASE"} {
		if os.Getenv(v) == "" {
			missingVars = append(missingVars, v)
		}
	}

	if len(missingVars) > 0 {
		logger.Debugf("Missing environment variables: %s", strings.Join(missingVars, ", "))
		return false
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		for _, env := range os.Environ() {
			if !strings.HasPrefix(env, "MYSQL_") && !strings.HasPrefix(env, "CALC_") {
				continue
			}
			parts := strings.SplitN(env, "=", 2)
			if len(parts) != 2 {
				continue
			}
			if parts[0] == "MYSQL_PASSWORD" {
				logger.Debugf("%s=********", parts[0])
			} else {
				logger.Debugf("%s=%s", parts[0], parts[1])
			}
		}
	}

	return true
}

// GetEnvInt gets an integer value from environment variable
func GetEnvInt(varName string, defaultValue int) int {
	value := os.Getenv(varName)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// ValidateConnectionParams validates database connection parameters
func ValidateConnectionParams(host, user, password, database, port string, logger *logrus.Logger) bool {
	if host == "" {
		logger.Error("Database host is required")
		return false
	}

	if user == "" {
		logger.Error("Database user is required")
		return false
	}

	if password == "" {
		logger.Warning("Database password is empty")
	}

	if database == "" {
		logger.Error("Database name is required")
		return false
	}

	if _, err := strconv.Atoi(port); err != nil {
		logger.Errorf("Invalid port number: %s", port)
		return false
	}

	return true
}

func banner(w io.Writer, title string, width int) {
	fmt.Fprintln(w, "\n"+strings.Repeat("=", width))
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("=", width))
}

// FormatValue renders a calculated value for terminal output
func FormatValue(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// PrintValidationReport prints the outcome of validating a formula
func PrintValidationReport(w io.Writer, f string, result formula.ValidationResult) {
	banner(w, "FORMULA VALIDATION", 50)
	fmt.Fprintf(w, "Formula: %s\n", f)

	if result.IsValid {
		fmt.Fprintln(w, "✅ Formula is valid")
	} else {
		fmt.Fprintf(w, "❌ %d error(s):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintf(w, "⚠️  %d warning(s):\n", len(result.Warnings))
		for _, e := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", 50))
}

// PrintPreviewReport prints preview values one per row
func PrintPreviewReport(w io.Writer, result formula.PreviewResult) {
	banner(w, "FORMULA PREVIEW", 50)
	fmt.Fprintf(w, "Formula: %s\n", result.Formula)

	for i, v := range result.PreviewValues {
		fmt.Fprintf(w, "  %3d. %s\n", i+1, FormatValue(v))
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}

	fmt.Fprintln(w, strings.Repeat("=", 50))
}

// PrintDependencyReport prints how the calculated columns of an upload
// depend on each other and the order they are evaluated in
func PrintDependencyReport(w io.Writer, da *analyzer.DependencyAnalyzer) {
	counts := make(map[models.ColumnCategory]int)
	for _, c := range da.Categories {
		counts[c]++
	}

	banner(w, "CALCULATED COLUMN DEPENDENCY REPORT", 80)

	fmt.Fprintln(w, "\n1. BASIC STATISTICS")
	fmt.Fprintf(w, "   Upload columns: %d\n", len(da.BaseColumns))
	fmt.Fprintf(w, "   Calculated columns: %d\n", len(da.Columns))
	fmt.Fprintf(w, "   Base only: %d\n", counts[models.Base])
	fmt.Fprintf(w, "   Derived from other calculated columns: %d\n", counts[models.Derived])
	fmt.Fprintf(w, "   Circular: %d\n", counts[models.Circular])
	fmt.Fprintf(w, "   Broken: %d\n", counts[models.Broken])

	if len(da.CircularGroups) > 0 {
		fmt.Fprintln(w, "\n2. CIRCULAR REFERENCES")
		for _, group := range da.CircularGroups {
			fmt.Fprintf(w, "   %s\n", strings.Join(group, " <-> "))
		}
	}

	if len(da.Problems) > 0 {
		fmt.Fprintln(w, "\n3. PROBLEMS")
		names := make([]string, 0, len(da.Problems))
		for name := range da.Problems {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, p := range da.Problems[name] {
				fmt.Fprintf(w, "   %s: %s\n", name, p)
			}
		}
	}

	fmt.Fprintln(w, "\n4. EVALUATION ORDER")
	for i, name := range da.GetEvaluationOrder() {
		fmt.Fprintf(w, "   %3d. %s (%s)\n", i+1, name, da.Categories[name])
	}

	fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

// PrintMaterializeSummary prints a page of materialized rows as tab
// separated values followed by per column errors
func PrintMaterializeSummary(w io.Writer, data *models.MaterializedData) {
	header := append(append([]string{}, data.Columns...), data.CalculatedColumns...)
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, row := range data.Rows {
		cells := make([]string, len(header))
		for i, col := range header {
			switch v := row[col].(type) {
			case nil:
				cells[i] = ""
			case float64:
				cells[i] = strconv.FormatFloat(v, 'f', -1, 64)
			default:
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}

	if len(data.Errors) == 0 {
		return
	}

	banner(w, "CALCULATION ERRORS", 50)
	for _, col := range data.CalculatedColumns {
		errs := data.Errors[col]
		if len(errs) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s (%d):\n", col, len(errs))
		for _, e := range errs {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 50))
}
