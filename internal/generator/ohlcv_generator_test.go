package generator

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitebski/calc-columns/internal/formula"
)

func newTestGenerator() *DataGenerator {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewDataGenerator(42, logger)
}

func TestGenerateRowsShape(t *testing.T) {
	dg := newTestGenerator()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := dg.GenerateRows(30, Options{Symbol: "aapl", Start: start, StartPrice: 100})
	require.Len(t, rows, 30)

	assert.Equal(t, "2024-01-01", rows[0]["Date"])
	assert.Equal(t, "2024-01-30", rows[29]["Date"])
	assert.Equal(t, 100.0, rows[0]["Open"])

	for i, row := range rows {
		for _, col := range OHLCVColumns {
			assert.Contains(t, row, col)
		}
		assert.Equal(t, "AAPL", row["Symbol"])

		open, high, low, closePrice := row["Open"].(float64), row["High"].(float64), row["Low"].(float64), row["Close"].(float64)
		assert.GreaterOrEqual(t, high, open, "row %d", i)
		assert.GreaterOrEqual(t, high, closePrice, "row %d", i)
		assert.LessOrEqual(t, low, open, "row %d", i)
		assert.LessOrEqual(t, low, closePrice, "row %d", i)
		assert.Positive(t, row["Volume"].(int64))
	}
}

func TestGenerateRowsDefaults(t *testing.T) {
	rows := newTestGenerator().GenerateRows(3, Options{})
	require.Len(t, rows, 3)
	assert.NotEmpty(t, rows[0]["Symbol"])
	assert.NotEmpty(t, rows[0]["Date"])
}

func TestGenerateRowsBadCells(t *testing.T) {
	rows := newTestGenerator().GenerateRows(20, Options{Symbol: "X", BadCellRate: 1})

	parsed, err := formula.Parse("(High + Low + Open + Close + Volume) / 5")
	require.NoError(t, err)

	result := formula.Execute(parsed, rows)
	assert.Len(t, result.Values, 20)
	assert.Len(t, result.Errors, 20)
	for _, v := range result.Values {
		assert.Nil(t, v)
	}
}

func TestGeneratedRowsWorkWithFormulas(t *testing.T) {
	rows := newTestGenerator().GenerateRows(10, Options{Symbol: "MSFT"})

	preview := formula.Preview("(High + Low) / 2", rows, OHLCVColumns)
	require.Len(t, preview.PreviewValues, 10)
	assert.Empty(t, preview.Errors)
	for _, v := range preview.PreviewValues {
		require.NotNil(t, v)
		assert.Positive(t, *v)
	}
}

func TestFilename(t *testing.T) {
	name := newTestGenerator().Filename("NVDA")
	assert.Regexp(t, `^nvda_\w+\.csv$`, name)
}
