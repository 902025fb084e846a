package generator

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/jaswdr/faker"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/calc-columns/pkg/models"
)

// OHLCVColumns is the column set of every generated upload
var OHLCVColumns = []string{"Date", "Symbol", "Open", "High", "Low", "Close", "Volume"}

var defaultSymbols = []string{"AAPL", "MSFT", "NVDA", "AMZN", "TSLA", "BTCUSD", "ETHUSD", "EURUSD"}

// MissingValue is written into cells chosen by Options.BadCellRate
const MissingValue = "N/A"

// Options controls the generated series
type Options struct {
	Symbol      string
	Start       time.Time
	StartPrice  float64
	BadCellRate float64
}

// DataGenerator generates synthetic daily trading rows
type DataGenerator struct {
	Faker  faker.Faker
	Rand   *rand.Rand
	Logger *logrus.Logger
}

// NewDataGenerator creates a new data generator. A zero seed uses the clock.
func NewDataGenerator(seed int64, logger *logrus.Logger) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{
		Faker:  faker.NewWithSeed(rand.NewSource(seed)),
		Rand:   rand.New(rand.NewSource(seed)),
		Logger: logger,
	}
}

// GenerateRows returns n consecutive daily OHLCV rows as a random walk.
// High is never below Open or Close and Low is never above them.
func (dg *DataGenerator) GenerateRows(n int, opts Options) []models.Row {
	symbol := opts.Symbol
	if symbol == "" {
		symbol = dg.Faker.RandomStringElement(defaultSymbols)
	}
	start := opts.Start
	if start.IsZero() {
		start = dg.Faker.Time().TimeBetween(
			time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		).Truncate(24 * time.Hour)
	}
	price := opts.StartPrice
	if price <= 0 {
		price = dg.Faker.Float64(2, 20, 500)
	}

	rows := make([]models.Row, 0, n)
	for i := 0; i < n; i++ {
		open := price
		change := dg.Faker.Float64(4, -300, 300) / 10000
		closePrice := open * (1 + change)

		high := math.Max(open, closePrice) * (1 + dg.Faker.Float64(4, 0, 200)/10000)
		low := math.Min(open, closePrice) * (1 - dg.Faker.Float64(4, 0, 200)/10000)

		row := models.Row{
			"Date":   start.AddDate(0, 0, i).Format("2006-01-02"),
			"Symbol": strings.ToUpper(symbol),
			"Open":   round2(open),
			"High":   round2(high),
			"Low":    round2(low),
			"Close":  round2(closePrice),
			"Volume": dg.Faker.Int64Between(10000, 5000000),
		}

		if opts.BadCellRate > 0 && dg.Rand.Float64() < opts.BadCellRate {
			numeric := OHLCVColumns[2:]
			row[numeric[dg.Rand.Intn(len(numeric))]] = MissingValue
		}

		rows = append(rows, row)
		price = closePrice
	}

	dg.Logger.Debugf("Generated %d %s rows starting %s", n, symbol, start.Format("2006-01-02"))
	return rows
}

// Filename returns a plausible CSV name for a generated upload
func (dg *DataGenerator) Filename(symbol string) string {
	return strings.ToLower(symbol) + "_" + dg.Faker.Lorem().Word() + ".csv"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
