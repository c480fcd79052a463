package marketdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pegmark/pegmark/internal/models"
)

// csvTimestampLayouts are tried in order when parsing the timestamp column.
var csvTimestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CSVProvider reads pre-downloaded candles from a CSV file with at least a
// timestamp and a price column.
type CSVProvider struct {
	path string
}

// NewCSVProvider creates a provider reading from the given file path.
func NewCSVProvider(path string) *CSVProvider {
	return &CSVProvider{path: path}
}

// LoadSeries reads and parses the CSV file, returning the series sorted
// ascending by timestamp.
func (p *CSVProvider) LoadSeries(ctx context.Context) ([]models.PricePoint, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV data file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	timestampCol, priceCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "timestamp":
			timestampCol = i
		case "price":
			priceCol = i
		}
	}
	if priceCol == -1 {
		return nil, fmt.Errorf("CSV %s needs a 'price' column", p.path)
	}
	if timestampCol == -1 {
		return nil, fmt.Errorf("CSV %s needs a 'timestamp' column", p.path)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV rows: %w", err)
	}

	series := make([]models.PricePoint, 0, len(records))
	for line, record := range records {
		ts, err := parseCSVTimestamp(record[timestampCol])
		if err != nil {
			return nil, fmt.Errorf("CSV row %d: %w", line+2, err)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(record[priceCol]), 64)
		if err != nil {
			return nil, fmt.Errorf("CSV row %d: invalid price %q", line+2, record[priceCol])
		}
		series = append(series, models.PricePoint{Timestamp: ts, Price: price})
	}

	sortSeries(series)
	return series, nil
}

func parseCSVTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range csvTimestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}
