package plugin

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// CSVParser is the generic parser for column-oriented CSV sources. It expects
// a header row and maps the well-known column names onto the row schema;
// unknown columns are ignored.
type CSVParser struct{}

// ID returns the plugin tag.
func (p *CSVParser) ID() string { return "generic_csv" }

// Parse reads the CSV body into raw rows. A value column and at least one of
// obs_time or obs_date are required.
func (p *CSVParser) Parse(body []byte, cfg types.DatasetConfig) ([]types.Row, error) {
	reader := csv.NewReader(bytes.NewReader(body))
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv body is empty")
	}

	header := records[0]
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	valueIdx, ok := columns["value"]
	if !ok {
		return nil, fmt.Errorf("csv header missing value column")
	}
	timeIdx, hasTime := columns["obs_time"]
	dateIdx, hasDate := columns["obs_date"]
	if !hasTime && !hasDate {
		return nil, fmt.Errorf("csv header missing obs_time and obs_date columns")
	}
	seriesIdx, hasSeries := columns["internal_series_code"]
	freqIdx, hasFreq := columns["frequency"]
	unitIdx, hasUnit := columns["unit"]

	rows := make([]types.Row, 0, len(records)-1)
	for n, rec := range records[1:] {
		var row types.Row
		row.Value, err = strconv.ParseFloat(strings.TrimSpace(rec[valueIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: parsing value: %w", n+2, err)
		}
		if hasTime {
			row.ObsTime, err = parseTimestamp(rec[timeIdx])
			if err != nil {
				return nil, fmt.Errorf("csv line %d: parsing obs_time: %w", n+2, err)
			}
		}
		if hasDate {
			row.ObsDate, err = parseDate(rec[dateIdx])
			if err != nil {
				return nil, fmt.Errorf("csv line %d: parsing obs_date: %w", n+2, err)
			}
		}
		if hasSeries {
			row.InternalSeriesCode = strings.TrimSpace(rec[seriesIdx])
		}
		if hasFreq {
			row.Frequency = strings.TrimSpace(rec[freqIdx])
		}
		if hasUnit {
			row.Unit = strings.TrimSpace(rec[unitIdx])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseTimestamp accepts RFC3339 or a bare date.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// parseDate accepts a bare date.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
