package types

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Row is a single normalized observation. The parquet tags define the event
// payload schema; key_hash is deliberately not part of it.
type Row struct {
	DatasetID          string      `parquet:"dataset_id" json:"dataset_id"`
	Provider           string      `parquet:"provider" json:"provider"`
	Frequency          string      `parquet:"frequency" json:"frequency"`
	Unit               string      `parquet:"unit" json:"unit"`
	SourceKind         SourceKind  `parquet:"source_kind" json:"source_kind"`
	ObsTime            time.Time   `parquet:"obs_time" json:"obs_time"`
	ObsDate            time.Time   `parquet:"obs_date" json:"obs_date"`
	Value              float64     `parquet:"value" json:"value"`
	InternalSeriesCode string      `parquet:"internal_series_code" json:"internal_series_code"`
	Version            string      `parquet:"version" json:"version"`
	VintageDate        time.Time   `parquet:"vintage_date" json:"vintage_date"`
	QualityFlag        QualityFlag `parquet:"quality_flag" json:"quality_flag"`
}

// Field returns the canonical string representation of a named column, used
// for primary-key hashing. The representation is part of the hash contract:
// changing it changes every key hash.
func (r Row) Field(name string) (string, bool) {
	switch name {
	case "dataset_id":
		return r.DatasetID, true
	case "provider":
		return r.Provider, true
	case "frequency":
		return r.Frequency, true
	case "unit":
		return r.Unit, true
	case "source_kind":
		return string(r.SourceKind), true
	case "obs_time":
		if r.ObsTime.IsZero() {
			return "", true
		}
		return r.ObsTime.UTC().Format(time.RFC3339), true
	case "obs_date":
		if r.ObsDate.IsZero() {
			return "", true
		}
		return r.ObsDate.UTC().Format("2006-01-02"), true
	case "value":
		return strconv.FormatFloat(r.Value, 'g', -1, 64), true
	case "internal_series_code":
		return r.InternalSeriesCode, true
	case "version":
		return r.Version, true
	case "vintage_date":
		if r.VintageDate.IsZero() {
			return "", true
		}
		return r.VintageDate.UTC().Format(time.RFC3339), true
	case "quality_flag":
		return string(r.QualityFlag), true
	}
	return "", false
}

// PartitionTime returns the timestamp used for year/month partitioning:
// obs_time when set, falling back to obs_date. The second return is false
// when the row has no date at all.
func (r Row) PartitionTime() (time.Time, bool) {
	if !r.ObsTime.IsZero() {
		return r.ObsTime, true
	}
	if !r.ObsDate.IsZero() {
		return r.ObsDate, true
	}
	return time.Time{}, false
}

// YearMonth identifies a single calendar month partition.
type YearMonth struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// YearMonthOf returns the partition of a timestamp in UTC.
func YearMonthOf(t time.Time) YearMonth {
	u := t.UTC()
	return YearMonth{Year: u.Year(), Month: int(u.Month())}
}

// String renders the partition as "YYYY-MM".
func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, ym.Month)
}

// Before reports whether ym sorts before other.
func (ym YearMonth) Before(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year < other.Year
	}
	return ym.Month < other.Month
}

// SortYearMonths sorts partitions ascending in place and returns the slice.
func SortYearMonths(yms []YearMonth) []YearMonth {
	sort.Slice(yms, func(i, j int) bool { return yms[i].Before(yms[j]) })
	return yms
}
