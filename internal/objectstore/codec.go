package objectstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// keyRecord is the single-column schema of index/keys.parquet.
type keyRecord struct {
	KeyHash string `parquet:"key_hash"`
}

// MarshalRows encodes rows as a Parquet file in memory.
func MarshalRows(rows []types.Row) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[types.Row](&buf)
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("writing parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalRows decodes a Parquet file into rows.
func UnmarshalRows(body []byte) ([]types.Row, error) {
	if len(body) == 0 {
		return nil, nil
	}
	rows, err := parquet.Read[types.Row](bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("reading parquet rows: %w", err)
	}
	return rows, nil
}

// MarshalKeys encodes primary-key hashes as the single-column index file.
func MarshalKeys(hashes []string) ([]byte, error) {
	records := make([]keyRecord, len(hashes))
	for i, h := range hashes {
		records[i] = keyRecord{KeyHash: h}
	}
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[keyRecord](&buf)
	if _, err := w.Write(records); err != nil {
		return nil, fmt.Errorf("writing parquet index: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalKeys decodes the index file back into hashes.
func UnmarshalKeys(body []byte) ([]string, error) {
	if len(body) == 0 {
		return nil, nil
	}
	records, err := parquet.Read[keyRecord](bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("reading parquet index: %w", err)
	}
	hashes := make([]string, len(records))
	for i, r := range records {
		hashes[i] = r.KeyHash
	}
	return hashes, nil
}

// MarshalJSON renders v the way every catalog JSON object is stored.
func MarshalJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// UnmarshalJSON decodes a stored catalog JSON object.
func UnmarshalJSON(body []byte, v any) error {
	return json.Unmarshal(body, v)
}
