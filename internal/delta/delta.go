// Package delta computes which normalized rows have never been published:
// primary-key hashing, the anti-join against the index, and the index merge.
// The package is pure; it performs no I/O.
package delta

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// HashColumn is the name of the hash column in the primary-key index.
const HashColumn = "key_hash"

// KeyHash returns the SHA1 of the pipe-joined canonical string values of the
// primary-key columns. Stable across runs: any change to the key columns or
// their representation changes the hash.
func KeyHash(row types.Row, primaryKeys []string) (string, error) {
	values := make([]string, len(primaryKeys))
	for i, col := range primaryKeys {
		v, ok := row.Field(col)
		if !ok {
			return "", fmt.Errorf("primary key column %q not in row schema", col)
		}
		values[i] = v
	}
	sum := sha1.Sum([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// Result carries the outcome of a delta computation. Hashes runs parallel to
// Rows: Hashes[i] is the key hash of Rows[i]. The hash never travels with the
// row into storage.
type Result struct {
	Rows   []types.Row
	Hashes []string

	// UpdatedIndex is the deduplicated union of the prior index and the
	// delta's hashes, keeping first occurrence.
	UpdatedIndex []string

	// PriorIndex is the index snapshot the delta was computed against.
	PriorIndex []string
}

// Compute returns the rows of normalized whose key hash is absent from the
// current index, together with the merged index.
func Compute(normalized []types.Row, index []string, primaryKeys []string) (*Result, error) {
	if len(primaryKeys) == 0 {
		return nil, fmt.Errorf("at least one primary key column required")
	}

	existing := make(map[string]bool, len(index))
	for _, h := range index {
		existing[h] = true
	}

	res := &Result{PriorIndex: index}
	seen := make(map[string]bool, len(normalized))
	updated := append([]string(nil), index...)
	for _, h := range index {
		seen[h] = true
	}

	for _, row := range normalized {
		h, err := KeyHash(row, primaryKeys)
		if err != nil {
			return nil, err
		}
		if existing[h] {
			continue
		}
		res.Rows = append(res.Rows, row)
		res.Hashes = append(res.Hashes, h)
		if !seen[h] {
			seen[h] = true
			updated = append(updated, h)
		}
	}

	res.UpdatedIndex = updated
	return res, nil
}

// MergeIndex returns the deduplicated union of index and hashes, keeping the
// first occurrence of each hash.
func MergeIndex(index, hashes []string) []string {
	merged := append([]string(nil), index...)
	seen := make(map[string]bool, len(index)+len(hashes))
	for _, h := range index {
		seen[h] = true
	}
	for _, h := range hashes {
		if !seen[h] {
			seen[h] = true
			merged = append(merged, h)
		}
	}
	return merged
}
