package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tidemark/internal/objectstore"
	"github.com/dwsmith1983/tidemark/internal/testutil"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestCatalog(t *testing.T) (*Catalog, *testutil.MemS3) {
	t.Helper()
	mem := testutil.NewMemS3()
	store, err := objectstore.New("test-bucket",
		objectstore.WithClient(mem),
		objectstore.WithLogger(testutil.DiscardLogger()),
		objectstore.WithRetryPolicy(objectstore.RetryPolicy{MaxAttempts: 1}),
	)
	require.NoError(t, err)
	cat := New(store,
		WithLogger(testutil.DiscardLogger()),
		WithClock(func() time.Time { return testNow }),
	)
	return cat, mem
}

func obsRow(series string, obs time.Time, value float64) types.Row {
	return types.Row{
		DatasetID:          "power-load",
		InternalSeriesCode: series,
		ObsTime:            obs,
		Value:              value,
	}
}

func TestWriteEvents_PartitionsByMonth(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	rows := []types.Row{
		obsRow("load", time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC), 1),
		obsRow("load", time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), 2),
		obsRow("load", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 3),
	}
	keys, months, err := cat.WriteEvents(ctx, "power-load", "2026-03-15T10-00-00", rows)
	require.NoError(t, err)

	require.Len(t, keys, 2)
	assert.Contains(t, keys[0], "year=2026/month=03/")
	assert.Contains(t, keys[1], "year=2026/month=04/")
	assert.Equal(t, []types.YearMonth{{Year: 2026, Month: 3}, {Year: 2026, Month: 4}}, months)

	march, err := cat.ReadEventRows(ctx, keys[0])
	require.NoError(t, err)
	assert.Len(t, march, 2)

	idx, err := cat.ReadEventIndex(ctx, "power-load", types.YearMonth{Year: 2026, Month: 4})
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, []string{"2026-03-15T10-00-00"}, idx.Versions)
	assert.Equal(t, 1, idx.EventCount)
}

func TestWriteEvents_DatelessRowsSingleFile(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	rows := []types.Row{{DatasetID: "ref-data", InternalSeriesCode: "a", Value: 1}}
	keys, months, err := cat.WriteEvents(ctx, "ref-data", "2026-03-15T10-00-00", rows)
	require.NoError(t, err)

	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], "year=")
	assert.Empty(t, months, "dateless datasets touch no month index")
}

func TestWriteEvents_EmptyDeltaNoop(t *testing.T) {
	cat, mem := newTestCatalog(t)
	keys, months, err := cat.WriteEvents(context.Background(), "power-load", "v", nil)
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, months)
	assert.Empty(t, mem.Keys())
}

func TestWriteEvents_RollbackOnPartitionFailure(t *testing.T) {
	cat, mem := newTestCatalog(t)
	ctx := context.Background()

	mem.PutErr = func(key string) error {
		if strings.Contains(key, "month=04") {
			return errors.New("injected put failure")
		}
		return nil
	}

	rows := []types.Row{
		obsRow("load", time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC), 1),
		obsRow("load", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 2),
	}
	_, _, err := cat.WriteEvents(ctx, "power-load", "2026-03-15T10-00-00", rows)
	require.Error(t, err)

	for _, key := range mem.Keys() {
		assert.NotContains(t, key, "part-0.parquet", "every event file must be rolled back")
	}
}

func TestWriteEvents_RollbackOnIndexFailure(t *testing.T) {
	cat, mem := newTestCatalog(t)
	ctx := context.Background()

	mem.PutErr = func(key string) error {
		if strings.Contains(key, "versions.json") {
			return errors.New("injected index failure")
		}
		return nil
	}

	rows := []types.Row{obsRow("load", time.Date(2026, 3, 30, 0, 0, 0, 0, time.UTC), 1)}
	_, _, err := cat.WriteEvents(ctx, "power-load", "2026-03-15T10-00-00", rows)
	require.Error(t, err)

	for _, key := range mem.Keys() {
		assert.NotContains(t, key, "part-0.parquet")
	}
}

func TestWriteEvents_AppendsToExistingIndex(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()
	march := types.YearMonth{Year: 2026, Month: 3}

	row1 := []types.Row{obsRow("load", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 1)}
	row2 := []types.Row{obsRow("load", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 2)}
	_, _, err := cat.WriteEvents(ctx, "power-load", "2026-03-01T10-00-00", row1)
	require.NoError(t, err)
	_, _, err = cat.WriteEvents(ctx, "power-load", "2026-03-02T10-00-00", row2)
	require.NoError(t, err)

	idx, err := cat.ReadEventIndex(ctx, "power-load", march)
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, []string{"2026-03-01T10-00-00", "2026-03-02T10-00-00"}, idx.Versions)
}

func TestListEventsForMonth_FallbackRebuildsIndex(t *testing.T) {
	cat, mem := newTestCatalog(t)
	ctx := context.Background()
	march := types.YearMonth{Year: 2026, Month: 3}

	rows := []types.Row{obsRow("load", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 1)}
	keys, _, err := cat.WriteEvents(ctx, "power-load", "2026-03-01T10-00-00", rows)
	require.NoError(t, err)

	// Simulate a lost index update: the event file exists, the index does not.
	mem.Remove(EventIndexKey("power-load", 2026, 3))

	listed, err := cat.ListEventsForMonth(ctx, "power-load", march)
	require.NoError(t, err)
	assert.Equal(t, keys, listed, "listing fallback finds the partition")

	idx, err := cat.ReadEventIndex(ctx, "power-load", march)
	require.NoError(t, err)
	require.NotNil(t, idx, "fallback rebuilds the index for next time")
	assert.Equal(t, []string{"2026-03-01T10-00-00"}, idx.Versions)
}

func TestListVersions_SkipsIndexPrefix(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	for _, v := range []string{"2026-03-01T10-00-00", "2026-03-02T10-00-00"} {
		day := 1
		if strings.Contains(v, "03-02") {
			day = 2
		}
		_, _, err := cat.WriteEvents(ctx, "power-load", v,
			[]types.Row{obsRow("load", time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC), 1)})
		require.NoError(t, err)
	}

	versions, err := cat.ListVersions(ctx, "power-load")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-01T10-00-00", "2026-03-02T10-00-00"}, versions)
}
