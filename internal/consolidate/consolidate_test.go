package consolidate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tidemark/internal/catalog"
	"github.com/dwsmith1983/tidemark/internal/objectstore"
	"github.com/dwsmith1983/tidemark/internal/testutil"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

var march = types.YearMonth{Year: 2026, Month: 3}

func newTestSetup(t *testing.T) (*Consolidator, *catalog.Catalog, *testutil.MemS3) {
	t.Helper()
	mem := testutil.NewMemS3()
	store, err := objectstore.New("test-bucket",
		objectstore.WithClient(mem),
		objectstore.WithLogger(testutil.DiscardLogger()),
		objectstore.WithRetryPolicy(objectstore.RetryPolicy{MaxAttempts: 1}),
	)
	require.NoError(t, err)
	cat := catalog.New(store, catalog.WithLogger(testutil.DiscardLogger()))
	return New(cat, WithLogger(testutil.DiscardLogger())), cat, mem
}

func testConfig() types.DatasetConfig {
	return types.DatasetConfig{
		DatasetID: "power-load",
		Frequency: "hourly",
		Source:    types.SourceConfig{Kind: "http", URL: "https://example.com/load.csv"},
		Normalize: types.NormalizeConfig{PrimaryKeys: []string{"internal_series_code", "obs_time"}},
	}
}

func seriesRow(series string, day int, value float64) types.Row {
	return types.Row{
		DatasetID:          "power-load",
		InternalSeriesCode: series,
		ObsTime:            time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC),
		Value:              value,
	}
}

func TestConsolidateMonth_GroupsBySeries(t *testing.T) {
	cons, cat, mem := newTestSetup(t)
	ctx := context.Background()

	rows := []types.Row{
		seriesRow("load.north", 1, 1),
		seriesRow("load.south", 1, 2),
		seriesRow("load.north", 2, 3),
	}
	_, _, err := cat.WriteEvents(ctx, "power-load", "2026-03-02T10-00-00", rows)
	require.NoError(t, err)

	require.NoError(t, cons.ConsolidateMonth(ctx, testConfig(), march, true))

	north, err := cat.ReadProjection(ctx, "power-load", "load.north", march)
	require.NoError(t, err)
	assert.Len(t, north, 2)
	south, err := cat.ReadProjection(ctx, "power-load", "load.south", march)
	require.NoError(t, err)
	assert.Len(t, south, 1)

	m, err := cat.ReadConsolidationManifest(ctx, "power-load", march)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, types.ConsolidationCompleted, m.Status)

	for _, key := range mem.Keys() {
		assert.NotContains(t, key, "/.tmp/", "no staging files left behind")
	}
}

func TestConsolidateMonth_DedupesKeepingLatestVersion(t *testing.T) {
	cons, cat, _ := newTestSetup(t)
	ctx := context.Background()

	_, _, err := cat.WriteEvents(ctx, "power-load", "2026-03-01T10-00-00",
		[]types.Row{seriesRow("load", 1, 100)})
	require.NoError(t, err)
	// A later version revises the same observation.
	_, _, err = cat.WriteEvents(ctx, "power-load", "2026-03-02T10-00-00",
		[]types.Row{seriesRow("load", 1, 200)})
	require.NoError(t, err)

	require.NoError(t, cons.ConsolidateMonth(ctx, testConfig(), march, true))

	rows, err := cat.ReadProjection(ctx, "power-load", "load", march)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 200.0, rows[0].Value, "the later version's row wins")
}

func TestConsolidateMonth_SkipsCompletedUnaffected(t *testing.T) {
	cons, cat, mem := newTestSetup(t)
	ctx := context.Background()

	require.NoError(t, cat.WriteConsolidationManifest(ctx, "power-load", march, types.ConsolidationCompleted))
	before := len(mem.Keys())

	require.NoError(t, cons.ConsolidateMonth(ctx, testConfig(), march, false))
	assert.Equal(t, before, len(mem.Keys()), "completed and unaffected months are untouched")
}

func TestConsolidateMonth_ReconsolidatesCompletedWhenAffected(t *testing.T) {
	cons, cat, _ := newTestSetup(t)
	ctx := context.Background()

	_, _, err := cat.WriteEvents(ctx, "power-load", "2026-03-01T10-00-00",
		[]types.Row{seriesRow("load", 1, 1)})
	require.NoError(t, err)
	require.NoError(t, cons.ConsolidateMonth(ctx, testConfig(), march, true))

	_, _, err = cat.WriteEvents(ctx, "power-load", "2026-03-02T10-00-00",
		[]types.Row{seriesRow("load", 2, 2)})
	require.NoError(t, err)
	require.NoError(t, cons.ConsolidateMonth(ctx, testConfig(), march, true))

	rows, err := cat.ReadProjection(ctx, "power-load", "load", march)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestConsolidateMonth_FailureLeavesInProgressAndPriorProjection(t *testing.T) {
	cons, cat, mem := newTestSetup(t)
	ctx := context.Background()

	_, _, err := cat.WriteEvents(ctx, "power-load", "2026-03-01T10-00-00",
		[]types.Row{seriesRow("load", 1, 1)})
	require.NoError(t, err)
	require.NoError(t, cons.ConsolidateMonth(ctx, testConfig(), march, true))
	prior, ok := mem.Object(catalog.ProjectionKey("power-load", "load", 2026, 3))
	require.True(t, ok)

	_, _, err = cat.WriteEvents(ctx, "power-load", "2026-03-02T10-00-00",
		[]types.Row{seriesRow("load", 2, 2)})
	require.NoError(t, err)

	// Staging writes fail this time.
	mem.PutErr = func(key string) error {
		if strings.Contains(key, "/.tmp/") {
			return errors.New("injected staging failure")
		}
		return nil
	}
	err = cons.ConsolidateMonth(ctx, testConfig(), march, true)
	require.Error(t, err)
	mem.PutErr = nil

	m, err := cat.ReadConsolidationManifest(ctx, "power-load", march)
	require.NoError(t, err)
	assert.Equal(t, types.ConsolidationInProgress, m.Status, "failed month stays in_progress for redo")

	current, ok := mem.Object(catalog.ProjectionKey("power-load", "load", 2026, 3))
	require.True(t, ok)
	assert.Equal(t, prior, current, "the previous projection survives the failure intact")

	// The next run redoes the month from the event log.
	require.NoError(t, cons.ConsolidateMonth(ctx, testConfig(), march, true))
	rows, err := cat.ReadProjection(ctx, "power-load", "load", march)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestConsolidateMonth_RerunIsDeterministic(t *testing.T) {
	cons, cat, mem := newTestSetup(t)
	ctx := context.Background()

	_, _, err := cat.WriteEvents(ctx, "power-load", "2026-03-01T10-00-00",
		[]types.Row{seriesRow("load", 1, 1), seriesRow("load", 2, 2)})
	require.NoError(t, err)

	require.NoError(t, cons.ConsolidateMonth(ctx, testConfig(), march, true))
	first, ok := mem.Object(catalog.ProjectionKey("power-load", "load", 2026, 3))
	require.True(t, ok)

	require.NoError(t, cons.ConsolidateMonth(ctx, testConfig(), march, true))
	second, ok := mem.Object(catalog.ProjectionKey("power-load", "load", 2026, 3))
	require.True(t, ok)

	assert.Equal(t, first, second, "re-consolidating the same events yields identical bytes")
}

func TestRun_MonthsFailIndependently(t *testing.T) {
	cons, cat, mem := newTestSetup(t)
	ctx := context.Background()

	_, _, err := cat.WriteEvents(ctx, "power-load", "2026-03-01T10-00-00", []types.Row{
		seriesRow("load", 1, 1),
		{DatasetID: "power-load", InternalSeriesCode: "load",
			ObsTime: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC), Value: 4},
	})
	require.NoError(t, err)

	mem.PutErr = func(key string) error {
		if strings.Contains(key, "month=03/.tmp/") {
			return errors.New("injected failure")
		}
		return nil
	}
	err = cons.Run(ctx, testConfig(), []types.YearMonth{march, {Year: 2026, Month: 4}})
	require.Error(t, err)

	april, readErr := cat.ReadProjection(ctx, "power-load", "load", types.YearMonth{Year: 2026, Month: 4})
	require.NoError(t, readErr)
	assert.Len(t, april, 1, "the healthy month still consolidates")
}
