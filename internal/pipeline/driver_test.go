package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dwsmith1983/tidemark/internal/catalog"
	"github.com/dwsmith1983/tidemark/internal/lock"
	"github.com/dwsmith1983/tidemark/internal/notify"
	"github.com/dwsmith1983/tidemark/internal/objectstore"
	"github.com/dwsmith1983/tidemark/internal/plugin"
	"github.com/dwsmith1983/tidemark/internal/testutil"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// harness wires a full driver against in-memory AWS doubles.
type harness struct {
	mem    *testutil.MemS3
	ddb    *testutil.MemDDB
	sns    *testutil.MemSNS
	cat    *catalog.Catalog
	driver *Driver
	lock   *lock.Lock
	now    time.Time
	body   []byte
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		mem: testutil.NewMemS3(),
		ddb: testutil.NewMemDDB(),
		sns: &testutil.MemSNS{},
		now: time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }

	store, err := objectstore.New("test-bucket",
		objectstore.WithClient(h.mem),
		objectstore.WithLogger(testutil.DiscardLogger()),
		objectstore.WithRetryPolicy(objectstore.RetryPolicy{MaxAttempts: 1}),
	)
	require.NoError(t, err)
	h.cat = catalog.New(store, catalog.WithLogger(testutil.DiscardLogger()), catalog.WithClock(clock))

	h.lock, err = lock.New("tidemark-locks",
		lock.WithClient(h.ddb),
		lock.WithLogger(testutil.DiscardLogger()),
		lock.WithClock(clock),
	)
	require.NoError(t, err)

	notifier, err := notify.New(
		notify.WithClient(h.sns),
		notify.WithLogger(testutil.DiscardLogger()),
		notify.WithClock(clock),
	)
	require.NoError(t, err)

	h.driver = New(h.cat, plugin.NewDefaultRegistry(),
		WithFetcher(FetchFunc(func(context.Context, types.DatasetConfig) ([]byte, string, error) {
			return h.body, "load.csv", nil
		})),
		WithLock(h.lock),
		WithNotifier(notifier),
		WithLogger(testutil.DiscardLogger()),
		WithClock(clock),
	)
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func harnessConfig() types.DatasetConfig {
	return types.DatasetConfig{
		DatasetID: "power-load",
		Provider:  "grid-co",
		Frequency: "hourly",
		Unit:      "MW",
		Source:    types.SourceConfig{Kind: "http", URL: "https://example.com/load.csv", Format: "csv"},
		Parse:     types.ParseConfig{Plugin: "generic_csv"},
		Normalize: types.NormalizeConfig{
			Plugin:      "generic",
			PrimaryKeys: []string{"internal_series_code", "obs_time"},
		},
		Notify:    &types.NotifyConfig{TopicARN: "arn:aws:sns:us-east-1:123456789012:dataset-updates"},
		LockTable: "tidemark-locks",
	}
}

const csvTwoRows = "obs_time,value,internal_series_code\n" +
	"2026-03-01T14:00:00Z,1.0,load\n" +
	"2026-03-02T14:00:00Z,2.0,load\n"

const csvThreeRows = csvTwoRows + "2026-03-03T14:00:00Z,3.0,load\n"

func TestRun_FirstPublish(t *testing.T) {
	h := newHarness(t)
	h.body = []byte(csvTwoRows)
	ctx := context.Background()

	result := h.driver.Run(ctx, harnessConfig())
	require.NoError(t, result.Err)
	assert.Equal(t, types.RunCompleted, result.Status)
	assert.Equal(t, 2, result.RowsAdded)
	assert.Equal(t, "2026-03-15T10-00-00", result.VersionTS)

	pointer, _, err := h.cat.ReadPointer(ctx, "power-load")
	require.NoError(t, err)
	require.NotNil(t, pointer)
	assert.Equal(t, result.VersionTS, pointer.CurrentVersion)

	manifest, err := h.cat.ReadEventManifest(ctx, "power-load", result.VersionTS)
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.Equal(t, 2, manifest.Outputs.RowsTotal)
	assert.Equal(t, 2, manifest.Outputs.RowsAddedThisVersion)
	require.Len(t, manifest.Source.Files, 1)
	assert.Equal(t, "load.csv", manifest.Source.Files[0].Path)
	assert.Equal(t, []string{"internal_series_code", "obs_time"}, manifest.Index.KeyColumns)

	hashes, err := h.cat.ReadIndex(ctx, "power-load")
	require.NoError(t, err)
	assert.Len(t, hashes, 2)

	projection, err := h.cat.ReadProjection(ctx, "power-load", "load", types.YearMonth{Year: 2026, Month: 3})
	require.NoError(t, err)
	assert.Len(t, projection, 2, "the affected month is consolidated")

	assert.Len(t, h.sns.Published(), 1, "consumers are notified")

	held, err := h.lock.IsLocked(ctx, catalog.LockKey("power-load"))
	require.NoError(t, err)
	assert.False(t, held, "the lock is released at the end of the run")
}

func TestRun_IncrementalPublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.body = []byte(csvTwoRows)
	first := h.driver.Run(ctx, harnessConfig())
	require.Equal(t, types.RunCompleted, first.Status)

	h.advance(time.Hour)
	h.body = []byte(csvThreeRows)
	second := h.driver.Run(ctx, harnessConfig())
	require.NoError(t, second.Err)
	assert.Equal(t, types.RunCompleted, second.Status)
	assert.Equal(t, 1, second.RowsAdded, "only the never-seen row is published")

	manifest, err := h.cat.ReadEventManifest(ctx, "power-load", second.VersionTS)
	require.NoError(t, err)
	assert.Equal(t, 3, manifest.Outputs.RowsTotal)
	assert.Equal(t, 1, manifest.Outputs.RowsAddedThisVersion)

	rows, err := h.cat.ReadEventRows(ctx, manifest.Outputs.Files[0])
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 3.0, rows[0].Value)

	projection, err := h.cat.ReadProjection(ctx, "power-load", "load", types.YearMonth{Year: 2026, Month: 3})
	require.NoError(t, err)
	assert.Len(t, projection, 3, "the projection merges both versions")
}

func TestRun_NoChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.body = []byte(csvTwoRows)
	first := h.driver.Run(ctx, harnessConfig())
	require.Equal(t, types.RunCompleted, first.Status)

	h.advance(time.Hour)
	second := h.driver.Run(ctx, harnessConfig())
	assert.Equal(t, types.RunNoChange, second.Status)
	assert.Zero(t, second.RowsAdded)

	pointer, _, err := h.cat.ReadPointer(ctx, "power-load")
	require.NoError(t, err)
	assert.Equal(t, first.VersionTS, pointer.CurrentVersion, "no new version is published")
}

func TestRun_NoNewData(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.body = []byte(csvTwoRows)
	first := h.driver.Run(ctx, harnessConfig())
	require.Equal(t, types.RunCompleted, first.Status)

	// Different bytes, same observations: the column order changed upstream.
	h.advance(time.Hour)
	h.body = []byte("value,obs_time,internal_series_code\n" +
		"1.0,2026-03-01T14:00:00Z,load\n" +
		"2.0,2026-03-02T14:00:00Z,load\n")
	second := h.driver.Run(ctx, harnessConfig())
	assert.Equal(t, types.RunNoNewData, second.Status)

	pointer, _, err := h.cat.ReadPointer(ctx, "power-load")
	require.NoError(t, err)
	assert.Equal(t, first.VersionTS, pointer.CurrentVersion)
}

func TestRun_SkippedWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	h.body = []byte(csvTwoRows)
	ctx := context.Background()

	acquired, err := h.lock.Acquire(ctx, catalog.LockKey("power-load"), "another-run")
	require.NoError(t, err)
	require.True(t, acquired)

	result := h.driver.Run(ctx, harnessConfig())
	assert.Equal(t, types.RunSkippedLock, result.Status)
	assert.Empty(t, h.mem.Keys(), "a skipped run writes nothing")

	held, err := h.lock.IsLocked(ctx, catalog.LockKey("power-load"))
	require.NoError(t, err)
	assert.True(t, held, "the skipped run must not release the holder's lock")
}

func TestRun_CASConflictLeavesIndexUntouched(t *testing.T) {
	h := newHarness(t)
	h.body = []byte(csvTwoRows)
	ctx := context.Background()

	// The pointer write loses the race.
	h.mem.PutErr = func(key string) error {
		if strings.HasSuffix(key, "current/manifest.json") {
			return &smithy.GenericAPIError{Code: "PreconditionFailed"}
		}
		return nil
	}
	result := h.driver.Run(ctx, harnessConfig())
	require.NoError(t, result.Err)
	assert.Equal(t, types.RunCASConflict, result.Status)
	assert.Zero(t, result.RowsAdded)

	hashes, err := h.cat.ReadIndex(ctx, "power-load")
	require.NoError(t, err)
	assert.Nil(t, hashes, "the loser never touches the index")

	assert.Empty(t, h.sns.Published(), "no notification for an unpublished version")

	// The loser's event files remain as orphans; the pointer never saw them.
	files, err := h.cat.ListEventFiles(ctx, "power-load", result.VersionTS)
	require.NoError(t, err)
	assert.NotEmpty(t, files)
}

func TestRun_IndexWriteFailureHealsNextRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// First run: the pointer CAS succeeds but the index write is lost.
	h.body = []byte(csvTwoRows)
	h.mem.PutErr = func(key string) error {
		if strings.HasSuffix(key, "index/keys.parquet") {
			return errors.New("injected index write failure")
		}
		return nil
	}
	first := h.driver.Run(ctx, harnessConfig())
	assert.Equal(t, types.RunError, first.Status)

	pointer, _, err := h.cat.ReadPointer(ctx, "power-load")
	require.NoError(t, err)
	require.NotNil(t, pointer, "the version is live despite the index failure")

	// Second run: the guard rebuilds the index, then the run publishes
	// incrementally with no duplicates.
	h.mem.PutErr = nil
	h.advance(time.Hour)
	h.body = []byte(csvThreeRows)
	second := h.driver.Run(ctx, harnessConfig())
	require.NoError(t, second.Err)
	assert.Equal(t, types.RunCompleted, second.Status)
	assert.Equal(t, 1, second.RowsAdded, "healed index prevents re-publishing old rows")

	hashes, err := h.cat.ReadIndex(ctx, "power-load")
	require.NoError(t, err)
	assert.Len(t, hashes, 3)
}

func TestRun_FullReloadSkipsSourceCheck(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.body = []byte(csvTwoRows)
	first := h.driver.Run(ctx, harnessConfig())
	require.Equal(t, types.RunCompleted, first.Status)

	cfg := harnessConfig()
	cfg.FullReload = true
	h.advance(time.Hour)
	second := h.driver.Run(ctx, cfg)
	assert.Equal(t, types.RunNoNewData, second.Status,
		"full reload re-parses the unchanged source; the delta still finds nothing new")
}

func TestRun_LagDaysReingestsRecentObservations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Value participates in the key so a revised observation is a new row.
	cfg := harnessConfig()
	cfg.Normalize.PrimaryKeys = []string{"internal_series_code", "obs_time", "value"}

	h.body = []byte(csvTwoRows)
	first := h.driver.Run(ctx, cfg)
	require.Equal(t, types.RunCompleted, first.Status)

	// The provider revises day 1 and appends day 3.
	revised := "obs_time,value,internal_series_code\n" +
		"2026-03-01T14:00:00Z,111.0,load\n" +
		"2026-03-02T14:00:00Z,2.0,load\n" +
		"2026-03-03T14:00:00Z,3.0,load\n"

	// Without lag the revision is at or before the cutoff and is dropped.
	h.advance(time.Hour)
	h.body = []byte(revised)
	second := h.driver.Run(ctx, cfg)
	require.Equal(t, types.RunCompleted, second.Status)
	assert.Equal(t, 1, second.RowsAdded)

	// With lag the revision window stays open and the revised row lands too.
	h2 := newHarness(t)
	lagCfg := cfg
	lagCfg.LagDays = 5
	h2.body = []byte(csvTwoRows)
	require.Equal(t, types.RunCompleted, h2.driver.Run(ctx, lagCfg).Status)
	h2.advance(time.Hour)
	h2.body = []byte(revised)
	result := h2.driver.Run(ctx, lagCfg)
	require.Equal(t, types.RunCompleted, result.Status)
	assert.Equal(t, 2, result.RowsAdded)
}

func TestRun_FetchFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	driver := New(h.cat, plugin.NewDefaultRegistry(),
		WithFetcher(FetchFunc(func(context.Context, types.DatasetConfig) ([]byte, string, error) {
			return nil, "", errors.New("upstream down")
		})),
		WithLock(h.lock),
		WithLogger(testutil.DiscardLogger()),
	)
	result := driver.Run(ctx, harnessConfig())
	assert.Equal(t, types.RunError, result.Status)
	require.Error(t, result.Err)

	held, err := h.lock.IsLocked(ctx, catalog.LockKey("power-load"))
	require.NoError(t, err)
	assert.False(t, held, "the lock is released even when the run fails")
}

func TestRun_EventWriteFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.body = []byte(csvTwoRows)
	h.mem.PutErr = func(key string) error {
		if strings.HasSuffix(key, "part-0.parquet") {
			return errors.New("injected event write failure")
		}
		return nil
	}
	result := h.driver.Run(ctx, harnessConfig())
	assert.Equal(t, types.RunError, result.Status)

	pointer, _, err := h.cat.ReadPointer(ctx, "power-load")
	require.NoError(t, err)
	assert.Nil(t, pointer, "nothing was published")
	for _, key := range h.mem.Keys() {
		assert.NotContains(t, key, "part-0.parquet", "partial event files are rolled back")
	}
}

func TestRun_ArchivesRawSource(t *testing.T) {
	h := newHarness(t)
	h.body = []byte(csvTwoRows)

	result := h.driver.Run(context.Background(), harnessConfig())
	require.Equal(t, types.RunCompleted, result.Status)

	raw, ok := h.mem.Object(catalog.RawKey("power-load", result.RunID, "load.csv"))
	require.True(t, ok)
	assert.Equal(t, csvTwoRows, string(raw))
}
