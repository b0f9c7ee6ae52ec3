package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

func TestProjectionStageAndPromote(t *testing.T) {
	cat, mem := newTestCatalog(t)
	ctx := context.Background()
	march := types.YearMonth{Year: 2026, Month: 3}

	rows := []types.Row{obsRow("load", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 1)}
	require.NoError(t, cat.WriteProjectionTemp(ctx, "power-load", "load", march, rows))

	// Staged only: the visible key must not exist yet.
	visible, err := cat.ReadProjection(ctx, "power-load", "load", march)
	require.NoError(t, err)
	assert.Nil(t, visible)

	require.NoError(t, cat.MoveProjectionFromTemp(ctx, "power-load", "load", march))

	visible, err = cat.ReadProjection(ctx, "power-load", "load", march)
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	_, staged := mem.Object(ProjectionTempKey("power-load", "load", 2026, 3))
	assert.False(t, staged, "temp file removed after promotion")
}

func TestCleanupTempProjections_OnlyTargetMonth(t *testing.T) {
	cat, mem := newTestCatalog(t)
	ctx := context.Background()

	rows := []types.Row{obsRow("load", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), 1)}
	require.NoError(t, cat.WriteProjectionTemp(ctx, "power-load", "load", types.YearMonth{Year: 2026, Month: 3}, rows))
	require.NoError(t, cat.WriteProjectionTemp(ctx, "power-load", "load", types.YearMonth{Year: 2026, Month: 4}, rows))

	require.NoError(t, cat.CleanupTempProjections(ctx, "power-load", types.YearMonth{Year: 2026, Month: 3}))

	_, march := mem.Object(ProjectionTempKey("power-load", "load", 2026, 3))
	_, april := mem.Object(ProjectionTempKey("power-load", "load", 2026, 4))
	assert.False(t, march)
	assert.True(t, april, "other months' staging areas stay untouched")
}

func TestConsolidationManifestRoundTrip(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()
	march := types.YearMonth{Year: 2026, Month: 3}

	absent, err := cat.ReadConsolidationManifest(ctx, "power-load", march)
	require.NoError(t, err)
	assert.Nil(t, absent)

	require.NoError(t, cat.WriteConsolidationManifest(ctx, "power-load", march, types.ConsolidationInProgress))
	m, err := cat.ReadConsolidationManifest(ctx, "power-load", march)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, types.ConsolidationInProgress, m.Status)
	assert.Equal(t, testNow.Format(time.RFC3339), m.Timestamp)

	require.NoError(t, cat.WriteConsolidationManifest(ctx, "power-load", march, types.ConsolidationCompleted))
	m, err = cat.ReadConsolidationManifest(ctx, "power-load", march)
	require.NoError(t, err)
	assert.Equal(t, types.ConsolidationCompleted, m.Status)
}
