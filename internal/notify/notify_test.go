package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/tidemark/internal/testutil"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

func newTestNotifier(t *testing.T) (*Notifier, *testutil.MemSNS) {
	t.Helper()
	mem := &testutil.MemSNS{}
	n, err := New(
		WithClient(mem),
		WithLogger(testutil.DiscardLogger()),
		WithClock(func() time.Time { return time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, err)
	return n, mem
}

func TestNotify_PublishesDatasetUpdated(t *testing.T) {
	n, mem := newTestNotifier(t)

	err := n.Notify(context.Background(),
		"arn:aws:sns:us-east-1:123456789012:dataset-updates",
		"power-load", "power-load/events/2026-03-15T10-00-00/manifest.json")
	require.NoError(t, err)

	published := mem.Published()
	require.Len(t, published, 1)
	pub := published[0]
	assert.Equal(t, types.NotificationType, *pub.Subject)
	assert.Nil(t, pub.MessageGroupId, "standard topics get no FIFO parameters")

	var event types.NotificationEvent
	require.NoError(t, json.Unmarshal([]byte(*pub.Message), &event))
	assert.Equal(t, types.NotificationType, event.Type)
	assert.Equal(t, "power-load", event.DatasetID)
	assert.Equal(t, "power-load/events/2026-03-15T10-00-00/manifest.json", event.ManifestPointer)
	assert.Equal(t, "2026-03-15T10:00:00Z", event.Timestamp)
}

func TestNotify_FIFOParameters(t *testing.T) {
	n, mem := newTestNotifier(t)
	pointer := "power-load/events/2026-03-15T10-00-00/manifest.json"

	err := n.Notify(context.Background(),
		"arn:aws:sns:us-east-1:123456789012:dataset-updates.fifo", "power-load", pointer)
	require.NoError(t, err)

	published := mem.Published()
	require.Len(t, published, 1)
	pub := published[0]
	require.NotNil(t, pub.MessageGroupId)
	assert.Equal(t, "power-load", *pub.MessageGroupId, "per-dataset ordering")

	sum := sha256.Sum256([]byte(pointer))
	require.NotNil(t, pub.MessageDeduplicationId)
	assert.Equal(t, hex.EncodeToString(sum[:]), *pub.MessageDeduplicationId, "per-manifest dedup")
}

func TestNotify_EmptyTopicIsNoop(t *testing.T) {
	n, mem := newTestNotifier(t)
	require.NoError(t, n.Notify(context.Background(), "", "power-load", "x"))
	assert.Empty(t, mem.Published())
}

func TestNotify_PublishError(t *testing.T) {
	n, mem := newTestNotifier(t)
	mem.Err = assert.AnError

	err := n.Notify(context.Background(), "arn:topic", "power-load", "x")
	assert.Error(t, err)
}
