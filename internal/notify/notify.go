// Package notify publishes the post-publish DATASET_UPDATED message to SNS.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// SNSAPI is the subset of the SNS client used by Notifier.
type SNSAPI interface {
	Publish(ctx context.Context, input *sns.PublishInput, opts ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier sends dataset update notifications. A nil topic disables it.
type Notifier struct {
	client SNSAPI
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClient sets a custom SNS client (useful for testing).
func WithClient(c SNSAPI) Option {
	return func(n *Notifier) { n.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// WithClock overrides the wall clock (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// New creates a Notifier.
func New(opts ...Option) (*Notifier, error) {
	n := &Notifier{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	if n.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		n.client = sns.NewFromConfig(cfg)
	}
	return n, nil
}

// Notify publishes a DATASET_UPDATED event for the given manifest pointer.
// An empty topicARN is a no-op.
func (n *Notifier) Notify(ctx context.Context, topicARN, datasetID, manifestPointer string) error {
	if topicARN == "" {
		n.logger.Info("skipping notification: no topic configured", "dataset", datasetID)
		return nil
	}

	event := types.NotificationEvent{
		Type:            types.NotificationType,
		Timestamp:       n.now().UTC().Format(time.RFC3339),
		DatasetID:       datasetID,
		ManifestPointer: manifestPointer,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Message:  aws.String(string(body)),
		Subject:  aws.String(types.NotificationType),
	}
	if isFIFOTopic(topicARN) {
		groupID, dedupID := fifoParameters(datasetID, manifestPointer)
		input.MessageGroupId = aws.String(groupID)
		input.MessageDeduplicationId = aws.String(dedupID)
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	n.logger.Info("notified consumers", "dataset", datasetID, "manifest", manifestPointer)
	return nil
}

// isFIFOTopic reports whether the topic requires FIFO parameters.
func isFIFOTopic(topicARN string) bool {
	return strings.HasSuffix(topicARN, ".fifo")
}

// fifoParameters derives the group (per dataset, ordering) and dedup key
// (per manifest, exactly-once) for FIFO topics.
func fifoParameters(datasetID, manifestPointer string) (string, string) {
	sum := sha256.Sum256([]byte(manifestPointer))
	return datasetID, hex.EncodeToString(sum[:])
}
