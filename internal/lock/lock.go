// Package lock implements the distributed pipeline lock on a DynamoDB table
// with conditional writes and TTL-based recovery.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultTTL bounds how long a crashed run can hold a lock.
const DefaultTTL = time.Hour

// DDBAPI is the subset of the DynamoDB client used by Lock.
type DDBAPI interface {
	PutItem(ctx context.Context, input *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, input *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, input *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// record is the lock table row. Partition key: lock_key.
type record struct {
	LockKey    string `dynamodbav:"lock_key"`
	OwnerID    string `dynamodbav:"owner_id"`
	AcquiredAt int64  `dynamodbav:"acquired_at"`
	ExpiresAt  int64  `dynamodbav:"expires_at"`
}

// Lock is a distributed lock backed by a DynamoDB table.
type Lock struct {
	client    DDBAPI
	tableName string
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Lock.
type Option func(*Lock)

// WithClient sets a custom DynamoDB client (useful for testing).
func WithClient(c DDBAPI) Option {
	return func(l *Lock) { l.client = c }
}

// WithTTL overrides the lock TTL.
func WithTTL(ttl time.Duration) Option {
	return func(l *Lock) { l.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Lock) { l.logger = lg }
}

// WithClock overrides the wall clock (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(l *Lock) { l.now = now }
}

// New creates a Lock on the given table.
func New(tableName string, opts ...Option) (*Lock, error) {
	if tableName == "" {
		return nil, fmt.Errorf("lock table name required")
	}
	l := &Lock{
		tableName: tableName,
		ttl:       DefaultTTL,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	if l.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		l.client = dynamodb.NewFromConfig(cfg)
	}
	return l, nil
}

// Acquire attempts to take the lock for ownerID. The conditional put succeeds
// only if no live lock exists: attribute_not_exists(lock_key) OR the previous
// holder's TTL has lapsed. Returns false without error when the lock is held.
func (l *Lock) Acquire(ctx context.Context, lockKey, ownerID string) (bool, error) {
	now := l.now().Unix()
	item, err := attributevalue.MarshalMap(record{
		LockKey:    lockKey,
		OwnerID:    ownerID,
		AcquiredAt: now,
		ExpiresAt:  now + int64(l.ttl.Seconds()),
	})
	if err != nil {
		return false, fmt.Errorf("marshaling lock record: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &l.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(lock_key) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":now": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			l.logger.Warn("lock already held", "key", lockKey)
			return false, nil
		}
		return false, fmt.Errorf("acquiring lock %q: %w", lockKey, err)
	}

	l.logger.Info("acquired lock", "key", lockKey, "owner", ownerID)
	return true, nil
}

// Release deletes the lock if ownerID still holds it. Returns false when the
// lock is missing or was stolen, so a late survivor of a previous run can
// never release a successor's lock.
func (l *Lock) Release(ctx context.Context, lockKey, ownerID string) (bool, error) {
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &l.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"lock_key": &ddbtypes.AttributeValueMemberS{Value: lockKey},
		},
		ConditionExpression: aws.String("owner_id = :owner"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":owner": &ddbtypes.AttributeValueMemberS{Value: ownerID},
		},
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			l.logger.Warn("lock missing or owner mismatch", "key", lockKey, "owner", ownerID)
			return false, nil
		}
		return false, fmt.Errorf("releasing lock %q: %w", lockKey, err)
	}

	l.logger.Info("released lock", "key", lockKey, "owner", ownerID)
	return true, nil
}

// IsLocked reports whether a live (unexpired) lock exists.
func (l *Lock) IsLocked(ctx context.Context, lockKey string) (bool, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &l.tableName,
		Key: map[string]ddbtypes.AttributeValue{
			"lock_key": &ddbtypes.AttributeValueMemberS{Value: lockKey},
		},
	})
	if err != nil {
		return false, fmt.Errorf("reading lock %q: %w", lockKey, err)
	}
	if len(out.Item) == 0 {
		return false, nil
	}
	var rec record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return false, fmt.Errorf("unmarshaling lock record: %w", err)
	}
	return rec.ExpiresAt >= l.now().Unix(), nil
}

// isConditionalCheckFailed returns true if the error is a DynamoDB
// ConditionalCheckFailedException.
func isConditionalCheckFailed(err error) bool {
	var ccfe *ddbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccfe)
}
