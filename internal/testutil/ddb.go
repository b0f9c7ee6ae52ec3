package testutil

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MemDDB is an in-memory DynamoDB double covering the lock table's access
// pattern: single-item puts, gets, and deletes with the two condition
// expressions the lock uses.
type MemDDB struct {
	mu    sync.Mutex
	items map[string]map[string]ddbtypes.AttributeValue

	// Optional failure hooks.
	PutErr    func(key string) error
	DeleteErr func(key string) error
}

// NewMemDDB creates an empty in-memory table.
func NewMemDDB() *MemDDB {
	return &MemDDB{items: make(map[string]map[string]ddbtypes.AttributeValue)}
}

func stringAttr(item map[string]ddbtypes.AttributeValue, name string) string {
	if v, ok := item[name].(*ddbtypes.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func numberAttr(item map[string]ddbtypes.AttributeValue, name string) int64 {
	if v, ok := item[name].(*ddbtypes.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

// PutItem implements lock.DDBAPI, evaluating the lock's acquire condition.
func (m *MemDDB) PutItem(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := stringAttr(input.Item, "lock_key")
	if m.PutErr != nil {
		if err := m.PutErr(key); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cond := aws.ToString(input.ConditionExpression); cond != "" {
		existing, exists := m.items[key]
		if strings.Contains(cond, "attribute_not_exists") && exists {
			var now int64
			if v, ok := input.ExpressionAttributeValues[":now"].(*ddbtypes.AttributeValueMemberN); ok {
				now, _ = strconv.ParseInt(v.Value, 10, 64)
			}
			if numberAttr(existing, "expires_at") >= now {
				return nil, &ddbtypes.ConditionalCheckFailedException{}
			}
		}
	}
	m.items[key] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

// GetItem implements lock.DDBAPI.
func (m *MemDDB) GetItem(_ context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[stringAttr(input.Key, "lock_key")]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// DeleteItem implements lock.DDBAPI, evaluating the owner condition.
func (m *MemDDB) DeleteItem(_ context.Context, input *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	key := stringAttr(input.Key, "lock_key")
	if m.DeleteErr != nil {
		if err := m.DeleteErr(key); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.items[key]
	if cond := aws.ToString(input.ConditionExpression); cond != "" {
		if !exists {
			return nil, &ddbtypes.ConditionalCheckFailedException{}
		}
		if owner, ok := input.ExpressionAttributeValues[":owner"].(*ddbtypes.AttributeValueMemberS); ok {
			if stringAttr(existing, "owner_id") != owner.Value {
				return nil, &ddbtypes.ConditionalCheckFailedException{}
			}
		}
	}
	delete(m.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

// Item returns the stored item for a lock key.
func (m *MemDDB) Item(key string) (map[string]ddbtypes.AttributeValue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	return item, ok
}
