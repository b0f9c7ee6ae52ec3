package testutil

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// MemSNS records published messages.
type MemSNS struct {
	mu        sync.Mutex
	published []*sns.PublishInput

	// Err, when set, fails every publish.
	Err error
}

// Publish implements notify.SNSAPI.
func (m *MemSNS) Publish(_ context.Context, input *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, input)
	return &sns.PublishOutput{}, nil
}

// Published returns the recorded publish calls.
func (m *MemSNS) Published() []*sns.PublishInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sns.PublishInput(nil), m.published...)
}
