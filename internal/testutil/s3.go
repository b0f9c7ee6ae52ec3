// Package testutil provides shared in-memory AWS doubles for tidemark tests.
package testutil

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memObject struct {
	body        []byte
	etag        string
	contentType string
}

// MemS3 is an in-memory S3 double with real ETag and conditional-put
// semantics. Error hooks allow injecting failures per key.
type MemS3 struct {
	mu      sync.Mutex
	objects map[string]memObject

	// Optional failure hooks, keyed by object key. A non-nil return is
	// surfaced as the call's error.
	PutErr    func(key string) error
	GetErr    func(key string) error
	DeleteErr func(key string) error
	CopyErr   func(src, dst string) error
}

// NewMemS3 creates an empty in-memory bucket.
func NewMemS3() *MemS3 {
	return &MemS3{objects: make(map[string]memObject)}
}

func etagOf(body []byte) string {
	sum := md5.Sum(body)
	return hex.EncodeToString(sum[:])
}

func preconditionFailed() error {
	return &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "at least one of the pre-conditions you specified did not hold"}
}

// GetObject implements objectstore.S3API.
func (m *MemS3) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(input.Key)
	if m.GetErr != nil {
		if err := m.GetErr(key); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(obj.body)),
		ETag: aws.String(`"` + obj.etag + `"`),
	}, nil
}

// HeadObject implements objectstore.S3API.
func (m *MemS3) HeadObject(_ context.Context, input *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[aws.ToString(input.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ETag: aws.String(`"` + obj.etag + `"`)}, nil
}

// PutObject implements objectstore.S3API, honoring IfMatch and IfNoneMatch.
func (m *MemS3) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(input.Key)
	if m.PutErr != nil {
		if err := m.PutErr(key); err != nil {
			return nil, err
		}
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, exists := m.objects[key]
	if input.IfMatch != nil {
		if !exists || existing.etag != strings.Trim(aws.ToString(input.IfMatch), `"`) {
			return nil, preconditionFailed()
		}
	}
	if input.IfNoneMatch != nil && exists {
		return nil, preconditionFailed()
	}

	obj := memObject{
		body:        body,
		etag:        etagOf(body),
		contentType: aws.ToString(input.ContentType),
	}
	m.objects[key] = obj
	return &s3.PutObjectOutput{ETag: aws.String(`"` + obj.etag + `"`)}, nil
}

// DeleteObject implements objectstore.S3API. Deleting a missing key succeeds.
func (m *MemS3) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(input.Key)
	if m.DeleteErr != nil {
		if err := m.DeleteErr(key); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 implements objectstore.S3API. Everything fits in one page.
func (m *MemS3) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(input.Prefix)
	m.mu.Lock()
	defer m.mu.Unlock()
	var contents []s3types.Object
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			contents = append(contents, s3types.Object{Key: aws.String(key)})
		}
	}
	sort.Slice(contents, func(i, j int) bool {
		return aws.ToString(contents[i].Key) < aws.ToString(contents[j].Key)
	})
	return &s3.ListObjectsV2Output{
		Contents:    contents,
		IsTruncated: aws.Bool(false),
	}, nil
}

// CopyObject implements objectstore.S3API for same-bucket copies.
func (m *MemS3) CopyObject(_ context.Context, input *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source := aws.ToString(input.CopySource)
	if unescaped, err := url.PathUnescape(source); err == nil {
		source = unescaped
	}
	// CopySource is "bucket/key"; strip the bucket segment.
	if i := strings.Index(source, "/"); i >= 0 {
		source = source[i+1:]
	}
	dst := aws.ToString(input.Key)
	if m.CopyErr != nil {
		if err := m.CopyErr(source, dst); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[source]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	m.objects[dst] = obj
	return &s3.CopyObjectOutput{}, nil
}

// Object returns the stored body of a key.
func (m *MemS3) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return obj.body, true
}

// Keys returns every stored key, sorted.
func (m *MemS3) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SetObject stores a body directly, bypassing conditions.
func (m *MemS3) SetObject(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{body: body, etag: etagOf(body)}
}

// Remove deletes a key directly.
func (m *MemS3) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}
