// Package objectstore adapts S3 into the small object API the catalog needs:
// get/put/head/delete/list/copy plus conditional puts keyed on ETags.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker"
)

// Content types used by the catalog.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeParquet = "application/x-parquet"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, input *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// Store wraps a bucket with retry, circuit breaking, and ETag plumbing.
type Store struct {
	client  S3API
	bucket  string
	logger  *slog.Logger
	retry   RetryPolicy
	breaker *gobreaker.CircuitBreaker
}

// Option configures a Store.
type Option func(*Store)

// WithClient sets a custom S3 client (useful for testing).
func WithClient(c S3API) Option {
	return func(s *Store) { s.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithRetryPolicy overrides the transient-error retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) { s.retry = p }
}

// New creates a Store for the given bucket.
func New(bucket string, opts ...Option) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket name required")
	}
	s := &Store{
		bucket: bucket,
		logger: slog.Default(),
		retry:  DefaultRetryPolicy(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		s.client = s3.NewFromConfig(cfg)
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "objectstore:" + bucket,
		IsSuccessful: func(err error) bool {
			// Only genuine I/O failures should trip the breaker.
			return err == nil || isTerminal(err)
		},
	})
	return s, nil
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Get returns the object body and its ETag, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	var body []byte
	var etag string
	err := s.do(ctx, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		defer out.Body.Close()
		body, err = io.ReadAll(out.Body)
		if err != nil {
			return err
		}
		etag = cleanETag(out.ETag)
		return nil
	})
	if err != nil {
		if err == ErrNotFound {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("getting s3://%s/%s: %w", s.bucket, key, err)
	}
	return body, etag, nil
}

// Head returns the object's ETag, or ErrNotFound.
func (s *Store) Head(ctx context.Context, key string) (string, error) {
	var etag string
	err := s.do(ctx, func() error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return err
		}
		etag = cleanETag(out.ETag)
		return nil
	})
	if err != nil {
		if err == ErrNotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("heading s3://%s/%s: %w", s.bucket, key, err)
	}
	return etag, nil
}

// Put writes the object unconditionally and returns the new ETag.
func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	return s.put(ctx, key, body, contentType, nil, nil)
}

// PutIfMatch writes the object only if the live ETag equals etag. Returns
// ErrPreconditionFailed if the object changed underneath.
func (s *Store) PutIfMatch(ctx context.Context, key string, body []byte, contentType, etag string) (string, error) {
	return s.put(ctx, key, body, contentType, aws.String(etag), nil)
}

// PutIfAbsent writes the object only if the key does not exist yet. Returns
// ErrPreconditionFailed if someone created it first.
func (s *Store) PutIfAbsent(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	return s.put(ctx, key, body, contentType, nil, aws.String("*"))
}

func (s *Store) put(ctx context.Context, key string, body []byte, contentType string, ifMatch, ifNoneMatch *string) (string, error) {
	var etag string
	err := s.do(ctx, func() error {
		input := &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			IfMatch:     ifMatch,
			IfNoneMatch: ifNoneMatch,
		}
		if contentType != "" {
			input.ContentType = aws.String(contentType)
		}
		out, err := s.client.PutObject(ctx, input)
		if err != nil {
			if isPreconditionFailed(err) {
				return ErrPreconditionFailed
			}
			return err
		}
		etag = cleanETag(out.ETag)
		return nil
	})
	if err != nil {
		if err == ErrPreconditionFailed {
			return "", ErrPreconditionFailed
		}
		return "", fmt.Errorf("putting s3://%s/%s: %w", s.bucket, key, err)
	}
	return etag, nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.do(ctx, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// List returns all keys under prefix, paginating as needed.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var token *string
	for {
		var out *s3.ListObjectsV2Output
		err := s.do(ctx, func() error {
			var err error
			out, err = s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(s.bucket),
				Prefix:            aws.String(prefix),
				ContinuationToken: token,
			})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing s3://%s/%s: %w", s.bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return keys, nil
}

// Copy performs a server-side copy from src to dst within the bucket.
func (s *Store) Copy(ctx context.Context, src, dst string) error {
	source := s.bucket + "/" + src
	err := s.do(ctx, func() error {
		_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			Key:        aws.String(dst),
			CopySource: aws.String(url.PathEscape(source)),
		})
		if err != nil && isNotFound(err) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		if err == ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("copying s3://%s/%s to %s: %w", s.bucket, src, dst, err)
	}
	return nil
}

// cleanETag strips the surrounding quotes S3 puts on ETag headers.
func cleanETag(etag *string) string {
	return strings.Trim(aws.ToString(etag), `"`)
}
