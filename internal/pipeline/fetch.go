package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// Fetcher retrieves the source body of a dataset. The driver only depends on
// this interface; transports live behind it.
type Fetcher interface {
	Fetch(ctx context.Context, cfg types.DatasetConfig) (body []byte, filename string, err error)
}

// FetchFunc adapts a function to the Fetcher interface.
type FetchFunc func(ctx context.Context, cfg types.DatasetConfig) ([]byte, string, error)

// Fetch calls f.
func (f FetchFunc) Fetch(ctx context.Context, cfg types.DatasetConfig) ([]byte, string, error) {
	return f(ctx, cfg)
}

// HTTPFetcher downloads the source over HTTP(S).
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher with a bounded default timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 2 * time.Minute}}
}

// Fetch downloads cfg.Source.URL.
func (f *HTTPFetcher) Fetch(ctx context.Context, cfg types.DatasetConfig) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Source.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", cfg.Source.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetching %s: unexpected status %s", cfg.Source.URL, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("reading response body: %w", err)
	}
	return body, sourceFilename(cfg), nil
}

// LocalFetcher reads the source from the local filesystem. Used for testing
// and backfills from already-downloaded files.
type LocalFetcher struct{}

// Fetch reads cfg.Source.URL as a file path.
func (f *LocalFetcher) Fetch(_ context.Context, cfg types.DatasetConfig) ([]byte, string, error) {
	body, err := os.ReadFile(cfg.Source.URL)
	if err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", cfg.Source.URL, err)
	}
	return body, sourceFilename(cfg), nil
}

// NewFetcher picks the transport for a dataset's source kind.
func NewFetcher(cfg types.DatasetConfig) (Fetcher, error) {
	switch cfg.Source.Kind {
	case "http":
		return NewHTTPFetcher(), nil
	case "local":
		return &LocalFetcher{}, nil
	}
	return nil, fmt.Errorf("no fetcher for source kind %q", cfg.Source.Kind)
}

// sourceFilename derives the archive filename from the source URL.
func sourceFilename(cfg types.DatasetConfig) string {
	name := path.Base(cfg.Source.URL)
	if name == "" || name == "." || name == "/" {
		name = "source"
	}
	return name
}
