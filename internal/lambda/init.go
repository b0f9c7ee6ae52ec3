// Package lambda holds the shared dependency wiring and request types for
// the tidemark Lambda handlers.
package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dwsmith1983/tidemark/internal/catalog"
	"github.com/dwsmith1983/tidemark/internal/config"
	"github.com/dwsmith1983/tidemark/internal/lock"
	"github.com/dwsmith1983/tidemark/internal/notify"
	"github.com/dwsmith1983/tidemark/internal/objectstore"
	"github.com/dwsmith1983/tidemark/internal/pipeline"
	"github.com/dwsmith1983/tidemark/internal/plugin"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

// Deps holds shared dependencies for Lambda handlers. Built once per
// container and reused across invocations.
type Deps struct {
	Catalog  *catalog.Catalog
	Registry *plugin.Registry
	Lock     *lock.Lock
	Notifier *notify.Notifier
	Logger   *slog.Logger
}

// Init creates shared dependencies from environment variables.
// Reads: BUCKET_NAME (required), LOCK_TABLE, SNS_TOPIC_ARN.
func Init(_ context.Context) (*Deps, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	bucket := os.Getenv("BUCKET_NAME")
	if bucket == "" {
		return nil, fmt.Errorf("BUCKET_NAME environment variable required")
	}
	store, err := objectstore.New(bucket, objectstore.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating object store: %w", err)
	}

	d := &Deps{
		Catalog:  catalog.New(store, catalog.WithLogger(logger)),
		Registry: plugin.NewDefaultRegistry(),
		Logger:   logger,
	}

	if table := os.Getenv("LOCK_TABLE"); table != "" {
		d.Lock, err = lock.New(table, lock.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("creating pipeline lock: %w", err)
		}
	}
	if topic := os.Getenv("SNS_TOPIC_ARN"); topic != "" {
		d.Notifier, err = notify.New(notify.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("creating notifier: %w", err)
		}
	}

	return d, nil
}

// Driver builds a pipeline driver from the shared dependencies.
func (d *Deps) Driver() *pipeline.Driver {
	opts := []pipeline.Option{pipeline.WithLogger(d.Logger)}
	if d.Lock != nil {
		opts = append(opts, pipeline.WithLock(d.Lock))
	}
	if d.Notifier != nil {
		opts = append(opts, pipeline.WithNotifier(d.Notifier))
	}
	return pipeline.New(d.Catalog, d.Registry, opts...)
}

// ResolveConfig returns the dataset config for a request, loading it from
// the catalog bucket when only a key is given.
func (d *Deps) ResolveConfig(ctx context.Context, req IngestRequest) (types.DatasetConfig, error) {
	if req.Config != nil {
		cfg := *req.Config
		config.ApplyDefaults(&cfg)
		if err := config.Validate(cfg); err != nil {
			return types.DatasetConfig{}, err
		}
		return cfg, nil
	}
	if req.ConfigKey == "" {
		return types.DatasetConfig{}, fmt.Errorf("either config or config_key required")
	}
	body, _, err := d.Catalog.Store().Get(ctx, req.ConfigKey)
	if err != nil {
		return types.DatasetConfig{}, fmt.Errorf("loading config %s: %w", req.ConfigKey, err)
	}
	return config.Parse(body)
}
