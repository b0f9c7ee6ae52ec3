// Package commands implements the CLI subcommands for the tidemark binary.
package commands

import (
	"fmt"
	"os"

	"github.com/dwsmith1983/tidemark/internal/catalog"
	"github.com/dwsmith1983/tidemark/internal/lock"
	"github.com/dwsmith1983/tidemark/internal/notify"
	"github.com/dwsmith1983/tidemark/internal/objectstore"
	"github.com/dwsmith1983/tidemark/internal/pipeline"
	"github.com/dwsmith1983/tidemark/internal/plugin"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

// bucketEnv names the environment fallback for the --bucket flag.
const bucketEnv = "TIDEMARK_BUCKET"

// resolveBucket returns the catalog bucket from the flag or the environment.
func resolveBucket(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(bucketEnv); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("S3 bucket required: pass --bucket or set %s", bucketEnv)
}

// newCatalog builds a catalog over the given bucket.
func newCatalog(bucket string) (*catalog.Catalog, error) {
	store, err := objectstore.New(bucket)
	if err != nil {
		return nil, fmt.Errorf("creating object store: %w", err)
	}
	return catalog.New(store), nil
}

// newDriver wires the full pipeline for one dataset: catalog, plugin
// registry, and, when configured, the distributed lock and the notifier.
func newDriver(bucket string, cfg types.DatasetConfig) (*pipeline.Driver, error) {
	cat, err := newCatalog(bucket)
	if err != nil {
		return nil, err
	}

	var opts []pipeline.Option
	if cfg.LockTable != "" {
		lk, err := lock.New(cfg.LockTable)
		if err != nil {
			return nil, fmt.Errorf("creating pipeline lock: %w", err)
		}
		opts = append(opts, pipeline.WithLock(lk))
	}
	if cfg.Notify != nil && cfg.Notify.TopicARN != "" {
		notifier, err := notify.New()
		if err != nil {
			return nil, fmt.Errorf("creating notifier: %w", err)
		}
		opts = append(opts, pipeline.WithNotifier(notifier))
	}

	return pipeline.New(cat, plugin.NewDefaultRegistry(), opts...), nil
}
