package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dwsmith1983/tidemark/internal/objectstore"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

// Catalog is the facade over a dataset's S3 layout: pointer, primary-key
// index, events, and projections.
type Catalog struct {
	store  *objectstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// WithClock overrides the wall clock (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New creates a Catalog on top of an object store.
func New(store *objectstore.Store, opts ...Option) *Catalog {
	c := &Catalog{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Store exposes the underlying object store for raw archive writes.
func (c *Catalog) Store() *objectstore.Store { return c.store }

// readJSON decodes the object at key into v. Returns false when absent.
func (c *Catalog) readJSON(ctx context.Context, key string, v any) (bool, error) {
	body, _, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := objectstore.UnmarshalJSON(body, v); err != nil {
		return false, err
	}
	return true, nil
}

// writeJSON encodes v and writes it at key.
func (c *Catalog) writeJSON(ctx context.Context, key string, v any) error {
	body, err := objectstore.MarshalJSON(v)
	if err != nil {
		return err
	}
	_, err = c.store.Put(ctx, key, body, objectstore.ContentTypeJSON)
	return err
}

// readRows decodes the Parquet object at key. Returns nil rows when absent.
func (c *Catalog) readRows(ctx context.Context, key string) ([]types.Row, error) {
	body, _, err := c.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return objectstore.UnmarshalRows(body)
}

// writeRows encodes rows as Parquet and writes them at key.
func (c *Catalog) writeRows(ctx context.Context, key string, rows []types.Row) error {
	body, err := objectstore.MarshalRows(rows)
	if err != nil {
		return err
	}
	_, err = c.store.Put(ctx, key, body, objectstore.ContentTypeParquet)
	return err
}
