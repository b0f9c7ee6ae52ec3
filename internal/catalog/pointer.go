package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/dwsmith1983/tidemark/internal/objectstore"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

// ReadPointer returns the current pointer and its ETag, or (nil, "") when no
// version has ever been published.
func (c *Catalog) ReadPointer(ctx context.Context, datasetID string) (*types.Pointer, string, error) {
	body, etag, err := c.store.Get(ctx, PointerKey(datasetID))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("reading pointer: %w", err)
	}
	var p types.Pointer
	if err := objectstore.UnmarshalJSON(body, &p); err != nil {
		return nil, "", fmt.Errorf("decoding pointer: %w", err)
	}
	return &p, etag, nil
}

// PointerETag returns the live ETag of the pointer, or "" when absent.
func (c *Catalog) PointerETag(ctx context.Context, datasetID string) (string, error) {
	etag, err := c.store.Head(ctx, PointerKey(datasetID))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("heading pointer: %w", err)
	}
	return etag, nil
}

// PutPointer advances the pointer by CAS. An empty etag means "create only if
// absent". Returns objectstore.ErrPreconditionFailed when losing the race.
func (c *Catalog) PutPointer(ctx context.Context, pointer types.Pointer, etag string) error {
	body, err := objectstore.MarshalJSON(pointer)
	if err != nil {
		return err
	}
	key := PointerKey(pointer.DatasetID)
	if etag == "" {
		_, err = c.store.PutIfAbsent(ctx, key, body, objectstore.ContentTypeJSON)
	} else {
		_, err = c.store.PutIfMatch(ctx, key, body, objectstore.ContentTypeJSON, etag)
	}
	return err
}

// WriteEventManifest writes the manifest of one version. Safe to write
// unconditionally: it lives under the version's own prefix and is invisible
// until the pointer references it.
func (c *Catalog) WriteEventManifest(ctx context.Context, manifest types.EventManifest) error {
	key := EventManifestKey(manifest.DatasetID, manifest.Version)
	if err := c.writeJSON(ctx, key, manifest); err != nil {
		return fmt.Errorf("writing event manifest: %w", err)
	}
	return nil
}

// ReadEventManifest returns one version's manifest, or nil when absent.
func (c *Catalog) ReadEventManifest(ctx context.Context, datasetID, versionTS string) (*types.EventManifest, error) {
	var m types.EventManifest
	found, err := c.readJSON(ctx, EventManifestKey(datasetID, versionTS), &m)
	if err != nil {
		return nil, fmt.Errorf("reading event manifest: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &m, nil
}
