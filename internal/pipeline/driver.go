// Package pipeline drives one dataset run end to end: lock, consistency
// guard, fetch, parse, normalize, delta, event write, publish, consolidate,
// notify.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/tidemark/internal/catalog"
	"github.com/dwsmith1983/tidemark/internal/consolidate"
	"github.com/dwsmith1983/tidemark/internal/delta"
	"github.com/dwsmith1983/tidemark/internal/enrich"
	"github.com/dwsmith1983/tidemark/internal/lock"
	"github.com/dwsmith1983/tidemark/internal/notify"
	"github.com/dwsmith1983/tidemark/internal/objectstore"
	"github.com/dwsmith1983/tidemark/internal/plugin"
	"github.com/dwsmith1983/tidemark/internal/telemetry"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

// Driver runs dataset pipelines against one catalog.
type Driver struct {
	catalog   *catalog.Catalog
	registry  *plugin.Registry
	fetcher   Fetcher
	lock      *lock.Lock
	notifier  *notify.Notifier
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	tolerance int
}

// Option configures a Driver.
type Option func(*Driver)

// WithFetcher overrides the transport selected from the source kind.
func WithFetcher(f Fetcher) Option {
	return func(d *Driver) { d.fetcher = f }
}

// WithLock enables the distributed pipeline lock.
func WithLock(l *lock.Lock) Option {
	return func(d *Driver) { d.lock = l }
}

// WithNotifier enables post-publish notifications.
func WithNotifier(n *notify.Notifier) Option {
	return func(d *Driver) { d.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithClock overrides the wall clock (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// WithConsistencyTolerance overrides the index drift tolerance.
func WithConsistencyTolerance(n int) Option {
	return func(d *Driver) { d.tolerance = n }
}

// New creates a Driver.
func New(cat *catalog.Catalog, registry *plugin.Registry, opts ...Option) *Driver {
	d := &Driver{
		catalog:   cat,
		registry:  registry,
		logger:    slog.Default(),
		tracer:    telemetry.Tracer(),
		now:       time.Now,
		tolerance: catalog.DefaultConsistencyTolerance,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Run executes one pipeline run for a dataset. Every run gets a fresh run ID
// and a version timestamp; the returned result always carries both, plus the
// terminal status. Errors are reported in the result, not returned.
func (d *Driver) Run(ctx context.Context, cfg types.DatasetConfig) types.RunResult {
	start := d.now()
	result := types.RunResult{
		RunID:     ulid.Make().String(),
		DatasetID: cfg.DatasetID,
		VersionTS: catalog.VersionTimestamp(start),
	}
	logger := d.logger.With("dataset", cfg.DatasetID, "run", result.RunID, "version", result.VersionTS)

	ctx, span := d.tracer.Start(ctx, "pipeline.run")
	defer span.End()
	telemetry.Count(ctx, telemetry.RunsStarted, telemetry.Dataset(cfg.DatasetID))
	defer func() {
		telemetry.Count(ctx, telemetry.RunsFinished,
			telemetry.Dataset(cfg.DatasetID), telemetry.Status(string(result.Status)))
	}()

	if d.lock != nil {
		acquired, err := d.lock.Acquire(ctx, catalog.LockKey(cfg.DatasetID), result.RunID)
		if err != nil {
			return d.fail(logger, result, fmt.Errorf("acquiring lock: %w", err))
		}
		if !acquired {
			logger.Info("run skipped: pipeline lock held elsewhere")
			result.Status = types.RunSkippedLock
			return result
		}
		defer func() {
			// Release never fails the run; a leaked lock expires by TTL.
			if _, err := d.lock.Release(context.WithoutCancel(ctx), catalog.LockKey(cfg.DatasetID), result.RunID); err != nil {
				logger.Warn("releasing lock failed", "error", err)
			}
		}()
	}

	status, rowsAdded, err := d.run(ctx, logger, cfg, result.RunID, result.VersionTS, start)
	if err != nil {
		return d.fail(logger, result, err)
	}
	result.Status = status
	result.RowsAdded = rowsAdded
	logger.Info("run finished", "status", status, "rows_added", rowsAdded,
		"elapsed", d.now().Sub(start).Round(time.Millisecond))
	return result
}

// run is the guarded body of Run; the lock is already held.
func (d *Driver) run(ctx context.Context, logger *slog.Logger, cfg types.DatasetConfig, runID, versionTS string, start time.Time) (types.RunStatus, int, error) {
	if err := d.ensureIndexConsistency(ctx, logger, cfg.DatasetID); err != nil {
		return types.RunError, 0, err
	}

	body, filename, err := d.fetch(ctx, cfg)
	if err != nil {
		return types.RunError, 0, fmt.Errorf("fetching source: %w", err)
	}
	fingerprint := types.SourceFile{
		Path:   filename,
		SHA256: sha256Hex(body),
		Size:   int64(len(body)),
	}
	d.archiveRaw(ctx, logger, cfg.DatasetID, runID, filename, body)

	if !cfg.FullReload {
		unchanged, err := d.sourceUnchanged(ctx, cfg.DatasetID, fingerprint.SHA256)
		if err != nil {
			return types.RunError, 0, err
		}
		if unchanged {
			logger.Info("source unchanged since current version")
			return types.RunNoChange, 0, nil
		}
	}

	parser, err := d.registry.Parser(cfg.Parse.Plugin)
	if err != nil {
		return types.RunError, 0, err
	}
	parsed, err := parser.Parse(body, cfg)
	if err != nil {
		return types.RunError, 0, fmt.Errorf("parsing source: %w", err)
	}

	if !cfg.FullReload {
		parsed, err = d.filterNewData(ctx, logger, cfg, parsed)
		if err != nil {
			return types.RunError, 0, err
		}
	}

	normalizer, err := d.registry.Normalizer(cfg.Normalize.Plugin)
	if err != nil {
		return types.RunError, 0, err
	}
	normalized, err := normalizer.Normalize(parsed, cfg)
	if err != nil {
		return types.RunError, 0, fmt.Errorf("normalizing rows: %w", err)
	}

	index, err := d.catalog.ReadIndex(ctx, cfg.DatasetID)
	if err != nil {
		return types.RunError, 0, err
	}
	diff, err := delta.Compute(normalized, index, cfg.PrimaryKeys())
	if err != nil {
		return types.RunError, 0, fmt.Errorf("computing delta: %w", err)
	}
	if len(diff.Rows) == 0 {
		logger.Info("no unpublished rows", "normalized", len(normalized), "index", len(index))
		return types.RunNoNewData, 0, nil
	}

	enriched := enrich.Enrich(diff.Rows, cfg, versionTS, start.UTC())

	files, affected, err := d.catalog.WriteEvents(ctx, cfg.DatasetID, versionTS, enriched)
	if err != nil {
		telemetry.Count(ctx, telemetry.EventRollbacks, telemetry.Dataset(cfg.DatasetID))
		return types.RunError, 0, fmt.Errorf("writing events: %w", err)
	}
	logger.Info("wrote event files", "files", len(files), "months", len(affected), "rows", len(enriched))

	status, err := d.publish(ctx, logger, cfg, versionTS, fingerprint, files, diff)
	if err != nil || status != types.RunCompleted {
		return status, 0, err
	}

	d.consolidate(ctx, logger, cfg, affected)
	d.notify(ctx, logger, cfg, versionTS)

	return types.RunCompleted, len(diff.Rows), nil
}

// fail logs and records a run failure.
func (d *Driver) fail(logger *slog.Logger, result types.RunResult, err error) types.RunResult {
	logger.Error("run failed", "error", err)
	result.Status = types.RunError
	result.Err = err
	return result
}

// ensureIndexConsistency is the self-healing guard: when the index disagrees
// with the current manifest beyond tolerance, rebuild it from the event log
// before computing any delta against it.
func (d *Driver) ensureIndexConsistency(ctx context.Context, logger *slog.Logger, datasetID string) error {
	consistent, drift, err := d.catalog.VerifyIndexConsistency(ctx, datasetID, d.tolerance)
	if err != nil {
		return fmt.Errorf("verifying index consistency: %w", err)
	}
	if consistent {
		if drift > 0 {
			logger.Warn("index drift within tolerance", "drift", drift, "tolerance", d.tolerance)
		}
		return nil
	}
	logger.Warn("index inconsistent with current manifest, rebuilding", "drift", drift)
	telemetry.Count(ctx, telemetry.IndexRebuilds, telemetry.Dataset(datasetID))
	if err := d.catalog.RebuildIndexFromPointer(ctx, datasetID); err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}
	return nil
}

// fetch retrieves the source body, picking a transport when none was injected.
func (d *Driver) fetch(ctx context.Context, cfg types.DatasetConfig) ([]byte, string, error) {
	fetcher := d.fetcher
	if fetcher == nil {
		var err error
		fetcher, err = NewFetcher(cfg)
		if err != nil {
			return nil, "", err
		}
	}
	return fetcher.Fetch(ctx, cfg)
}

// archiveRaw stores the fetched body under the run's raw prefix. Best effort:
// the archive is for debugging and reprocessing, not part of the publish.
func (d *Driver) archiveRaw(ctx context.Context, logger *slog.Logger, datasetID, runID, filename string, body []byte) {
	key := catalog.RawKey(datasetID, runID, filename)
	if _, err := d.catalog.Store().Put(ctx, key, body, "application/octet-stream"); err != nil {
		logger.Warn("archiving raw source failed", "key", key, "error", err)
	}
}

// sourceUnchanged reports whether the fetched body matches the source
// fingerprint of the currently published version.
func (d *Driver) sourceUnchanged(ctx context.Context, datasetID, bodySHA256 string) (bool, error) {
	pointer, _, err := d.catalog.ReadPointer(ctx, datasetID)
	if err != nil {
		return false, err
	}
	if pointer == nil || pointer.CurrentVersion == "" {
		return false, nil
	}
	manifest, err := d.catalog.ReadEventManifest(ctx, datasetID, pointer.CurrentVersion)
	if err != nil {
		return false, err
	}
	if manifest == nil {
		return false, nil
	}
	for _, f := range manifest.Source.Files {
		if f.SHA256 == bodySHA256 {
			return true, nil
		}
	}
	return false, nil
}

// filterNewData drops rows at or before the observation cutoff: the latest
// observation of the current version, pulled back by lagDays to re-ingest
// recent observations the provider may still revise.
func (d *Driver) filterNewData(ctx context.Context, logger *slog.Logger, cfg types.DatasetConfig, rows []types.Row) ([]types.Row, error) {
	cutoff, ok, err := d.observationCutoff(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return rows, nil
	}

	kept := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		t, hasDate := row.PartitionTime()
		if !hasDate || t.After(cutoff) {
			kept = append(kept, row)
		}
	}
	if dropped := len(rows) - len(kept); dropped > 0 {
		logger.Info("filtered previously ingested observations",
			"dropped", dropped, "kept", len(kept), "cutoff", cutoff.Format(time.RFC3339))
	}
	return kept, nil
}

// observationCutoff returns the latest observation timestamp of the current
// version minus the configured lag. The second return is false when no
// version is published yet.
func (d *Driver) observationCutoff(ctx context.Context, cfg types.DatasetConfig) (time.Time, bool, error) {
	pointer, _, err := d.catalog.ReadPointer(ctx, cfg.DatasetID)
	if err != nil {
		return time.Time{}, false, err
	}
	if pointer == nil || pointer.CurrentVersion == "" {
		return time.Time{}, false, nil
	}

	files, err := d.catalog.ListEventFiles(ctx, cfg.DatasetID, pointer.CurrentVersion)
	if err != nil {
		return time.Time{}, false, err
	}
	var latest time.Time
	found := false
	for _, key := range files {
		rows, err := d.catalog.ReadEventRows(ctx, key)
		if err != nil {
			return time.Time{}, false, err
		}
		for _, row := range rows {
			if t, ok := row.PartitionTime(); ok && t.After(latest) {
				latest = t
				found = true
			}
		}
	}
	if !found {
		return time.Time{}, false, nil
	}
	return latest.Add(-time.Duration(cfg.LagDays) * 24 * time.Hour), true, nil
}

// publish makes the version visible: write its manifest, advance the pointer
// by CAS, then update the primary-key index. The index write runs strictly
// after the CAS so a lost race never corrupts the winner's index; if the
// index write itself fails the guard heals it on the next run.
func (d *Driver) publish(ctx context.Context, logger *slog.Logger, cfg types.DatasetConfig, versionTS string, fingerprint types.SourceFile, files []string, diff *delta.Result) (types.RunStatus, error) {
	manifest := types.EventManifest{
		DatasetID: cfg.DatasetID,
		Version:   versionTS,
		CreatedAt: d.now().UTC().Format(time.RFC3339),
		Source:    types.SourceInfo{Files: []types.SourceFile{fingerprint}},
		Outputs: types.OutputsInfo{
			DataPrefix:           catalog.EventsPrefix(cfg.DatasetID, versionTS),
			Files:                files,
			RowsTotal:            len(diff.UpdatedIndex),
			RowsAddedThisVersion: len(diff.Rows),
		},
		Index: types.IndexInfo{
			Path:       catalog.IndexKey(cfg.DatasetID),
			KeyColumns: cfg.PrimaryKeys(),
			HashColumn: delta.HashColumn,
		},
	}
	if err := d.catalog.WriteEventManifest(ctx, manifest); err != nil {
		return types.RunError, err
	}

	_, etag, err := d.catalog.ReadPointer(ctx, cfg.DatasetID)
	if err != nil {
		return types.RunError, err
	}
	pointer := types.Pointer{DatasetID: cfg.DatasetID, CurrentVersion: versionTS}
	if err := d.catalog.PutPointer(ctx, pointer, etag); err != nil {
		if errors.Is(err, objectstore.ErrPreconditionFailed) {
			logger.Warn("pointer advanced by a concurrent run; leaving index untouched")
			telemetry.Count(ctx, telemetry.CASConflicts, telemetry.Dataset(cfg.DatasetID))
			return types.RunCASConflict, nil
		}
		return types.RunError, fmt.Errorf("advancing pointer: %w", err)
	}
	telemetry.Count(ctx, telemetry.Publishes, telemetry.Dataset(cfg.DatasetID))

	if err := d.catalog.WriteIndex(ctx, cfg.DatasetID, diff.UpdatedIndex); err != nil {
		// The version is already live. Surface the error; the consistency
		// guard rebuilds the index at the start of the next run.
		return types.RunError, fmt.Errorf("updating index after publish: %w", err)
	}
	logger.Info("published version", "rows_total", manifest.Outputs.RowsTotal)
	return types.RunCompleted, nil
}

// consolidate rebuilds the projections of the months this version touched.
// Failures are logged only: projections are derived state and the publish
// stands regardless.
func (d *Driver) consolidate(ctx context.Context, logger *slog.Logger, cfg types.DatasetConfig, affected []types.YearMonth) {
	if len(affected) == 0 {
		return
	}
	cons := consolidate.New(d.catalog, consolidate.WithLogger(d.logger))
	if err := cons.Run(ctx, cfg, affected); err != nil {
		logger.Error("consolidation incomplete", "error", err)
	}
}

// notify publishes the DATASET_UPDATED message. Failures are logged only.
func (d *Driver) notify(ctx context.Context, logger *slog.Logger, cfg types.DatasetConfig, versionTS string) {
	if d.notifier == nil || cfg.Notify == nil || cfg.Notify.TopicARN == "" {
		return
	}
	pointerPath := catalog.EventManifestPointer(cfg.DatasetID, versionTS)
	if err := d.notifier.Notify(ctx, cfg.Notify.TopicARN, cfg.DatasetID, pointerPath); err != nil {
		logger.Error("notification failed", "error", err)
	}
}

// sha256Hex fingerprints a source body.
func sha256Hex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
