// Package syncer drives full loads and incremental syncs from the CVE API
// into a store.
//
// A run fetches pages through the paginator and writes each page to the
// store as it arrives. Fetch errors end the run; pages written before the
// failure stay written. Store and checkpoint errors are logged and counted
// in the Report, and only end the run in strict mode.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/cve-sync/pkg/client"
	"github.com/Sternrassler/cve-sync/pkg/pagination"
	"github.com/Sternrassler/cve-sync/pkg/record"
	"github.com/Sternrassler/cve-sync/pkg/snapshot"
	"github.com/Sternrassler/cve-sync/pkg/store"
)

// ErrInvalidOverride is returned for a negative override in hours.
var ErrInvalidOverride = errors.New("override hours must not be negative")

// Config holds syncer configuration.
type Config struct {
	SourceName      string        // checkpoint key
	Collection      string        // target collection
	IDField         string        // field carrying the unique index
	ResultsPerPage  int           // requested page size
	DefaultLookback time.Duration // incremental range without checkpoint
	MaxWindow       time.Duration // longest range the source accepts in one query
	Strict          bool          // store and checkpoint errors end the run
	SnapshotDir     string        // write a JSON snapshot here when set
}

// DefaultConfig returns the default syncer configuration.
func DefaultConfig() Config {
	return Config{
		SourceName:      "nvd",
		Collection:      "cves",
		IDField:         "id",
		ResultsPerPage:  2000,
		DefaultLookback: 24 * time.Hour,
		MaxWindow:       120 * 24 * time.Hour,
	}
}

// PageSource delivers every page of a listing to a handler.
type PageSource interface {
	FetchAll(ctx context.Context, seed client.Params, handle pagination.PageHandler, progress pagination.Progress) (*pagination.Summary, error)
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// WithProgress sets the progress sink passed to the paginator.
func WithProgress(p pagination.Progress) Option {
	return func(s *Syncer) {
		s.progress = p
	}
}

// WithSnapshot writes a JSON snapshot of every successful run into dir.
func WithSnapshot(dir string) Option {
	return func(s *Syncer) {
		s.cfg.SnapshotDir = dir
	}
}

// Syncer runs full loads and incremental syncs.
type Syncer struct {
	cfg      Config
	pages    PageSource
	store    store.Store
	logger   zerolog.Logger
	now      func() time.Time
	progress pagination.Progress
}

// New creates a syncer. Zero config fields take their defaults.
func New(cfg Config, pages PageSource, st store.Store, logger zerolog.Logger, opts ...Option) (*Syncer, error) {
	if pages == nil {
		return nil, errors.New("page source is required")
	}
	if st == nil {
		return nil, errors.New("store is required")
	}

	defaults := DefaultConfig()
	if cfg.SourceName == "" {
		cfg.SourceName = defaults.SourceName
	}
	if cfg.Collection == "" {
		cfg.Collection = defaults.Collection
	}
	if cfg.IDField == "" {
		cfg.IDField = defaults.IDField
	}
	if cfg.ResultsPerPage <= 0 {
		cfg.ResultsPerPage = defaults.ResultsPerPage
	}
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = defaults.DefaultLookback
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = defaults.MaxWindow
	}

	s := &Syncer{
		cfg:      cfg,
		pages:    pages,
		store:    st,
		logger:   logger,
		now:      time.Now,
		progress: pagination.NopProgress{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Syncer) Config() Config {
	return s.cfg
}

// FullLoad fetches the whole listing, inserts every record and then
// guarantees the unique index. The checkpoint is not touched.
func (s *Syncer) FullLoad(ctx context.Context) (*Report, error) {
	r := newRun(ModeFull, s.now)
	start := s.now()
	log := s.logger.With().Str("mode", string(ModeFull)).Logger()
	log.Info().Str("collection", s.cfg.Collection).Msg("Starting full load")

	var collector *snapshot.Collector
	if s.cfg.SnapshotDir != "" {
		collector = snapshot.NewCollector()
	}

	r.enter(StateSeedFetch)
	seed := client.Params{ResultsPerPage: s.cfg.ResultsPerPage}
	err := s.sweep(ctx, r, log, seed, store.OpInsert, s.store.InsertBatch, collector)

	if err == nil {
		if ierr := s.store.EnsureUniqueIndex(ctx, s.cfg.Collection, s.cfg.IDField); ierr != nil {
			err = s.storeFailure(r, log, store.OpEnsureIndex, ierr)
		} else {
			log.Info().Str("field", s.cfg.IDField).Msg("Unique index ensured")
		}
	}

	if err == nil && collector != nil {
		err = s.writeSnapshot(r, log, collector, snapshot.FullLoadFile)
	}

	return s.finish(r, log, start, err)
}

// Incremental fetches records modified inside the computed window and
// upserts them. overrideHours > 0 replaces the checkpoint with now-H. On
// success the checkpoint moves to the window end.
func (s *Syncer) Incremental(ctx context.Context, overrideHours int) (*Report, error) {
	r := newRun(ModeIncremental, s.now)
	start := s.now()
	log := s.logger.With().Str("mode", string(ModeIncremental)).Logger()

	if overrideHours < 0 {
		return s.finish(r, log, start, fmt.Errorf("%w (got %d)", ErrInvalidOverride, overrideHours))
	}

	checkpoint, hasCheckpoint, rerr := s.store.ReadCheckpoint(ctx, s.cfg.SourceName)
	if rerr != nil {
		if err := s.storeFailure(r, log, store.OpReadCheckpoint, rerr); err != nil {
			return s.finish(r, log, start, err)
		}
		hasCheckpoint = false
	}

	window := ComputeWindow(s.now(), overrideHours, checkpoint, hasCheckpoint, s.cfg.DefaultLookback)
	chunks := window.Split(s.cfg.MaxWindow)

	log.Info().
		Str("window_start", window.Start.Format(WindowLayout)).
		Str("window_end", window.End.Format(WindowLayout)).
		Bool("from_checkpoint", hasCheckpoint && overrideHours == 0).
		Int("override_hours", overrideHours).
		Int("chunks", len(chunks)).
		Msg("Starting incremental sync")

	var collector *snapshot.Collector
	if s.cfg.SnapshotDir != "" {
		collector = snapshot.NewCollector()
	}

	var err error
	r.enter(StateSeedFetch)
	for _, chunk := range chunks {
		r.mu.Lock()
		r.report.Windows = append(r.report.Windows, chunk)
		r.mu.Unlock()

		chunkLog := log.With().
			Str("window_start", chunk.Start.Format(WindowLayout)).
			Str("window_end", chunk.End.Format(WindowLayout)).
			Logger()
		if err = s.sweep(ctx, r, chunkLog, chunk.Params(s.cfg.ResultsPerPage), store.OpUpsert, s.store.UpsertBatch, collector); err != nil {
			err = fmt.Errorf("window %s: %w", chunk, err)
			break
		}
	}

	if err == nil {
		if cerr := s.store.WriteCheckpoint(ctx, s.cfg.SourceName, window.End); cerr != nil {
			err = s.storeFailure(r, log, store.OpWriteCheckpoint, cerr)
		} else {
			log.Info().Str("checkpoint", window.End.Format(WindowLayout)).Msg("Checkpoint updated")
		}
	}

	if err == nil && collector != nil {
		err = s.writeSnapshot(r, log, collector, snapshot.IncrementalFile)
	}

	return s.finish(r, log, start, err)
}

type batchWriter func(ctx context.Context, collection string, records []record.Record) error

// sweep runs one paginated listing, writing every page with write.
func (s *Syncer) sweep(ctx context.Context, r *run, log zerolog.Logger, seed client.Params, op string,
	write batchWriter, collector *snapshot.Collector) error {
	handle := func(ctx context.Context, page *client.Page) error {
		if len(page.Records) == 0 {
			return nil
		}
		if collector != nil {
			collector.Add(page.Records)
		}
		if err := write(ctx, s.cfg.Collection, page.Records); err != nil {
			return s.storeFailure(r, log, op, err)
		}
		r.persisted(len(page.Records))
		log.Debug().
			Int("start_index", page.StartIndex).
			Int("records", len(page.Records)).
			Msg("Page persisted")
		return nil
	}

	summary, err := s.pages.FetchAll(ctx, seed, handle, phaseProgress{run: r, inner: s.progress})
	r.addSummary(summary)
	return err
}

// storeFailure logs and counts a store error. It returns the error only
// when the run is strict.
func (s *Syncer) storeFailure(r *run, log zerolog.Logger, op string, err error) error {
	StoreErrors.WithLabelValues(op).Inc()
	r.writeFailure(err)

	if s.cfg.Strict {
		log.Error().Err(err).Str("operation", op).Msg("Store operation failed")
		return err
	}
	log.Warn().Err(err).Str("operation", op).Msg("Store operation failed, continuing")
	return nil
}

func (s *Syncer) writeSnapshot(r *run, log zerolog.Logger, c *snapshot.Collector, name string) error {
	path := filepath.Join(s.cfg.SnapshotDir, name)
	if err := c.WriteFile(path); err != nil {
		return err
	}
	r.mu.Lock()
	r.report.SnapshotPath = path
	r.mu.Unlock()
	log.Info().Str("path", path).Int("records", c.Len()).Msg("Snapshot written")
	return nil
}

func (s *Syncer) finish(r *run, log zerolog.Logger, start time.Time, err error) (*Report, error) {
	result := StateSuccess
	if err != nil {
		result = StateFailed
	}
	r.enter(result)

	r.mu.Lock()
	r.report.Duration = s.now().Sub(start)
	report := *r.report
	r.mu.Unlock()

	SyncRuns.WithLabelValues(string(report.Mode), string(result)).Inc()
	RecordsPersisted.WithLabelValues(string(report.Mode)).Add(float64(report.Persisted))
	SyncDuration.WithLabelValues(string(report.Mode)).Observe(report.Duration.Seconds())

	if err != nil {
		log.Error().
			Err(err).
			Int("records", report.Records).
			Int("persisted", report.Persisted).
			Int("write_failures", len(report.WriteFailures)).
			Msg("Sync failed")
		return &report, err
	}

	log.Info().
		Int("total_results", report.TotalResults).
		Int("pages", report.Pages).
		Int("records", report.Records).
		Int("persisted", report.Persisted).
		Int("write_failures", len(report.WriteFailures)).
		Dur("duration", report.Duration).
		Msg("Sync complete")
	return &report, nil
}
