package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/cve-sync/pkg/client"
)

var (
	nvdPagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvd_pages_fetched_total",
		Help: "Total number of result pages fetched and handled",
	})

	nvdPaginationInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nvd_pagination_inflight",
		Help: "Number of page fetches currently in flight",
	})
)

// Config holds paginator configuration.
type Config struct {
	// MaxConcurrency is the maximum number of page fetches in flight.
	MaxConcurrency int
}

// DefaultConfig returns the default paginator configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
	}
}

// PageFetcher fetches a single page.
type PageFetcher interface {
	Fetch(ctx context.Context, params client.Params) (*client.Page, error)
}

// PageHandler consumes one page. It is called concurrently from workers;
// a non-nil error is fatal to the sweep.
type PageHandler func(ctx context.Context, page *client.Page) error

// Summary describes a finished or aborted sweep.
type Summary struct {
	TotalResults int
	Pages        int // pages the listing spans
	PagesHandled int
	Records      int
	Duration     time.Duration
}

// Paginator fetches every page of a listing with bounded concurrency.
type Paginator struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewPaginator creates a paginator.
func NewPaginator(fetcher PageFetcher, config Config, logger zerolog.Logger) *Paginator {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Paginator{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// tally accumulates handled pages and forwards them to the progress sink.
type tally struct {
	mu       sync.Mutex
	summary  *Summary
	progress Progress
}

func (t *tally) add(page *client.Page) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary.PagesHandled++
	t.summary.Records += len(page.Records)
	t.progress.Add(len(page.Records))
	nvdPagesFetchedTotal.Inc()
}

// FetchAll fetches the seed page synchronously, then the remaining pages
// on at most MaxConcurrency workers, passing every page to handle. The
// returned summary is valid even when an error is returned.
func (p *Paginator) FetchAll(ctx context.Context, seed client.Params, handle PageHandler, progress Progress) (*Summary, error) {
	start := time.Now()
	if progress == nil {
		progress = NopProgress{}
	}
	if seed.ResultsPerPage <= 0 {
		return &Summary{}, fmt.Errorf("results per page must be > 0 (got %d)", seed.ResultsPerPage)
	}

	seedPage, err := p.fetcher.Fetch(ctx, seed)
	if err != nil {
		return &Summary{Duration: time.Since(start)}, fmt.Errorf("fetch seed page: %w", err)
	}

	// The source may serve fewer records per page than requested.
	pageSize := seed.ResultsPerPage
	if seedPage.ResultsPerPage > 0 && seedPage.ResultsPerPage < pageSize {
		pageSize = seedPage.ResultsPerPage
	}
	numPages := client.NumPages(seedPage.TotalResults-seed.StartIndex, pageSize)

	summary := &Summary{
		TotalResults: seedPage.TotalResults,
		Pages:        numPages,
	}
	t := &tally{summary: summary, progress: progress}
	defer func() {
		summary.Duration = time.Since(start)
	}()

	p.logger.Info().
		Int("total_results", seedPage.TotalResults).
		Int("pages", numPages).
		Int("page_size", pageSize).
		Int("max_concurrency", p.config.MaxConcurrency).
		Msg("Starting parallel page fetch")

	progress.Start(seedPage.TotalResults)
	defer progress.Finish()

	if err := handle(ctx, seedPage); err != nil {
		return summary, fmt.Errorf("handle page at index %d: %w", seed.StartIndex, err)
	}
	t.add(seedPage)

	if numPages <= 1 {
		p.logger.Info().
			Int("records", summary.Records).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return summary, nil
	}

	tasks := make(chan client.Params)
	stop := make(chan struct{})
	var (
		stopOnce sync.Once
		firstErr error
	)
	fail := func(err error) {
		stopOnce.Do(func() {
			firstErr = err
			close(stop)
		})
	}

	// Feed remaining start indexes (seed page already handled)
	go func() {
		defer close(tasks)
		for i := 1; i < numPages; i++ {
			params := seed
			params.ResultsPerPage = pageSize
			params.StartIndex = seed.StartIndex + i*pageSize
			select {
			case tasks <- params:
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	workers := p.config.MaxConcurrency
	if workers > numPages-1 {
		workers = numPages - 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, stop, handle, fail, t, &wg)
	}
	wg.Wait()

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		p.logger.Error().
			Err(firstErr).
			Int("pages_handled", summary.PagesHandled).
			Int("pages", numPages).
			Int("records", summary.Records).
			Msg("Page sweep aborted")
		return summary, firstErr
	}

	p.logger.Info().
		Int("pages", summary.PagesHandled).
		Int("records", summary.Records).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return summary, nil
}

// worker processes start indexes until the queue closes or the sweep stops.
func (p *Paginator) worker(ctx context.Context, workerID int, tasks <-chan client.Params, stop <-chan struct{},
	handle PageHandler, fail func(error), t *tally, wg *sync.WaitGroup) {
	defer wg.Done()
	pagesProcessed := 0

	for params := range tasks {
		// Do not start new work once the sweep has failed
		select {
		case <-stop:
			p.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (sweep aborted)")
			return
		default:
		}

		nvdPaginationInflight.Inc()
		page, err := p.fetcher.Fetch(ctx, params)
		nvdPaginationInflight.Dec()

		if err != nil {
			p.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("start_index", params.StartIndex).
				Msg("Page fetch failed")
			fail(fmt.Errorf("fetch page at index %d: %w", params.StartIndex, err))
			return
		}

		if err := handle(ctx, page); err != nil {
			fail(fmt.Errorf("handle page at index %d: %w", params.StartIndex, err))
			return
		}
		t.add(page)
		pagesProcessed++
	}

	if pagesProcessed > 0 {
		p.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker completed")
	}
}
