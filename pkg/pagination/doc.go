// Package pagination drives a bounded-concurrency sweep over every page of
// an NVD listing.
//
// The first (seed) page is fetched synchronously to learn totalResults. The
// remaining start indexes are handed to a fixed pool of workers; each worker
// fetches a page and passes it to the caller's handler, so pages are
// consumed in completion order. Every record carries its own identifier,
// which makes that order irrelevant to the final store state.
//
// Example usage:
//
//	p := pagination.NewPaginator(nvdClient, pagination.DefaultConfig(), logger)
//	summary, err := p.FetchAll(ctx, client.Params{ResultsPerPage: 2000}, handle, pagination.NopProgress{})
//
// The first fetch or handler error stops the dispatch of pages that have not
// started. Requests already in flight run to completion and their pages are
// still handled, so work that succeeded stays committed.
package pagination
