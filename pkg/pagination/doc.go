// Package pagination walks the upstream task list page by page for one
// authenticated tenant.
//
// The upstream reports a total record count with every page but no page
// count, and pages may come back short or empty. The fetcher is therefore a
// small state machine:
//
//	page=1 ──fetch──▶ append rows ──▶ empty page or accumulated >= total? ──yes──▶ done
//	  ▲                                          │no
//	  └────────────────── page++ ◀───────────────┘
//	any request failure ──▶ failed-partial (rows so far + *client.PageError)
//
// Example usage:
//
//	fetcher := pagination.NewFetcher(upstream, pagination.DefaultConfig())
//	rows, err := fetcher.FetchAll(ctx, session, dateRange, 50)
//	if err != nil {
//		// rows still holds every page fetched before the failure
//	}
//
// Pages are fetched sequentially: the stop condition depends on each
// response. Parallelism lives one level up, across tenants.
package pagination
