// Package scan implements the incremental catalog scan pipeline: paging
// single units from newest to oldest down to their high-water marks,
// coordinating many units across a bounded worker pool, and throttling the
// whole pipeline when heap usage approaches its limit.
//
// A scan run is consumed as a stream of events:
//
//	coord := scan.NewCoordinator(scan.CoordinatorConfig{
//		Parallelism: 4,
//		PageSize:    100,
//		Fetcher:     client,
//		Monitor:     scan.NewMemoryMonitor(0, log),
//	})
//	for ev := range coord.Run(ctx, units) {
//		switch e := ev.(type) {
//		case scan.ItemDiscovered:
//			// persist e.Item
//		case scan.Completed:
//			// save e.Marks
//		}
//	}
//
// The stream ends with exactly one terminal event, Completed or Cancelled,
// both carrying the per-unit high-water marks collected so far. Callers
// persist those marks so the next run only pages down to where this one
// stopped.
package scan
