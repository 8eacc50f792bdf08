// Package batch provides the rate-limited batch query engine.
//
// The registry tolerates only a handful of requests per minute, so the
// scheduler walks the identifier list strictly in order on a single worker:
//
//	cfg := batch.DefaultConfig() // 3 per batch, 1s between items, 60s between batches
//	scheduler, err := batch.New(lookupClient, cfg)
//	rows, err := scheduler.Run(ctx, cnpjs, projector.DefaultFields, onProgress)
//
// The scheduler:
//   - Splits the identifiers into contiguous batches of Config.BatchSize
//   - Looks up and projects each identifier, then waits Config.ItemDelay
//   - Reports progress after every identifier
//   - Waits Config.BatchCooldown between batches, never after the last one
//   - Degrades failed lookups to sentinel rows instead of aborting
//
// Start runs the same loop on its own goroutine and returns a Task that can be
// waited on, cancelled and polled for progress. Cancellation is checked before
// every identifier and interrupts any pending delay. Rows completed before the
// cancellation are returned together with ErrRunCancelled.
package batch
