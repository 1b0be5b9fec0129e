// Package syncer drives catalog sync runs end to end.
//
// The syncer package sits between the source adapters and the persistence
// layer, coordinating scanning, batching, checkpointing and run-level
// status reporting.
//
// Architecture:
//
// The Orchestrator is the main component. For one run it:
//   - Validates source readiness (auth + connectivity) before any I/O
//   - Short-circuits AUTO runs when the source's catalog version is
//     unchanged since the last sync
//   - Fans the scan out across units through the parallel coordinator
//   - Accumulates discovered items and flushes them in fixed-size batches
//   - Records start, completion and failure in the checkpoint store
//   - Reports Started/InProgress/terminal statuses on a channel
//
// Usage:
//
//	orch := syncer.New(source, catalogStore, checkpointStore, syncer.SyncConfig{
//	    BatchSize:   50,
//	    Parallelism: 4,
//	}, log)
//
//	go func() {
//	    for st := range orch.Status() {
//	        fmt.Printf("%s: %d discovered\n", st.State, st.Discovered)
//	    }
//	}()
//
//	err := orch.Run(ctx, syncer.SyncRequest{Mode: syncer.ModeAuto})
//
// Modes:
//
// AUTO and EXPERT_NOW scan incrementally: each unit's stored high-water
// mark bounds its scan, and an unchanged catalog version completes the run
// without scanning at all. FORCE_RESCAN clears the stored validators and
// walks the full catalog, which also re-arms deletion detection.
//
// Live sessions:
//
// Watch consumes a push-style event stream (pkg/live) through the same
// batching loop, adding a flush-interval timer so a part-filled batch is
// written out even when the feed idles. A live session persists unit marks
// on shutdown but leaves sync summaries to batch runs.
package syncer
