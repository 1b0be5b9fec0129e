// Package checkpoint persists per-scope sync state so interrupted or
// repeated syncs resume instead of starting over.
//
// A checkpoint is keyed by (source, account, content type) and tracks:
//   - Last sync start, completion and duration (unix milliseconds)
//   - Item counts from the last completed pass (total, new, updated, deleted)
//   - Cached HTTP validators (ETag, Last-Modified) for cheap no-op syncs
//   - A generation counter advanced once per completed pass
//   - The last failure message (bounded) and the consecutive failure streak
//   - Whether the last pass was incremental, and whether a full sync is forced
//
// State lives in a SQLite database in WAL mode, so concurrent syncs of
// different scopes never corrupt each other and readers stay off the
// write path.
//
// Usage:
//
//	store, err := checkpoint.NewStore(cfg.Storage.CheckpointPath())
//	key := checkpoint.Key{Source: models.SourcePanelTV, AccountID: "main", ContentType: models.ContentVOD}
//
//	store.RecordSyncStart(key)
//	// ... run the sync ...
//	store.RecordSyncComplete(key, checkpoint.SyncSummary{
//		ItemCount:   total,
//		NewItems:    created,
//		Etag:        etag,
//		Incremental: true,
//	})
//
// Forcing a full rescan clears only the incremental short-circuit state:
//
//	store.ForceFullSync(key)
package checkpoint
