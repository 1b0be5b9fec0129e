// Package catalog persists the unified media catalog in a BoltDB file.
//
// The catalog package handles:
//   - Batch upserts with new-vs-updated accounting
//   - Deletion detection via per-source sync generations
//   - Per-unit high-water marks with never-regress merging
//   - Fuzzy title search over the whole catalog
//
// Items are stored under source/contentType/unitID/itemID keys inside a
// JSON envelope that tracks when the item was first seen, when it last
// changed, and which sync generation last saw it. A full sync opens a new
// generation with BeginGeneration, restamps everything it re-discovers,
// and then calls PruneStale to drop what the source no longer has.
//
// Usage:
//
//	store, err := catalog.NewStore(cfg.Storage.CatalogPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	created, updated, err := store.UpsertAll(batch)
//
// An empty path opens a memory-only store with the same semantics, which
// tests rely on.
package catalog
