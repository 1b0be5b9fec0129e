// Package live converts a source's push feed into the scan event
// vocabulary the rest of the engine consumes. A classifier seeded from
// each unit's newest items suppresses noisy units, and a unit waking from
// inactivity triggers a bounded warm-up backfill on a worker pool.
package live
