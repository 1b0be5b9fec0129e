package scan

import (
	"time"

	"mediadex/pkg/models"
)

// Event is the closed set of events produced by a catalog scan: item
// discoveries, debounced progress, per-unit summaries, and exactly one
// terminal event per run (Completed, Cancelled or Failed). Consumers are
// expected to switch exhaustively over the concrete types; the unexported
// marker method keeps the set closed to this package.
type Event interface {
	scanEvent()
}

// ItemDiscovered carries one media-bearing item found during a scan.
type ItemDiscovered struct {
	Item models.CatalogItem
}

// Progress reports running totals. Emitted at batch granularity and
// debounced so high discovery rates do not flood consumers.
type Progress struct {
	UnitsScanned    int64
	ItemsScanned    int64
	ItemsDiscovered int64
}

// UnitComplete marks the clean end of one unit's scan. Mark is the unit's
// advanced high-water mark; ReachedMark reports whether the scan stopped at
// the prior mark (an incremental scan) rather than exhausting history.
type UnitComplete struct {
	UnitID      string
	Discovered  int64
	Mark        models.Marker
	ReachedMark bool
}

// UnitFailed marks one unit's scan as failed. Siblings are unaffected.
// Mark carries the unit's prior high-water mark forward unchanged.
type UnitFailed struct {
	UnitID string
	Err    error
	Mark   models.Marker
}

// Completed is the terminal event of a run that scanned every eligible
// unit. Marks holds the final high-water mark for every started unit,
// including carried-forward values for failed and zero-progress units.
type Completed struct {
	UnitsScanned    int64
	ItemsScanned    int64
	ItemsDiscovered int64
	UnitsFailed     int64
	Duration        time.Duration
	Marks           map[string]models.Marker
}

// Cancelled is the terminal event of a run stopped by its context. Marks
// holds the high-water marks collected up to the cancellation point.
type Cancelled struct {
	Marks map[string]models.Marker
}

// Failed is the terminal event of a run that could not proceed at all,
// such as a live stream whose source fails preflight.
type Failed struct {
	Reason string
	Err    error
}

func (ItemDiscovered) scanEvent() {}
func (Progress) scanEvent()       {}
func (UnitComplete) scanEvent()   {}
func (UnitFailed) scanEvent()     {}
func (Completed) scanEvent()      {}
func (Cancelled) scanEvent()      {}
func (Failed) scanEvent()         {}
