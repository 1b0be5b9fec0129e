package syncer

import (
	"context"
	"errors"
	"fmt"

	"mediadex/internal/scan"
	"mediadex/pkg/models"
)

// ErrLiveUnsupported is returned from LiveUpdates by sources without a push
// feed. Callers check it with errors.Is and fall back to batch-only syncing.
var ErrLiveUnsupported = fmt.Errorf("live updates: %w", errors.ErrUnsupported)

// Source is the adapter contract the sync engine consumes. Implementations
// live under pkg/source; the engine never sees wire formats or auth details.
//
// AuthState and ConnectionState are current-value reads. Adapters keep them
// up to date on every call outcome, so the engine can preflight a run
// without issuing a probe request.
type Source interface {
	// Type identifies the source family (chat archive, panel).
	Type() models.SourceType

	// AccountID names the account this adapter is bound to. It is the
	// account component of checkpoint keys.
	AccountID() string

	// AuthState reports the current authentication state.
	AuthState() models.AuthState

	// ConnectionState reports the current transport state.
	ConnectionState() models.ConnectionState

	// ListUnits enumerates the scannable units of the catalog. A limit of
	// zero or less means no limit.
	ListUnits(ctx context.Context, limit int) ([]models.ScanUnit, error)

	// FetchItems returns one page of a unit's items, newest first. A zero
	// after fetches the newest page; subsequent calls pass the cursor
	// returned with the previous page. Non-media items are included; the
	// scanner filters them.
	FetchItems(ctx context.Context, unitID string, after models.Marker, pageSize int) (scan.Page, error)

	// LiveUpdates opens the source's push feed and returns a channel of raw
	// item updates. The channel closes when the feed ends or ctx is
	// cancelled. Sources without a feed return ErrLiveUnsupported.
	LiveUpdates(ctx context.Context) (<-chan models.CatalogItem, error)
}

// Versioner is an optional Source capability: sources that can report a
// catalog version cheaply let an AUTO run short-circuit to Completed when
// nothing changed since the last sync.
type Versioner interface {
	CatalogVersion(ctx context.Context) (etag, lastModified string, err error)
}

// Persister is the persistence collaborator items are flushed to. The
// catalog store satisfies it; tests substitute recorders.
type Persister interface {
	// UpsertAll writes a batch, returning how many items were newly
	// created versus updated in place.
	UpsertAll(items []models.CatalogItem) (created, updated int, err error)

	// DeleteAll removes every persisted item of one source and returns the
	// number removed.
	DeleteAll(source models.SourceType) (int, error)
}

// DeletionDetector is an optional Persister capability. Stores that stamp
// items with a scan generation can drop whatever a full rescan did not
// touch, which is how source-side deletions reach the local catalog.
type DeletionDetector interface {
	// BeginGeneration opens a new scan generation and returns it.
	BeginGeneration(source models.SourceType) (int64, error)

	// PruneStale deletes items left behind by older generations and
	// returns the number pruned.
	PruneStale(source models.SourceType) (int, error)
}

// MarkRepository keeps per-unit high-water marks between runs. Saved marks
// never regress; an apparent regression is dropped, not treated as an error.
type MarkRepository interface {
	UnitMarks(source models.SourceType) (map[string]models.Marker, error)
	SaveUnits(source models.SourceType, units []models.ScanUnit) error
	SaveUnitMarks(source models.SourceType, marks map[string]models.Marker) error
}
