package syncer

import (
	"time"

	"mediadex/pkg/models"
)

// SyncState is the lifecycle phase a Status reports. A run emits Started,
// then zero or more InProgress, then exactly one terminal state.
type SyncState string

const (
	StateStarted    SyncState = "started"
	StateInProgress SyncState = "in_progress"
	StateCompleted  SyncState = "completed"
	StateCancelled  SyncState = "cancelled"
	StateError      SyncState = "error"
)

// SyncMode selects how much of the catalog a run covers. The scheduler that
// enqueues runs distinguishes AUTO from EXPERT_NOW; the engine treats both
// as incremental.
type SyncMode string

const (
	// ModeAuto is a scheduler-triggered incremental sync.
	ModeAuto SyncMode = "AUTO"
	// ModeExpertNow is a user-triggered incremental sync.
	ModeExpertNow SyncMode = "EXPERT_NOW"
	// ModeForceRescan discards cached validators and unit marks and walks
	// the full catalog.
	ModeForceRescan SyncMode = "FORCE_RESCAN"
)

// Reason labels for Error statuses. Consumers branch on these, so they are
// a closed set rather than free-form text.
const (
	ReasonPreflight   = "preflight"
	ReasonPersistence = "persistence"
	ReasonScan        = "scan"
	ReasonLive        = "live"
	ReasonInternal    = "internal"
)

// SyncRequest identifies and parameterizes one run.
type SyncRequest struct {
	// RunID correlates statuses and log lines. Empty generates one.
	RunID string

	// Mode defaults to AUTO when empty.
	Mode SyncMode

	// ContentType is the checkpoint key component for this run.
	ContentType models.ContentType

	// UnitLimit bounds how many units the run scans. Zero means the
	// orchestrator's configured limit, which itself may be unlimited.
	UnitLimit int
}

// SyncConfig carries the engine-level tunables a run consumes. The
// scheduler owns everything above this: retry policy, network gating,
// periodic triggering.
type SyncConfig struct {
	// BatchSize is how many discovered items accumulate before a flush to
	// the persister.
	BatchSize int

	// EmitProgressEvery is the discovered-item interval between InProgress
	// statuses.
	EmitProgressEvery int

	// Parallelism caps concurrently scanned units.
	Parallelism int

	// PageSize is passed through to the unit scanners.
	PageSize int

	// FlushInterval bounds how long the live path holds a part-filled
	// batch open. Batch runs flush on size alone.
	FlushInterval time.Duration

	// UnitLimit bounds unit listing. Zero lists everything.
	UnitLimit int

	// HeapLimitBytes bounds the memory monitor. Zero falls back to the
	// runtime's soft limit, then to the monitor's default.
	HeapLimitBytes int64
}

// Status is one entry in a run's status stream.
type Status struct {
	State     SyncState         `json:"state"`
	Source    models.SourceType `json:"source"`
	AccountID string            `json:"account_id"`
	RunID     string            `json:"run_id"`

	// Discovered and Persisted are running counts, present on InProgress.
	Discovered int64 `json:"discovered,omitempty"`
	Persisted  int64 `json:"persisted,omitempty"`

	// TotalItems and DurationMs summarize a Completed run.
	TotalItems int64 `json:"total_items,omitempty"`
	DurationMs int64 `json:"duration_ms,omitempty"`

	// ItemsPersisted is what a Cancelled run managed to flush.
	ItemsPersisted int64 `json:"items_persisted,omitempty"`

	// Reason and Message describe an Error terminal. Reason is one of the
	// Reason constants; Message is the underlying error text.
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether this status ends the run.
func (s Status) Terminal() bool {
	switch s.State {
	case StateCompleted, StateCancelled, StateError:
		return true
	}
	return false
}
