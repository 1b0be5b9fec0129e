package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediadex/internal/scan"
	"mediadex/pkg/catalog"
	"mediadex/pkg/checkpoint"
	errs "mediadex/pkg/errors"
	"mediadex/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves canned unit histories through the Source contract.
// Histories are newest-first; FetchItems windows them the way a real
// adapter windows a backend that orders by descending marker.
type fakeSource struct {
	sourceType models.SourceType
	accountID  string
	authState  models.AuthState
	connState  models.ConnectionState

	mu         sync.Mutex
	units      []models.ScanUnit
	listErr    error
	listCalls  int
	histories  map[string][]models.CatalogItem
	unitErrs   map[string]error
	fetchCalls map[string]int

	// gateAfter blocks fetch calls beyond the given per-unit count until
	// gate closes; blocked signals the first blocked call.
	gateAfter   int
	gate        chan struct{}
	blocked     chan struct{}
	blockedOnce sync.Once
}

var _ Source = (*fakeSource)(nil)

func newFakeSource() *fakeSource {
	return &fakeSource{
		sourceType: models.SourceChatArchive,
		accountID:  "acct-1",
		authState:  models.AuthReady,
		connState:  models.Connected,
		histories:  make(map[string][]models.CatalogItem),
		unitErrs:   make(map[string]error),
		fetchCalls: make(map[string]int),
		gate:       make(chan struct{}),
		blocked:    make(chan struct{}),
	}
}

func (f *fakeSource) Type() models.SourceType                 { return f.sourceType }
func (f *fakeSource) AccountID() string                       { return f.accountID }
func (f *fakeSource) AuthState() models.AuthState             { return f.authState }
func (f *fakeSource) ConnectionState() models.ConnectionState { return f.connState }

func (f *fakeSource) ListUnits(ctx context.Context, limit int) ([]models.ScanUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	units := append([]models.ScanUnit(nil), f.units...)
	if limit > 0 && len(units) > limit {
		units = units[:limit]
	}
	return units, nil
}

func (f *fakeSource) FetchItems(ctx context.Context, unitID string, after models.Marker, pageSize int) (scan.Page, error) {
	f.mu.Lock()
	f.fetchCalls[unitID]++
	calls := f.fetchCalls[unitID]
	fetchErr := f.unitErrs[unitID]
	history := f.histories[unitID]
	f.mu.Unlock()

	if f.gateAfter > 0 && calls > f.gateAfter {
		f.blockedOnce.Do(func() { close(f.blocked) })
		select {
		case <-f.gate:
		case <-ctx.Done():
			return scan.Page{}, ctx.Err()
		}
	}
	if fetchErr != nil {
		return scan.Page{}, fetchErr
	}

	start := 0
	if after > 0 {
		for start < len(history) && history[start].Marker >= after {
			start++
		}
	}
	end := start + pageSize
	if end > len(history) {
		end = len(history)
	}
	page := scan.Page{Items: append([]models.CatalogItem(nil), history[start:end]...)}
	if end > start && end < len(history) {
		page.Next = history[end-1].Marker
		page.HasMore = true
	}
	return page, nil
}

func (f *fakeSource) LiveUpdates(ctx context.Context) (<-chan models.CatalogItem, error) {
	return nil, ErrLiveUnsupported
}

// addUnit registers a unit whose history holds markers hi..1, newest first.
func (f *fakeSource) addUnit(unitID, title string, hi int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units = append(f.units, models.ScanUnit{ID: unitID, Title: title})
	f.histories[unitID] = historyItems(f.sourceType, unitID, hi, 1)
}

func (f *fakeSource) setHistory(unitID string, items []models.CatalogItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histories[unitID] = items
}

func (f *fakeSource) fetches(unitID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[unitID]
}

func (f *fakeSource) listings() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// versionedSource adds the catalog version probe on top of fakeSource.
type versionedSource struct {
	*fakeSource
	mu         sync.Mutex
	etag       string
	modified   string
	versionErr error
}

var _ Versioner = (*versionedSource)(nil)

func (v *versionedSource) CatalogVersion(ctx context.Context) (string, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.versionErr != nil {
		return "", "", v.versionErr
	}
	return v.etag, v.modified, nil
}

// historyItems builds media items with markers hi..lo, newest first.
func historyItems(source models.SourceType, unitID string, hi, lo int) []models.CatalogItem {
	items := make([]models.CatalogItem, 0, hi-lo+1)
	for m := hi; m >= lo; m-- {
		items = append(items, models.CatalogItem{
			ID:          fmt.Sprintf("%s-%d", unitID, m),
			UnitID:      unitID,
			Source:      source,
			ContentType: models.ContentMedia,
			Title:       fmt.Sprintf("item %d", m),
			Kind:        models.KindVideo,
			Marker:      models.Marker(m),
			AddedAt:     time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m) * time.Minute),
		})
	}
	return items
}

// recordingPersister records every flush it receives.
type recordingPersister struct {
	mu        sync.Mutex
	batches   [][]models.CatalogItem
	seen      map[string]bool
	upsertErr error
	panicMsg  string
}

var _ Persister = (*recordingPersister)(nil)

func newRecordingPersister() *recordingPersister {
	return &recordingPersister{seen: make(map[string]bool)}
}

func (p *recordingPersister) UpsertAll(items []models.CatalogItem) (int, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	if p.upsertErr != nil {
		return 0, 0, p.upsertErr
	}
	p.batches = append(p.batches, append([]models.CatalogItem(nil), items...))
	created, updated := 0, 0
	for _, it := range items {
		if p.seen[it.Key()] {
			updated++
		} else {
			p.seen[it.Key()] = true
			created++
		}
	}
	return created, updated, nil
}

func (p *recordingPersister) DeleteAll(source models.SourceType) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.seen)
	p.seen = make(map[string]bool)
	return n, nil
}

func (p *recordingPersister) batchSizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	sizes := make([]int, len(p.batches))
	for i, b := range p.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func newTestCheckpoints(t *testing.T) *checkpoint.Store {
	t.Helper()
	store, err := checkpoint.NewStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	store, err := catalog.NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// collectStatuses drains the status stream after the run has returned.
func collectStatuses(t *testing.T, o *Orchestrator) []Status {
	t.Helper()
	var out []Status
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st, ok := <-o.Status():
			if !ok {
				return out
			}
			out = append(out, st)
		case <-deadline:
			t.Fatal("timed out draining status stream")
		}
	}
}

func statesOf(statuses []Status) []SyncState {
	states := make([]SyncState, len(statuses))
	for i, st := range statuses {
		states[i] = st.State
	}
	return states
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestNewDefaults(t *testing.T) {
	src := newFakeSource()
	orch := New(src, newRecordingPersister(), newTestCheckpoints(t), SyncConfig{}, nil)

	assert.Equal(t, defaultBatchSize, orch.cfg.BatchSize)
	assert.Equal(t, defaultProgressEvery, orch.cfg.EmitProgressEvery)
	assert.Equal(t, defaultParallelism, orch.cfg.Parallelism)
	assert.Equal(t, defaultPageSize, orch.cfg.PageSize)
	assert.Equal(t, defaultFlushInterval, orch.cfg.FlushInterval)
	assert.NotNil(t, orch.Status())
}

func TestRunPreflight(t *testing.T) {
	tests := []struct {
		name      string
		authState models.AuthState
		connState models.ConnectionState
	}{
		{name: "signed out", authState: models.AuthSignedOut, connState: models.Connected},
		{name: "disconnected", authState: models.AuthReady, connState: models.Disconnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			src.authState = tt.authState
			src.connState = tt.connState
			src.addUnit("a", "Unit A", 10)
			checkpoints := newTestCheckpoints(t)
			orch := New(src, newRecordingPersister(), checkpoints, SyncConfig{}, nil)

			err := orch.Run(context.Background(), SyncRequest{})
			require.Error(t, err)
			assert.True(t, errs.IsPreflight(err))
			assert.Equal(t, 0, src.listings())

			statuses := collectStatuses(t, orch)
			require.Len(t, statuses, 2)
			assert.Equal(t, StateStarted, statuses[0].State)
			assert.Equal(t, StateError, statuses[1].State)
			assert.Equal(t, ReasonPreflight, statuses[1].Reason)
			assert.Equal(t, models.SourceChatArchive, statuses[1].Source)
			assert.Equal(t, "acct-1", statuses[1].AccountID)
			assert.NotEmpty(t, statuses[1].RunID)

			cp, cperr := checkpoints.Get(checkpoint.Key{
				Source: models.SourceChatArchive, AccountID: "acct-1", ContentType: models.ContentMedia,
			})
			require.NoError(t, cperr)
			require.NotNil(t, cp)
			assert.Equal(t, 1, cp.ConsecutiveFailures)
			assert.NotEmpty(t, cp.LastError)
		})
	}
}

func TestRunBatchFlushSizes(t *testing.T) {
	src := newFakeSource()
	src.addUnit("a", "Unit A", 120)
	persister := newRecordingPersister()
	checkpoints := newTestCheckpoints(t)
	orch := New(src, persister, checkpoints, SyncConfig{
		BatchSize:   50,
		PageSize:    50,
		Parallelism: 1,
	}, nil)

	err := orch.Run(context.Background(), SyncRequest{Mode: ModeAuto, RunID: "run-batch"})
	require.NoError(t, err)

	assert.Equal(t, []int{50, 50, 20}, persister.batchSizes())

	statuses := collectStatuses(t, orch)
	require.GreaterOrEqual(t, len(statuses), 2)
	assert.Equal(t, StateStarted, statuses[0].State)

	final := statuses[len(statuses)-1]
	assert.Equal(t, StateCompleted, final.State)
	assert.Equal(t, int64(120), final.TotalItems)
	assert.Equal(t, int64(120), final.Persisted)
	assert.Equal(t, "run-batch", final.RunID)

	// Progress lands every 25 discovered items, with persisted counts
	// reflecting the flushes that already happened.
	var progress []Status
	for _, st := range statuses {
		if st.State == StateInProgress {
			progress = append(progress, st)
		}
	}
	require.Len(t, progress, 4)
	assert.Equal(t, []int64{25, 50, 75, 100}, []int64{
		progress[0].Discovered, progress[1].Discovered, progress[2].Discovered, progress[3].Discovered,
	})
	assert.Equal(t, []int64{0, 50, 50, 100}, []int64{
		progress[0].Persisted, progress[1].Persisted, progress[2].Persisted, progress[3].Persisted,
	})

	cp, err := checkpoints.Get(checkpoint.Key{
		Source: models.SourceChatArchive, AccountID: "acct-1", ContentType: models.ContentMedia,
	})
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(120), cp.ItemCount)
	assert.Equal(t, int64(120), cp.NewItemCount)
	assert.Equal(t, int64(1), cp.Generation)
	assert.False(t, cp.WasIncremental)
	assert.Empty(t, cp.LastError)
	assert.Zero(t, cp.ConsecutiveFailures)
	assert.Greater(t, cp.LastSyncCompleteMs, int64(0))
}

func TestRunIncremental(t *testing.T) {
	src := newFakeSource()
	src.addUnit("a", "Unit A", 15)
	src.addUnit("b", "Unit B", 15)
	store := newTestCatalog(t)
	checkpoints := newTestCheckpoints(t)
	key := checkpoint.Key{Source: models.SourceChatArchive, AccountID: "acct-1", ContentType: models.ContentMedia}

	first := New(src, store, checkpoints, SyncConfig{Parallelism: 2}, nil)
	require.NoError(t, first.Run(context.Background(), SyncRequest{}))
	firstStatuses := collectStatuses(t, first)
	assert.Equal(t, int64(30), firstStatuses[len(firstStatuses)-1].TotalItems)

	count, err := store.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 30, count)

	cp, err := checkpoints.Get(key)
	require.NoError(t, err)
	assert.Equal(t, int64(30), cp.ItemCount)
	assert.False(t, cp.WasIncremental)
	assert.Equal(t, int64(1), cp.Generation)

	marks, err := store.UnitMarks(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, models.Marker(15), marks["a"])
	assert.Equal(t, models.Marker(15), marks["b"])

	// Five newer items land in unit a. The next run scans only those.
	src.setHistory("a", historyItems(src.sourceType, "a", 20, 1))

	second := New(src, store, checkpoints, SyncConfig{Parallelism: 2}, nil)
	require.NoError(t, second.Run(context.Background(), SyncRequest{}))
	secondStatuses := collectStatuses(t, second)
	assert.Equal(t, int64(5), secondStatuses[len(secondStatuses)-1].TotalItems)

	count, err = store.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 35, count)

	cp, err = checkpoints.Get(key)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cp.ItemCount)
	assert.Equal(t, int64(5), cp.NewItemCount)
	assert.True(t, cp.WasIncremental)
	assert.Equal(t, int64(2), cp.Generation)

	marks, err = store.UnitMarks(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, models.Marker(20), marks["a"])
	assert.Equal(t, models.Marker(15), marks["b"])
}

func TestRunCancellationFlushesBuffered(t *testing.T) {
	src := newFakeSource()
	src.addUnit("a", "Unit A", 100)
	src.gateAfter = 1
	store := newTestCatalog(t)
	orch := New(src, store, newTestCheckpoints(t), SyncConfig{
		BatchSize:   1000,
		PageSize:    25,
		Parallelism: 1,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- orch.Run(ctx, SyncRequest{})
	}()

	// The first page is fully delivered once the second fetch blocks.
	select {
	case <-src.blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("scan never reached the second page")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	statuses := collectStatuses(t, orch)
	final := statuses[len(statuses)-1]
	assert.Equal(t, StateCancelled, final.State)
	assert.Equal(t, int64(25), final.ItemsPersisted)

	count, err := store.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 25, count)

	// The unit never completed, so its stored mark must not advance past
	// the unscanned gap.
	marks, err := store.UnitMarks(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, models.Marker(0), marks["a"])
}

func TestRunUnitListingFailure(t *testing.T) {
	src := newFakeSource()
	src.listErr = errs.New(errs.ErrorTypeServerError, "panel offline")
	checkpoints := newTestCheckpoints(t)
	orch := New(src, newRecordingPersister(), checkpoints, SyncConfig{}, nil)

	err := orch.Run(context.Background(), SyncRequest{})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeServerError, errs.TypeOf(err))

	statuses := collectStatuses(t, orch)
	final := statuses[len(statuses)-1]
	assert.Equal(t, StateError, final.State)
	assert.Equal(t, ReasonScan, final.Reason)
	assert.Contains(t, final.Message, "panel offline")

	cp, err := checkpoints.Get(checkpoint.Key{
		Source: models.SourceChatArchive, AccountID: "acct-1", ContentType: models.ContentMedia,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cp.ConsecutiveFailures)
	assert.Contains(t, cp.LastError, "panel offline")
}

func TestRunEtagShortCircuit(t *testing.T) {
	base := newFakeSource()
	base.sourceType = models.SourcePanelTV
	base.addUnit("sports", "Sports", 10)
	src := &versionedSource{fakeSource: base, etag: "v1", modified: "Mon, 01 Jun 2026 00:00:00 GMT"}
	store := newTestCatalog(t)
	checkpoints := newTestCheckpoints(t)
	key := checkpoint.Key{Source: models.SourcePanelTV, AccountID: "acct-1", ContentType: models.ContentMedia}

	first := New(src, store, checkpoints, SyncConfig{}, nil)
	require.NoError(t, first.Run(context.Background(), SyncRequest{}))
	collectStatuses(t, first)
	assert.Equal(t, 1, src.listings())

	etag, err := checkpoints.Etag(key)
	require.NoError(t, err)
	assert.Equal(t, "v1", etag)

	// Same version: the run completes without listing or scanning.
	second := New(src, store, checkpoints, SyncConfig{}, nil)
	require.NoError(t, second.Run(context.Background(), SyncRequest{}))
	secondStatuses := collectStatuses(t, second)
	assert.Equal(t, []SyncState{StateStarted, StateCompleted}, statesOf(secondStatuses))
	assert.Equal(t, 1, src.listings())

	cp, err := checkpoints.Get(key)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cp.ItemCount)
	assert.True(t, cp.WasIncremental)
	assert.Equal(t, int64(2), cp.Generation)

	// A forced rescan ignores the matching version.
	third := New(src, store, checkpoints, SyncConfig{}, nil)
	require.NoError(t, third.Run(context.Background(), SyncRequest{Mode: ModeForceRescan}))
	thirdStatuses := collectStatuses(t, third)
	assert.Equal(t, int64(10), thirdStatuses[len(thirdStatuses)-1].TotalItems)
	assert.Equal(t, 2, src.listings())

	// A changed version scans again.
	src.mu.Lock()
	src.etag = "v2"
	src.mu.Unlock()
	fourth := New(src, store, checkpoints, SyncConfig{}, nil)
	require.NoError(t, fourth.Run(context.Background(), SyncRequest{}))
	collectStatuses(t, fourth)
	assert.Equal(t, 3, src.listings())
}

func TestRunDeletionDetection(t *testing.T) {
	src := newFakeSource()
	src.addUnit("a", "Unit A", 10)
	store := newTestCatalog(t)
	checkpoints := newTestCheckpoints(t)
	key := checkpoint.Key{Source: models.SourceChatArchive, AccountID: "acct-1", ContentType: models.ContentMedia}

	first := New(src, store, checkpoints, SyncConfig{}, nil)
	require.NoError(t, first.Run(context.Background(), SyncRequest{}))
	collectStatuses(t, first)

	count, err := store.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	// Three items vanish from the source. A forced rescan prunes them.
	src.setHistory("a", historyItems(src.sourceType, "a", 10, 4))

	second := New(src, store, checkpoints, SyncConfig{}, nil)
	require.NoError(t, second.Run(context.Background(), SyncRequest{Mode: ModeForceRescan}))
	collectStatuses(t, second)

	count, err = store.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	cp, err := checkpoints.Get(key)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cp.ItemCount)
	assert.Equal(t, int64(3), cp.DeletedItemCount)
	assert.Zero(t, cp.NewItemCount)
	assert.False(t, cp.WasIncremental)
}

func TestRunSkipsPruneWhenUnitsFail(t *testing.T) {
	src := newFakeSource()
	src.addUnit("a", "Unit A", 10)
	src.addUnit("broken", "Broken", 10)
	store := newTestCatalog(t)
	checkpoints := newTestCheckpoints(t)

	first := New(src, store, checkpoints, SyncConfig{}, nil)
	require.NoError(t, first.Run(context.Background(), SyncRequest{}))
	collectStatuses(t, first)

	count, err := store.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 20, count)

	// One unit starts erroring. Its items must survive the forced rescan:
	// an unscanned unit is not a deleted one.
	src.mu.Lock()
	src.unitErrs["broken"] = errs.New(errs.ErrorTypeServerError, "export corrupted")
	src.mu.Unlock()

	second := New(src, store, checkpoints, SyncConfig{}, nil)
	require.NoError(t, second.Run(context.Background(), SyncRequest{Mode: ModeForceRescan}))
	collectStatuses(t, second)

	count, err = store.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, 20, count)

	cp, err := checkpoints.Get(checkpoint.Key{
		Source: models.SourceChatArchive, AccountID: "acct-1", ContentType: models.ContentMedia,
	})
	require.NoError(t, err)
	assert.Zero(t, cp.DeletedItemCount)
}

func TestRunPersistenceFailure(t *testing.T) {
	src := newFakeSource()
	src.addUnit("a", "Unit A", 30)
	persister := newRecordingPersister()
	persister.upsertErr = fmt.Errorf("disk full")
	checkpoints := newTestCheckpoints(t)
	orch := New(src, persister, checkpoints, SyncConfig{BatchSize: 10, PageSize: 10}, nil)

	err := orch.Run(context.Background(), SyncRequest{})
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypePersistence, errs.TypeOf(err))

	statuses := collectStatuses(t, orch)
	final := statuses[len(statuses)-1]
	assert.Equal(t, StateError, final.State)
	assert.Equal(t, ReasonPersistence, final.Reason)
	assert.Contains(t, final.Message, "disk full")

	cp, err := checkpoints.Get(checkpoint.Key{
		Source: models.SourceChatArchive, AccountID: "acct-1", ContentType: models.ContentMedia,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cp.ConsecutiveFailures)
	assert.Contains(t, cp.LastError, "disk full")
}

func TestRunRecoversPanic(t *testing.T) {
	src := newFakeSource()
	src.addUnit("a", "Unit A", 30)
	persister := newRecordingPersister()
	persister.panicMsg = "store corrupted"
	orch := New(src, persister, newTestCheckpoints(t), SyncConfig{BatchSize: 10, PageSize: 10}, nil)

	err := orch.Run(context.Background(), SyncRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Contains(t, err.Error(), "store corrupted")

	statuses := collectStatuses(t, orch)
	final := statuses[len(statuses)-1]
	assert.Equal(t, StateError, final.State)
	assert.Equal(t, ReasonInternal, final.Reason)
}

// scriptedStream replays a fixed set of items, idles until cancelled, then
// ends the stream the way the live feed does.
type scriptedStream struct {
	events chan scan.Event
	items  []models.CatalogItem
	marks  map[string]models.Marker
}

func newScriptedStream(items []models.CatalogItem, marks map[string]models.Marker) *scriptedStream {
	return &scriptedStream{
		events: make(chan scan.Event, 16),
		items:  items,
		marks:  marks,
	}
}

func (s *scriptedStream) Events() <-chan scan.Event { return s.events }

func (s *scriptedStream) Run(ctx context.Context) error {
	defer close(s.events)
	for _, it := range s.items {
		s.events <- scan.ItemDiscovered{Item: it}
	}
	<-ctx.Done()
	s.events <- scan.Cancelled{Marks: s.marks}
	return ctx.Err()
}

func TestWatchFlushesOnInterval(t *testing.T) {
	items := historyItems(models.SourceChatArchive, "a", 30, 28)
	stream := newScriptedStream(items, map[string]models.Marker{"a": 30})
	src := newFakeSource()
	store := newTestCatalog(t)
	orch := New(src, store, newTestCheckpoints(t), SyncConfig{
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- orch.Watch(ctx, SyncRequest{}, stream)
	}()

	// Three items never reach BatchSize; the interval flush writes them.
	waitUntil(t, func() bool {
		count, err := store.Count(models.SourceChatArchive)
		return err == nil && count == 3
	})
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return after cancellation")
	}

	statuses := collectStatuses(t, orch)
	final := statuses[len(statuses)-1]
	assert.Equal(t, StateCancelled, final.State)
	assert.Equal(t, int64(3), final.ItemsPersisted)

	marks, err := store.UnitMarks(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Equal(t, models.Marker(30), marks["a"])
}

// failingStream ends immediately with a run-level failure.
type failingStream struct {
	events chan scan.Event
	reason string
	err    error
}

func (s *failingStream) Events() <-chan scan.Event { return s.events }

func (s *failingStream) Run(ctx context.Context) error {
	defer close(s.events)
	s.events <- scan.Failed{Reason: s.reason, Err: s.err}
	return s.err
}

func TestWatchLiveFailure(t *testing.T) {
	cause := errs.New(errs.ErrorTypeNetwork, "update feed closed")
	stream := &failingStream{events: make(chan scan.Event, 1), reason: "update feed closed", err: cause}
	src := newFakeSource()
	checkpoints := newTestCheckpoints(t)
	orch := New(src, newRecordingPersister(), checkpoints, SyncConfig{FlushInterval: 10 * time.Millisecond}, nil)

	err := orch.Watch(context.Background(), SyncRequest{}, stream)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))

	statuses := collectStatuses(t, orch)
	final := statuses[len(statuses)-1]
	assert.Equal(t, StateError, final.State)
	assert.Equal(t, ReasonLive, final.Reason)
	assert.Contains(t, final.Message, "update feed closed")

	cp, err := checkpoints.Get(checkpoint.Key{
		Source: models.SourceChatArchive, AccountID: "acct-1", ContentType: models.ContentMedia,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cp.ConsecutiveFailures)
}

func TestWatchPreflightFailure(t *testing.T) {
	cause := errs.NewPreflight("account is signed out")
	stream := &failingStream{events: make(chan scan.Event, 1), reason: "source not ready", err: cause}
	src := newFakeSource()
	orch := New(src, newRecordingPersister(), newTestCheckpoints(t), SyncConfig{}, nil)

	err := orch.Watch(context.Background(), SyncRequest{}, stream)
	require.Error(t, err)
	assert.True(t, errs.IsPreflight(err))

	statuses := collectStatuses(t, orch)
	final := statuses[len(statuses)-1]
	assert.Equal(t, StateError, final.State)
	assert.Equal(t, ReasonPreflight, final.Reason)
}

func TestClearSource(t *testing.T) {
	src := newFakeSource()
	store := newTestCatalog(t)
	_, _, err := store.UpsertAll(historyItems(models.SourceChatArchive, "a", 5, 1))
	require.NoError(t, err)

	orch := New(src, store, newTestCheckpoints(t), SyncConfig{}, nil)
	require.NoError(t, orch.ClearSource(context.Background()))

	count, err := store.Count(models.SourceChatArchive)
	require.NoError(t, err)
	assert.Zero(t, count)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, orch.ClearSource(cancelled))
}
