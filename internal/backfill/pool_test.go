package backfill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"mediadex/internal/scan"
	"mediadex/pkg/logger"
	"mediadex/pkg/models"
)

// fakeCatalog serves canned unit histories to pool workers.
type fakeCatalog struct {
	mu         sync.Mutex
	histories  map[string][]models.CatalogItem
	fetchDelay time.Duration
	fetchErr   error
	fetchCount int32
	gate       chan struct{} // when set, FetchPage blocks until closed
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{histories: make(map[string][]models.CatalogItem)}
}

// addHistory fills a unit with n media items, markers n down to 1.
func (f *fakeCatalog) addHistory(unitID string, n int) {
	items := make([]models.CatalogItem, 0, n)
	for marker := n; marker >= 1; marker-- {
		items = append(items, models.CatalogItem{
			ID:          strconv.Itoa(marker),
			UnitID:      unitID,
			Source:      models.SourceChatArchive,
			ContentType: models.ContentMedia,
			Title:       fmt.Sprintf("clip %d", marker),
			Kind:        models.KindVideo,
			Marker:      models.Marker(marker),
		})
	}
	f.mu.Lock()
	f.histories[unitID] = items
	f.mu.Unlock()
}

func (f *fakeCatalog) fetches() int {
	return int(atomic.LoadInt32(&f.fetchCount))
}

func (f *fakeCatalog) FetchPage(ctx context.Context, unitID string, cursor models.Marker, limit int) (scan.Page, error) {
	atomic.AddInt32(&f.fetchCount, 1)

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return scan.Page{}, ctx.Err()
		}
	}
	if f.fetchDelay > 0 {
		time.Sleep(f.fetchDelay)
	}
	if f.fetchErr != nil {
		return scan.Page{}, f.fetchErr
	}

	f.mu.Lock()
	history := f.histories[unitID]
	f.mu.Unlock()

	start := 0
	if cursor > 0 {
		for start < len(history) && history[start].Marker >= cursor {
			start++
		}
	}
	end := start + limit
	if end > len(history) {
		end = len(history)
	}

	page := scan.Page{Items: history[start:end]}
	if end > start && end < len(history) {
		page.Next = history[end-1].Marker
		page.HasMore = true
	}
	return page, nil
}

// drainResults collects n results or fails the test after two seconds.
func drainResults(t *testing.T, pool *Pool, n int) []Result {
	t.Helper()

	results := make([]Result, 0, n)
	deadline := time.After(2 * time.Second)
	for len(results) < n {
		select {
		case res := <-pool.Results():
			results = append(results, res)
		case <-deadline:
			t.Fatalf("timed out waiting for results: got %d, want %d", len(results), n)
		}
	}
	return results
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoolBasicFunctionality(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.addHistory("chat-1", 40)
	catalog.addHistory("chat-2", 40)
	catalog.addHistory("chat-3", 40)

	pool := NewPool(3, catalog, nil, logger.NewNopLogger())
	pool.Start()

	for _, unitID := range []string{"chat-1", "chat-2", "chat-3"} {
		if !pool.Submit(Job{UnitID: unitID, Limit: 200}) {
			t.Errorf("Submit rejected job for %s", unitID)
		}
	}

	results := drainResults(t, pool, 3)
	pool.Stop()

	byUnit := make(map[string]Result, len(results))
	for _, res := range results {
		byUnit[res.Job.UnitID] = res
	}

	for _, unitID := range []string{"chat-1", "chat-2", "chat-3"} {
		res, ok := byUnit[unitID]
		if !ok {
			t.Fatalf("no result for %s", unitID)
		}
		if res.Err != nil {
			t.Errorf("unexpected error for %s: %v", unitID, res.Err)
		}
		if len(res.Items) != 40 {
			t.Errorf("expected 40 items for %s, got %d", unitID, len(res.Items))
		}
		if res.Mark != 40 {
			t.Errorf("expected mark 40 for %s, got %d", unitID, res.Mark)
		}
		if res.ReachedMark {
			t.Errorf("expected %s to exhaust history, not stop at a mark", unitID)
		}
	}

	if catalog.fetches() != 3 {
		t.Errorf("expected 3 fetches, got %d", catalog.fetches())
	}
}

func TestPoolWithErrors(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.fetchErr = errors.New("archive offline")

	pool := NewPool(2, catalog, nil, logger.NewNopLogger())
	pool.Start()

	units := []string{"chat-1", "chat-2", "chat-3"}
	for _, unitID := range units {
		if !pool.Submit(Job{UnitID: unitID, StopAt: 7}) {
			t.Errorf("Submit rejected job for %s", unitID)
		}
	}

	results := drainResults(t, pool, len(units))
	pool.Stop()

	for _, res := range results {
		if res.Err == nil {
			t.Errorf("expected error for %s", res.Job.UnitID)
		}
		if len(res.Items) != 0 {
			t.Errorf("expected no items for %s, got %d", res.Job.UnitID, len(res.Items))
		}
		if res.Mark != 7 {
			t.Errorf("expected mark to stay at 7 for %s, got %d", res.Job.UnitID, res.Mark)
		}
		if res.ReachedMark {
			t.Errorf("failed ingest for %s should not report reaching its mark", res.Job.UnitID)
		}
	}
}

func TestPoolConcurrency(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.fetchDelay = 100 * time.Millisecond

	numJobs := 10
	for i := 0; i < numJobs; i++ {
		catalog.addHistory(fmt.Sprintf("chat-%d", i), 10)
	}

	pool := NewPool(5, catalog, nil, logger.NewNopLogger())
	pool.Start()

	start := time.Now()
	for i := 0; i < numJobs; i++ {
		if !pool.Submit(Job{UnitID: fmt.Sprintf("chat-%d", i)}) {
			t.Errorf("Submit rejected job %d", i)
		}
	}

	results := drainResults(t, pool, numJobs)
	elapsed := time.Since(start)
	pool.Stop()

	if len(results) != numJobs {
		t.Errorf("expected %d results, got %d", numJobs, len(results))
	}

	// Two waves of five across the workers, plus scheduling overhead.
	if elapsed > 700*time.Millisecond {
		t.Errorf("warm-ups took too long: %v", elapsed)
	}
}

func TestPoolQueueFullDropsJob(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.gate = make(chan struct{})
	for _, unitID := range []string{"a", "b", "c", "d"} {
		catalog.addHistory(unitID, 5)
	}

	pool := NewPool(1, catalog, nil, logger.NewNopLogger())
	pool.Start()

	if !pool.Submit(Job{UnitID: "a"}) {
		t.Fatal("first submit should be accepted")
	}
	// The single worker is now blocked inside its fetch; the queue holds
	// two more slots.
	waitFor(t, func() bool { return catalog.fetches() >= 1 })

	if !pool.Submit(Job{UnitID: "b"}) {
		t.Error("second submit should be accepted")
	}
	if !pool.Submit(Job{UnitID: "c"}) {
		t.Error("third submit should be accepted")
	}
	if pool.QueueDepth() != 2 {
		t.Errorf("expected queue depth 2, got %d", pool.QueueDepth())
	}
	if pool.Submit(Job{UnitID: "d"}) {
		t.Error("submit to a full queue should be dropped")
	}

	close(catalog.gate)
	results := drainResults(t, pool, 3)
	pool.Stop()

	for _, res := range results {
		if res.Job.UnitID == "d" {
			t.Error("dropped job should never run")
		}
	}
}

func TestPoolStopsAtPriorMark(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.addHistory("chat-1", 100)

	pool := NewPool(1, catalog, nil, logger.NewNopLogger())
	pool.Start()

	pool.Submit(Job{UnitID: "chat-1", StopAt: 50, Limit: 200})
	res := drainResults(t, pool, 1)[0]
	pool.Stop()

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Items) != 50 {
		t.Errorf("expected 50 items above the mark, got %d", len(res.Items))
	}
	if !res.ReachedMark {
		t.Error("expected the scan to stop at the prior mark")
	}
	if res.Mark != 100 {
		t.Errorf("expected mark 100, got %d", res.Mark)
	}
	if res.Scanned != 51 {
		t.Errorf("expected 51 items examined, got %d", res.Scanned)
	}
	if catalog.fetches() != 1 {
		t.Errorf("expected a single fetch, got %d", catalog.fetches())
	}
}

func TestPoolDefaultLimit(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.addHistory("chat-1", 250)

	pool := NewPool(1, catalog, nil, logger.NewNopLogger())
	pool.Start()

	pool.Submit(Job{UnitID: "chat-1"})
	res := drainResults(t, pool, 1)[0]
	pool.Stop()

	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if len(res.Items) != 200 {
		t.Errorf("expected the default cap of 200 items, got %d", len(res.Items))
	}
	if res.Items[0].Marker != 250 {
		t.Errorf("expected newest item first, got marker %d", res.Items[0].Marker)
	}
	if res.Items[len(res.Items)-1].Marker != 51 {
		t.Errorf("expected oldest ingested marker 51, got %d", res.Items[len(res.Items)-1].Marker)
	}
	if res.Mark != 250 {
		t.Errorf("expected mark 250, got %d", res.Mark)
	}
	if res.ReachedMark {
		t.Error("a capped ingest should not report reaching its mark")
	}
	if catalog.fetches() != 2 {
		t.Errorf("expected 2 fetches for 200 items, got %d", catalog.fetches())
	}
}

func TestPoolCustomLimitBoundsFetching(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.addHistory("chat-1", 250)

	pool := NewPool(1, catalog, nil, logger.NewNopLogger())
	pool.Start()

	pool.Submit(Job{UnitID: "chat-1", Limit: 30})
	res := drainResults(t, pool, 1)[0]
	pool.Stop()

	if len(res.Items) != 30 {
		t.Errorf("expected 30 items, got %d", len(res.Items))
	}
	if res.Mark != 250 {
		t.Errorf("expected mark 250, got %d", res.Mark)
	}
	if catalog.fetches() != 1 {
		t.Errorf("expected a single clamped fetch, got %d", catalog.fetches())
	}
}

func TestPoolPacing(t *testing.T) {
	catalog := newFakeCatalog()
	for _, unitID := range []string{"a", "b", "c"} {
		catalog.addHistory(unitID, 3)
	}

	pacer := rate.NewLimiter(rate.Every(50*time.Millisecond), 1)
	pool := NewPool(1, catalog, pacer, logger.NewNopLogger())
	pool.Start()

	start := time.Now()
	for _, unitID := range []string{"a", "b", "c"} {
		if !pool.Submit(Job{UnitID: unitID}) {
			t.Fatalf("Submit rejected job for %s", unitID)
		}
	}

	drainResults(t, pool, 3)
	elapsed := time.Since(start)
	pool.Stop()

	// First start is free, the next two are spaced 50ms apart.
	if elapsed < 90*time.Millisecond {
		t.Errorf("warm-ups were not paced: finished in %v", elapsed)
	}
}

func TestPoolSubmitAfterStop(t *testing.T) {
	catalog := newFakeCatalog()
	catalog.addHistory("chat-1", 5)

	pool := NewPool(1, catalog, nil, logger.NewNopLogger())
	pool.Start()
	pool.Stop()

	if pool.Submit(Job{UnitID: "chat-1"}) {
		t.Error("submit after stop should be rejected")
	}
}
