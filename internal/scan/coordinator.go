package scan

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"mediadex/pkg/logger"
	"mediadex/pkg/models"
)

const (
	// progressEveryBatches debounces Progress events so consumers see
	// steady totals instead of one event per page.
	progressEveryBatches = 3

	eventBuffer = 256
)

// CoordinatorConfig configures a scan run.
type CoordinatorConfig struct {
	// Parallelism caps concurrently scanned units. Values below 1 mean 1.
	Parallelism int
	// PageSize is passed through to each unit scanner.
	PageSize int
	// Fetcher pages unit items from the source.
	Fetcher ItemFetcher
	// Monitor throttles workers under memory pressure. Optional.
	Monitor *MemoryMonitor
	// Processed excludes units already handled earlier in this run,
	// typically when resuming after a partial failure.
	Processed map[string]bool
	// Logger defaults to the package logger when nil.
	Logger logger.Logger
}

// Coordinator fans a set of scan units out across a bounded pool of
// workers and folds their output into a single event stream. Each unit is
// scanned in isolation: one unit failing or stalling never blocks its
// siblings, and every started unit's high-water mark survives into the
// terminal event even when the run is cancelled mid-flight.
type Coordinator struct {
	cfg CoordinatorConfig
	log logger.Logger

	unitsScanned    atomic.Int64
	itemsScanned    atomic.Int64
	itemsDiscovered atomic.Int64
	unitsFailed     atomic.Int64

	mu    sync.Mutex
	marks map[string]models.Marker
}

// NewCoordinator returns a coordinator for one run. Coordinators are
// single-use; create a fresh one per Run call.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	log := cfg.Logger
	if log == nil {
		log = logger.GetLogger()
	}
	return &Coordinator{
		cfg:   cfg,
		log:   log,
		marks: make(map[string]models.Marker),
	}
}

// Run scans every eligible unit and returns the event stream. The stream
// always ends with exactly one terminal event (Completed or Cancelled)
// followed by close; callers must drain it. Cancelling ctx stops the run
// at the next batch or item boundary.
func (c *Coordinator) Run(ctx context.Context, units []models.ScanUnit) <-chan Event {
	events := make(chan Event, eventBuffer)
	go c.run(ctx, units, events)
	return events
}

func (c *Coordinator) run(ctx context.Context, units []models.ScanUnit, events chan<- Event) {
	defer close(events)
	start := time.Now()

	eligible := make([]models.ScanUnit, 0, len(units))
	for _, u := range units {
		if c.cfg.Processed[u.ID] {
			continue
		}
		eligible = append(eligible, u)
	}

	if len(eligible) == 0 {
		events <- Completed{Duration: time.Since(start), Marks: c.snapshotMarks()}
		return
	}

	c.log.InfoWithFields("scan started", map[string]interface{}{
		"units":       len(eligible),
		"excluded":    len(units) - len(eligible),
		"parallelism": c.cfg.Parallelism,
	})

	sem := make(chan struct{}, c.cfg.Parallelism)
	var wg sync.WaitGroup

launch:
	for _, unit := range eligible {
		// Admit additional parallel work only while memory allows it.
		// The first in-flight unit is always admitted so the run keeps
		// making progress even under sustained pressure.
		for c.cfg.Monitor != nil && len(sem) > 0 && !c.cfg.Monitor.CanStartParallelWork() {
			if err := c.cfg.Monitor.CheckAndThrottle(ctx); err != nil {
				break launch
			}
		}

		select {
		case <-ctx.Done():
			break launch
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(u models.ScanUnit) {
			defer wg.Done()
			defer func() { <-sem }()
			c.scanUnit(ctx, u, events)
		}(unit)
	}

	wg.Wait()

	if ctx.Err() != nil {
		events <- Cancelled{Marks: c.snapshotMarks()}
		return
	}

	events <- Completed{
		UnitsScanned:    c.unitsScanned.Load(),
		ItemsScanned:    c.itemsScanned.Load(),
		ItemsDiscovered: c.itemsDiscovered.Load(),
		UnitsFailed:     c.unitsFailed.Load(),
		Duration:        time.Since(start),
		Marks:           c.snapshotMarks(),
	}
}

func (c *Coordinator) scanUnit(ctx context.Context, unit models.ScanUnit, events chan<- Event) {
	// Seed the ledger first so failed and zero-progress units carry
	// their prior mark into the terminal event.
	c.recordMark(unit.ID, unit.PriorMark)

	if ctx.Err() != nil {
		return
	}

	log := c.log.WithFields(map[string]interface{}{
		"unit_id": unit.ID,
		"unit":    unit.Title,
	})

	scanner := NewUnitScanner(c.cfg.Fetcher, unit.ID, unit.PriorMark, c.cfg.PageSize)
	var discovered int64
	batches := 0

	for scanner.HasNext() {
		if ctx.Err() != nil {
			return
		}
		if c.cfg.Monitor != nil {
			if err := c.cfg.Monitor.CheckAndThrottle(ctx); err != nil {
				return
			}
		}

		before := scanner.Scanned()
		batch, err := scanner.NextBatch(ctx)
		c.itemsScanned.Add(scanner.Scanned() - before)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.unitsFailed.Add(1)
			log.ErrorWithFields("unit scan failed", map[string]interface{}{
				"error":      err.Error(),
				"discovered": discovered,
			})
			c.send(ctx, events, UnitFailed{UnitID: unit.ID, Err: err, Mark: c.markFor(unit.ID)})
			return
		}

		for _, item := range batch {
			if ctx.Err() != nil {
				return
			}
			discovered++
			c.itemsDiscovered.Add(1)
			c.send(ctx, events, ItemDiscovered{Item: item})
		}

		batches++
		if batches%progressEveryBatches == 0 {
			c.send(ctx, events, Progress{
				UnitsScanned:    c.unitsScanned.Load(),
				ItemsScanned:    c.itemsScanned.Load(),
				ItemsDiscovered: c.itemsDiscovered.Load(),
			})
		}
	}

	c.recordMark(unit.ID, scanner.HighestSeenMarker())
	c.unitsScanned.Add(1)
	c.send(ctx, events, UnitComplete{
		UnitID:      unit.ID,
		Discovered:  discovered,
		Mark:        c.markFor(unit.ID),
		ReachedMark: scanner.ReachedHighWaterMark(),
	})
	log.DebugWithFields("unit scan complete", map[string]interface{}{
		"discovered": discovered,
		"scanned":    scanner.Scanned(),
		"mark":       c.markFor(unit.ID),
	})
}

// send delivers non-terminal events, giving up when the run is cancelled
// so workers never block on a consumer that has stopped reading.
func (c *Coordinator) send(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// recordMark advances a unit's high-water mark, never regressing it.
func (c *Coordinator) recordMark(unitID string, mark models.Marker) {
	c.mu.Lock()
	cur, ok := c.marks[unitID]
	if !ok || mark > cur {
		c.marks[unitID] = mark
	}
	c.mu.Unlock()
}

func (c *Coordinator) markFor(unitID string) models.Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marks[unitID]
}

func (c *Coordinator) snapshotMarks() map[string]models.Marker {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.Marker, len(c.marks))
	for id, mark := range c.marks {
		out[id] = mark
	}
	return out
}
