package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mediadex/internal/scan"
	"mediadex/pkg/checkpoint"
	errs "mediadex/pkg/errors"
	"mediadex/pkg/logger"
	"mediadex/pkg/models"
)

const (
	defaultBatchSize     = 50
	defaultProgressEvery = 25
	defaultParallelism   = 4
	defaultPageSize      = 100
	defaultFlushInterval = 2 * time.Second

	statusBuffer = 64
)

// Orchestrator drives one sync run end to end: it scans the source,
// batches discovered items, flushes them to the persister, keeps the
// checkpoint row current and reports progress on the status stream.
// Orchestrators are single-use; create a fresh one per run.
type Orchestrator struct {
	source      Source
	persister   Persister
	checkpoints *checkpoint.Store
	cfg         SyncConfig
	log         logger.Logger

	status chan Status
	runID  string
}

// New wires an orchestrator to its collaborators. Zero config fields fall
// back to engine defaults.
func New(source Source, persister Persister, checkpoints *checkpoint.Store, cfg SyncConfig, log logger.Logger) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.EmitProgressEvery <= 0 {
		cfg.EmitProgressEvery = defaultProgressEvery
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Orchestrator{
		source:      source,
		persister:   persister,
		checkpoints: checkpoints,
		cfg:         cfg,
		log:         log,
		status:      make(chan Status, statusBuffer),
	}
}

// Status returns the run's status stream: Started, zero or more
// InProgress, then exactly one terminal status followed by close. Callers
// must drain it. InProgress entries are droppable under backpressure;
// terminal entries are never dropped.
func (o *Orchestrator) Status() <-chan Status {
	return o.status
}

// Run executes one batch sync and blocks until it reaches a terminal
// state. The returned error is nil on completion, the context error on
// cancellation, and the underlying cause otherwise; in every case the
// status stream has already carried the matching terminal status.
func (o *Orchestrator) Run(ctx context.Context, req SyncRequest) (err error) {
	start := time.Now()
	req = normalizeRequest(req)
	o.runID = req.RunID
	key := o.key(req)

	defer close(o.status)
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("sync run panicked: %v", r))
			o.log.ErrorWithFields("sync run panicked", map[string]interface{}{
				"run_id": o.runID,
				"source": string(o.source.Type()),
				"panic":  fmt.Sprintf("%v", r),
			})
			o.recordFailure(key, err)
			o.emitTerminal(Status{State: StateError, Reason: ReasonInternal, Message: err.Error()})
		}
	}()

	o.log.InfoWithFields("sync run starting", map[string]interface{}{
		"run_id":       o.runID,
		"source":       string(o.source.Type()),
		"account":      o.source.AccountID(),
		"content_type": string(req.ContentType),
		"mode":         string(req.Mode),
	})
	o.emit(Status{State: StateStarted})

	if err := o.preflight(); err != nil {
		o.log.WithError(err).WithField("run_id", o.runID).Error("preflight failed")
		o.recordFailure(key, err)
		o.emitTerminal(Status{State: StateError, Reason: ReasonPreflight, Message: err.Error()})
		return err
	}

	if err := o.checkpoints.RecordSyncStart(key); err != nil {
		o.log.WithError(err).Warn("failed to record sync start")
	}

	// One version probe per run. Probing before the scan keeps the stored
	// validator conservative: anything changing mid-scan makes it stale,
	// so the next run rescans instead of short-circuiting past the change.
	var curEtag, curLastModified string
	if v, ok := o.source.(Versioner); ok {
		var verr error
		curEtag, curLastModified, verr = v.CatalogVersion(ctx)
		if verr != nil {
			o.log.WithError(verr).Debug("catalog version probe failed")
			curEtag, curLastModified = "", ""
		}
	}

	if req.Mode == ModeForceRescan {
		if err := o.checkpoints.ForceFullSync(key); err != nil {
			o.log.WithError(err).Warn("failed to clear sync validators")
		}
	} else if curEtag != "" {
		prior, perr := o.checkpoints.Etag(key)
		if perr == nil && prior == curEtag {
			o.recordUnchanged(key, curEtag, curLastModified)
			o.log.InfoWithFields("catalog unchanged, skipping scan", map[string]interface{}{
				"run_id": o.runID,
				"source": string(o.source.Type()),
				"etag":   curEtag,
			})
			o.emitTerminal(Status{State: StateCompleted, DurationMs: time.Since(start).Milliseconds()})
			return nil
		}
	}

	var priorMarks map[string]models.Marker
	if req.Mode != ModeForceRescan {
		priorMarks = o.loadMarks()
	}
	full := req.Mode == ModeForceRescan || len(priorMarks) == 0

	limit := req.UnitLimit
	if limit <= 0 {
		limit = o.cfg.UnitLimit
	}
	units, err := o.source.ListUnits(ctx, limit)
	if err != nil {
		if ctx.Err() != nil {
			o.emitTerminal(Status{State: StateCancelled})
			return ctx.Err()
		}
		o.log.WithError(err).WithField("run_id", o.runID).Error("unit listing failed")
		o.recordFailure(key, err)
		o.emitTerminal(Status{State: StateError, Reason: ReasonScan, Message: err.Error()})
		return err
	}
	for i := range units {
		units[i].PriorMark = priorMarks[units[i].ID]
	}
	if mr, ok := o.persister.(MarkRepository); ok && len(units) > 0 {
		if err := mr.SaveUnits(o.source.Type(), units); err != nil {
			o.log.WithError(err).Warn("failed to save unit list")
		}
	}

	// Deletion detection needs a unit list to re-stamp against. An empty
	// listing on a full run is left unpruned so a source hiccup cannot
	// wipe the catalog.
	var detector DeletionDetector
	if full && len(units) > 0 {
		if dd, ok := o.persister.(DeletionDetector); ok {
			if _, gerr := dd.BeginGeneration(o.source.Type()); gerr != nil {
				o.log.WithError(gerr).Warn("failed to begin scan generation, skipping deletion detection")
			} else {
				detector = dd
			}
		}
	}

	scanCtx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()

	coord := scan.NewCoordinator(scan.CoordinatorConfig{
		Parallelism: o.cfg.Parallelism,
		PageSize:    o.cfg.PageSize,
		Fetcher:     sourceFetcher{o.source},
		Monitor:     scan.NewMemoryMonitor(o.cfg.HeapLimitBytes, o.log),
		Logger:      o.log,
	})
	events := coord.Run(scanCtx, units)

	sum, err := o.consume(events, 0)
	if err != nil {
		cancelScan()
		for range events {
		}
		reason := ReasonPersistence
		if errs.TypeOf(err) != errs.ErrorTypePersistence {
			reason = ReasonInternal
		}
		o.log.WithError(err).WithField("run_id", o.runID).Error("sync run failed")
		o.recordFailure(key, err)
		o.emitTerminal(Status{State: StateError, Reason: reason, Message: err.Error()})
		return err
	}

	switch outcome := sum.outcome.(type) {
	case scan.Completed:
		// A failed unit leaves items unstamped, so pruning would count
		// them as deleted. Prune only after a clean pass, and withhold
		// the fresh validator for the same reason: an unchanged etag
		// would let the next run skip the units this one missed.
		deleted := 0
		if detector != nil && outcome.UnitsFailed == 0 {
			var derr error
			deleted, derr = detector.PruneStale(o.source.Type())
			if derr != nil {
				o.log.WithError(derr).Warn("failed to prune stale items")
				deleted = 0
			}
		}
		if outcome.UnitsFailed > 0 {
			curEtag, curLastModified = "", ""
		}
		o.saveMarks(outcome.Marks)
		o.recordComplete(key, sum, deleted, !full, curEtag, curLastModified)
		o.log.InfoWithFields("sync run completed", map[string]interface{}{
			"run_id":        o.runID,
			"source":        string(o.source.Type()),
			"units_scanned": outcome.UnitsScanned,
			"units_failed":  outcome.UnitsFailed,
			"items_scanned": outcome.ItemsScanned,
			"discovered":    sum.discovered,
			"persisted":     sum.persisted,
			"created":       sum.created,
			"updated":       sum.updated,
			"deleted":       deleted,
			"incremental":   !full,
			"duration_ms":   time.Since(start).Milliseconds(),
		})
		o.emitTerminal(Status{
			State:      StateCompleted,
			Discovered: sum.discovered,
			Persisted:  sum.persisted,
			TotalItems: sum.discovered,
			DurationMs: time.Since(start).Milliseconds(),
		})
		return nil
	case scan.Cancelled:
		o.saveMarks(outcome.Marks)
		o.log.InfoWithFields("sync run cancelled", map[string]interface{}{
			"run_id":          o.runID,
			"source":          string(o.source.Type()),
			"items_persisted": sum.persisted,
		})
		o.emitTerminal(Status{State: StateCancelled, ItemsPersisted: sum.persisted})
		return ctx.Err()
	case scan.Failed:
		o.log.WithError(outcome.Err).WithField("run_id", o.runID).Error("sync run failed")
		o.recordFailure(key, outcome.Err)
		o.emitTerminal(Status{State: StateError, Reason: ReasonScan, Message: outcome.Err.Error()})
		return outcome.Err
	}

	err = errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("unexpected terminal event %T", sum.outcome))
	o.emitTerminal(Status{State: StateError, Reason: ReasonInternal, Message: err.Error()})
	return err
}

// EventStream is a push-style event producer the orchestrator can consume
// in place of a batch scan. The live update stream satisfies it.
type EventStream interface {
	// Events returns the stream: zero or more events, one terminal event,
	// then close.
	Events() <-chan scan.Event

	// Run drives the stream until ctx is cancelled or the feed fails.
	Run(ctx context.Context) error
}

// Watch consumes a live event stream through the same batching loop Run
// uses, with a flush-interval timer so a part-filled batch is never held
// open while the feed idles. Mode is ignored; live sessions are always
// incremental. Watch blocks until the feed fails or ctx is cancelled.
func (o *Orchestrator) Watch(ctx context.Context, req SyncRequest, stream EventStream) (err error) {
	req = normalizeRequest(req)
	o.runID = req.RunID
	key := o.key(req)

	defer close(o.status)
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("live watch panicked: %v", r))
			o.log.ErrorWithFields("live watch panicked", map[string]interface{}{
				"run_id": o.runID,
				"source": string(o.source.Type()),
				"panic":  fmt.Sprintf("%v", r),
			})
			o.recordFailure(key, err)
			o.emitTerminal(Status{State: StateError, Reason: ReasonInternal, Message: err.Error()})
		}
	}()

	o.log.InfoWithFields("live watch starting", map[string]interface{}{
		"run_id":  o.runID,
		"source":  string(o.source.Type()),
		"account": o.source.AccountID(),
	})
	o.emit(Status{State: StateStarted})

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	runErr := make(chan error, 1)
	go func() {
		runErr <- stream.Run(streamCtx)
	}()

	sum, err := o.consume(stream.Events(), o.cfg.FlushInterval)
	if err != nil {
		cancelStream()
		for range stream.Events() {
		}
		<-runErr
		reason := ReasonPersistence
		if errs.TypeOf(err) != errs.ErrorTypePersistence {
			reason = ReasonInternal
		}
		o.log.WithError(err).WithField("run_id", o.runID).Error("live watch failed")
		o.recordFailure(key, err)
		o.emitTerminal(Status{State: StateError, Reason: reason, Message: err.Error()})
		return err
	}
	streamErr := <-runErr

	switch outcome := sum.outcome.(type) {
	case scan.Cancelled:
		o.saveMarks(outcome.Marks)
		o.log.InfoWithFields("live watch stopped", map[string]interface{}{
			"run_id":     o.runID,
			"source":     string(o.source.Type()),
			"discovered": sum.discovered,
			"persisted":  sum.persisted,
		})
		o.emitTerminal(Status{State: StateCancelled, ItemsPersisted: sum.persisted})
		return ctx.Err()
	case scan.Failed:
		reason := ReasonLive
		if errs.IsPreflight(outcome.Err) {
			reason = ReasonPreflight
		}
		o.log.WithError(outcome.Err).WithField("run_id", o.runID).Error("live watch failed")
		o.recordFailure(key, outcome.Err)
		o.emitTerminal(Status{State: StateError, Reason: reason, Message: outcome.Err.Error()})
		return outcome.Err
	case scan.Completed:
		// A finite feed that ran dry. Live sources do not normally do
		// this, but a stream that does is treated as a clean completion.
		o.saveMarks(outcome.Marks)
		o.emitTerminal(Status{
			State:      StateCompleted,
			Discovered: sum.discovered,
			Persisted:  sum.persisted,
			TotalItems: sum.discovered,
			DurationMs: outcome.Duration.Milliseconds(),
		})
		return streamErr
	}

	err = errs.New(errs.ErrorTypeUnknown, fmt.Sprintf("unexpected terminal event %T", sum.outcome))
	o.emitTerminal(Status{State: StateError, Reason: ReasonInternal, Message: err.Error()})
	return err
}

// ClearSource deletes every persisted item for this orchestrator's source.
func (o *Orchestrator) ClearSource(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deleted, err := o.persister.DeleteAll(o.source.Type())
	if err != nil {
		return errs.NewPersistence(err)
	}
	o.log.InfoWithFields("source cleared", map[string]interface{}{
		"source":  string(o.source.Type()),
		"deleted": deleted,
	})
	return nil
}

// runSummary aggregates what one consume pass saw and persisted.
type runSummary struct {
	discovered  int64
	persisted   int64
	created     int
	updated     int
	unitsFailed int
	outcome     scan.Event
}

// consume drains a scan event stream, accumulating discovered items and
// flushing them to the persister at BatchSize. The remainder is flushed on
// every terminal event, including cancellation, so buffered progress is
// never silently dropped. A flushEvery above zero adds a timer flush for
// streams that idle between items. Returns early only on a persistence
// failure; the caller is then responsible for winding the producer down.
func (o *Orchestrator) consume(events <-chan scan.Event, flushEvery time.Duration) (runSummary, error) {
	var sum runSummary
	batch := make([]models.CatalogItem, 0, o.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		created, updated, err := o.persister.UpsertAll(batch)
		if err != nil {
			return errs.NewPersistence(err)
		}
		sum.persisted += int64(len(batch))
		sum.created += created
		sum.updated += updated
		o.log.DebugWithFields("batch flushed", map[string]interface{}{
			"run_id":    o.runID,
			"items":     len(batch),
			"created":   created,
			"updated":   updated,
			"persisted": sum.persisted,
		})
		batch = make([]models.CatalogItem, 0, o.cfg.BatchSize)
		return nil
	}

	var flushC <-chan time.Time
	if flushEvery > 0 {
		ticker := time.NewTicker(flushEvery)
		defer ticker.Stop()
		flushC = ticker.C
	}

	for {
		var ev scan.Event
		var ok bool
		select {
		case <-flushC:
			if err := flush(); err != nil {
				return sum, err
			}
			continue
		case ev, ok = <-events:
			if !ok {
				return sum, errs.New(errs.ErrorTypeUnknown, "event stream closed without a terminal event")
			}
		}

		switch ev := ev.(type) {
		case scan.ItemDiscovered:
			sum.discovered++
			batch = append(batch, ev.Item)
			if len(batch) >= o.cfg.BatchSize {
				if err := flush(); err != nil {
					return sum, err
				}
			}
			if sum.discovered%int64(o.cfg.EmitProgressEvery) == 0 {
				o.emit(Status{State: StateInProgress, Discovered: sum.discovered, Persisted: sum.persisted})
			}
		case scan.Progress:
			o.log.DebugWithFields("scan progress", map[string]interface{}{
				"run_id":     o.runID,
				"units":      ev.UnitsScanned,
				"scanned":    ev.ItemsScanned,
				"discovered": ev.ItemsDiscovered,
			})
		case scan.UnitComplete:
			o.log.DebugWithFields("unit complete", map[string]interface{}{
				"run_id":     o.runID,
				"unit_id":    ev.UnitID,
				"discovered": ev.Discovered,
				"mark":       int64(ev.Mark),
			})
		case scan.UnitFailed:
			sum.unitsFailed++
			o.log.WarnWithFields("unit failed", map[string]interface{}{
				"run_id":  o.runID,
				"unit_id": ev.UnitID,
				"error":   ev.Err.Error(),
			})
		case scan.Completed:
			if err := flush(); err != nil {
				return sum, err
			}
			sum.outcome = ev
			return sum, nil
		case scan.Cancelled:
			// Cancellation outranks a flush failure: report what made it
			// to the store and let the terminal state stay Cancelled.
			if err := flush(); err != nil {
				o.log.WithError(err).Error("failed to flush buffered items during cancellation")
			}
			sum.outcome = ev
			return sum, nil
		case scan.Failed:
			if err := flush(); err != nil {
				o.log.WithError(err).Error("failed to flush buffered items after stream failure")
			}
			sum.outcome = ev
			return sum, nil
		}
	}
}

func (o *Orchestrator) preflight() error {
	if o.source.AuthState() != models.AuthReady {
		return errs.NewPreflight("account is not authenticated")
	}
	if o.source.ConnectionState() != models.Connected {
		return errs.NewPreflight("source is not connected")
	}
	return nil
}

func (o *Orchestrator) key(req SyncRequest) checkpoint.Key {
	return checkpoint.Key{
		Source:      o.source.Type(),
		AccountID:   o.source.AccountID(),
		ContentType: req.ContentType,
	}
}

func (o *Orchestrator) loadMarks() map[string]models.Marker {
	mr, ok := o.persister.(MarkRepository)
	if !ok {
		return nil
	}
	marks, err := mr.UnitMarks(o.source.Type())
	if err != nil {
		o.log.WithError(err).Warn("failed to load unit marks, scanning from scratch")
		return nil
	}
	return marks
}

func (o *Orchestrator) saveMarks(marks map[string]models.Marker) {
	if len(marks) == 0 {
		return
	}
	mr, ok := o.persister.(MarkRepository)
	if !ok {
		return
	}
	if err := mr.SaveUnitMarks(o.source.Type(), marks); err != nil {
		o.log.WithError(err).Warn("failed to save unit marks")
	}
}

func (o *Orchestrator) recordFailure(key checkpoint.Key, cause error) {
	if err := o.checkpoints.RecordSyncFailure(key, cause); err != nil {
		o.log.WithError(err).Warn("failed to record sync failure")
	}
}

func (o *Orchestrator) recordComplete(key checkpoint.Key, sum runSummary, deleted int, incremental bool, etag, lastModified string) {
	csum := checkpoint.SyncSummary{
		ItemCount:    sum.discovered,
		NewItems:     int64(sum.created),
		UpdatedItems: int64(sum.updated),
		DeletedItems: int64(deleted),
		Etag:         etag,
		LastModified: lastModified,
		Incremental:  incremental,
	}
	if err := o.checkpoints.RecordSyncComplete(key, csum); err != nil {
		o.log.WithError(err).Warn("failed to record sync completion")
	}
}

// recordUnchanged refreshes the checkpoint after an etag short-circuit.
// Counts carry forward from the previous pass; the catalog they describe
// has not changed.
func (o *Orchestrator) recordUnchanged(key checkpoint.Key, etag, lastModified string) {
	csum := checkpoint.SyncSummary{
		Etag:         etag,
		LastModified: lastModified,
		Incremental:  true,
	}
	if cp, err := o.checkpoints.Get(key); err == nil && cp != nil {
		csum.ItemCount = cp.ItemCount
	}
	if err := o.checkpoints.RecordSyncComplete(key, csum); err != nil {
		o.log.WithError(err).Warn("failed to record sync completion")
	}
}

// emit offers a non-terminal status without blocking; a slow consumer
// loses InProgress entries, never terminals.
func (o *Orchestrator) emit(st Status) {
	select {
	case o.status <- o.stamp(st):
	default:
	}
}

// emitTerminal delivers the run's terminal status. It may block until the
// consumer catches up; the Status contract requires draining the stream.
func (o *Orchestrator) emitTerminal(st Status) {
	o.status <- o.stamp(st)
}

func (o *Orchestrator) stamp(st Status) Status {
	st.Source = o.source.Type()
	st.AccountID = o.source.AccountID()
	st.RunID = o.runID
	return st
}

func normalizeRequest(req SyncRequest) SyncRequest {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Mode == "" {
		req.Mode = ModeAuto
	}
	if req.ContentType == "" {
		req.ContentType = models.ContentMedia
	}
	return req
}

// sourceFetcher adapts the source contract to the scanner's fetcher shape.
type sourceFetcher struct {
	src Source
}

func (f sourceFetcher) FetchPage(ctx context.Context, unitID string, cursor models.Marker, limit int) (scan.Page, error) {
	return f.src.FetchItems(ctx, unitID, cursor, limit)
}
