package live

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"mediadex/internal/backfill"
	"mediadex/internal/scan"
	errs "mediadex/pkg/errors"
	"mediadex/pkg/logger"
	"mediadex/pkg/models"
	"mediadex/pkg/syncer"
)

const (
	defaultSampleSize    = 20
	defaultNoisyPerMin   = 30
	defaultActiveWindow  = 30 * time.Minute
	defaultWarmupLimit   = 200
	defaultWarmupWorkers = 2
	defaultWarmupPace    = time.Second

	eventBuffer = 256
)

// Config tunes a live stream. Zero values take the package defaults.
type Config struct {
	// SampleSize is how many of a unit's newest items seed the classifier.
	SampleSize int

	// NoisyThreshold is the items-per-minute rate above which a unit's
	// updates are suppressed.
	NoisyThreshold float64

	// ActiveWindow is how long after its last update a unit stays active.
	// A unit updating after the window lapses triggers a warm-up.
	ActiveWindow time.Duration

	// WarmupLimit caps the items one warm-up ingests.
	WarmupLimit int

	// WarmupWorkers sizes the backfill pool.
	WarmupWorkers int

	// WarmupPace is the minimum gap between warm-up starts.
	WarmupPace time.Duration

	// UnitLimit bounds how many units are listed and seeded at start.
	// Zero seeds every unit the source reports.
	UnitLimit int

	// Marks holds prior per-unit high-water marks. Warm-ups scan down to
	// them; items below a unit's mark are never re-ingested live.
	Marks map[string]models.Marker
}

// Stream converts a source's push feed into the scan event vocabulary.
// Accepted updates become ItemDiscovered events; a unit waking from
// inactivity additionally triggers a bounded warm-up backfill whose items
// and advanced mark fold back into the same stream.
//
// Streams are single-use: create one, call Run once, drain Events.
type Stream struct {
	source     syncer.Source
	cfg        Config
	log        logger.Logger
	classifier *Classifier
	events     chan scan.Event

	// Owned by the Run goroutine.
	marks      map[string]models.Marker
	inflight   map[string]bool
	discovered int64
	suppressed int64
}

// New returns a stream over source. Nothing runs until Run is called.
func New(source syncer.Source, cfg Config, log logger.Logger) *Stream {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = defaultSampleSize
	}
	if cfg.NoisyThreshold <= 0 {
		cfg.NoisyThreshold = defaultNoisyPerMin
	}
	if cfg.ActiveWindow <= 0 {
		cfg.ActiveWindow = defaultActiveWindow
	}
	if cfg.WarmupLimit <= 0 {
		cfg.WarmupLimit = defaultWarmupLimit
	}
	if cfg.WarmupWorkers <= 0 {
		cfg.WarmupWorkers = defaultWarmupWorkers
	}
	if cfg.WarmupPace <= 0 {
		cfg.WarmupPace = defaultWarmupPace
	}
	if log == nil {
		log = logger.GetLogger()
	}

	marks := make(map[string]models.Marker, len(cfg.Marks))
	for id, mark := range cfg.Marks {
		marks[id] = mark
	}

	return &Stream{
		source:     source,
		cfg:        cfg,
		log:        log,
		classifier: NewClassifier(cfg.NoisyThreshold, cfg.ActiveWindow, log),
		events:     make(chan scan.Event, eventBuffer),
		marks:      marks,
		inflight:   make(map[string]bool),
	}
}

// Events returns the stream's event channel. It ends with exactly one
// terminal event (Failed or Cancelled) followed by close; callers must
// drain it.
func (s *Stream) Events() <-chan scan.Event {
	return s.events
}

// Run preflights the source, seeds the classifier, then forwards live
// updates until ctx is cancelled or the feed ends. A failed preflight
// emits Failed and returns without retrying. Run closes Events on return.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.events)

	units, err := s.preflight(ctx)
	if err != nil {
		return err
	}

	if err := s.seed(ctx, units); err != nil {
		s.events <- scan.Cancelled{Marks: s.snapshotMarks()}
		return err
	}

	updates, err := s.source.LiveUpdates(ctx)
	if err != nil {
		s.log.ErrorWithFields("live feed unavailable", map[string]interface{}{
			"source": string(s.source.Type()),
			"error":  err.Error(),
		})
		s.events <- scan.Failed{Reason: "live feed unavailable", Err: err}
		return err
	}

	pacer := rate.NewLimiter(rate.Every(s.cfg.WarmupPace), 1)
	pool := backfill.NewPool(s.cfg.WarmupWorkers, sourceFetcher{s.source}, pacer, s.log)
	pool.Start()
	defer pool.Stop()

	s.log.InfoWithFields("live stream started", map[string]interface{}{
		"source":       string(s.source.Type()),
		"account":      s.source.AccountID(),
		"units_seeded": len(units),
	})

	return s.collect(ctx, updates, pool)
}

// preflight verifies the source is usable and lists the units that seed
// the classifier. On failure it emits the terminal Failed event.
func (s *Stream) preflight(ctx context.Context) ([]models.ScanUnit, error) {
	if s.source.AuthState() == models.AuthSignedOut {
		err := errs.NewPreflight("account is signed out")
		s.events <- scan.Failed{Reason: "source not ready", Err: err}
		return nil, err
	}

	units, err := s.source.ListUnits(ctx, s.cfg.UnitLimit)
	if err != nil {
		s.log.ErrorWithFields("live preflight failed", map[string]interface{}{
			"source": string(s.source.Type()),
			"error":  err.Error(),
		})
		s.events <- scan.Failed{Reason: "preflight failed", Err: err}
		return nil, err
	}

	if s.source.AuthState() != models.AuthReady || s.source.ConnectionState() != models.Connected {
		err := errs.NewPreflight("source is not ready")
		s.events <- scan.Failed{Reason: "source not ready", Err: err}
		return nil, err
	}

	return units, nil
}

// seed samples each unit's newest items and classifies it. A unit whose
// sample fetch fails stays quiet; only cancellation stops seeding.
func (s *Stream) seed(ctx context.Context, units []models.ScanUnit) error {
	for _, unit := range units {
		page, err := s.source.FetchItems(ctx, unit.ID, 0, s.cfg.SampleSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.WarnWithFields("unit sample failed", map[string]interface{}{
				"unit_id": unit.ID,
				"error":   err.Error(),
			})
			continue
		}
		class := s.classifier.Seed(unit.ID, page.Items)
		s.log.DebugWithFields("unit seeded", map[string]interface{}{
			"unit_id": unit.ID,
			"unit":    unit.Title,
			"sample":  len(page.Items),
			"class":   class.String(),
		})
	}
	return nil
}

// collect is the stream's main loop, multiplexing live updates against
// finished warm-ups. All mark and guard state is touched only here.
func (s *Stream) collect(ctx context.Context, updates <-chan models.CatalogItem, pool *backfill.Pool) error {
	for {
		select {
		case <-ctx.Done():
			s.log.InfoWithFields("live stream stopped", map[string]interface{}{
				"discovered": s.discovered,
				"suppressed": s.suppressed,
			})
			s.events <- scan.Cancelled{Marks: s.snapshotMarks()}
			return ctx.Err()

		case item, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					s.events <- scan.Cancelled{Marks: s.snapshotMarks()}
					return ctx.Err()
				}
				err := errs.New(errs.ErrorTypeNetwork, "update feed closed")
				s.log.Error("update feed closed")
				s.events <- scan.Failed{Reason: "update feed closed", Err: err}
				return err
			}
			s.handleUpdate(ctx, item, pool)

		case res := <-pool.Results():
			s.handleWarmup(ctx, res)
		}
	}
}

// handleUpdate forwards one live update, reclassifies its unit, and kicks
// off a warm-up when the unit just went active. Non-media updates count as
// activity but are not emitted.
func (s *Stream) handleUpdate(ctx context.Context, item models.CatalogItem, pool *backfill.Pool) {
	unitID := item.UnitID

	class, wentActive := s.classifier.Record(unitID)
	if class == ClassNoisy {
		s.suppressed++
		return
	}

	// The warm-up covers the gap below this update, so its stop marker is
	// captured before the update advances the unit's mark.
	stopAt := s.marks[unitID]

	if item.HasMedia() {
		s.discovered++
		s.send(ctx, scan.ItemDiscovered{Item: item})
	}
	if item.Marker > s.marks[unitID] {
		s.marks[unitID] = item.Marker
	}

	if wentActive {
		s.startWarmup(unitID, stopAt, pool)
	}
}

// startWarmup submits one bounded backfill for a unit, at most one in
// flight per unit. A full pool drops the warm-up and clears the guard.
func (s *Stream) startWarmup(unitID string, stopAt models.Marker, pool *backfill.Pool) {
	if s.inflight[unitID] {
		return
	}
	s.inflight[unitID] = true

	ok := pool.Submit(backfill.Job{UnitID: unitID, StopAt: stopAt, Limit: s.cfg.WarmupLimit})
	if !ok {
		delete(s.inflight, unitID)
		s.log.WarnWithFields("warm-up skipped, pool is full", map[string]interface{}{
			"unit_id": unitID,
			"queued":  pool.QueueDepth(),
		})
	}
}

// handleWarmup folds one finished warm-up back into the stream: its items
// become discoveries and, on success, the unit's mark advances into a
// UnitComplete event.
func (s *Stream) handleWarmup(ctx context.Context, res backfill.Result) {
	unitID := res.Job.UnitID
	delete(s.inflight, unitID)

	for _, item := range res.Items {
		s.discovered++
		s.send(ctx, scan.ItemDiscovered{Item: item})
	}

	if res.Err != nil {
		s.log.WarnWithFields("warm-up failed", map[string]interface{}{
			"unit_id": unitID,
			"error":   res.Err.Error(),
		})
		s.send(ctx, scan.UnitFailed{UnitID: unitID, Err: res.Err, Mark: s.marks[unitID]})
		return
	}

	if res.Mark > s.marks[unitID] {
		s.marks[unitID] = res.Mark
	}
	s.send(ctx, scan.UnitComplete{
		UnitID:      unitID,
		Discovered:  int64(len(res.Items)),
		Mark:        s.marks[unitID],
		ReachedMark: res.ReachedMark,
	})
	s.log.DebugWithFields("warm-up merged", map[string]interface{}{
		"unit_id":     unitID,
		"discovered":  len(res.Items),
		"mark":        s.marks[unitID],
		"duration_ms": res.Duration.Milliseconds(),
	})
}

// send delivers non-terminal events, giving up when the stream is
// cancelled so the loop never blocks on a consumer that stopped reading.
func (s *Stream) send(ctx context.Context, ev scan.Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Stream) snapshotMarks() map[string]models.Marker {
	out := make(map[string]models.Marker, len(s.marks))
	for id, mark := range s.marks {
		out[id] = mark
	}
	return out
}

// sourceFetcher adapts a Source to the scanner's paging interface.
type sourceFetcher struct {
	src syncer.Source
}

func (f sourceFetcher) FetchPage(ctx context.Context, unitID string, cursor models.Marker, limit int) (scan.Page, error) {
	return f.src.FetchItems(ctx, unitID, cursor, limit)
}
