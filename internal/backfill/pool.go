// Package backfill runs bounded warm-up ingests for the live update
// stream. Submission never blocks: a full queue drops the job.
package backfill

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mediadex/internal/scan"
	"mediadex/pkg/logger"
	"mediadex/pkg/models"
)

const (
	defaultWorkers = 2
	defaultLimit   = 200
	pageSize       = 100
)

// Job is one warm-up ingest request: page a single unit newest to oldest
// from the top of its history down to StopAt.
type Job struct {
	UnitID string
	// StopAt is the unit's prior high-water mark. Zero scans until Limit
	// is hit or history runs out.
	StopAt models.Marker
	// Limit caps the ingest. It is checked at page boundaries, so a final
	// page may carry the total slightly past it. Non-positive values fall
	// back to the pool default.
	Limit int
}

// Result is the outcome of one warm-up ingest. Items fetched before a
// failure are kept; Err marks the ingest as failed and Mark stays at the
// job's StopAt.
type Result struct {
	Job         Job
	Items       []models.CatalogItem
	Mark        models.Marker // advanced high-water mark, never below StopAt
	ReachedMark bool          // the scan caught up to StopAt before hitting Limit
	Scanned     int64         // items examined, including skipped non-media ones
	Err         error
	Duration    time.Duration
}

// Pool runs warm-up ingests on a fixed set of workers so the loop that
// submits them never waits on a fetch.
type Pool struct {
	numWorkers int
	jobs       chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	fetcher    scan.ItemFetcher
	pacer      *rate.Limiter
	logger     logger.Logger
}

// NewPool creates a warm-up pool over fetcher. pacer spaces out job starts
// across all workers; nil disables pacing.
func NewPool(numWorkers int, fetcher scan.ItemFetcher, pacer *rate.Limiter, log logger.Logger) *Pool {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	if pacer == nil {
		pacer = rate.NewLimiter(rate.Inf, 0)
	}
	if log == nil {
		log = logger.GetLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*2),
		results:    make(chan Result, numWorkers),
		ctx:        ctx,
		cancel:     cancel,
		fetcher:    fetcher,
		pacer:      pacer,
		logger:     log,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.InfoWithFields("starting backfill pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels in-flight work, waits for the workers to exit, then closes
// the result stream. Queued jobs are dropped. Stop must be called exactly
// once.
func (p *Pool) Stop() {
	p.logger.Info("stopping backfill pool")

	p.cancel()
	p.wg.Wait()
	close(p.results)

	p.logger.Info("backfill pool stopped")
}

// Submit queues a warm-up without blocking. It reports false when the
// queue is full or the pool is shutting down, in which case the job was
// dropped.
func (p *Pool) Submit(job Job) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	select {
	case p.jobs <- job:
		p.logger.DebugWithFields("warm-up queued", map[string]interface{}{
			"unit_id": job.UnitID,
			"stop_at": job.StopAt,
		})
		return true
	default:
		p.logger.DebugWithFields("warm-up dropped, queue full", map[string]interface{}{
			"unit_id":    job.UnitID,
			"queue_size": len(p.jobs),
		})
		return false
	}
}

// Results returns the stream of finished warm-ups. It is closed by Stop.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// QueueDepth returns the number of queued, unstarted jobs.
func (p *Pool) QueueDepth() int {
	return len(p.jobs)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.DebugWithFields("backfill worker started", map[string]interface{}{
		"worker_id": id,
	})

	for {
		select {
		case <-p.ctx.Done():
			p.logger.DebugWithFields("backfill worker stopping", map[string]interface{}{
				"worker_id": id,
			})
			return
		case job := <-p.jobs:
			if err := p.pacer.Wait(p.ctx); err != nil {
				if p.ctx.Err() != nil {
					return
				}
				p.logger.WarnWithFields("warm-up pacing skipped", map[string]interface{}{
					"worker_id": id,
					"error":     err.Error(),
				})
			}

			result := p.runJob(job, id)

			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// runJob scans one unit from the top of its history down to the prior
// mark, bounded by the job limit.
func (p *Pool) runJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job, Mark: job.StopAt}

	limit := job.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	batchSize := pageSize
	if batchSize > limit {
		batchSize = limit
	}

	p.logger.DebugWithFields("warm-up started", map[string]interface{}{
		"worker_id": workerID,
		"unit_id":   job.UnitID,
		"stop_at":   job.StopAt,
		"limit":     limit,
	})

	scanner := scan.NewUnitScanner(p.fetcher, job.UnitID, job.StopAt, batchSize)
	for scanner.HasNext() && len(result.Items) < limit {
		batch, err := scanner.NextBatch(p.ctx)
		if err != nil {
			result.Err = err
			result.Scanned = scanner.Scanned()
			result.Duration = time.Since(start)

			p.logger.ErrorWithFields("warm-up failed", map[string]interface{}{
				"worker_id": workerID,
				"unit_id":   job.UnitID,
				"error":     err.Error(),
			})

			return result
		}
		result.Items = append(result.Items, batch...)
	}

	if m := scanner.HighestSeenMarker(); m > result.Mark {
		result.Mark = m
	}
	result.ReachedMark = scanner.ReachedHighWaterMark()
	result.Scanned = scanner.Scanned()
	result.Duration = time.Since(start)

	p.logger.DebugWithFields("warm-up completed", map[string]interface{}{
		"worker_id":   workerID,
		"unit_id":     job.UnitID,
		"discovered":  len(result.Items),
		"scanned":     result.Scanned,
		"mark":        result.Mark,
		"duration_ms": result.Duration.Milliseconds(),
	})

	return result
}
