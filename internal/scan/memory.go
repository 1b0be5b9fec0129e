package scan

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"

	"mediadex/pkg/logger"
	"mediadex/pkg/retry"
)

// heapLiveMetric is the runtime/metrics sample the monitor reads. It tracks
// live heap objects, the figure that actually grows with item backlog.
const heapLiveMetric = "/memory/classes/heap/objects:bytes"

const (
	defaultHeapLimit = 1 << 30 // 1 GiB when no limit is configured or set on the runtime

	warningDelay  = 100 * time.Millisecond
	highDelay     = 300 * time.Millisecond
	criticalDelay = 800 * time.Millisecond

	backoffStep        = 0.2
	backoffCap         = 3.0
	backoffThrottleMax = 10

	parallelStartCeiling = 0.60

	throttleLogEvery = 5 * time.Second
)

// PressureBand classifies heap usage relative to the configured limit:
// normal below 50%, warning to 65%, high to 80%, critical at and above.
type PressureBand int

const (
	BandNormal PressureBand = iota
	BandWarning
	BandHigh
	BandCritical
)

func (b PressureBand) String() string {
	switch b {
	case BandNormal:
		return "normal"
	case BandWarning:
		return "warning"
	case BandHigh:
		return "high"
	case BandCritical:
		return "critical"
	}
	return "unknown"
}

// MemoryMonitor samples live heap usage against a fixed limit and converts
// sustained pressure into producer-side delays, so scans slow down before
// the process blows past its memory budget. Sampling is allocation-free
// and cheap enough to call at batch granularity from every scan worker.
type MemoryMonitor struct {
	limit float64
	log   logger.Logger

	consecutive atomic.Int32
	lastLogNs   atomic.Int64

	mu      sync.Mutex
	samples []metrics.Sample

	usage func() float64
}

// NewMemoryMonitor returns a monitor bounded by limitBytes. When limitBytes
// is zero or negative it falls back to the runtime's soft memory limit if
// one is set, and to 1 GiB otherwise.
func NewMemoryMonitor(limitBytes int64, log logger.Logger) *MemoryMonitor {
	if limitBytes <= 0 {
		if soft := debug.SetMemoryLimit(-1); soft > 0 && soft < math.MaxInt64 {
			limitBytes = soft
		} else {
			limitBytes = defaultHeapLimit
		}
	}
	if log == nil {
		log = logger.GetLogger()
	}
	m := &MemoryMonitor{
		limit:   float64(limitBytes),
		log:     log,
		samples: []metrics.Sample{{Name: heapLiveMetric}},
	}
	m.usage = m.sampleUsage
	return m
}

func (m *MemoryMonitor) sampleUsage() float64 {
	m.mu.Lock()
	metrics.Read(m.samples)
	v := m.samples[0].Value
	m.mu.Unlock()
	if v.Kind() != metrics.KindUint64 {
		return 0
	}
	return float64(v.Uint64()) / m.limit
}

// Usage returns current heap usage as a fraction of the limit.
func (m *MemoryMonitor) Usage() float64 {
	return m.usage()
}

// Band returns the pressure band for the current usage.
func (m *MemoryMonitor) Band() PressureBand {
	return bandFor(m.usage())
}

func bandFor(usage float64) PressureBand {
	switch {
	case usage < 0.50:
		return BandNormal
	case usage < 0.65:
		return BandWarning
	case usage < 0.80:
		return BandHigh
	default:
		return BandCritical
	}
}

// CanStartParallelWork reports whether usage is low enough to admit another
// concurrent scan. The ceiling sits below the high band so work admitted
// now has headroom to grow before throttling kicks in.
func (m *MemoryMonitor) CanStartParallelWork() bool {
	return m.usage() < parallelStartCeiling
}

// ConsecutiveThrottles returns how many throttled calls have occurred since
// usage last dropped back to normal.
func (m *MemoryMonitor) ConsecutiveThrottles() int {
	return int(m.consecutive.Load())
}

// Reset clears the throttle streak, typically between runs.
func (m *MemoryMonitor) Reset() {
	m.consecutive.Store(0)
	m.lastLogNs.Store(0)
}

// CheckAndThrottle samples usage once and sleeps proportionally to the
// pressure band, scaled by how long the pressure has persisted. Under
// critical pressure it also hints a GC and yields so consumers can drain
// backlog before the producer resumes. Returns the context error if the
// delay is interrupted.
func (m *MemoryMonitor) CheckAndThrottle(ctx context.Context) error {
	usage := m.usage()
	band := bandFor(usage)
	if band == BandNormal {
		m.consecutive.Store(0)
		return nil
	}

	streak := m.consecutive.Add(1)
	delay := throttleDelay(band, streak)
	m.logThrottle(usage, band, delay, streak)

	if band == BandCritical {
		runtime.GC()
	}
	if err := retry.Wait(ctx, delay); err != nil {
		return err
	}
	if band == BandCritical {
		runtime.Gosched()
	}
	return nil
}

// throttleDelay scales the band's base delay by 1.0 + min(streak, 10) x 0.2,
// capped at 3.0, so sustained pressure slows producers harder than a spike.
func throttleDelay(band PressureBand, streak int32) time.Duration {
	var base time.Duration
	switch band {
	case BandWarning:
		base = warningDelay
	case BandHigh:
		base = highDelay
	case BandCritical:
		base = criticalDelay
	default:
		return 0
	}
	factor := 1.0 + math.Min(float64(streak), backoffThrottleMax)*backoffStep
	if factor > backoffCap {
		factor = backoffCap
	}
	return time.Duration(float64(base) * factor)
}

// logThrottle emits at most one throttle warning per interval across all
// workers, so a saturated run does not flood the log.
func (m *MemoryMonitor) logThrottle(usage float64, band PressureBand, delay time.Duration, streak int32) {
	now := time.Now().UnixNano()
	last := m.lastLogNs.Load()
	if now-last < int64(throttleLogEvery) {
		return
	}
	if !m.lastLogNs.CompareAndSwap(last, now) {
		return
	}
	m.log.WarnWithFields("memory pressure throttling scan", map[string]interface{}{
		"usage_pct":   int(usage * 100),
		"band":        band.String(),
		"delay_ms":    delay.Milliseconds(),
		"consecutive": streak,
	})
}
