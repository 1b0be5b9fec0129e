package live

import (
	"sync"
	"time"

	"mediadex/pkg/logger"
	"mediadex/pkg/models"
)

// Class labels a unit's live behavior.
type Class int

const (
	// ClassQuiet units forward their updates.
	ClassQuiet Class = iota
	// ClassNoisy units have their updates suppressed.
	ClassNoisy
)

func (c Class) String() string {
	if c == ClassNoisy {
		return "noisy"
	}
	return "quiet"
}

const (
	// minSeedSample is the fewest timestamped sample items that can
	// classify a unit noisy at seed time.
	minSeedSample = 10

	// liveRateWindow is the arrival window used to reclassify a unit
	// from its live update rate.
	liveRateWindow = time.Minute
)

// Classifier tracks per-unit activity for the live stream: whether a unit
// is noisy enough to suppress, and when it last produced an update. Noisy
// is sticky for the classifier's lifetime. Safe for concurrent use.
type Classifier struct {
	threshold    float64 // items per minute
	activeWindow time.Duration
	logger       logger.Logger
	now          func() time.Time

	mu    sync.Mutex
	units map[string]*unitActivity
}

type unitActivity struct {
	class    Class
	lastSeen time.Time
	arrivals []time.Time
}

// NewClassifier returns a classifier that suppresses units producing more
// than threshold items per minute. activeWindow is how long after its last
// update a unit still counts as active.
func NewClassifier(threshold float64, activeWindow time.Duration, log logger.Logger) *Classifier {
	if threshold <= 0 {
		threshold = 30
	}
	if activeWindow <= 0 {
		activeWindow = 30 * time.Minute
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Classifier{
		threshold:    threshold,
		activeWindow: activeWindow,
		logger:       log,
		now:          time.Now,
		units:        make(map[string]*unitActivity),
	}
}

// Seed classifies a unit from a sample of its newest items. Items without
// timestamps are ignored, and fewer than minSeedSample timestamped items
// never classify a unit noisy.
func (c *Classifier) Seed(unitID string, items []models.CatalogItem) Class {
	var newest, oldest time.Time
	n := 0
	for _, item := range items {
		if item.AddedAt.IsZero() {
			continue
		}
		n++
		if newest.IsZero() || item.AddedAt.After(newest) {
			newest = item.AddedAt
		}
		if oldest.IsZero() || item.AddedAt.Before(oldest) {
			oldest = item.AddedAt
		}
	}

	class := ClassQuiet
	if n >= minSeedSample {
		span := newest.Sub(oldest)
		if span < time.Second {
			span = time.Second
		}
		rate := float64(n-1) / span.Minutes()
		if rate > c.threshold {
			class = ClassNoisy
			c.logger.WarnWithFields("unit classified noisy", map[string]interface{}{
				"unit_id":     unitID,
				"sample_size": n,
				"per_minute":  rate,
			})
		}
	}

	c.mu.Lock()
	c.units[unitID] = &unitActivity{class: class}
	c.mu.Unlock()
	return class
}

// Record notes one live update for a unit. It returns the unit's class
// after the update and whether the update moved the unit from inactive to
// active.
func (c *Classifier) Record(unitID string) (Class, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.units[unitID]
	if u == nil {
		u = &unitActivity{}
		c.units[unitID] = u
	}

	wentActive := u.lastSeen.IsZero() || now.Sub(u.lastSeen) > c.activeWindow
	u.lastSeen = now

	if u.class == ClassQuiet {
		u.arrivals = append(u.arrivals, now)
		cutoff := now.Add(-liveRateWindow)
		for len(u.arrivals) > 0 && u.arrivals[0].Before(cutoff) {
			u.arrivals = u.arrivals[1:]
		}
		if perMinute := len(u.arrivals); float64(perMinute) > c.threshold {
			u.class = ClassNoisy
			u.arrivals = nil
			c.logger.WarnWithFields("unit turned noisy", map[string]interface{}{
				"unit_id":    unitID,
				"per_minute": perMinute,
			})
		}
	}

	return u.class, wentActive
}

// Class returns a unit's current class. Unknown units are quiet.
func (c *Classifier) Class(unitID string) Class {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u := c.units[unitID]; u != nil {
		return u.class
	}
	return ClassQuiet
}
