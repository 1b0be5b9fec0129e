package scan

import (
	"context"

	"mediadex/pkg/models"
)

// ItemFetcher pages through one unit's catalog from newest to oldest.
// A zero cursor requests the newest page; subsequent calls pass the
// cursor returned with the previous page.
type ItemFetcher interface {
	FetchPage(ctx context.Context, unitID string, cursor models.Marker, limit int) (Page, error)
}

// Page is one fetched slice of a unit's catalog, newest first.
type Page struct {
	Items   []models.CatalogItem
	Next    models.Marker
	HasMore bool
}

// UnitScanner walks a single unit's items newest to oldest, stopping when
// the source is exhausted or the unit's prior high-water mark is reached.
// It performs no retries of its own; a failed fetch surfaces immediately
// so the caller can fail the unit without touching its siblings.
type UnitScanner struct {
	fetcher ItemFetcher
	unitID  string
	stopAt  models.Marker
	limit   int

	cursor  models.Marker
	done    bool
	reached bool
	highest models.Marker
	scanned int64
}

// NewUnitScanner returns a scanner over unitID that halts once an item at
// or below stopAt is seen. A stopAt of zero scans the unit's full history.
func NewUnitScanner(fetcher ItemFetcher, unitID string, stopAt models.Marker, pageSize int) *UnitScanner {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &UnitScanner{
		fetcher: fetcher,
		unitID:  unitID,
		stopAt:  stopAt,
		limit:   pageSize,
	}
}

// HasNext reports whether another batch may be available. It is true on a
// fresh scanner and turns false once the source is exhausted or the stop
// marker was reached.
func (s *UnitScanner) HasNext() bool {
	return !s.done
}

// NextBatch fetches the next page and returns its media-bearing items.
// Items at or below the stop marker end the scan and are not returned.
// Non-media items are skipped but still count toward Scanned.
func (s *UnitScanner) NextBatch(ctx context.Context) ([]models.CatalogItem, error) {
	if s.done {
		return nil, nil
	}

	page, err := s.fetcher.FetchPage(ctx, s.unitID, s.cursor, s.limit)
	if err != nil {
		return nil, err
	}

	batch := make([]models.CatalogItem, 0, len(page.Items))
	for _, item := range page.Items {
		s.scanned++
		if s.stopAt > 0 && item.Marker <= s.stopAt {
			s.reached = true
			s.done = true
			break
		}
		if item.Marker > s.highest {
			s.highest = item.Marker
		}
		if !item.HasMedia() {
			continue
		}
		batch = append(batch, item)
	}

	if !s.done {
		s.cursor = page.Next
		if !page.HasMore || len(page.Items) == 0 {
			s.done = true
		}
	}
	return batch, nil
}

// ReachedHighWaterMark reports whether the scan ended by hitting the stop
// marker rather than exhausting the unit's history.
func (s *UnitScanner) ReachedHighWaterMark() bool {
	return s.reached
}

// HighestSeenMarker returns the largest marker observed above the stop
// marker, or zero when nothing new was seen.
func (s *UnitScanner) HighestSeenMarker() models.Marker {
	return s.highest
}

// Scanned returns the number of items examined, including non-media items
// that were skipped.
func (s *UnitScanner) Scanned() int64 {
	return s.scanned
}
