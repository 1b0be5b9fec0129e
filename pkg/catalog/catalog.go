package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"mediadex/pkg/logger"
	"mediadex/pkg/models"
)

// Bucket names
var (
	bucketItems = []byte("items")
	bucketUnits = []byte("units")
	bucketMeta  = []byte("meta")
)

// entry is the persisted envelope around one catalog item. Generation is
// the sync generation that last saw the item; items older than the active
// generation are prune candidates after a full pass.
type entry struct {
	Item       models.CatalogItem `json:"item"`
	Generation int64              `json:"generation"`
	FirstSeen  time.Time          `json:"first_seen"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// unitRecord is the persisted per-unit state: identity plus the highest
// marker a completed scan has reached.
type unitRecord struct {
	ID    string        `json:"id"`
	Title string        `json:"title"`
	Mark  models.Marker `json:"mark"`
}

// Store persists the unified catalog in a BoltDB file. With an empty path
// it runs memory-only, which tests use.
type Store struct {
	db  *bolt.DB
	log logger.Logger

	mu  sync.RWMutex
	mem map[string]map[string][]byte
}

// NewStore opens (or creates) the catalog database at path. An empty path
// yields a memory-only store with identical semantics and no persistence.
func NewStore(path string) (*Store, error) {
	log := logger.GetLogger()

	if path == "" {
		return &Store{
			log: log,
			mem: map[string]map[string][]byte{
				string(bucketItems): {},
				string(bucketUnits): {},
				string(bucketMeta):  {},
			},
		}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketItems, bucketUnits, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog buckets: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// UpsertAll writes a batch of items, returning how many were new and how
// many changed. Items re-seen with an identical payload refresh their
// generation stamp without counting as updated; FirstSeen always survives.
func (s *Store) UpsertAll(items []models.CatalogItem) (created, updated int, err error) {
	if len(items) == 0 {
		return 0, 0, nil
	}
	now := time.Now()

	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		b := s.mem[string(bucketItems)]
		meta := s.mem[string(bucketMeta)]
		for _, item := range items {
			gen := parseGen(meta[genKey(item.Source)])
			data, isNew, changed, err := mergeEntry(b[item.Key()], item, gen, now)
			if err != nil {
				return created, updated, err
			}
			b[item.Key()] = data
			if isNew {
				created++
			} else if changed {
				updated++
			}
		}
		return created, updated, nil
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		meta := tx.Bucket(bucketMeta)

		gens := make(map[models.SourceType]int64)
		for _, item := range items {
			gen, ok := gens[item.Source]
			if !ok {
				gen = parseGen(meta.Get([]byte(genKey(item.Source))))
				gens[item.Source] = gen
			}

			key := []byte(item.Key())
			data, isNew, changed, err := mergeEntry(b.Get(key), item, gen, now)
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
			if isNew {
				created++
			} else if changed {
				updated++
			}
		}
		return nil
	})
	return created, updated, err
}

// mergeEntry folds an incoming item into its stored envelope. A payload
// comparison decides "changed"; the generation stamp is always refreshed.
func mergeEntry(stored []byte, item models.CatalogItem, gen int64, now time.Time) (data []byte, isNew, changed bool, err error) {
	incoming, err := json.Marshal(item)
	if err != nil {
		return nil, false, false, fmt.Errorf("failed to encode item %s: %w", item.Key(), err)
	}

	fresh := entry{Item: item, Generation: gen, FirstSeen: now, UpdatedAt: now}

	if stored == nil {
		data, err = json.Marshal(fresh)
		return data, true, false, err
	}

	var prev entry
	if err := json.Unmarshal(stored, &prev); err != nil {
		// Unreadable envelope: replace it and report an update.
		data, err = json.Marshal(fresh)
		return data, false, true, err
	}

	prevItem, err := json.Marshal(prev.Item)
	if err != nil {
		return nil, false, false, err
	}
	changed = !bytes.Equal(prevItem, incoming)

	next := entry{Item: item, Generation: gen, FirstSeen: prev.FirstSeen, UpdatedAt: prev.UpdatedAt}
	if changed {
		next.UpdatedAt = now
	}
	data, err = json.Marshal(next)
	return data, false, changed, err
}

// DeleteAll removes every item and unit record for a source. Unit marks go
// with the items so the next sync rebuilds from scratch instead of trusting
// marks that point into a catalog that no longer exists.
func (s *Store) DeleteAll(source models.SourceType) (int, error) {
	prefix := sourcePrefix(source)

	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		deleted := 0
		for _, bucket := range []string{string(bucketItems), string(bucketUnits)} {
			b := s.mem[bucket]
			for k := range b {
				if strings.HasPrefix(k, prefix) {
					delete(b, k)
					if bucket == string(bucketItems) {
						deleted++
					}
				}
			}
		}
		return deleted, nil
	}

	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		p := []byte(prefix)
		for _, bucket := range [][]byte{bucketItems, bucketUnits} {
			b := tx.Bucket(bucket)
			c := b.Cursor()
			for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
				if err := c.Delete(); err != nil {
					return err
				}
				if bytes.Equal(bucket, bucketItems) {
					deleted++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear source %s: %w", source, err)
	}

	s.log.InfoWithFields("source cleared from catalog", map[string]interface{}{
		"source": string(source),
		"items":  deleted,
	})
	return deleted, nil
}

// BeginGeneration opens a new sync generation for the source and returns
// it. Upserts from now on carry the new generation; PruneStale later drops
// whatever a full pass did not re-see.
func (s *Store) BeginGeneration(source models.SourceType) (int64, error) {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		meta := s.mem[string(bucketMeta)]
		gen := parseGen(meta[genKey(source)]) + 1
		meta[genKey(source)] = []byte(strconv.FormatInt(gen, 10))
		return gen, nil
	}

	var gen int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		key := []byte(genKey(source))
		gen = parseGen(meta.Get(key)) + 1
		return meta.Put(key, []byte(strconv.FormatInt(gen, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to begin generation for %s: %w", source, err)
	}
	return gen, nil
}

// PruneStale deletes the source's items whose generation predates the
// active one, returning how many were dropped. Only meaningful after a
// completed full pass; incremental syncs never open a new generation, so
// pruning after one is a no-op.
func (s *Store) PruneStale(source models.SourceType) (int, error) {
	prefix := sourcePrefix(source)

	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		gen := parseGen(s.mem[string(bucketMeta)][genKey(source)])
		b := s.mem[string(bucketItems)]
		deleted := 0
		for k, v := range b {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			var e entry
			if err := json.Unmarshal(v, &e); err != nil || e.Generation < gen {
				delete(b, k)
				deleted++
			}
		}
		return deleted, nil
	}

	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		gen := parseGen(tx.Bucket(bucketMeta).Get([]byte(genKey(source))))

		b := tx.Bucket(bucketItems)
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var e entry
			if err := json.Unmarshal(v, &e); err == nil && e.Generation >= gen {
				continue
			}
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune stale items for %s: %w", source, err)
	}

	if deleted > 0 {
		s.log.InfoWithFields("stale items pruned", map[string]interface{}{
			"source":  string(source),
			"deleted": deleted,
		})
	}
	return deleted, nil
}

// SaveUnits upserts the source's unit records, keeping the highest mark
// already stored for each.
func (s *Store) SaveUnits(source models.SourceType, units []models.ScanUnit) error {
	apply := func(get func(string) []byte, put func(string, []byte) error) error {
		for _, u := range units {
			key := unitKey(source, u.ID)
			rec := unitRecord{ID: u.ID, Title: u.Title, Mark: u.PriorMark}
			if prev := get(key); prev != nil {
				var old unitRecord
				if err := json.Unmarshal(prev, &old); err == nil && old.Mark > rec.Mark {
					rec.Mark = old.Mark
				}
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := put(key, data); err != nil {
				return err
			}
		}
		return nil
	}

	if err := s.updateUnits(apply); err != nil {
		return fmt.Errorf("failed to save units for %s: %w", source, err)
	}
	return nil
}

// SaveUnitMarks folds a run's final mark map into the unit bucket with a
// max-merge, so a partial run can never drag a stored mark backwards.
func (s *Store) SaveUnitMarks(source models.SourceType, marks map[string]models.Marker) error {
	if len(marks) == 0 {
		return nil
	}

	apply := func(get func(string) []byte, put func(string, []byte) error) error {
		for unitID, mark := range marks {
			key := unitKey(source, unitID)
			rec := unitRecord{ID: unitID, Mark: mark}
			if prev := get(key); prev != nil {
				var old unitRecord
				if err := json.Unmarshal(prev, &old); err == nil {
					rec.Title = old.Title
					if old.Mark > rec.Mark {
						rec.Mark = old.Mark
					}
				}
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			if err := put(key, data); err != nil {
				return err
			}
		}
		return nil
	}

	if err := s.updateUnits(apply); err != nil {
		return fmt.Errorf("failed to save unit marks for %s: %w", source, err)
	}
	return nil
}

// UnitMarks returns the stored high-water mark per unit for a source.
// Units without a mark yet report zero.
func (s *Store) UnitMarks(source models.SourceType) (map[string]models.Marker, error) {
	marks := make(map[string]models.Marker)
	err := s.forEachPrefix(bucketUnits, sourcePrefix(source), func(_ string, v []byte) error {
		var rec unitRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		marks[rec.ID] = rec.Mark
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load unit marks for %s: %w", source, err)
	}
	return marks, nil
}

// Count returns the number of stored items for a source.
func (s *Store) Count(source models.SourceType) (int, error) {
	n := 0
	err := s.forEachPrefix(bucketItems, sourcePrefix(source), func(string, []byte) error {
		n++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count items for %s: %w", source, err)
	}
	return n, nil
}

// updateUnits runs a mutation against the unit bucket in whichever mode
// the store is in.
func (s *Store) updateUnits(apply func(get func(string) []byte, put func(string, []byte) error) error) error {
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()

		b := s.mem[string(bucketUnits)]
		return apply(
			func(k string) []byte { return b[k] },
			func(k string, v []byte) error { b[k] = v; return nil },
		)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnits)
		return apply(
			func(k string) []byte { return b.Get([]byte(k)) },
			func(k string, v []byte) error { return b.Put([]byte(k), v) },
		)
	})
}

// forEachPrefix visits every key with the prefix in a bucket. Memory-mode
// iteration order is unspecified; callers must not depend on it.
func (s *Store) forEachPrefix(bucket []byte, prefix string, fn func(k string, v []byte) error) error {
	if s.db == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()

		for k, v := range s.mem[string(bucket)] {
			if strings.HasPrefix(k, prefix) {
				if err := fn(k, v); err != nil {
					return err
				}
			}
		}
		return nil
	}

	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := fn(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func sourcePrefix(source models.SourceType) string {
	return string(source) + "/"
}

func unitKey(source models.SourceType, unitID string) string {
	return string(source) + "/" + unitID
}

func genKey(source models.SourceType) string {
	return "gen/" + string(source)
}

func parseGen(v []byte) int64 {
	if len(v) == 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
