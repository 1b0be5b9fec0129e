package checkpoint

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mediadex/pkg/logger"
	"mediadex/pkg/models"
)

// maxErrorBytes bounds stored failure messages so a pathological backend
// response cannot bloat the checkpoint database.
const maxErrorBytes = 512

// Key identifies one sync scope: an account's content type on a source.
// Every checkpoint row belongs to exactly one key.
type Key struct {
	Source      models.SourceType
	AccountID   string
	ContentType models.ContentType
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Source, k.AccountID, k.ContentType)
}

// Checkpoint is the persisted sync state for one key. Timestamps are unix
// milliseconds; zero means the event never happened.
type Checkpoint struct {
	Key
	LastSyncStartMs     int64
	LastSyncCompleteMs  int64
	LastSyncDurationMs  int64
	ItemCount           int64
	NewItemCount        int64
	UpdatedItemCount    int64
	DeletedItemCount    int64
	Etag                string
	LastModified        string
	Generation          int64
	LastError           string
	ConsecutiveFailures int
	WasIncremental      bool
	ForcedFullSync      bool
	UpdatedAt           time.Time
}

// SyncSummary captures the outcome of one completed sync pass.
type SyncSummary struct {
	ItemCount    int64
	NewItems     int64
	UpdatedItems int64
	DeletedItems int64
	Etag         string
	LastModified string
	Incremental  bool
}

// Store persists checkpoints in a SQLite database. Statements are safe for
// concurrent use; single-writer-per-key discipline belongs to the caller.
type Store struct {
	db  *sql.DB
	log logger.Logger
}

// NewStore opens (or creates) the checkpoint database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	s := &Store{db: db, log: logger.GetLogger()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate checkpoint schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		source TEXT NOT NULL,
		account_id TEXT NOT NULL,
		content_type TEXT NOT NULL,
		last_sync_start_ms INTEGER NOT NULL DEFAULT 0,
		last_sync_complete_ms INTEGER NOT NULL DEFAULT 0,
		last_sync_duration_ms INTEGER NOT NULL DEFAULT 0,
		item_count INTEGER NOT NULL DEFAULT 0,
		new_item_count INTEGER NOT NULL DEFAULT 0,
		updated_item_count INTEGER NOT NULL DEFAULT 0,
		deleted_item_count INTEGER NOT NULL DEFAULT 0,
		etag TEXT NOT NULL DEFAULT '',
		last_modified TEXT NOT NULL DEFAULT '',
		generation INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		was_incremental INTEGER NOT NULL DEFAULT 0,
		forced_full_sync INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (source, account_id, content_type)
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_account ON checkpoints(source, account_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordSyncStart stamps the key with the current time as its last sync
// start, creating the row when the key is new.
func (s *Store) RecordSyncStart(key Key) error {
	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (source, account_id, content_type, last_sync_start_ms, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, account_id, content_type) DO UPDATE SET
			last_sync_start_ms = excluded.last_sync_start_ms,
			updated_at = excluded.updated_at`,
		key.Source, key.AccountID, key.ContentType, now.UnixMilli(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync start for %s: %w", key, err)
	}
	return nil
}

// RecordSyncComplete stamps a successful sync: completion time, duration
// derived from the recorded start, item counts, generation advanced by one,
// failure streak and forced-full flag cleared. Validators are stored only
// when the caller provides them, so a backend that stopped sending an ETag
// does not wipe the cached one.
func (s *Store) RecordSyncComplete(key Key, sum SyncSummary) error {
	now := time.Now()
	ms := now.UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (
			source, account_id, content_type, last_sync_complete_ms,
			item_count, new_item_count, updated_item_count, deleted_item_count,
			etag, last_modified, generation, was_incremental, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(source, account_id, content_type) DO UPDATE SET
			last_sync_complete_ms = excluded.last_sync_complete_ms,
			last_sync_duration_ms = CASE
				WHEN checkpoints.last_sync_start_ms > 0 AND checkpoints.last_sync_start_ms <= excluded.last_sync_complete_ms
				THEN excluded.last_sync_complete_ms - checkpoints.last_sync_start_ms
				ELSE 0 END,
			item_count = excluded.item_count,
			new_item_count = excluded.new_item_count,
			updated_item_count = excluded.updated_item_count,
			deleted_item_count = excluded.deleted_item_count,
			etag = CASE WHEN excluded.etag != '' THEN excluded.etag ELSE checkpoints.etag END,
			last_modified = CASE WHEN excluded.last_modified != '' THEN excluded.last_modified ELSE checkpoints.last_modified END,
			generation = checkpoints.generation + 1,
			last_error = '',
			consecutive_failures = 0,
			was_incremental = excluded.was_incremental,
			forced_full_sync = 0,
			updated_at = excluded.updated_at`,
		key.Source, key.AccountID, key.ContentType, ms,
		sum.ItemCount, sum.NewItems, sum.UpdatedItems, sum.DeletedItems,
		sum.Etag, sum.LastModified, sum.Incremental, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync completion for %s: %w", key, err)
	}
	return nil
}

// RecordSyncFailure stores the failure cause (bounded) and extends the
// failure streak. The generation is untouched: a failed sync never counts
// as a completed pass.
func (s *Store) RecordSyncFailure(key Key, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if len(msg) > maxErrorBytes {
		msg = msg[:maxErrorBytes]
	}

	now := time.Now()
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (source, account_id, content_type, last_error, consecutive_failures, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(source, account_id, content_type) DO UPDATE SET
			last_error = excluded.last_error,
			consecutive_failures = checkpoints.consecutive_failures + 1,
			updated_at = excluded.updated_at`,
		key.Source, key.AccountID, key.ContentType, msg, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync failure for %s: %w", key, err)
	}
	return nil
}

// ForceFullSync clears the fields that allow incremental short-circuiting
// (etag, last-modified, completion time) and flags the key so the next
// sync walks the full catalog. Count history, failure history and the
// generation counter are preserved.
func (s *Store) ForceFullSync(key Key) error {
	_, err := s.db.Exec(`
		UPDATE checkpoints SET
			etag = '',
			last_modified = '',
			last_sync_complete_ms = 0,
			forced_full_sync = 1,
			updated_at = ?
		WHERE source = ? AND account_id = ? AND content_type = ?`,
		time.Now(), key.Source, key.AccountID, key.ContentType,
	)
	if err != nil {
		return fmt.Errorf("failed to force full sync for %s: %w", key, err)
	}
	s.log.InfoWithFields("full sync forced", map[string]interface{}{
		"key": key.String(),
	})
	return nil
}

// DeleteForAccount removes every checkpoint for one account on a source,
// across all content types. Used when an account is unlinked.
func (s *Store) DeleteForAccount(source models.SourceType, accountID string) error {
	res, err := s.db.Exec(
		`DELETE FROM checkpoints WHERE source = ? AND account_id = ?`,
		source, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints for %s/%s: %w", source, accountID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.log.DebugWithFields("checkpoints deleted", map[string]interface{}{
			"source":     string(source),
			"account_id": accountID,
			"rows":       n,
		})
	}
	return nil
}

// Etag returns the cached validator for the key, or "" when none is stored.
func (s *Store) Etag(key Key) (string, error) {
	var etag string
	err := s.db.QueryRow(
		`SELECT etag FROM checkpoints WHERE source = ? AND account_id = ? AND content_type = ?`,
		key.Source, key.AccountID, key.ContentType,
	).Scan(&etag)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return etag, err
}

// LastSyncTimestamp returns the unix-milli completion time of the key's
// last successful sync, or 0 when it has never completed.
func (s *Store) LastSyncTimestamp(key Key) (int64, error) {
	var ms int64
	err := s.db.QueryRow(
		`SELECT last_sync_complete_ms FROM checkpoints WHERE source = ? AND account_id = ? AND content_type = ?`,
		key.Source, key.AccountID, key.ContentType,
	).Scan(&ms)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return ms, err
}

const checkpointColumns = `source, account_id, content_type,
	last_sync_start_ms, last_sync_complete_ms, last_sync_duration_ms,
	item_count, new_item_count, updated_item_count, deleted_item_count,
	etag, last_modified, generation, last_error, consecutive_failures,
	was_incremental, forced_full_sync, updated_at`

// Get returns the full checkpoint for a key, or nil when none exists.
func (s *Store) Get(key Key) (*Checkpoint, error) {
	row := s.db.QueryRow(
		`SELECT `+checkpointColumns+` FROM checkpoints
		WHERE source = ? AND account_id = ? AND content_type = ?`,
		key.Source, key.AccountID, key.ContentType,
	)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", key, err)
	}
	return cp, nil
}

// GetForAccount returns the account's checkpoints across content types.
func (s *Store) GetForAccount(source models.SourceType, accountID string) ([]Checkpoint, error) {
	rows, err := s.db.Query(
		`SELECT `+checkpointColumns+` FROM checkpoints
		WHERE source = ? AND account_id = ? ORDER BY content_type`,
		source, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints for %s/%s: %w", source, accountID, err)
	}
	defer rows.Close()
	return collectCheckpoints(rows)
}

// List returns every stored checkpoint, ordered by key.
func (s *Store) List() ([]Checkpoint, error) {
	rows, err := s.db.Query(
		`SELECT ` + checkpointColumns + ` FROM checkpoints ORDER BY source, account_id, content_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()
	return collectCheckpoints(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	err := row.Scan(
		&cp.Source, &cp.AccountID, &cp.ContentType,
		&cp.LastSyncStartMs, &cp.LastSyncCompleteMs, &cp.LastSyncDurationMs,
		&cp.ItemCount, &cp.NewItemCount, &cp.UpdatedItemCount, &cp.DeletedItemCount,
		&cp.Etag, &cp.LastModified, &cp.Generation,
		&cp.LastError, &cp.ConsecutiveFailures,
		&cp.WasIncremental, &cp.ForcedFullSync, &cp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func collectCheckpoints(rows *sql.Rows) ([]Checkpoint, error) {
	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}
