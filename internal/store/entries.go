package store

import (
	"database/sql"
	"time"
)

// CacheEntry is the persisted metadata record paired with a payload file.
type CacheEntry struct {
	Key          string    `db:"key" json:"key"`
	Size         int64     `db:"size" json:"size"`
	Language     string    `db:"language" json:"language"`
	Hits         int       `db:"hits" json:"hits"`
	CreatedAt    time.Time `db:"created_at" json:"timestamp"`
	LastAccessAt time.Time `db:"last_access_at" json:"last_access_at"`
}

func (db *DB) GetEntry(key string) (*CacheEntry, error) {
	entry := &CacheEntry{}
	err := db.Get(entry, `SELECT key, size, language, hits, created_at, last_access_at FROM cache_entries WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (db *DB) PutEntry(entry *CacheEntry) error {
	_, err := db.NamedExec(`
		INSERT INTO cache_entries (key, size, language, hits, created_at, last_access_at)
		VALUES (:key, :size, :language, :hits, :created_at, :last_access_at)
		ON CONFLICT(key) DO UPDATE SET
			size = excluded.size,
			language = excluded.language,
			hits = excluded.hits,
			created_at = excluded.created_at,
			last_access_at = excluded.last_access_at
	`, entry)
	return err
}

func (db *DB) TouchEntry(key string, at time.Time) error {
	_, err := db.Exec(`UPDATE cache_entries SET hits = hits + 1, last_access_at = ? WHERE key = ?`, at, key)
	return err
}

func (db *DB) DeleteEntry(key string) error {
	_, err := db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

func (db *DB) ListEntries() ([]*CacheEntry, error) {
	var entries []*CacheEntry
	err := db.Select(&entries, `SELECT key, size, language, hits, created_at, last_access_at FROM cache_entries ORDER BY created_at ASC`)
	return entries, err
}

func (db *DB) TotalSize() (int64, error) {
	var total sql.NullInt64
	err := db.Get(&total, `SELECT SUM(size) FROM cache_entries`)
	if err != nil {
		return 0, err
	}
	return total.Int64, nil
}
