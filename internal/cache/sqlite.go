package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"portfoliowatch/internal/model"
)

// SQLiteStore persists the price cache so it survives restarts. Records are
// stored as JSON; unknown fields in old or future rows are ignored on decode.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so reads during a batch write do not block.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite price cache opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_cache (
			symbol     TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_price_cache_updated ON price_cache(updated_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Get(symbol string) (*model.PriceRecord, time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data string
	var updatedAt int64
	err := s.db.QueryRow(
		`SELECT data, updated_at FROM price_cache WHERE symbol = ?`, symbol,
	).Scan(&data, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("cache get %s: %w", symbol, err)
	}

	var rec model.PriceRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		// A corrupt row is treated as a miss; the next write repairs it.
		log.Printf("[WARN] cache entry for %s is unreadable, ignoring: %v", symbol, err)
		return nil, time.Time{}, false, nil
	}
	return &rec, time.UnixMilli(updatedAt), true, nil
}

func (s *SQLiteStore) Put(symbol string, rec *model.PriceRecord, at time.Time) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", symbol, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO price_cache (symbol, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		symbol, string(data), at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache put %s: %w", symbol, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM price_cache WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("cache delete %s: %w", symbol, err)
	}
	return nil
}

func (s *SQLiteStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM price_cache`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
