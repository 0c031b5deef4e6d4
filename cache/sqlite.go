package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// MemoryDSN is an in-memory database that lives as long as the store's single connection.
const MemoryDSN = ":memory:"

// SQLiteStore keeps entries in a SQLite database.
// It is meant for the in-memory DSN: nothing is expected to outlive the process.
type SQLiteStore struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

func NewSQLiteStore(dsn string) (SQLiteStore, error) {
	if dsn == "" {
		dsn = MemoryDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return SQLiteStore{}, fmt.Errorf("open sqlite store: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if _, err := db.Exec("CREATE TABLE IF NOT EXISTS cache (key TEXT PRIMARY KEY, stored_at INTEGER, value BLOB)"); err != nil {
		db.Close()
		return SQLiteStore{}, fmt.Errorf("create cache table: %w", err)
	}
	return SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteStore) Get(key string) (Entry, bool, error) {
	var storedAt int64
	var value []byte
	err := s.db.QueryRow("SELECT stored_at, value FROM cache WHERE key = ?", key).Scan(&storedAt, &value)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Value: json.RawMessage(value), StoredAt: time.Unix(0, storedAt)}, true, nil
}

func (s SQLiteStore) Put(key string, value json.RawMessage, storedAt time.Time) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR REPLACE INTO cache (key, stored_at, value) VALUES (?, ?, ?)", key, storedAt.UnixNano(), []byte(value))
	return err
}

func (s SQLiteStore) Delete(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

func (s SQLiteStore) DeleteWhere(match func(key string) bool) (int, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	keys, err := s.keys()
	if err != nil {
		return 0, err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if !match(key) {
			continue
		}
		if _, err := tx.Exec("DELETE FROM cache WHERE key = ?", key); err != nil {
			tx.Rollback()
			return 0, err
		}
		removed++
	}
	return removed, tx.Commit()
}

func (s SQLiteStore) Clear() error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache")
	return err
}

func (s SQLiteStore) Len() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM cache").Scan(&n)
	return n, err
}

func (s SQLiteStore) Close() error {
	return s.db.Close()
}

func (s SQLiteStore) keys() ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM cache")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
