// Package cache implements the persistent request cache: a sqlite-backed
// key/value store scoped by (method, normalized URL) with per-host-class
// TTLs and a status filter.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Cacheable statuses. Everything else is never stored.
var cacheableStatus = map[int]bool{
	http.StatusOK:                  true,
	http.StatusNotFound:            true,
	http.StatusGone:                true,
	http.StatusUnavailableForLegalReasons: true,
}

// CacheableStatus reports whether a response status may be cached.
func CacheableStatus(code int) bool { return cacheableStatus[code] }

// Entry is one cached response.
type Entry struct {
	Method    string
	URL       string
	Status    int
	Header    http.Header
	Body      []byte
	StoredAt  time.Time
	ExpiresAt time.Time
}

// Store is the on-disk request cache. The sqlite driver serializes its
// own writes; Store adds no locking of its own.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS request_cache (
	method     TEXT NOT NULL,
	url        TEXT NOT NULL,
	status     INTEGER NOT NULL,
	headers    TEXT NOT NULL,
	body       BLOB,
	stored_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (method, url)
);
CREATE INDEX IF NOT EXISTS idx_request_cache_expiry ON request_cache (expires_at);
`

// Open opens (creating if needed) the request cache at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Get returns the cached entry for (method, url), or nil on miss or when
// the entry has expired.
func (s *Store) Get(method, url string) (*Entry, error) {
	row := s.db.QueryRow(
		`SELECT status, headers, body, stored_at, expires_at
		   FROM request_cache WHERE method = ? AND url = ?`,
		method, url,
	)
	var (
		e       Entry
		headers string
		stored  int64
		expires int64
	)
	err := row.Scan(&e.Status, &headers, &e.Body, &stored, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get: %w", err)
	}
	e.Method = method
	e.URL = url
	e.StoredAt = time.Unix(stored, 0)
	e.ExpiresAt = time.Unix(expires, 0)
	if time.Now().After(e.ExpiresAt) {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(headers), &e.Header); err != nil {
		return nil, fmt.Errorf("cache: decode headers: %w", err)
	}
	return &e, nil
}

// Put stores a response with the given TTL, replacing any prior entry.
// Non-cacheable statuses and non-GET methods are rejected by the caller;
// Put enforces the status filter again as a backstop.
func (s *Store) Put(e *Entry, ttl time.Duration) error {
	if !CacheableStatus(e.Status) {
		return nil
	}
	headers, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("cache: encode headers: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO request_cache
		   (method, url, status, headers, body, stored_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Method, e.URL, e.Status, string(headers), e.Body,
		now.Unix(), now.Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// Delete removes the entry for (method, url) if present. Used by the
// bust path to force a fresh fetch.
func (s *Store) Delete(method, url string) error {
	_, err := s.db.Exec(`DELETE FROM request_cache WHERE method = ? AND url = ?`, method, url)
	return err
}

// PruneExpired drops entries past their expiry. Called once at startup.
func (s *Store) PruneExpired() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM request_cache WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cache: prune: %w", err)
	}
	return res.RowsAffected()
}

// Policy decides the TTL of a cache entry from its host class.
type Policy struct {
	FileHosts   []string // host suffixes of registered file hosts
	Forums      []string // host suffixes of registered forums
	FileHostTTL time.Duration
	ForumTTL    time.Duration
	DefaultTTL  time.Duration
}

// DefaultPolicy returns the stock TTLs: file hosts 7 days, forums 28
// days, 7 days otherwise.
func DefaultPolicy() Policy {
	return Policy{
		FileHostTTL: 7 * 24 * time.Hour,
		ForumTTL:    28 * 24 * time.Hour,
		DefaultTTL:  7 * 24 * time.Hour,
	}
}

// TTLFor returns the TTL for a response from host.
func (p Policy) TTLFor(host string) time.Duration {
	host = strings.ToLower(host)
	if matchSuffix(p.Forums, host) {
		return p.ForumTTL
	}
	if matchSuffix(p.FileHosts, host) {
		return p.FileHostTTL
	}
	return p.DefaultTTL
}

func matchSuffix(suffixes []string, host string) bool {
	for _, s := range suffixes {
		s = strings.ToLower(s)
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}
