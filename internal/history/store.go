// Package history implements the transactional record of attempted and
// completed downloads, keyed by (site, url_path), with a secondary
// referer index, forum position tracking, and the per-run temp-referer
// table.
package history

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Record is one history row.
type Record struct {
	Site        string
	URLPath     string
	RefererPath string // history key component, path+query only
	RefererURL  string // absolute form, kept for retry runs
	AlbumID     string
	Filename    string
	Filesize    int64
	Completed   bool
	CompletedAt time.Time
	Attempts    int
	Hash        string
}

// Store is the history/dedup store. Writes are serialized; a write either
// lands fully or not at all (single-statement sqlite transactions).
type Store struct {
	db *sql.DB
	wm sync.Mutex
}

// Open opens the history store at path, applies pending migrations, and
// clears the temp-referer table for the new run.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)", path))
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	s := &Store{db: db}
	if err := s.clearTempReferers(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// PathOf reduces a URL to its history key: escaped path plus query.
// Percent-encoded segments are preserved verbatim.
func PathOf(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// IsComplete reports whether (site, urlPath) has a completed row.
func (s *Store) IsComplete(site, urlPath string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM downloads WHERE site = ? AND url_path = ? AND completed = 1`,
		site, urlPath,
	).Scan(&n)
	return n > 0, err
}

// IsCompleteByReferer reports whether any completed row carries the given
// referer from a previous run. Referers first seen in the current run
// (temp table) do not count, so a run never short-circuits on its own
// output.
func (s *Store) IsCompleteByReferer(site, refererPath string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM downloads
		  WHERE site = ? AND referer_path = ? AND completed = 1
		    AND referer_path NOT IN (SELECT referer_path FROM temp_referers)`,
		site, refererPath,
	).Scan(&n)
	return n > 0, err
}

// MarkComplete upserts a completed row and records its referer in the
// temp table for this run.
func (s *Store) MarkComplete(r *Record) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	completedAt := r.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.Exec(
		`INSERT INTO downloads
		   (site, url_path, referer_path, referer_url, album_id, filename, filesize, completed, completed_at, attempts, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, 0, ?)
		 ON CONFLICT (site, url_path) DO UPDATE SET
		   referer_path = excluded.referer_path,
		   referer_url  = excluded.referer_url,
		   album_id     = excluded.album_id,
		   filename     = excluded.filename,
		   filesize     = excluded.filesize,
		   completed    = 1,
		   completed_at = excluded.completed_at,
		   hash         = excluded.hash`,
		r.Site, r.URLPath, r.RefererPath, r.RefererURL, r.AlbumID, r.Filename, r.Filesize,
		completedAt.Unix(), r.Hash,
	)
	if err != nil {
		return fmt.Errorf("history: mark complete: %w", err)
	}
	if r.RefererPath != "" {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO temp_referers (referer_path) VALUES (?)`, r.RefererPath,
		); err != nil {
			return fmt.Errorf("history: temp referer: %w", err)
		}
	}
	return tx.Commit()
}

// MarkFailed upserts a failed attempt for (site, urlPath).
func (s *Store) MarkFailed(r *Record) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO downloads
		   (site, url_path, referer_path, referer_url, album_id, filename, filesize, completed, attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, 1)
		 ON CONFLICT (site, url_path) DO UPDATE SET
		   attempts = downloads.attempts + 1,
		   referer_path = excluded.referer_path,
		   referer_url  = excluded.referer_url`,
		r.Site, r.URLPath, r.RefererPath, r.RefererURL, r.AlbumID, r.Filename, r.Filesize,
	)
	if err != nil {
		return fmt.Errorf("history: mark failed: %w", err)
	}
	return nil
}

// MarkIncomplete flips a completed row back to pending so a retry run
// re-downloads it. Used when the stored hash matches a known-bad
// placeholder.
func (s *Store) MarkIncomplete(site, urlPath string) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(
		`UPDATE downloads SET completed = 0 WHERE site = ? AND url_path = ?`,
		site, urlPath,
	)
	if err != nil {
		return fmt.Errorf("history: mark incomplete: %w", err)
	}
	return nil
}

// MarkAlbumMembership binds an existing row to an album id. Rows from
// earlier runs that predate the album discovery pick up the id here.
func (s *Store) MarkAlbumMembership(site, urlPath, albumID string) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(
		`UPDATE downloads SET album_id = ? WHERE site = ? AND url_path = ?`,
		albumID, site, urlPath,
	)
	if err != nil {
		return fmt.Errorf("history: album membership: %w", err)
	}
	return nil
}

// FetchFailedItems returns rows that never completed, for retry runs.
func (s *Store) FetchFailedItems() ([]Record, error) {
	return s.fetch(
		`SELECT site, url_path, referer_path, referer_url, album_id, filename, filesize, completed, completed_at, attempts, hash
		   FROM downloads WHERE completed = 0 ORDER BY site, url_path`,
	)
}

// FetchAllItems returns completed rows inside [after, before]. Zero times
// leave that bound open.
func (s *Store) FetchAllItems(after, before time.Time) ([]Record, error) {
	lo := int64(0)
	hi := int64(1<<62 - 1)
	if !after.IsZero() {
		lo = after.Unix()
	}
	if !before.IsZero() {
		hi = before.Unix()
	}
	return s.fetch(
		`SELECT site, url_path, referer_path, referer_url, album_id, filename, filesize, completed, completed_at, attempts, hash
		   FROM downloads WHERE completed = 1 AND completed_at BETWEEN ? AND ?
		  ORDER BY completed_at`,
		lo, hi,
	)
}

// FetchByHash returns completed rows of a site whose stored hash is one
// of the given digests. Used by maintenance retries to find known-bad
// placeholder files.
func (s *Store) FetchByHash(site string, hashes []string) ([]Record, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	ph := make([]string, len(hashes))
	args := make([]any, 0, len(hashes)+1)
	args = append(args, site)
	for i, h := range hashes {
		ph[i] = "?"
		args = append(args, strings.ToLower(h))
	}
	return s.fetch(
		`SELECT site, url_path, referer_path, referer_url, album_id, filename, filesize, completed, completed_at, attempts, hash
		   FROM downloads WHERE site = ? AND completed = 1 AND lower(hash) IN (`+strings.Join(ph, ",")+`)`,
		args...,
	)
}

func (s *Store) fetch(query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: fetch: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var (
			r           Record
			completed   int
			completedAt sql.NullInt64
		)
		if err := rows.Scan(&r.Site, &r.URLPath, &r.RefererPath, &r.RefererURL, &r.AlbumID,
			&r.Filename, &r.Filesize, &completed, &completedAt, &r.Attempts, &r.Hash); err != nil {
			return nil, err
		}
		r.Completed = completed == 1
		if completedAt.Valid {
			r.CompletedAt = time.Unix(completedAt.Int64, 0)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastForumPost returns the last seen post URL for a forum thread, or ""
// when the thread has never been walked.
func (s *Store) LastForumPost(site, threadPath string) (string, error) {
	var u string
	err := s.db.QueryRow(
		`SELECT last_post_url FROM forum_positions WHERE site = ? AND thread_path = ?`,
		site, threadPath,
	).Scan(&u)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return u, err
}

// SetLastForumPost records the last seen post URL for a forum thread.
func (s *Store) SetLastForumPost(site, threadPath, postURL string) error {
	s.wm.Lock()
	defer s.wm.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO forum_positions (site, thread_path, last_post_url, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (site, thread_path) DO UPDATE SET
		   last_post_url = excluded.last_post_url,
		   updated_at    = excluded.updated_at`,
		site, threadPath, postURL, time.Now().Unix(),
	)
	return err
}

func (s *Store) clearTempReferers() error {
	s.wm.Lock()
	defer s.wm.Unlock()
	if _, err := s.db.Exec(`DELETE FROM temp_referers`); err != nil {
		return fmt.Errorf("history: clear temp referers: %w", err)
	}
	return nil
}
