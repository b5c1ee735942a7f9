// Package scrollback retains recent formatted chat lines in SQLite so
// log-style queries have a fast path alongside the flat-file chat logs.
package scrollback

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS scrollback (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	at       INTEGER NOT NULL,
	channel  TEXT NOT NULL,
	speaker  TEXT NOT NULL,
	line     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scrollback_channel_at ON scrollback(channel, at);
`

// Entry is one retained chat line.
type Entry struct {
	At      time.Time
	Channel string
	Speaker string
	Line    string
}

// Store holds the scrollback database.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	cleanupRunning bool
	stop           chan struct{}
	done           chan struct{}
}

// Open opens (creating if needed) the scrollback database, sets WAL mode
// and a busy timeout.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("scrollback: opening sqlite %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("scrollback: setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("scrollback: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("scrollback: creating schema: %w", err)
	}
	return &Store{
		db:   db,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Close stops retention cleanup (if running) and closes the database.
func (s *Store) Close() error {
	close(s.stop)
	if s.cleanupRunning {
		<-s.done
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Record inserts one line. Implements the registry's recorder. Errors are
// logged, not surfaced; retention is best-effort.
func (s *Store) Record(channel, speaker, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO scrollback (at, channel, speaker, line) VALUES (?, ?, ?, ?)",
		time.Now().UnixMilli(), channel, speaker, line,
	)
	if err != nil {
		log.Printf("scrollback: insert: %v", err)
	}
}

// Recent returns up to limit lines for a channel, newest first.
func (s *Store) Recent(ctx context.Context, channel string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT at, channel, speaker, line FROM scrollback WHERE channel = ? ORDER BY at DESC LIMIT ?",
		channel, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("scrollback: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var at int64
		var e Entry
		if err := rows.Scan(&at, &e.Channel, &e.Speaker, &e.Line); err != nil {
			return nil, fmt.Errorf("scrollback: scan: %w", err)
		}
		e.At = time.UnixMilli(at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scrollback: rows: %w", err)
	}
	return out, nil
}

// Purge deletes lines older than cutoff and returns how many went.
func (s *Store) Purge(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM scrollback WHERE at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("scrollback: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartRetentionCleanup purges entries older than retention every interval
// until Close. Blocks; run in a goroutine.
func (s *Store) StartRetentionCleanup(retention, interval time.Duration) {
	s.cleanupRunning = true
	defer close(s.done)
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := s.Purge(time.Now().Add(-retention))
			if err != nil {
				log.Printf("scrollback: %v", err)
			} else if n > 0 {
				log.Printf("scrollback: purged %d expired lines", n)
			}
		case <-s.stop:
			return
		}
	}
}
