// Package store provides the SQLite archive that mirrors saved sessions.
// The JSON files under .loom/sessions/ are the source of truth; the archive
// exists so history stays queryable across sessions (listing, search,
// per-session cost totals) without loading every transcript file.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"codeloom/internal/logging"
	"codeloom/internal/transcript"
)

// ArchiveStore persists transcript entries to a local SQLite database.
type ArchiveStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	SessionID    string
	EntryCount   int
	LastActiveAt time.Time
}

// ArchivedEntry is one transcript entry read back from the archive.
type ArchivedEntry struct {
	Seq       int
	Role      string
	Content   string
	CreatedAt time.Time
}

// NewArchiveStore opens (or creates) the archive database at the given path.
func NewArchiveStore(path string) (*ArchiveStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &ArchiveStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the required tables.
func (s *ArchiveStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		entry_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT,
		blocks_json TEXT,
		cost_usd REAL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_session ON transcript_entries(session_id);
	CREATE INDEX IF NOT EXISTS idx_entries_role ON transcript_entries(role);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// ArchiveEntries records a session's transcript entries, keyed by sequence
// position. Re-archiving the same session is cheap: existing (session, seq)
// rows are left untouched and only new entries are inserted.
func (s *ArchiveStore) ArchiveEntries(sessionID string, entries []transcript.Entry) error {
	if sessionID == "" {
		return fmt.Errorf("store: missing session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin archive: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO transcript_entries
		 (session_id, seq, entry_id, role, content, blocks_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("store: prepare archive: %w", err)
	}
	defer stmt.Close()

	for i, entry := range entries {
		var blocksJSON string
		if len(entry.Blocks) > 0 {
			data, err := json.Marshal(entry.Blocks)
			if err != nil {
				logging.Get(logging.CategoryStore).Warn("skip entry %s: marshal blocks: %v", entry.ID, err)
				continue
			}
			blocksJSON = string(data)
		}
		if _, err := stmt.Exec(sessionID, i, entry.ID, entry.Role, entry.Content, blocksJSON, entry.CreatedAt); err != nil {
			return fmt.Errorf("store: archive entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit archive: %w", err)
	}

	logging.Get(logging.CategoryStore).Debug("archived %d entries for session %s", len(entries), sessionID)
	return nil
}

// SessionEntries reads back the archived entries of one session in order.
func (s *ArchiveStore) SessionEntries(sessionID string, limit int) ([]ArchivedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 200
	}

	rows, err := s.db.Query(
		`SELECT seq, role, content, created_at
		 FROM transcript_entries
		 WHERE session_id = ?
		 ORDER BY seq ASC
		 LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedEntry
	for rows.Next() {
		var e ArchivedEntry
		if err := rows.Scan(&e.Seq, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SessionSummaries lists archived sessions, most recently active first.
func (s *ArchiveStore) SessionSummaries() ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT session_id, COUNT(*), MAX(created_at)
		 FROM transcript_entries
		 GROUP BY session_id
		 ORDER BY MAX(created_at) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.SessionID, &sum.EntryCount, &sum.LastActiveAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// SearchEntries returns entries whose visible content matches the query,
// newest first. Block content is searched through the serialized JSON.
func (s *ArchiveStore) SearchEntries(query string, limit int) ([]ArchivedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT seq, role, content, created_at
		 FROM transcript_entries
		 WHERE content LIKE ? OR blocks_json LIKE ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ArchivedEntry
	for rows.Next() {
		var e ArchivedEntry
		if err := rows.Scan(&e.Seq, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *ArchiveStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
