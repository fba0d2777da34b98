// Package notes stores free-form user notes in SQLite with FTS5 full-text
// search. The save_note and search_notes tools bind to it.
package notes

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Note is one stored note.
type Note struct {
	ID        string
	Text      string
	Tags      string
	CreatedAt time.Time
}

// SearchResult is a ranked full-text match.
type SearchResult struct {
	Note    Note
	Score   float64
	Snippet string
}

// Store implements note storage with FTS5 full-text search.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) a SQLite database at the given path and
// initializes the schema with FTS5 support.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("note store opened", "path", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notes (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notes_created ON notes(created_at)`,
		// FTS5 virtual table for full-text search
		`CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			text,
			tags,
			id UNINDEXED,
			tokenize='porter unicode61'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// Save inserts a note and its FTS index entry, returning the stored note.
func (s *Store) Save(text, tags string) (*Note, error) {
	if text == "" {
		return nil, fmt.Errorf("note text must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := Note{
		ID:        uuid.NewString(),
		Text:      text,
		Tags:      tags,
		CreatedAt: time.Now(),
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO notes (id, text, tags, created_at) VALUES (?, ?, ?, ?)`,
		n.ID, n.Text, n.Tags, n.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO notes_fts (text, tags, id) VALUES (?, ?, ?)`,
		n.Text, n.Tags, n.ID)
	if err != nil {
		return nil, fmt.Errorf("insert fts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &n, nil
}

// Search performs a full-text search using FTS5 with BM25 ranking.
// Results are sorted by relevance (highest first).
func (s *Store) Search(query string, maxResults int) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxResults <= 0 {
		maxResults = 10
	}

	// Normalize BM25 rank to [0,1] score using 1/(1+abs(rank)).
	rows, err := s.db.Query(`SELECT id, text, tags,
		1.0 / (1.0 + abs(rank)) as score
		FROM notes_fts
		WHERE notes_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, maxResults)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var id, text, tags string
		var score float64
		if err := rows.Scan(&id, &text, &tags, &score); err != nil {
			continue
		}
		results = append(results, SearchResult{
			Note:    Note{ID: id, Text: text, Tags: tags},
			Score:   score,
			Snippet: truncateSnippet(text, 700),
		})
	}
	return results, nil
}

// Delete removes a note and its FTS entry.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tx.Exec("DELETE FROM notes_fts WHERE id = ?", id)
	res, err := tx.Exec("DELETE FROM notes WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("note %s not found", id)
	}
	return tx.Commit()
}

// Recent returns the newest notes, newest first.
func (s *Store) Recent(limit int) ([]Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, text, tags, created_at FROM notes
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		var created int64
		if err := rows.Scan(&n.ID, &n.Text, &n.Tags, &created); err != nil {
			continue
		}
		n.CreatedAt = time.Unix(created, 0)
		notes = append(notes, n)
	}
	return notes, nil
}

// Count returns the number of stored notes.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	s.db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&count)
	return count
}

// Close closes the SQLite database.
func (s *Store) Close() error {
	return s.db.Close()
}

func truncateSnippet(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
