package quiz

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists chain runs and their submissions to sqlite so past
// performance survives restarts.
type Store struct {
	db *sql.DB
}

// ChainRecord is one solved (or attempted) quiz chain.
type ChainRecord struct {
	ID         int64     `json:"id"`
	ChainURL   string    `json:"chain_url"`
	Correct    int       `json:"correct"`
	Wrong      int       `json:"wrong"`
	Episodes   int       `json:"episodes"`
	Sweeps     int       `json:"sweeps"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// SubmissionRecord is one graded answer within a chain run.
type SubmissionRecord struct {
	ID          int64     `json:"id"`
	ChainID     int64     `json:"chain_id"`
	QuestionURL string    `json:"question_url"`
	Correct     bool      `json:"correct"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewStore opens (or creates) the results database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".quizora", "results.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chains (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		chain_url   TEXT NOT NULL,
		correct     INTEGER NOT NULL DEFAULT 0,
		wrong       INTEGER NOT NULL DEFAULT 0,
		episodes    INTEGER NOT NULL DEFAULT 0,
		sweeps      INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		started_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS submissions (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		chain_id     INTEGER NOT NULL REFERENCES chains(id),
		question_url TEXT NOT NULL,
		correct      INTEGER NOT NULL,
		reason       TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_submissions_chain ON submissions(chain_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// BeginChain inserts a new chain row and returns its ID.
func (s *Store) BeginChain(chainURL string) (int64, error) {
	res, err := s.db.Exec("INSERT INTO chains (chain_url) VALUES (?)", chainURL)
	if err != nil {
		return 0, fmt.Errorf("failed to insert chain: %w", err)
	}
	return res.LastInsertId()
}

// FinishChain records the final tallies of a chain run.
func (s *Store) FinishChain(chainID int64, summary Summary, episodes, sweeps int, duration time.Duration) error {
	_, err := s.db.Exec(
		"UPDATE chains SET correct = ?, wrong = ?, episodes = ?, sweeps = ?, duration_ms = ? WHERE id = ?",
		summary.Correct, summary.Wrong, episodes, sweeps, duration.Milliseconds(), chainID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish chain: %w", err)
	}
	return nil
}

// RecordSubmission appends one graded answer.
func (s *Store) RecordSubmission(chainID int64, questionURL string, correct bool, reason string) error {
	_, err := s.db.Exec(
		"INSERT INTO submissions (chain_id, question_url, correct, reason) VALUES (?, ?, ?, ?)",
		chainID, questionURL, correct, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to record submission: %w", err)
	}
	return nil
}

// RecentChains returns the latest chain runs, newest first.
func (s *Store) RecentChains(limit int) ([]ChainRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		"SELECT id, chain_url, correct, wrong, episodes, sweeps, duration_ms, started_at FROM chains ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chains: %w", err)
	}
	defer rows.Close()

	var out []ChainRecord
	for rows.Next() {
		var r ChainRecord
		if err := rows.Scan(&r.ID, &r.ChainURL, &r.Correct, &r.Wrong, &r.Episodes, &r.Sweeps, &r.DurationMS, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chain: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ChainSubmissions returns every submission of a chain in order.
func (s *Store) ChainSubmissions(chainID int64) ([]SubmissionRecord, error) {
	rows, err := s.db.Query(
		"SELECT id, chain_id, question_url, correct, reason, created_at FROM submissions WHERE chain_id = ? ORDER BY id",
		chainID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer rows.Close()

	var out []SubmissionRecord
	for rows.Next() {
		var r SubmissionRecord
		if err := rows.Scan(&r.ID, &r.ChainID, &r.QuestionURL, &r.Correct, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
