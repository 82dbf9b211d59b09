// Package models persists trained model identities so a restart can
// recover modelVersion and triggerWord into cold sessions.
package models

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS trained_models (
	user_id INTEGER PRIMARY KEY,
	model_version TEXT NOT NULL,
	trigger_word TEXT NOT NULL,
	job_id TEXT NOT NULL,
	created_at DATETIME DEFAULT (datetime('now')),
	updated_at DATETIME DEFAULT (datetime('now'))
);
`

type Store struct {
	db *sql.DB
}

// Record is one user's trained model identity.
type Record struct {
	UserID       int64
	ModelVersion string
	TriggerWord  string
	JobID        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying connection so other stores can share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Upsert creates or replaces the model record for a user.
func (s *Store) Upsert(userID int64, modelVersion, triggerWord, jobID string) error {
	_, err := s.db.Exec(`
		INSERT INTO trained_models (user_id, model_version, trigger_word, job_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			model_version = excluded.model_version,
			trigger_word = excluded.trigger_word,
			job_id = excluded.job_id,
			updated_at = datetime('now')`,
		userID, modelVersion, triggerWord, jobID)

	return err
}

// FindByUserID returns the user's record, or nil if none exists.
func (s *Store) FindByUserID(userID int64) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT user_id, model_version, trigger_word, job_id, created_at, updated_at
		FROM trained_models
		WHERE user_id = ?`, userID)

	var r Record
	err := row.Scan(&r.UserID, &r.ModelVersion, &r.TriggerWord, &r.JobID, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &r, nil
}

// DeleteByUserID removes the record. Deleting a missing record is not
// an error.
func (s *Store) DeleteByUserID(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM trained_models WHERE user_id = ?`, userID)
	return err
}

// All returns every trained model record, used to warm the session
// registry at startup.
func (s *Store) All() ([]Record, error) {
	rows, err := s.db.Query(`
		SELECT user_id, model_version, trigger_word, job_id, created_at, updated_at
		FROM trained_models`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.UserID, &r.ModelVersion, &r.TriggerWord, &r.JobID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}
