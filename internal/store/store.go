// Package store persists named search criteria in SQLite so recurring
// searches can be rerun without retyping them.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/mailprobe/mailprobe/internal/search"
)

// Store owns the saved-search database.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// SavedSearch is one named criteria record.
type SavedSearch struct {
	Name      string          `json:"name"`
	Criteria  search.Criteria `json:"criteria"`
	UpdatedAt string          `json:"updated_at"`
}

// Open opens (or creates) the database at dbPath and initializes the
// schema.
func Open(dbPath string, logger *logrus.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("Saved-search store opened")
	return &Store{db: db, logger: logger}, nil
}

// Save inserts or replaces the criteria stored under name.
func (s *Store) Save(name string, criteria *search.Criteria) error {
	if name == "" {
		return fmt.Errorf("saved search name must not be empty")
	}
	data, err := json.Marshal(criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}

	query := `
		INSERT INTO saved_searches (name, criteria, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			criteria = excluded.criteria,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.Exec(query, name, string(data)); err != nil {
		return fmt.Errorf("failed to save search %q: %w", name, err)
	}

	s.logger.WithField("name", name).Debug("Saved search stored")
	return nil
}

// Load retrieves the criteria stored under name.
func (s *Store) Load(name string) (*search.Criteria, error) {
	var data string
	err := s.db.QueryRow("SELECT criteria FROM saved_searches WHERE name = ?", name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no saved search named %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load search %q: %w", name, err)
	}

	var criteria search.Criteria
	if err := json.Unmarshal([]byte(data), &criteria); err != nil {
		return nil, fmt.Errorf("failed to unmarshal criteria for %q: %w", name, err)
	}
	return &criteria, nil
}

// List returns every saved search, sorted by name.
func (s *Store) List() ([]SavedSearch, error) {
	rows, err := s.db.Query("SELECT name, criteria, updated_at FROM saved_searches")
	if err != nil {
		return nil, fmt.Errorf("failed to list saved searches: %w", err)
	}
	defer rows.Close()

	var saved []SavedSearch
	for rows.Next() {
		var rec SavedSearch
		var data string
		if err := rows.Scan(&rec.Name, &data, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan saved search: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &rec.Criteria); err != nil {
			s.logger.WithError(err).WithField("name", rec.Name).Warn("Skipping saved search with unreadable criteria")
			continue
		}
		saved = append(saved, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read saved searches: %w", err)
	}

	sort.Slice(saved, func(i, j int) bool { return saved[i].Name < saved[j].Name })
	return saved, nil
}

// Delete removes the saved search under name. Deleting a missing name
// is an error so callers can surface typos.
func (s *Store) Delete(name string) error {
	result, err := s.db.Exec("DELETE FROM saved_searches WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete search %q: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete search %q: %w", name, err)
	}
	if affected == 0 {
		return fmt.Errorf("no saved search named %q", name)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
