package identity

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Profile stores non-secret player identity metadata.
// The ledger session token lives in the OS keychain, never here.
type Profile struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Address   string `json:"address"`
	LedgerURL string `json:"ledgerUrl"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Store persists profile metadata in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens the SQLite profile DB and enables WAL.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("identity: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("identity: enable WAL: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the DB.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates tables and indexes.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS player_profiles (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL,
			ledger_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_player_profiles_updated_at ON player_profiles(updated_at DESC)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("identity: migrate: %w", err)
		}
	}
	return nil
}

// List returns all profiles sorted by updated_at descending.
func (s *Store) List() ([]Profile, error) {
	rows, err := s.db.Query(
		`SELECT id, label, address, ledger_url, created_at, updated_at
		 FROM player_profiles
		 ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("identity: list: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&p.ID, &p.Label, &p.Address, &p.LedgerURL, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("identity: scan profile: %w", err)
		}
		p.CreatedAt = createdAt.Format(time.RFC3339)
		p.UpdatedAt = updatedAt.Format(time.RFC3339)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: iterate profiles: %w", err)
	}
	return out, nil
}

// Get returns a single profile by id.
func (s *Store) Get(id string) (*Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("identity: id is required")
	}

	var p Profile
	var createdAt, updatedAt time.Time
	err := s.db.QueryRow(
		`SELECT id, label, address, ledger_url, created_at, updated_at
		 FROM player_profiles
		 WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.Label, &p.Address, &p.LedgerURL, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("identity: profile %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("identity: get profile: %w", err)
	}
	p.CreatedAt = createdAt.Format(time.RFC3339)
	p.UpdatedAt = updatedAt.Format(time.RFC3339)
	return &p, nil
}

// Save upserts profile metadata and returns the stored record.
func (s *Store) Save(p Profile) (Profile, error) {
	p.Address = strings.TrimSpace(p.Address)
	if p.Address == "" {
		return Profile{}, fmt.Errorf("identity: player address is required")
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	p.Label = strings.TrimSpace(p.Label)
	p.LedgerURL = strings.TrimSpace(p.LedgerURL)

	_, err := s.db.Exec(
		`INSERT INTO player_profiles (id, label, address, ledger_url)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   label = excluded.label,
		   address = excluded.address,
		   ledger_url = excluded.ledger_url,
		   updated_at = CURRENT_TIMESTAMP`,
		p.ID, p.Label, p.Address, p.LedgerURL,
	)
	if err != nil {
		return Profile{}, fmt.Errorf("identity: save profile: %w", err)
	}

	saved, err := s.Get(p.ID)
	if err != nil {
		return Profile{}, err
	}
	return *saved, nil
}

// Delete removes profile metadata.
func (s *Store) Delete(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("identity: id is required")
	}
	_, err := s.db.Exec(`DELETE FROM player_profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("identity: delete profile: %w", err)
	}
	return nil
}
