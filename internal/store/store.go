// Package store persists the match outcomes the session engine observes.
// It records settled facts only, read back for history views; the ephemeral
// Match Session itself is never written here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Outcome is one observed match result for the local player.
type Outcome struct {
	ID         string    `json:"id"`
	RoomID     int64     `json:"roomId"`
	GameType   string    `json:"gameType"`
	EntryFee   int64     `json:"entryFee"`
	MaxPlayers int       `json:"maxPlayers"`
	Status     string    `json:"status"`
	Score      *int64    `json:"score,omitempty"`
	Winner     string    `json:"winner,omitempty"`
	Won        bool      `json:"won"`
	NetPrize   int64     `json:"netPrize"`
	Claimed    bool      `json:"claimed"`
	RecordedAt time.Time `json:"recordedAt"`
}

// OutcomesQuery holds listing filters and pagination.
type OutcomesQuery struct {
	GameType string `json:"gameType,omitempty"`
	WonOnly  bool   `json:"wonOnly,omitempty"`
	Page     int    `json:"page"`
	PerPage  int    `json:"perPage"`
}

// OutcomesList is a paginated listing response.
type OutcomesList struct {
	Outcomes   []Outcome `json:"outcomes"`
	TotalCount int       `json:"totalCount"`
	Page       int       `json:"page"`
	PerPage    int       `json:"perPage"`
	TotalPages int       `json:"totalPages"`
}

// DB is the match-history persistence interface.
type DB interface {
	Close() error
	Migrate() error
	SaveOutcome(ctx context.Context, o *Outcome) error
	MarkClaimed(ctx context.Context, roomID int64) error
	GetByRoom(ctx context.Context, roomID int64) (*Outcome, error)
	ListOutcomes(ctx context.Context, q OutcomesQuery) (*OutcomesList, error)
}

// SQLiteStore implements DB on a local sqlite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the history database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps reads usable while the watcher goroutine records outcomes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate() error {
	baseMigrations := []string{
		`CREATE TABLE IF NOT EXISTS outcomes (
			id TEXT PRIMARY KEY,
			room_id INTEGER NOT NULL,
			game_type TEXT NOT NULL,
			entry_fee INTEGER NOT NULL,
			max_players INTEGER NOT NULL,
			status TEXT NOT NULL,
			score INTEGER,
			winner TEXT,
			won INTEGER NOT NULL DEFAULT 0,
			net_prize INTEGER NOT NULL DEFAULT 0,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_outcomes_room ON outcomes(room_id)`,
	}

	for _, migration := range baseMigrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("base migration failed: %w", err)
		}
	}

	alterMigrations := []string{
		`ALTER TABLE outcomes ADD COLUMN claimed INTEGER NOT NULL DEFAULT 0`,
	}

	for _, migration := range alterMigrations {
		if _, err := s.db.Exec(migration); err != nil {
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("alter migration failed: %w", err)
			}
		}
	}

	indexMigrations := []string{
		`CREATE INDEX IF NOT EXISTS idx_outcomes_recorded_at ON outcomes(recorded_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_game ON outcomes(game_type, recorded_at DESC)`,
	}

	for _, migration := range indexMigrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("index migration failed: %w", err)
		}
	}

	return nil
}

// isDuplicateColumnError checks if the error is a duplicate column error.
func isDuplicateColumnError(err error) bool {
	return strings.Contains(err.Error(), "duplicate column name: claimed")
}

// SaveOutcome inserts or replaces the outcome record for a room. A room has
// at most one outcome; re-observing a completed room updates it in place.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, o *Outcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = time.Now().UTC()
	}

	query := `INSERT INTO outcomes (
		id, room_id, game_type, entry_fee, max_players, status,
		score, winner, won, net_prize, claimed, recorded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(room_id) DO UPDATE SET
		status = excluded.status,
		score = COALESCE(excluded.score, outcomes.score),
		winner = excluded.winner,
		won = excluded.won,
		net_prize = excluded.net_prize,
		claimed = MAX(outcomes.claimed, excluded.claimed)`

	wonInt := 0
	if o.Won {
		wonInt = 1
	}
	claimedInt := 0
	if o.Claimed {
		claimedInt = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		o.ID, o.RoomID, o.GameType, o.EntryFee, o.MaxPlayers, o.Status,
		o.Score, o.Winner, wonInt, o.NetPrize, claimedInt, o.RecordedAt,
	)
	return err
}

// MarkClaimed flips the claimed flag for a room's outcome. The flag is
// monotonic: it never reverts.
func (s *SQLiteStore) MarkClaimed(ctx context.Context, roomID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE outcomes SET claimed = 1 WHERE room_id = ?`, roomID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetByRoom retrieves the outcome recorded for a room.
func (s *SQLiteStore) GetByRoom(ctx context.Context, roomID int64) (*Outcome, error) {
	query := `SELECT
		id, room_id, game_type, entry_fee, max_players, status,
		score, winner, won, net_prize, claimed, recorded_at
		FROM outcomes WHERE room_id = ?`

	return scanOutcome(s.db.QueryRowContext(ctx, query, roomID))
}

// ListOutcomes returns a page of outcomes, newest first.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, q OutcomesQuery) (*OutcomesList, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PerPage <= 0 || q.PerPage > 200 {
		q.PerPage = 25
	}

	where := "WHERE 1=1"
	args := []any{}
	if q.GameType != "" {
		where += " AND game_type = ?"
		args = append(args, q.GameType)
	}
	if q.WonOnly {
		where += " AND won = 1"
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM outcomes " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}

	listQuery := `SELECT
		id, room_id, game_type, entry_fee, max_players, status,
		score, winner, won, net_prize, claimed, recorded_at
		FROM outcomes ` + where + `
		ORDER BY recorded_at DESC, room_id DESC
		LIMIT ? OFFSET ?`
	args = append(args, q.PerPage, (q.Page-1)*q.PerPage)

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := make([]Outcome, 0, q.PerPage)
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	totalPages := (total + q.PerPage - 1) / q.PerPage
	return &OutcomesList{
		Outcomes:   outcomes,
		TotalCount: total,
		Page:       q.Page,
		PerPage:    q.PerPage,
		TotalPages: totalPages,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutcome(row rowScanner) (*Outcome, error) {
	var o Outcome
	var score sql.NullInt64
	var winner sql.NullString
	var wonInt, claimedInt int

	err := row.Scan(
		&o.ID, &o.RoomID, &o.GameType, &o.EntryFee, &o.MaxPlayers, &o.Status,
		&score, &winner, &wonInt, &o.NetPrize, &claimedInt, &o.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	if score.Valid {
		v := score.Int64
		o.Score = &v
	}
	if winner.Valid {
		o.Winner = winner.String
	}
	o.Won = wonInt != 0
	o.Claimed = claimedInt != 0
	return &o, nil
}

