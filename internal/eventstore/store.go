package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-padel/internal/config"
	_ "modernc.org/sqlite"
)

// Journal event types.
const (
	TypeMatchStarted  = "match.started"
	TypePointScored   = "point.scored"
	TypePointUndone   = "point.undone"
	TypeUndoEmpty     = "point.undo_empty"
	TypeMatchReset    = "match.reset"
	TypeConfigChanged = "config.changed"
)

// Event represents a recorded timeline entry. Team and Outcome are only set
// on point.scored events.
type Event struct {
	ID        int64
	MatchID   string
	CommandID string
	Source    string
	Type      string
	Team      string
	Outcome   string
	Payload   []byte
	CreatedAt time.Time
}

// TallyRow counts scored points for one team and outcome kind.
type TallyRow struct {
	Team    string
	Outcome string
	Points  int
}

// Store wraps a SQLite-backed match journal. It is write-mostly: match state
// is never rebuilt from it.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS matches (
    match_id TEXT PRIMARY KEY,
    court TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    match_id TEXT NOT NULL,
    command_id TEXT,
    source TEXT,
    event_type TEXT,
    team TEXT,
    outcome TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(match_id) REFERENCES matches(match_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_match_created ON events(match_id, created_at);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	// Journals written before team/outcome existed get the columns added.
	for _, column := range []string{"team", "outcome"} {
		if err := s.ensureColumn(ctx, "events", column); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_events_match_type ON events(match_id, event_type, team)`)
	return err
}

func (s *Store) ensureColumn(ctx context.Context, table, column string) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name, kind string
			notNull    int
			dflt       sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &kind, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", table, column))
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s == nil || s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// AppendMatch ensures a match row exists.
func (s *Store) AppendMatch(ctx context.Context, matchID, court string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO matches(match_id, court, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(match_id) DO UPDATE SET court=excluded.court`,
		matchID, court, s.clock().UTC())
	return err
}

// AppendEvent writes an event into the store.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if s.disabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(match_id, command_id, source, event_type, team, outcome, payload, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.MatchID, evt.CommandID, evt.Source, evt.Type, nullable(evt.Team), nullable(evt.Outcome), evt.Payload, evt.CreatedAt)
	return err
}

// ListMatchEvents retrieves up to limit events for a match ordered ascending by time.
func (s *Store) ListMatchEvents(ctx context.Context, matchID string, limit int) ([]Event, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, match_id, command_id, source, event_type, COALESCE(team, ''), COALESCE(outcome, ''), payload, created_at
		 FROM events WHERE match_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, matchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		if err := rows.Scan(&e.ID, &e.MatchID, &e.CommandID, &e.Source, &e.Type, &e.Team, &e.Outcome, &e.Payload, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Tally counts the points journaled for a match by team and outcome kind.
// Points later undone are still counted; the journal records what was called.
func (s *Store) Tally(ctx context.Context, matchID string) ([]TallyRow, error) {
	if s.disabled() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(team, ''), COALESCE(outcome, ''), COUNT(*) FROM events
		 WHERE match_id = ? AND event_type = ?
		 GROUP BY team, outcome ORDER BY team, outcome`, matchID, TypePointScored)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tally []TallyRow
	for rows.Next() {
		var r TallyRow
		if err := rows.Scan(&r.Team, &r.Outcome, &r.Points); err != nil {
			return nil, err
		}
		tally = append(tally, r)
	}
	return tally, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM matches WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxMatches > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM matches WHERE match_id IN (
			SELECT match_id FROM matches ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxMatches)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure checks that an ephemeral store holds no database connection.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
