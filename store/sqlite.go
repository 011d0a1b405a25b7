package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ford-at-home/storygen/session"
	"github.com/ford-at-home/storygen/storyerr"
)

// DefaultRetention is the durability window of an L3 record, measured from
// the session's last activity.
const DefaultRetention = 7 * 24 * time.Hour

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	entity_type      TEXT NOT NULL,
	owner_id         TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	stage            TEXT NOT NULL,
	version          INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL,
	last_activity_at INTEGER NOT NULL,
	expires_at       INTEGER NOT NULL,
	payload          BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_type_status ON sessions(entity_type, status);
CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

CREATE TABLE IF NOT EXISTS session_turns (
	session_id  TEXT NOT NULL,
	turn_number INTEGER NOT NULL,
	stage       TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	payload     BLOB NOT NULL,
	PRIMARY KEY (session_id, turn_number)
);
`

// SQLiteOptions configures a SQLiteRepository.
type SQLiteOptions struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path string

	// Retention is the durability window. Zero means DefaultRetention.
	Retention time.Duration

	// Codec encodes session and turn payloads. Nil means JSONCodec.
	Codec Codec

	// Now overrides time.Now.
	Now func() time.Time
}

// SQLiteRepository is the durable L3 tier on SQLite. One row per session
// carries the encoded entity and its index columns; turns are duplicated
// into session_turns for range reads.
type SQLiteRepository struct {
	db        *sql.DB
	codec     Codec
	retention time.Duration
	now       func() time.Time
}

// NewSQLiteRepository opens (and if needed creates) the database.
func NewSQLiteRepository(opts SQLiteOptions) (*SQLiteRepository, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if opts.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	r := &SQLiteRepository{
		db:        db,
		codec:     codecOrDefault(opts.Codec),
		retention: opts.Retention,
		now:       opts.Now,
	}
	if err := r.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) initialize() error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := r.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := r.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Name implements Tier.
func (r *SQLiteRepository) Name() string { return "l3" }

// Get implements Tier. Records past their durability window read as misses.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM sessions WHERE id = ? AND expires_at > ?`,
		id, r.now().UnixNano(),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTierMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return r.decode(payload)
}

func (r *SQLiteRepository) decode(payload []byte) (*session.Session, error) {
	var s session.Session
	if err := r.codec.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

// Set implements Tier. A session at version 1 is inserted; any later version
// must replace exactly the previous one, otherwise the write is a conflict.
// New turns are appended to session_turns in the same transaction.
func (r *SQLiteRepository) Set(ctx context.Context, s *session.Session) error {
	payload, err := r.codec.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	expiresAt := s.LastActivityAt.Add(r.retention).UnixNano()

	var res sql.Result
	if s.Version <= 1 {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, entity_type, owner_id, status, stage, version,
				created_at, updated_at, last_activity_at, expires_at, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			s.ID, session.EntityType, s.OwnerID, string(s.Status), string(s.Stage), s.Version,
			s.CreatedAt.UnixNano(), s.UpdatedAt.UnixNano(), s.LastActivityAt.UnixNano(), expiresAt, payload,
		)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, stage = ?, version = ?, updated_at = ?,
				last_activity_at = ?, expires_at = ?, payload = ?
			WHERE id = ? AND version = ?`,
			string(s.Status), string(s.Stage), s.Version, s.UpdatedAt.UnixNano(),
			s.LastActivityAt.UnixNano(), expiresAt, payload,
			s.ID, s.Version-1,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to verify session write: %w", err)
	}
	if n == 0 {
		return storyerr.ErrVersionConflict
	}

	if err := r.appendTurns(ctx, tx, s); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) appendTurns(ctx context.Context, tx *sql.Tx, s *session.Session) error {
	var last int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_number), 0) FROM session_turns WHERE session_id = ?`, s.ID,
	).Scan(&last); err != nil {
		return fmt.Errorf("failed to read turn count: %w", err)
	}

	for _, t := range s.Turns.After(last) {
		data, err := r.codec.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode turn %d: %w", t.Number, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO session_turns (session_id, turn_number, stage, created_at, payload)
			 VALUES (?, ?, ?, ?, ?)`,
			s.ID, t.Number, string(t.Stage), t.Timestamp.UnixNano(), data,
		); err != nil {
			return fmt.Errorf("failed to append turn %d: %w", t.Number, err)
		}
	}
	return nil
}

// Delete implements Tier.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_turns WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return tx.Commit()
}

// ListByStatus implements Repository using the (entity_type, status) index.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status session.Status, limit int) ([]*session.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM sessions
		WHERE entity_type = ? AND status = ? AND expires_at > ?
		ORDER BY created_at, id
		LIMIT ?`,
		session.EntityType, string(status), r.now().UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions by status: %w", err)
	}
	return r.scanSessions(rows)
}

// ListByOwner implements Repository using the owner_id index.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, ownerID string) ([]*session.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM sessions
		WHERE owner_id = ? AND expires_at > ?
		ORDER BY created_at, id`,
		ownerID, r.now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions by owner: %w", err)
	}
	return r.scanSessions(rows)
}

func (r *SQLiteRepository) scanSessions(rows *sql.Rows) ([]*session.Session, error) {
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s, err := r.decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

// Turns implements Repository.
func (r *SQLiteRepository) Turns(ctx context.Context, id string, after, limit int) ([]session.Turn, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM session_turns
		WHERE session_id = ? AND turn_number > ?
		ORDER BY turn_number
		LIMIT ?`,
		id, after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}
	defer rows.Close()

	var out []session.Turn
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		var t session.Turn
		if err := r.codec.Unmarshal(payload, &t); err != nil {
			return nil, fmt.Errorf("failed to decode turn: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return out, nil
}

// Purge implements Repository.
func (r *SQLiteRepository) Purge(ctx context.Context, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := now.UnixNano()
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM session_turns WHERE session_id IN (
			SELECT id FROM sessions WHERE expires_at <= ?
		)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to purge turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return int(n), nil
}

// Ping implements Repository.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// DB exposes the underlying handle for health checks.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

// Close implements Repository.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}
