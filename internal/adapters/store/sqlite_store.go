package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

// SQLiteStore persists sender profiles and the append-only correction
// log in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the trust database.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sender_profiles (
			address TEXT PRIMARY KEY,
			importance REAL NOT NULL,
			email_count INTEGER NOT NULL DEFAULT 0,
			reply_count INTEGER NOT NULL DEFAULT 0,
			correction_count INTEGER NOT NULL DEFAULT 0,
			vip BOOLEAN NOT NULL DEFAULT 0,
			blocked BOOLEAN NOT NULL DEFAULT 0,
			first_seen TIMESTAMP,
			last_seen TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS corrections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			original_priority TEXT NOT NULL,
			corrected_priority TEXT NOT NULL,
			correction_type TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_corrections_sender ON corrections(sender, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Get returns the profile for an address or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, address string) (*core.SenderProfile, error) {
	var p core.SenderProfile
	var firstSeen, lastSeen string

	err := s.db.QueryRowContext(ctx, `
		SELECT address, importance, email_count, reply_count, correction_count,
		       vip, blocked, first_seen, last_seen
		FROM sender_profiles WHERE address = ?
	`, address).Scan(&p.Address, &p.Importance, &p.EmailCount, &p.ReplyCount,
		&p.CorrectionCount, &p.VIP, &p.Blocked, &firstSeen, &lastSeen)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	if p.FirstSeen, err = time.Parse(time.RFC3339, firstSeen); err != nil {
		return nil, fmt.Errorf("%w: first_seen: %v", core.ErrCorrupted, err)
	}
	if p.LastSeen, err = time.Parse(time.RFC3339, lastSeen); err != nil {
		return nil, fmt.Errorf("%w: last_seen: %v", core.ErrCorrupted, err)
	}
	return &p, nil
}

// Save upserts a profile.
func (s *SQLiteStore) Save(ctx context.Context, p *core.SenderProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sender_profiles
			(address, importance, email_count, reply_count, correction_count,
			 vip, blocked, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			importance = excluded.importance,
			email_count = excluded.email_count,
			reply_count = excluded.reply_count,
			correction_count = excluded.correction_count,
			vip = excluded.vip,
			blocked = excluded.blocked,
			last_seen = excluded.last_seen
	`, p.Address, p.Importance, p.EmailCount, p.ReplyCount, p.CorrectionCount,
		p.VIP, p.Blocked, p.FirstSeen.Format(time.RFC3339), p.LastSeen.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Append adds a correction. The log is append-only; rows are never
// updated or deleted.
func (s *SQLiteStore) Append(ctx context.Context, c *core.Correction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections
			(message_id, sender, original_priority, corrected_priority, correction_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.MessageID, c.Sender, c.OriginalPriority.String(), c.CorrectedPriority.String(),
		string(c.Type), c.Timestamp.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to append correction: %w", err)
	}
	return nil
}

// BySender returns corrections for a sender at or after since, in
// timestamp order.
func (s *SQLiteStore) BySender(ctx context.Context, address string, since time.Time) ([]*core.Correction, error) {
	query := `
		SELECT message_id, sender, original_priority, corrected_priority, correction_type, created_at
		FROM corrections WHERE sender = ?`
	args := []interface{}{address}
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, since.Format(time.RFC3339))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer rows.Close()

	var out []*core.Correction
	for rows.Next() {
		var c core.Correction
		var original, corrected, typ, createdAt string
		if err := rows.Scan(&c.MessageID, &c.Sender, &original, &corrected, &typ, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		c.OriginalPriority = core.ParsePriority(original)
		c.CorrectedPriority = core.ParsePriority(corrected)
		c.Type = core.CorrectionType(typ)
		if c.Timestamp, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("%w: created_at: %v", core.ErrCorrupted, err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
