package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

// SQLiteCache is a SQLite implementation of core.CacheRepository.
type SQLiteCache struct {
	db          *sql.DB
	logger      *zap.Logger
	ttl         time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewSQLiteCache creates a SQLite-backed cache.
func NewSQLiteCache(dbPath string, logger *zap.Logger, ttl, cleanupFreq time.Duration) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_cache (
			message_id TEXT NOT NULL,
			model_version TEXT NOT NULL,
			priority TEXT NOT NULL,
			confidence REAL NOT NULL,
			summary TEXT,
			tags TEXT,
			sentiment TEXT,
			action_items TEXT,
			parse_status TEXT,
			processing_ms INTEGER,
			tokens_per_sec REAL,
			processing_id TEXT,
			created_at TIMESTAMP,
			expires_at TIMESTAMP,
			PRIMARY KEY (message_id, model_version)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON analysis_cache(expires_at)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	c := &SQLiteCache{
		db:          db,
		logger:      logger,
		ttl:         ttl,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}
	if ttl > 0 && cleanupFreq > 0 {
		go c.startCleanupTask()
	}
	return c, nil
}

// Get returns the record for the key, ErrNotFound on a miss, or
// ErrCorrupted when the stored row cannot be decoded.
func (c *SQLiteCache) Get(ctx context.Context, messageID, modelVersion string) (*core.AnalysisRecord, error) {
	var priority, summary, tagsJSON, sentiment, itemsJSON, parseStatus, processingID, createdAt string
	var confidence, tokensPerSec float64
	var processingMs int64

	err := c.db.QueryRowContext(ctx, `
		SELECT priority, confidence, summary, tags, sentiment, action_items,
		       parse_status, processing_ms, tokens_per_sec, processing_id, created_at
		FROM analysis_cache
		WHERE message_id = ? AND model_version = ?
		  AND (expires_at IS NULL OR expires_at > datetime('now'))
	`, messageID, modelVersion).Scan(&priority, &confidence, &summary, &tagsJSON, &sentiment,
		&itemsJSON, &parseStatus, &processingMs, &tokensPerSec, &processingID, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}

	var tags, items []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		return nil, fmt.Errorf("%w: tags: %v", core.ErrCorrupted, err)
	}
	if itemsJSON != "" {
		if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
			return nil, fmt.Errorf("%w: action items: %v", core.ErrCorrupted, err)
		}
	}
	created, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", core.ErrCorrupted, err)
	}

	return &core.AnalysisRecord{
		MessageID:      messageID,
		ModelVersion:   modelVersion,
		Priority:       core.ParsePriority(priority),
		Confidence:     confidence,
		Summary:        summary,
		Tags:           tags,
		Sentiment:      sentiment,
		ActionItems:    items,
		ParseStatus:    core.ParseStatus(parseStatus),
		ProcessingTime: time.Duration(processingMs) * time.Millisecond,
		TokensPerSec:   tokensPerSec,
		ProcessingID:   processingID,
		CreatedAt:      created,
	}, nil
}

// Put stores a record. INSERT OR IGNORE keeps the operation idempotent
// under the same key: the first write wins.
func (c *SQLiteCache) Put(ctx context.Context, record *core.AnalysisRecord) error {
	tags, err := json.Marshal(record.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	items, err := json.Marshal(record.ActionItems)
	if err != nil {
		return fmt.Errorf("failed to encode action items: %w", err)
	}

	var expiresAt interface{}
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl).UTC().Format("2006-01-02 15:04:05")
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO analysis_cache
			(message_id, model_version, priority, confidence, summary, tags, sentiment,
			 action_items, parse_status, processing_ms, tokens_per_sec, processing_id,
			 created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.MessageID, record.ModelVersion, record.Priority.String(), record.Confidence,
		record.Summary, string(tags), record.Sentiment, string(items), string(record.ParseStatus),
		record.ProcessingTime.Milliseconds(), record.TokensPerSec, record.ProcessingID,
		record.CreatedAt.Format(time.RFC3339), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

// Invalidate removes all versions for a message identity.
func (c *SQLiteCache) Invalidate(ctx context.Context, messageID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM analysis_cache WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to invalidate cache entries: %w", err)
	}
	return nil
}

// Cleanup removes expired entries.
func (c *SQLiteCache) Cleanup(ctx context.Context) error {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM analysis_cache
		WHERE expires_at IS NOT NULL AND expires_at <= datetime('now')
	`)
	if err != nil {
		return fmt.Errorf("failed to clean up expired entries: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", rows))
	}
	return nil
}

func (c *SQLiteCache) startCleanupTask() {
	ticker := time.NewTicker(c.cleanupFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Cleanup(context.Background()); err != nil {
				c.logger.Error("Failed to clean up cache", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Stop stops the background cleanup task and closes the database.
func (c *SQLiteCache) Stop() {
	close(c.stopCh)
	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close SQLite database", zap.Error(err))
	}
}
