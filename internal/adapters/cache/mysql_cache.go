package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

// MySQLCache is a MySQL implementation of core.CacheRepository for
// deployments sharing one cache across instances.
type MySQLCache struct {
	db          *sql.DB
	logger      *zap.Logger
	ttl         time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMySQLCache creates a MySQL-backed cache.
func NewMySQLCache(dsn string, logger *zap.Logger, ttl, cleanupFreq time.Duration) (*MySQLCache, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_cache (
			message_id VARCHAR(255) NOT NULL,
			model_version VARCHAR(128) NOT NULL,
			priority VARCHAR(16) NOT NULL,
			confidence DOUBLE NOT NULL,
			summary TEXT,
			tags TEXT,
			sentiment VARCHAR(16),
			action_items TEXT,
			parse_status VARCHAR(32),
			processing_ms BIGINT,
			tokens_per_sec DOUBLE,
			processing_id VARCHAR(64),
			created_at TIMESTAMP NULL,
			expires_at TIMESTAMP NULL,
			PRIMARY KEY (message_id, model_version),
			INDEX idx_cache_expires_at (expires_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	c := &MySQLCache{
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
func (c *MySQLCache) Get(ctx context.Context, messageID, modelVersion string) (*core.AnalysisRecord, error) {
	var priority, summary, tagsJSON, sentiment, itemsJSON, parseStatus, processingID string
	var confidence, tokensPerSec float64
	var processingMs int64
	var created time.Time

	err := c.db.QueryRowContext(ctx, `
		SELECT priority, confidence, summary, tags, sentiment, action_items,
		       parse_status, processing_ms, tokens_per_sec, processing_id, created_at
		FROM analysis_cache
		WHERE message_id = ? AND model_version = ?
		  AND (expires_at IS NULL OR expires_at > NOW())
	`, messageID, modelVersion).Scan(&priority, &confidence, &summary, &tagsJSON, &sentiment,
		&itemsJSON, &parseStatus, &processingMs, &tokensPerSec, &processingID, &created)
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

// Put stores a record. INSERT IGNORE keeps the operation idempotent
// under the same key.
func (c *MySQLCache) Put(ctx context.Context, record *core.AnalysisRecord) error {
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
		expiresAt = time.Now().Add(c.ttl)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT IGNORE INTO analysis_cache
			(message_id, model_version, priority, confidence, summary, tags, sentiment,
			 action_items, parse_status, processing_ms, tokens_per_sec, processing_id,
			 created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.MessageID, record.ModelVersion, record.Priority.String(), record.Confidence,
		record.Summary, string(tags), record.Sentiment, string(items), string(record.ParseStatus),
		record.ProcessingTime.Milliseconds(), record.TokensPerSec, record.ProcessingID,
		record.CreatedAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

// Invalidate removes all versions for a message identity.
func (c *MySQLCache) Invalidate(ctx context.Context, messageID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM analysis_cache WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("failed to invalidate cache entries: %w", err)
	}
	return nil
}

// Cleanup removes expired entries.
func (c *MySQLCache) Cleanup(ctx context.Context) error {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM analysis_cache
		WHERE expires_at IS NOT NULL AND expires_at <= NOW()
	`)
	if err != nil {
		return fmt.Errorf("failed to clean up expired entries: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", rows))
	}
	return nil
}

func (c *MySQLCache) startCleanupTask() {
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

// Stop stops the background cleanup task and closes the connection.
func (c *MySQLCache) Stop() {
	close(c.stopCh)
	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close MySQL connection", zap.Error(err))
	}
}
