// Package cache provides CacheRepository implementations for analysis
// records keyed by message identity and model version.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

type memoryEntry struct {
	record    *core.AnalysisRecord
	expiresAt time.Time
}

// MemoryCache is an in-memory implementation of core.CacheRepository.
type MemoryCache struct {
	entries     map[string]memoryEntry
	mu          sync.RWMutex
	logger      *zap.Logger
	ttl         time.Duration
	cleanupFreq time.Duration
	stopCh      chan struct{}
}

// NewMemoryCache creates an in-memory cache. A ttl of 0 keeps records
// forever; records are immutable so the ttl is purely a space bound.
func NewMemoryCache(logger *zap.Logger, ttl, cleanupFreq time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries:     make(map[string]memoryEntry),
		logger:      logger,
		ttl:         ttl,
		cleanupFreq: cleanupFreq,
		stopCh:      make(chan struct{}),
	}
	if ttl > 0 && cleanupFreq > 0 {
		go c.startCleanupTask()
	}
	return c
}

// Get returns the record for the key or ErrNotFound.
func (c *MemoryCache) Get(ctx context.Context, messageID, modelVersion string) (*core.AnalysisRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[core.CacheKey(messageID, modelVersion)]
	if !ok {
		return nil, core.ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return nil, core.ErrNotFound
	}
	return entry.record, nil
}

// Put stores a record. The first write for a key wins; records are
// immutable once cached.
func (c *MemoryCache) Put(ctx context.Context, record *core.AnalysisRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := record.CacheKey()
	if _, exists := c.entries[key]; exists {
		return nil
	}
	entry := memoryEntry{record: record}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.entries[key] = entry
	return nil
}

// Invalidate removes all versions for a message identity.
func (c *MemoryCache) Invalidate(ctx context.Context, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := messageID + "\x00"
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

// Cleanup removes expired entries.
func (c *MemoryCache) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	expired := 0
	for key, entry := range c.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(c.entries, key)
			expired++
		}
	}
	c.logger.Debug("Cleaned up expired cache entries", zap.Int("expired_count", expired))
	return nil
}

func (c *MemoryCache) startCleanupTask() {
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

// Stop stops the background cleanup task.
func (c *MemoryCache) Stop() {
	close(c.stopCh)
}
