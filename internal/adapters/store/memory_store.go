// Package store provides ProfileRepository and CorrectionLog
// implementations backing the sender trust ledger.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/mikey/llm-email-triage/internal/core"
)

// MemoryStore keeps profiles and the correction log in memory. Used by
// tests and by the one-shot CLI, where durability does not matter.
type MemoryStore struct {
	mu          sync.RWMutex
	profiles    map[string]core.SenderProfile
	corrections []core.Correction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]core.SenderProfile)}
}

// Get returns the profile for an address or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, address string) (*core.SenderProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[address]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := profile
	return &copied, nil
}

// Save upserts a profile.
func (s *MemoryStore) Save(ctx context.Context, profile *core.SenderProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.Address] = *profile
	return nil
}

// Append adds a correction to the log.
func (s *MemoryStore) Append(ctx context.Context, c *core.Correction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.corrections = append(s.corrections, *c)
	return nil
}

// BySender returns corrections for a sender at or after since, in
// append order.
func (s *MemoryStore) BySender(ctx context.Context, address string, since time.Time) ([]*core.Correction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Correction
	for i := range s.corrections {
		c := s.corrections[i]
		if c.Sender != address {
			continue
		}
		if !since.IsZero() && c.Timestamp.Before(since) {
			continue
		}
		out = append(out, &c)
	}
	return out, nil
}
