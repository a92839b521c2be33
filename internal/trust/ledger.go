// Package trust maintains the per-sender importance ledger. Profiles
// are a materialized view over the append-only correction log: any
// profile can be rebuilt by replaying that sender's corrections.
package trust

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

const lockStripes = 64

// Config tunes the learning behavior. The magnitudes are deliberately
// configuration, validated at load, rather than fixed constants.
type Config struct {
	// CorrectionDelta is the bounded importance change per correction.
	CorrectionDelta float64
	// ImportanceSeed is the starting importance for a new sender.
	ImportanceSeed float64
	// AdjustmentWindow bounds the rolling correction-adjustment signal;
	// older corrections keep counting toward lifetime totals but age
	// out of the fast-reacting adjustment.
	AdjustmentWindow time.Duration
}

// DefaultConfig returns the default learning tunables.
func DefaultConfig() Config {
	return Config{
		CorrectionDelta:  0.05,
		ImportanceSeed:   0.5,
		AdjustmentWindow: 30 * 24 * time.Hour,
	}
}

// Ledger owns all sender profile mutation. Updates for a single sender
// are serialized; different senders proceed in parallel.
type Ledger struct {
	profiles core.ProfileRepository
	log      core.CorrectionLog
	logger   *zap.Logger
	cfg      Config
	locks    [lockStripes]sync.Mutex
}

// NewLedger creates a ledger over the given repositories.
func NewLedger(profiles core.ProfileRepository, log core.CorrectionLog, logger *zap.Logger, cfg Config) *Ledger {
	if cfg.CorrectionDelta <= 0 {
		cfg.CorrectionDelta = DefaultConfig().CorrectionDelta
	}
	if cfg.ImportanceSeed <= 0 {
		cfg.ImportanceSeed = DefaultConfig().ImportanceSeed
	}
	if cfg.AdjustmentWindow <= 0 {
		cfg.AdjustmentWindow = DefaultConfig().AdjustmentWindow
	}
	return &Ledger{profiles: profiles, log: log, logger: logger, cfg: cfg}
}

func (l *Ledger) lockFor(address string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(address))
	return &l.locks[h.Sum32()%lockStripes]
}

// loadOrSeed returns the existing profile or a fresh one with the
// seed importance. Caller must hold the sender's stripe lock.
func (l *Ledger) loadOrSeed(ctx context.Context, address string, at time.Time) (*core.SenderProfile, error) {
	profile, err := l.profiles.Get(ctx, address)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	return &core.SenderProfile{
		Address:    address,
		Importance: l.cfg.ImportanceSeed,
		FirstSeen:  at,
		LastSeen:   at,
	}, nil
}

// RecordEmail notes new traffic from a sender: it creates the profile
// on first contact and bumps email_count and last_seen. Traffic alone
// never moves importance.
func (l *Ledger) RecordEmail(ctx context.Context, address string, at time.Time) (*core.SenderProfile, error) {
	mu := l.lockFor(address)
	mu.Lock()
	defer mu.Unlock()

	profile, err := l.loadOrSeed(ctx, address, at)
	if err != nil {
		return nil, err
	}
	profile.EmailCount++
	if at.After(profile.LastSeen) {
		profile.LastSeen = at
	}
	if err := l.profiles.Save(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// RecordReply notes that the user replied to a sender.
func (l *Ledger) RecordReply(ctx context.Context, address string, at time.Time) (*core.SenderProfile, error) {
	mu := l.lockFor(address)
	mu.Lock()
	defer mu.Unlock()

	profile, err := l.loadOrSeed(ctx, address, at)
	if err != nil {
		return nil, err
	}
	profile.ReplyCount++
	if at.After(profile.LastSeen) {
		profile.LastSeen = at
	}
	if err := l.profiles.Save(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// RecordCorrection appends the correction to the log, then applies a
// bounded importance delta clamped to [0,1] and increments the
// lifetime correction count. The log append happens first so the
// profile stays reconstructible even if the profile write fails.
func (l *Ledger) RecordCorrection(ctx context.Context, c *core.Correction) (*core.SenderProfile, error) {
	mu := l.lockFor(c.Sender)
	mu.Lock()
	defer mu.Unlock()

	if err := l.log.Append(ctx, c); err != nil {
		return nil, err
	}

	profile, err := l.loadOrSeed(ctx, c.Sender, c.Timestamp)
	if err != nil {
		return nil, err
	}
	applyCorrection(profile, c, l.cfg.CorrectionDelta)
	if err := l.profiles.Save(ctx, profile); err != nil {
		return nil, err
	}

	l.logger.Debug("Applied correction",
		zap.String("sender", c.Sender),
		zap.String("type", string(c.Type)),
		zap.Float64("importance", profile.Importance))
	return profile, nil
}

// applyCorrection mutates a profile for one correction.
func applyCorrection(profile *core.SenderProfile, c *core.Correction, delta float64) {
	profile.Importance = clamp01(profile.Importance + float64(c.Direction())*delta)
	profile.CorrectionCount++
	if c.Timestamp.After(profile.LastSeen) {
		profile.LastSeen = c.Timestamp
	}
}

// Profile returns the current profile, or ErrNotFound for an unknown
// sender.
func (l *Ledger) Profile(ctx context.Context, address string) (*core.SenderProfile, error) {
	return l.profiles.Get(ctx, address)
}

// SetVIP sets the explicit VIP override for a sender.
func (l *Ledger) SetVIP(ctx context.Context, address string, vip bool) error {
	return l.setFlag(ctx, address, func(p *core.SenderProfile) { p.VIP = vip })
}

// SetBlocked sets the explicit blocked override for a sender.
func (l *Ledger) SetBlocked(ctx context.Context, address string, blocked bool) error {
	return l.setFlag(ctx, address, func(p *core.SenderProfile) { p.Blocked = blocked })
}

func (l *Ledger) setFlag(ctx context.Context, address string, apply func(*core.SenderProfile)) error {
	mu := l.lockFor(address)
	mu.Lock()
	defer mu.Unlock()

	profile, err := l.loadOrSeed(ctx, address, time.Now())
	if err != nil {
		return err
	}
	apply(profile)
	return l.profiles.Save(ctx, profile)
}

// RecentAdjustment computes the rolling correction-adjustment signal
// from corrections within the window ending at now: the net correction
// direction normalized to [-1,1]. Stale behavior ages out of this
// signal without touching lifetime counts.
func (l *Ledger) RecentAdjustment(ctx context.Context, address string, now time.Time) (float64, error) {
	since := now.Add(-l.cfg.AdjustmentWindow)
	corrections, err := l.log.BySender(ctx, address, since)
	if err != nil {
		return 0, err
	}
	if len(corrections) == 0 {
		return 0, nil
	}
	net := 0
	for _, c := range corrections {
		net += c.Direction()
	}
	return float64(net) / float64(len(corrections)), nil
}

// Replay rebuilds a profile purely from the correction log, proving
// the materialized-view invariant. Traffic counters are not part of
// the log, so the replayed profile carries correction state only.
func (l *Ledger) Replay(ctx context.Context, address string) (*core.SenderProfile, error) {
	corrections, err := l.log.BySender(ctx, address, time.Time{})
	if err != nil {
		return nil, err
	}
	profile := &core.SenderProfile{
		Address:    address,
		Importance: l.cfg.ImportanceSeed,
	}
	for _, c := range corrections {
		if profile.FirstSeen.IsZero() {
			profile.FirstSeen = c.Timestamp
		}
		applyCorrection(profile, c, l.cfg.CorrectionDelta)
	}
	return profile, nil
}

// AccuracyReport estimates classification accuracy for a sender: the
// fraction of analyzed emails that were not corrected. Only corrections
// inside the window count, but the denominator is the lifetime email
// count because per-email timestamps are not stored. The estimate is
// therefore optimistic for senders whose traffic predates the window.
func (l *Ledger) AccuracyReport(ctx context.Context, address string, window time.Duration, now time.Time) (float64, error) {
	profile, err := l.profiles.Get(ctx, address)
	if err != nil {
		return 0, err
	}
	if profile.EmailCount == 0 {
		return 1, nil
	}
	corrections, err := l.log.BySender(ctx, address, now.Add(-window))
	if err != nil {
		return 0, err
	}
	corrected := len(corrections)
	if corrected > profile.EmailCount {
		corrected = profile.EmailCount
	}
	return 1 - float64(corrected)/float64(profile.EmailCount), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
