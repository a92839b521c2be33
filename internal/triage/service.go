// Package triage wires the pipeline together: sanitize, quick
// heuristic, cache lookup with in-flight coalescing, inference,
// trust-aware resolution, cache write.
package triage

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/mikey/llm-email-triage/internal/core"
	"github.com/mikey/llm-email-triage/internal/heuristic"
	"github.com/mikey/llm-email-triage/internal/resolver"
	"github.com/mikey/llm-email-triage/internal/trust"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Options configure the pipeline service.
type Options struct {
	// CacheEnabled toggles the analysis cache.
	CacheEnabled bool
	// InferenceWorkers bounds concurrent inference calls.
	InferenceWorkers int
	// QueueTimeout bounds how long a request may wait for an inference
	// slot before failing with a Timeout error.
	QueueTimeout time.Duration
}

// DefaultOptions returns the default pipeline tuning.
func DefaultOptions() Options {
	return Options{
		CacheEnabled:     true,
		InferenceWorkers: 3,
		QueueTimeout:     30 * time.Second,
	}
}

// Stats are cumulative pipeline counters.
type Stats struct {
	CacheHits          uint64
	CacheMisses        uint64
	InferenceCalls     uint64
	HeuristicFallbacks uint64
	Blocked            uint64
}

// Service drives a single email through the pipeline.
type Service struct {
	analyzer  core.Analyzer
	cache     core.CacheRepository
	ledger    *trust.Ledger
	resolver  *resolver.Resolver
	quick     *heuristic.Classifier
	sanitizer core.Sanitizer
	metrics   core.MetricsSink
	logger    *zap.Logger
	opts      Options

	flight singleflight.Group
	sem    chan struct{}

	cacheHits          atomic.Uint64
	cacheMisses        atomic.Uint64
	inferenceCalls     atomic.Uint64
	heuristicFallbacks atomic.Uint64
	blocked            atomic.Uint64
}

// NewService creates the pipeline service.
func NewService(
	analyzer core.Analyzer,
	cache core.CacheRepository,
	ledger *trust.Ledger,
	res *resolver.Resolver,
	quick *heuristic.Classifier,
	sanitizer core.Sanitizer,
	metrics core.MetricsSink,
	logger *zap.Logger,
	opts Options,
) *Service {
	if opts.InferenceWorkers <= 0 {
		opts.InferenceWorkers = DefaultOptions().InferenceWorkers
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = DefaultOptions().QueueTimeout
	}
	return &Service{
		analyzer:  analyzer,
		cache:     cache,
		ledger:    ledger,
		resolver:  res,
		quick:     quick,
		sanitizer: sanitizer,
		metrics:   metrics,
		logger:    logger,
		opts:      opts,
		sem:       make(chan struct{}, opts.InferenceWorkers),
	}
}

// Triage runs the full pipeline for one email.
func (s *Service) Triage(ctx context.Context, email *core.Email) (*core.TriageResult, error) {
	return s.triage(ctx, email, nil)
}

// TriageProgressive runs the pipeline delivering the instant heuristic
// result through onQuick before the full result returns. The two
// deliverables are independent: onQuick fires even when inference
// later fails.
func (s *Service) TriageProgressive(ctx context.Context, email *core.Email, onQuick func(core.QuickResult)) (*core.TriageResult, error) {
	return s.triage(ctx, email, onQuick)
}

func (s *Service) triage(ctx context.Context, email *core.Email, onQuick func(core.QuickResult)) (*core.TriageResult, error) {
	start := time.Now()

	// Malformed input degrades to a low-confidence Medium result
	// rather than failing.
	if email == nil || email.MessageID == "" || email.From == "" {
		s.logger.Warn("Degrading malformed input to medium priority")
		result := &core.TriageResult{
			Priority:       core.PriorityMedium,
			Confidence:     0.2,
			BasePriority:   core.PriorityMedium,
			BaseConfidence: 0.2,
			Source:         core.SourceDegraded,
		}
		return result, nil
	}

	san, err := s.sanitizer.Sanitize(ctx, email)
	if err != nil {
		return nil, core.NewError("triage.sanitize", email.MessageID, core.KindInternal, err)
	}
	if san.Blocked {
		s.blocked.Add(1)
		s.metrics.Record(core.MetricEvent{
			Operation: "blocked",
			MessageID: email.MessageID,
			Duration:  time.Since(start),
		})
		return &core.TriageResult{
			Priority:       core.PriorityLow,
			Confidence:     1,
			BasePriority:   core.PriorityLow,
			BaseConfidence: 1,
			Source:         core.SourceBlocked,
			Blocked:        true,
			BlockedPattern: san.Pattern,
			Suppressed:     true,
		}, nil
	}

	cleaned := *email
	cleaned.Body = san.Content

	quick := s.quick.Classify(&cleaned)
	if onQuick != nil {
		onQuick(quick)
	}

	profile, err := s.ledger.RecordEmail(ctx, email.From, receivedAt(email))
	if err != nil {
		s.logger.Error("Failed to record sender traffic", zap.String("sender", email.From), zap.Error(err))
		profile = nil
	}

	record, fromCache, err := s.analyzeCoalesced(ctx, &cleaned)

	basePriority := quick.Priority
	baseConfidence := quick.Confidence
	source := core.SourceInference
	switch {
	case err == nil:
		basePriority = record.Priority
		baseConfidence = record.Confidence
		if fromCache {
			source = core.SourceCache
		}
	case core.IsKind(err, core.KindUnavailable):
		// Inference service down: heuristic-only output.
		s.heuristicFallbacks.Add(1)
		s.logger.Warn("Inference unavailable, falling back to heuristic",
			zap.String("message_id", email.MessageID), zap.Error(err))
		source = core.SourceHeuristic
		record = nil
	default:
		return nil, err
	}

	recentAdj := 0.0
	if adj, adjErr := s.ledger.RecentAdjustment(ctx, email.From, time.Now()); adjErr == nil {
		recentAdj = adj
	} else {
		s.logger.Error("Failed to compute correction adjustment",
			zap.String("sender", email.From), zap.Error(adjErr))
	}

	res := s.resolver.Resolve(basePriority, baseConfidence, profile, recentAdj)

	s.metrics.Record(core.MetricEvent{
		Operation: "triage",
		MessageID: email.MessageID,
		Duration:  time.Since(start),
		CacheHit:  fromCache,
	})

	return &core.TriageResult{
		Record:         record,
		Priority:       res.Priority,
		Confidence:     res.Confidence,
		BasePriority:   res.BasePriority,
		BaseConfidence: res.BaseConfidence,
		Source:         source,
		FromCache:      fromCache,
		Suppressed:     res.Suppressed,
		SenderShift:    res.SenderShift,
	}, nil
}

type flightResult struct {
	record    *core.AnalysisRecord
	fromCache bool
}

// analyzeCoalesced looks up the cache and, on a miss, runs inference
// with at most one in-flight computation per (message, model version)
// key. Concurrent callers for the same key share the single outcome,
// and the in-flight marker is released on success and failure alike.
func (s *Service) analyzeCoalesced(ctx context.Context, email *core.Email) (*core.AnalysisRecord, bool, error) {
	key := core.CacheKey(email.MessageID, s.analyzer.ModelVersion())

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		if s.opts.CacheEnabled {
			record, err := s.cache.Get(ctx, email.MessageID, s.analyzer.ModelVersion())
			if err == nil {
				s.cacheHits.Add(1)
				return flightResult{record: record, fromCache: true}, nil
			}
			if errors.Is(err, core.ErrCorrupted) {
				// Unreadable record is a miss, never a hard failure.
				s.logger.Warn("Corrupted cache record, recomputing",
					zap.String("message_id", email.MessageID), zap.Error(err))
			} else if !errors.Is(err, core.ErrNotFound) {
				s.logger.Error("Cache lookup failed, recomputing",
					zap.String("message_id", email.MessageID), zap.Error(err))
			}
			s.cacheMisses.Add(1)
		}

		if err := s.acquireSlot(ctx, email.MessageID); err != nil {
			return nil, err
		}
		defer s.releaseSlot()

		s.inferenceCalls.Add(1)
		record, err := s.analyzer.Analyze(ctx, email)
		if err != nil {
			return nil, err
		}
		if s.opts.CacheEnabled {
			if err := s.cache.Put(ctx, record); err != nil {
				s.logger.Error("Failed to write cache",
					zap.String("message_id", email.MessageID), zap.Error(err))
			}
		}
		return flightResult{record: record}, nil
	})
	if err != nil {
		return nil, false, err
	}
	fr := v.(flightResult)
	return fr.record, fr.fromCache, nil
}

// acquireSlot waits for an inference worker slot, failing with a
// Timeout error once the queue budget is spent so no caller blocks
// indefinitely.
func (s *Service) acquireSlot(ctx context.Context, messageID string) error {
	timer := time.NewTimer(s.opts.QueueTimeout)
	defer timer.Stop()
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return core.NewError("triage.queue", messageID, core.KindTimeout,
			errors.New("inference queue full"))
	case <-ctx.Done():
		return core.NewError("triage.queue", messageID, core.KindCanceled, ctx.Err())
	}
}

func (s *Service) releaseSlot() {
	<-s.sem
}

// ApplyCorrection records a user's priority override: it appends to
// the correction log and updates the sender's profile. Already-cached
// analysis records are not rewritten.
func (s *Service) ApplyCorrection(ctx context.Context, messageID, sender string, original, corrected core.Priority) (*core.SenderProfile, error) {
	c := core.NewCorrection(messageID, sender, original, corrected, time.Now())
	profile, err := s.ledger.RecordCorrection(ctx, c)
	if err != nil {
		return nil, core.NewError("triage.correction", messageID, core.KindInternal, err)
	}
	return profile, nil
}

// Invalidate drops all cached analysis versions for a message.
func (s *Service) Invalidate(ctx context.Context, messageID string) error {
	return s.cache.Invalidate(ctx, messageID)
}

// Ledger exposes the trust ledger for override management.
func (s *Service) Ledger() *trust.Ledger {
	return s.ledger
}

// Stats returns a snapshot of the pipeline counters.
func (s *Service) Stats() Stats {
	return Stats{
		CacheHits:          s.cacheHits.Load(),
		CacheMisses:        s.cacheMisses.Load(),
		InferenceCalls:     s.inferenceCalls.Load(),
		HeuristicFallbacks: s.heuristicFallbacks.Load(),
		Blocked:            s.blocked.Load(),
	}
}

func receivedAt(email *core.Email) time.Time {
	if !email.ReceivedAt.IsZero() {
		return email.ReceivedAt
	}
	return time.Now()
}
