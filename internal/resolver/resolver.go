// Package resolver merges the inference (or heuristic) priority with
// sender trust into the final, bounded priority and confidence.
package resolver

import (
	"fmt"

	"github.com/mikey/llm-email-triage/internal/core"
)

// Config holds the resolution tunables. Magnitudes are configuration
// validated at load, not fixed constants.
type Config struct {
	// HighImportance is the importance at or above which the sender
	// earns a +1 level shift.
	HighImportance float64
	// LowImportance is the importance at or below which the sender
	// earns a -1 level shift.
	LowImportance float64
	// MinCorrections is the sample threshold below which a sender-level
	// shift is ignored, so one or two corrections cannot swing results.
	MinCorrections int
	// ConfidenceNudge bounds how far the rolling correction-adjustment
	// can move confidence. It never moves the discrete level.
	ConfidenceNudge float64
}

// DefaultConfig returns the default resolution tunables.
func DefaultConfig() Config {
	return Config{
		HighImportance:  0.65,
		LowImportance:   0.2,
		MinCorrections:  3,
		ConfidenceNudge: 0.2,
	}
}

// Validate rejects configurations that cannot produce bounded output.
func (c Config) Validate() error {
	if c.HighImportance <= c.LowImportance {
		return fmt.Errorf("high importance threshold %.2f must exceed low threshold %.2f", c.HighImportance, c.LowImportance)
	}
	if c.HighImportance > 1 || c.LowImportance < 0 {
		return fmt.Errorf("importance thresholds must lie in [0,1]")
	}
	if c.ConfidenceNudge < 0 || c.ConfidenceNudge > 1 {
		return fmt.Errorf("confidence nudge %.2f must lie in [0,1]", c.ConfidenceNudge)
	}
	if c.MinCorrections < 0 {
		return fmt.Errorf("min corrections must not be negative")
	}
	return nil
}

// Resolution is the resolved priority with its pre-adjustment base
// values retained for auditability.
type Resolution struct {
	Priority       core.Priority
	Confidence     float64
	BasePriority   core.Priority
	BaseConfidence float64
	SenderShift    int
	Suppressed     bool
}

// Resolver applies sender trust to a base classification.
type Resolver struct {
	cfg Config
}

// New creates a resolver, validating the configuration.
func New(cfg Config) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{cfg: cfg}, nil
}

// Resolve merges the base priority/confidence with the sender profile
// and the rolling correction adjustment. Explicit vip and blocked
// overrides are checked before any computed adjustment: vip forces a
// priority floor, blocked forces suppression, regardless of score.
// A nil profile means an unknown sender; the base passes through.
func (r *Resolver) Resolve(base core.Priority, baseConfidence float64, profile *core.SenderProfile, recentAdjustment float64) Resolution {
	res := Resolution{
		Priority:       base,
		Confidence:     clamp01(baseConfidence),
		BasePriority:   base,
		BaseConfidence: clamp01(baseConfidence),
	}
	if profile == nil {
		return res
	}

	if profile.Blocked {
		res.Priority = core.PriorityLow
		res.Confidence = 1
		res.Suppressed = true
		return res
	}

	shift := 0
	switch {
	case profile.Importance >= r.cfg.HighImportance:
		shift = 1
	case profile.Importance <= r.cfg.LowImportance:
		shift = -1
	}
	// A shift away from the raw priority is honored only once the
	// sender has enough correction history behind it.
	if shift != 0 && profile.CorrectionCount < r.cfg.MinCorrections {
		shift = 0
	}
	res.SenderShift = shift
	res.Priority = base.Shift(shift)

	if recentAdjustment > 1 {
		recentAdjustment = 1
	} else if recentAdjustment < -1 {
		recentAdjustment = -1
	}
	res.Confidence = clamp01(res.Confidence + recentAdjustment*r.cfg.ConfidenceNudge)

	if profile.VIP && res.Priority < core.PriorityMedium {
		res.Priority = core.PriorityMedium
	}
	return res
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
