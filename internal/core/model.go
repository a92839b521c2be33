package core

import (
	"strings"
	"time"
)

// Priority is the discrete urgency level assigned to an email.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "medium"
	}
}

// ParsePriority parses a priority name, defaulting to Medium for
// unrecognized input.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "urgent":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Shift moves the priority by the given number of levels, clamped so
// shifting beyond High or Low has no further effect.
func (p Priority) Shift(levels int) Priority {
	shifted := int(p) + levels
	if shifted > int(PriorityHigh) {
		return PriorityHigh
	}
	if shifted < int(PriorityLow) {
		return PriorityLow
	}
	return Priority(shifted)
}

// Email represents an email message entering the pipeline.
type Email struct {
	MessageID  string
	From       string
	To         []string
	Subject    string
	Body       string
	Headers    map[string][]string
	ReceivedAt time.Time
}

// Sentiment labels used in analysis records.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
)

// ParseStatus records how much of the model output could be recovered.
type ParseStatus string

const (
	ParseStatusParsed          ParseStatus = "parsed"
	ParseStatusPartiallyParsed ParseStatus = "partially_parsed"
	ParseStatusUnparseable     ParseStatus = "unparseable"
)

// AnalysisRecord is the result of analyzing a single email with a
// specific model version. Records are immutable once written to the
// cache; a different model version is always a distinct record.
type AnalysisRecord struct {
	MessageID      string
	ModelVersion   string
	Priority       Priority
	Confidence     float64
	Summary        string
	Tags           []string
	Sentiment      string
	ActionItems    []string
	ParseStatus    ParseStatus
	ProcessingTime time.Duration
	TokensPerSec   float64
	ProcessingID   string
	CreatedAt      time.Time
}

// CacheKey returns the composite cache key for this record.
func (r *AnalysisRecord) CacheKey() string {
	return CacheKey(r.MessageID, r.ModelVersion)
}

// CacheKey builds the composite cache key for a message/model pair.
func CacheKey(messageID, modelVersion string) string {
	return messageID + "\x00" + modelVersion
}

// SenderProfile tracks the learned importance of a sender. Profiles
// are never deleted and are mutated only by the trust ledger.
type SenderProfile struct {
	Address         string
	Importance      float64
	EmailCount      int
	ReplyCount      int
	CorrectionCount int
	VIP             bool
	Blocked         bool
	FirstSeen       time.Time
	LastSeen        time.Time
}

// CorrectionType distinguishes the direction of a user correction.
type CorrectionType string

const (
	CorrectionUpgrade   CorrectionType = "upgrade"
	CorrectionDowngrade CorrectionType = "downgrade"
)

// Correction is an append-only log entry recording a user's priority
// override. Corrections are immutable and are the sole input, besides
// raw traffic, that drives sender profile evolution.
type Correction struct {
	MessageID         string
	Sender            string
	OriginalPriority  Priority
	CorrectedPriority Priority
	Type              CorrectionType
	Timestamp         time.Time
}

// Direction returns +1 for an upgrade and -1 for a downgrade.
func (c *Correction) Direction() int {
	if c.Type == CorrectionUpgrade {
		return 1
	}
	return -1
}

// NewCorrection builds a correction with the type derived from the
// priority change.
func NewCorrection(messageID, sender string, original, corrected Priority, at time.Time) *Correction {
	typ := CorrectionDowngrade
	if corrected > original {
		typ = CorrectionUpgrade
	}
	return &Correction{
		MessageID:         messageID,
		Sender:            sender,
		OriginalPriority:  original,
		CorrectedPriority: corrected,
		Type:              typ,
		Timestamp:         at,
	}
}

// QuickResult is the instant, heuristic-only priority guess delivered
// before full inference completes.
type QuickResult struct {
	Priority   Priority
	Confidence float64
}

// ResultSource identifies which stage produced the final priority.
type ResultSource string

const (
	SourceInference ResultSource = "inference"
	SourceCache     ResultSource = "cache"
	SourceHeuristic ResultSource = "heuristic"
	SourceBlocked   ResultSource = "blocked"
	SourceDegraded  ResultSource = "degraded"
)

// TriageResult is the final output for a single email: the resolved
// priority and confidence alongside the pre-adjustment base values,
// kept for auditability and accuracy reporting.
type TriageResult struct {
	Record         *AnalysisRecord
	Priority       Priority
	Confidence     float64
	BasePriority   Priority
	BaseConfidence float64
	Source         ResultSource
	FromCache      bool
	Blocked        bool
	BlockedPattern string
	Suppressed     bool
	SenderShift    int
}

// BatchItemStatus is the per-item state within a batch job.
type BatchItemStatus string

const (
	BatchItemPending BatchItemStatus = "pending"
	BatchItemDone    BatchItemStatus = "done"
	BatchItemFailed  BatchItemStatus = "failed"
)

// BatchItem holds the outcome slot for one email in a batch.
type BatchItem struct {
	Index  int
	Status BatchItemStatus
	Result *TriageResult
	Err    error
}

// BatchResult aggregates the outcome of one batch call. It lives only
// for the duration of that call.
type BatchResult struct {
	Items     []BatchItem
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// SanitizeResult is the outcome of the preprocessing/security step.
// When Blocked is true the pipeline short-circuits with no inference.
type SanitizeResult struct {
	Content string
	Blocked bool
	Pattern string
}

// MetricEvent is a structured performance event for the observability
// sink. Recording an event must never block the pipeline.
type MetricEvent struct {
	Operation    string
	MessageID    string
	Duration     time.Duration
	TokensPerSec float64
	CacheHit     bool
	Err          string
}
