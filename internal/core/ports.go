package core

import (
	"context"
	"time"
)

// GenerateOptions are the tunables passed to the inference service.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float32
}

// Generation is the raw output of one inference call.
type Generation struct {
	Text         string
	TokensPerSec float64
}

// TextGenerator defines the interface to an external inference service.
type TextGenerator interface {
	// Generate sends a prompt and returns the raw completion text.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error)

	// ModelVersion identifies the model behind this generator. It is
	// part of every cache key, so a version change invalidates by miss.
	ModelVersion() string
}

// Analyzer turns a preprocessed email into an analysis record.
type Analyzer interface {
	Analyze(ctx context.Context, email *Email) (*AnalysisRecord, error)

	// ModelVersion is the version stamped onto produced records.
	ModelVersion() string
}

// CacheRepository persists analysis records keyed by message identity
// and model version.
type CacheRepository interface {
	// Get returns the record for the key, ErrNotFound on a miss, or
	// ErrCorrupted when the stored record cannot be read.
	Get(ctx context.Context, messageID, modelVersion string) (*AnalysisRecord, error)

	// Put stores a record. Idempotent under the same key: the first
	// write wins and later writes of the same key are no-ops.
	Put(ctx context.Context, record *AnalysisRecord) error

	// Invalidate removes all versions for a message identity.
	Invalidate(ctx context.Context, messageID string) error

	// Cleanup removes expired entries.
	Cleanup(ctx context.Context) error
}

// ProfileRepository persists sender profiles.
type ProfileRepository interface {
	// Get returns the profile for an address or ErrNotFound.
	Get(ctx context.Context, address string) (*SenderProfile, error)

	// Save upserts a profile.
	Save(ctx context.Context, profile *SenderProfile) error
}

// CorrectionLog is the append-only store of user corrections.
type CorrectionLog interface {
	// Append adds a correction. Entries are never updated or deleted.
	Append(ctx context.Context, c *Correction) error

	// BySender returns corrections for a sender at or after since, in
	// timestamp order. A zero since returns the full history.
	BySender(ctx context.Context, address string, since time.Time) ([]*Correction, error)
}

// Sanitizer is the preprocessing/security collaborator. A blocked
// result short-circuits the pipeline with zero inference calls.
type Sanitizer interface {
	Sanitize(ctx context.Context, email *Email) (*SanitizeResult, error)
}

// MetricsSink accepts performance events asynchronously. Implementations
// must never block the caller.
type MetricsSink interface {
	Record(ev MetricEvent)
}
