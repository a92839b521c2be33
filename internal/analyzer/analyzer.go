// Package analyzer orchestrates calls to the external inference
// service: it builds delimited prompts, recovers from malformed model
// output, retries transient failures with bounded backoff, and records
// timing for every call.
package analyzer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

// Options configure the orchestrator.
type Options struct {
	MaxTokens   int
	Temperature float32
	// MaxRetries bounds retries of transient failures; the first
	// attempt is not counted.
	MaxRetries int
	// RetryBackoff is the initial backoff, doubled per retry.
	RetryBackoff time.Duration
	// CallTimeout bounds a single inference call.
	CallTimeout time.Duration
}

// DefaultOptions returns the default orchestrator tuning.
func DefaultOptions() Options {
	return Options{
		MaxTokens:    1000,
		Temperature:  0.1,
		MaxRetries:   2,
		RetryBackoff: 500 * time.Millisecond,
		CallTimeout:  60 * time.Second,
	}
}

// Analyzer implements core.Analyzer over a TextGenerator.
type Analyzer struct {
	generator core.TextGenerator
	metrics   core.MetricsSink
	logger    *zap.Logger
	opts      Options
}

// New creates an analyzer.
func New(generator core.TextGenerator, metrics core.MetricsSink, logger *zap.Logger, opts Options) *Analyzer {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultOptions().RetryBackoff
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	return &Analyzer{generator: generator, metrics: metrics, logger: logger, opts: opts}
}

// ModelVersion is the version stamped onto produced records.
func (a *Analyzer) ModelVersion() string {
	return a.generator.ModelVersion()
}

// Analyze runs one inference call for the email, retrying transient
// failures. Success or failure, duration and throughput are reported
// to the metrics sink.
func (a *Analyzer) Analyze(ctx context.Context, email *core.Email) (*core.AnalysisRecord, error) {
	start := time.Now()
	record, err := a.analyze(ctx, email)

	ev := core.MetricEvent{
		Operation: "inference",
		MessageID: email.MessageID,
		Duration:  time.Since(start),
	}
	if record != nil {
		record.ProcessingTime = time.Since(start)
		ev.TokensPerSec = record.TokensPerSec
	}
	if err != nil {
		ev.Err = string(core.KindOf(err))
	}
	a.metrics.Record(ev)

	return record, err
}

func (a *Analyzer) analyze(ctx context.Context, email *core.Email) (*core.AnalysisRecord, error) {
	prompt := buildPrompt(email.From, email.To, email.Subject, email.Body)
	opts := core.GenerateOptions{MaxTokens: a.opts.MaxTokens, Temperature: a.opts.Temperature}

	var gen *core.Generation
	var err error
	backoff := a.opts.RetryBackoff

	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.opts.CallTimeout)
		start := time.Now()
		gen, err = a.generator.Generate(callCtx, prompt, opts)
		cancel()
		if err == nil {
			break
		}
		if !core.Retryable(err) || attempt >= a.opts.MaxRetries {
			return nil, err
		}
		a.logger.Warn("Retrying transient inference failure",
			zap.String("message_id", email.MessageID),
			zap.Int("attempt", attempt+1),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, core.NewError("analyze", email.MessageID, core.KindTimeout, ctx.Err())
		}
		backoff *= 2
	}

	result := parseResponse(gen.Text)
	if result.Status != core.ParseStatusParsed {
		a.logger.Warn("Recovered partial result from malformed model output",
			zap.String("message_id", email.MessageID),
			zap.String("parse_status", string(result.Status)))
	}

	return &core.AnalysisRecord{
		MessageID:    email.MessageID,
		ModelVersion: a.generator.ModelVersion(),
		Priority:     result.Priority,
		Confidence:   result.Confidence,
		Summary:      result.Summary,
		Tags:         result.Tags,
		Sentiment:    result.Sentiment,
		ActionItems:  result.ActionItems,
		ParseStatus:  result.Status,
		TokensPerSec: gen.TokensPerSec,
		ProcessingID: uuid.NewString(),
		CreatedAt:    time.Now(),
	}, nil
}
