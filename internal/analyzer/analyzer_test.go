package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mikey/llm-email-triage/internal/core"
	"github.com/mikey/llm-email-triage/internal/metrics"
	"go.uber.org/zap"
)

// scriptedGenerator returns its queued outcomes in order, then repeats
// the last one.
type scriptedGenerator struct {
	outcomes []outcome
	calls    int
	version  string
}

type outcome struct {
	text string
	err  error
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.Generation, error) {
	idx := g.calls
	if idx >= len(g.outcomes) {
		idx = len(g.outcomes) - 1
	}
	g.calls++
	o := g.outcomes[idx]
	if o.err != nil {
		return nil, o.err
	}
	return &core.Generation{Text: o.text, TokensPerSec: 42}, nil
}

func (g *scriptedGenerator) ModelVersion() string {
	if g.version == "" {
		return "test/v1"
	}
	return g.version
}

func testOptions() Options {
	return Options{
		MaxTokens:    100,
		Temperature:  0.1,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		CallTimeout:  time.Second,
	}
}

const validResponse = `{"priority":"high","confidence":0.9,"summary":"Outage.","tags":["ops"],"sentiment":"negative","action_items":[]}`

func TestAnalyzeSuccess(t *testing.T) {
	gen := &scriptedGenerator{outcomes: []outcome{{text: validResponse}}}
	a := New(gen, metrics.Nop{}, zap.NewNop(), testOptions())

	record, err := a.Analyze(context.Background(), &core.Email{MessageID: "m1", From: "a@example.com"})
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if record.Priority != core.PriorityHigh {
		t.Errorf("priority = %s, want high", record.Priority)
	}
	if record.ModelVersion != "test/v1" {
		t.Errorf("model version = %q, want test/v1", record.ModelVersion)
	}
	if record.ProcessingID == "" {
		t.Error("record must carry a processing ID")
	}
	if record.TokensPerSec != 42 {
		t.Errorf("tokens/sec = %v, want 42", record.TokensPerSec)
	}
	if record.ParseStatus != core.ParseStatusParsed {
		t.Errorf("parse status = %s, want parsed", record.ParseStatus)
	}
}

func TestAnalyzeRetriesTransientFailures(t *testing.T) {
	transient := core.NewError("generate", "m1", core.KindTransient, errors.New("connection reset"))
	gen := &scriptedGenerator{outcomes: []outcome{
		{err: transient},
		{err: transient},
		{text: validResponse},
	}}
	a := New(gen, metrics.Nop{}, zap.NewNop(), testOptions())

	record, err := a.Analyze(context.Background(), &core.Email{MessageID: "m1", From: "a@example.com"})
	if err != nil {
		t.Fatalf("Analyze() error after retries: %v", err)
	}
	if gen.calls != 3 {
		t.Errorf("generator called %d times, want 3", gen.calls)
	}
	if record.Priority != core.PriorityHigh {
		t.Errorf("priority = %s, want high", record.Priority)
	}
}

func TestAnalyzeGivesUpAfterMaxRetries(t *testing.T) {
	transient := core.NewError("generate", "m1", core.KindTransient, errors.New("connection reset"))
	gen := &scriptedGenerator{outcomes: []outcome{{err: transient}}}
	a := New(gen, metrics.Nop{}, zap.NewNop(), testOptions())

	_, err := a.Analyze(context.Background(), &core.Email{MessageID: "m1", From: "a@example.com"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if gen.calls != 3 {
		t.Errorf("generator called %d times, want 3 (1 attempt + 2 retries)", gen.calls)
	}
	if !core.IsKind(err, core.KindTransient) {
		t.Errorf("error kind = %s, want transient", core.KindOf(err))
	}
}

func TestAnalyzeDoesNotRetryUnavailable(t *testing.T) {
	unavailable := core.NewError("generate", "m1", core.KindUnavailable, errors.New("connection refused"))
	gen := &scriptedGenerator{outcomes: []outcome{{err: unavailable}}}
	a := New(gen, metrics.Nop{}, zap.NewNop(), testOptions())

	_, err := a.Analyze(context.Background(), &core.Email{MessageID: "m1", From: "a@example.com"})
	if err == nil {
		t.Fatal("expected error")
	}
	if gen.calls != 1 {
		t.Errorf("generator called %d times, want 1 (no retries)", gen.calls)
	}
	if !core.IsKind(err, core.KindUnavailable) {
		t.Errorf("error kind = %s, want unavailable", core.KindOf(err))
	}
}

func TestAnalyzeRecoversMalformedOutput(t *testing.T) {
	gen := &scriptedGenerator{outcomes: []outcome{{text: "The priority seems low priority to me."}}}
	a := New(gen, metrics.Nop{}, zap.NewNop(), testOptions())

	record, err := a.Analyze(context.Background(), &core.Email{MessageID: "m1", From: "a@example.com"})
	if err != nil {
		t.Fatalf("malformed output must degrade, not fail: %v", err)
	}
	if record.ParseStatus != core.ParseStatusPartiallyParsed {
		t.Errorf("parse status = %s, want partially_parsed", record.ParseStatus)
	}
	if record.Priority != core.PriorityLow {
		t.Errorf("priority = %s, want low from keyword scan", record.Priority)
	}
}
