package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

func testRecord(messageID, version string, priority core.Priority) *core.AnalysisRecord {
	return &core.AnalysisRecord{
		MessageID:    messageID,
		ModelVersion: version,
		Priority:     priority,
		Confidence:   0.9,
		Summary:      "test",
		Tags:         []string{"general"},
		Sentiment:    core.SentimentNeutral,
		ParseStatus:  core.ParseStatusParsed,
		ProcessingID: "pid-1",
		CreatedAt:    time.Now(),
	}
}

func TestMemoryCachePutGet(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), 0, 0)
	ctx := context.Background()

	if _, err := c.Get(ctx, "m1", "v1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("empty cache Get error = %v, want ErrNotFound", err)
	}

	if err := c.Put(ctx, testRecord("m1", "v1", core.PriorityHigh)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	got, err := c.Get(ctx, "m1", "v1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Priority != core.PriorityHigh {
		t.Errorf("priority = %s, want high", got.Priority)
	}
}

func TestMemoryCacheFirstWriteWins(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), 0, 0)
	ctx := context.Background()

	if err := c.Put(ctx, testRecord("m1", "v1", core.PriorityHigh)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := c.Put(ctx, testRecord("m1", "v1", core.PriorityLow)); err != nil {
		t.Fatalf("second Put() error: %v", err)
	}

	got, err := c.Get(ctx, "m1", "v1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Priority != core.PriorityHigh {
		t.Errorf("priority = %s, want the first write preserved", got.Priority)
	}
}

func TestMemoryCacheModelVersionMiss(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), 0, 0)
	ctx := context.Background()

	if err := c.Put(ctx, testRecord("m1", "v1", core.PriorityHigh)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if _, err := c.Get(ctx, "m1", "v2"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Get with new model version error = %v, want ErrNotFound", err)
	}
}

func TestMemoryCacheInvalidateAllVersions(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), 0, 0)
	ctx := context.Background()

	for _, v := range []string{"v1", "v2"} {
		if err := c.Put(ctx, testRecord("m1", v, core.PriorityHigh)); err != nil {
			t.Fatalf("Put() error: %v", err)
		}
	}
	if err := c.Put(ctx, testRecord("m2", "v1", core.PriorityLow)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	if err := c.Invalidate(ctx, "m1"); err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}
	for _, v := range []string{"v1", "v2"} {
		if _, err := c.Get(ctx, "m1", v); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("Get(m1, %s) after invalidate error = %v, want ErrNotFound", v, err)
		}
	}
	if _, err := c.Get(ctx, "m2", "v1"); err != nil {
		t.Errorf("unrelated message was invalidated: %v", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(zap.NewNop(), 10*time.Millisecond, 0)
	ctx := context.Background()

	if err := c.Put(ctx, testRecord("m1", "v1", core.PriorityHigh)); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	if _, err := c.Get(ctx, "m1", "v1"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expired Get error = %v, want ErrNotFound", err)
	}
	if err := c.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
}
