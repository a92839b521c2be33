package trust

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/mikey/llm-email-triage/internal/adapters/store"
	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

func newTestLedger() *Ledger {
	s := store.NewMemoryStore()
	return NewLedger(s, s, zap.NewNop(), DefaultConfig())
}

func TestRecordEmailSeedsAndCounts(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	now := time.Now()

	profile, err := l.RecordEmail(ctx, "a@example.com", now)
	if err != nil {
		t.Fatalf("RecordEmail() error: %v", err)
	}
	if profile.Importance != DefaultConfig().ImportanceSeed {
		t.Errorf("new sender importance = %v, want seed %v", profile.Importance, DefaultConfig().ImportanceSeed)
	}
	if profile.EmailCount != 1 {
		t.Errorf("email count = %d, want 1", profile.EmailCount)
	}

	profile, err = l.RecordEmail(ctx, "a@example.com", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("RecordEmail() error: %v", err)
	}
	if profile.EmailCount != 2 {
		t.Errorf("email count = %d, want 2", profile.EmailCount)
	}
	if profile.Importance != DefaultConfig().ImportanceSeed {
		t.Error("raw traffic must not move importance")
	}
}

func TestRecordCorrectionMovesImportanceBounded(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	now := time.Now()

	p, err := l.RecordCorrection(ctx, core.NewCorrection("m1", "a@example.com", core.PriorityMedium, core.PriorityHigh, now))
	if err != nil {
		t.Fatalf("RecordCorrection() error: %v", err)
	}
	want := DefaultConfig().ImportanceSeed + DefaultConfig().CorrectionDelta
	if math.Abs(p.Importance-want) > 1e-9 {
		t.Errorf("importance = %v, want %v", p.Importance, want)
	}
	if p.CorrectionCount != 1 {
		t.Errorf("correction count = %d, want 1", p.CorrectionCount)
	}
}

// Importance stays inside [0,1] for any correction sequence, however
// long or one-sided.
func TestImportanceBoundedUnderAnySequence(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	now := time.Now()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		original, corrected := core.PriorityMedium, core.PriorityHigh
		if rng.Intn(3) == 0 {
			original, corrected = core.PriorityHigh, core.PriorityLow
		}
		p, err := l.RecordCorrection(ctx, core.NewCorrection("m", "a@example.com", original, corrected, now.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("RecordCorrection() error: %v", err)
		}
		if p.Importance < 0 || p.Importance > 1 {
			t.Fatalf("importance %v escaped [0,1] after %d corrections", p.Importance, i+1)
		}
	}
}

// Concurrent corrections for one sender serialize: no update is lost
// and the final profile equals a replay of the log.
func TestConcurrentCorrectionsSerialize(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	now := time.Now()

	const writers = 50
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := core.NewCorrection("m", "a@example.com", core.PriorityMedium, core.PriorityHigh, now)
			_, errs[i] = l.RecordCorrection(ctx, c)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d error: %v", i, err)
		}
	}

	live, err := l.Profile(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if live.CorrectionCount != writers {
		t.Errorf("correction count = %d, want %d (no lost updates)", live.CorrectionCount, writers)
	}
	replayed, err := l.Replay(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Replay() error: %v", err)
	}
	if math.Abs(live.Importance-replayed.Importance) > 1e-9 {
		t.Errorf("live importance %v != replayed %v", live.Importance, replayed.Importance)
	}
	if live.Importance != 1 {
		t.Errorf("importance = %v, want clamped to 1 after %d upgrades", live.Importance, writers)
	}
}

// Replaying the correction log reproduces the correction-driven state
// of the live profile.
func TestReplayMatchesProfile(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	now := time.Now()

	seq := []struct{ original, corrected core.Priority }{
		{core.PriorityMedium, core.PriorityHigh},
		{core.PriorityLow, core.PriorityHigh},
		{core.PriorityHigh, core.PriorityMedium},
		{core.PriorityMedium, core.PriorityHigh},
	}
	for i, c := range seq {
		if _, err := l.RecordCorrection(ctx, core.NewCorrection("m", "a@example.com", c.original, c.corrected, now.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("RecordCorrection() error: %v", err)
		}
	}

	live, err := l.Profile(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	replayed, err := l.Replay(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Replay() error: %v", err)
	}
	if math.Abs(live.Importance-replayed.Importance) > 1e-9 {
		t.Errorf("replayed importance %v != live %v", replayed.Importance, live.Importance)
	}
	if live.CorrectionCount != replayed.CorrectionCount {
		t.Errorf("replayed correction count %d != live %d", replayed.CorrectionCount, live.CorrectionCount)
	}
}

func TestRecentAdjustmentWindow(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	now := time.Now()
	stale := now.Add(-DefaultConfig().AdjustmentWindow - time.Hour)

	// Old downgrades age out of the rolling signal.
	for i := 0; i < 3; i++ {
		if _, err := l.RecordCorrection(ctx, core.NewCorrection("m", "a@example.com", core.PriorityHigh, core.PriorityLow, stale)); err != nil {
			t.Fatalf("RecordCorrection() error: %v", err)
		}
	}
	if _, err := l.RecordCorrection(ctx, core.NewCorrection("m", "a@example.com", core.PriorityMedium, core.PriorityHigh, now)); err != nil {
		t.Fatalf("RecordCorrection() error: %v", err)
	}

	adj, err := l.RecentAdjustment(ctx, "a@example.com", now)
	if err != nil {
		t.Fatalf("RecentAdjustment() error: %v", err)
	}
	if adj != 1 {
		t.Errorf("adjustment = %v, want 1 with stale downgrades aged out", adj)
	}

	// Lifetime counts keep the full history.
	p, err := l.Profile(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if p.CorrectionCount != 4 {
		t.Errorf("lifetime correction count = %d, want 4", p.CorrectionCount)
	}
}

func TestRecentAdjustmentUnknownSender(t *testing.T) {
	l := newTestLedger()
	adj, err := l.RecentAdjustment(context.Background(), "nobody@example.com", time.Now())
	if err != nil {
		t.Fatalf("RecentAdjustment() error: %v", err)
	}
	if adj != 0 {
		t.Errorf("adjustment = %v, want 0 for unknown sender", adj)
	}
}

func TestSetVIPAndBlocked(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if err := l.SetVIP(ctx, "boss@example.com", true); err != nil {
		t.Fatalf("SetVIP() error: %v", err)
	}
	if err := l.SetBlocked(ctx, "spam@example.com", true); err != nil {
		t.Fatalf("SetBlocked() error: %v", err)
	}

	p, err := l.Profile(ctx, "boss@example.com")
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if !p.VIP {
		t.Error("vip flag not set")
	}
	p, err = l.Profile(ctx, "spam@example.com")
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if !p.Blocked {
		t.Error("blocked flag not set")
	}
}

func TestAccuracyReport(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 10; i++ {
		if _, err := l.RecordEmail(ctx, "a@example.com", now); err != nil {
			t.Fatalf("RecordEmail() error: %v", err)
		}
	}
	if _, err := l.RecordCorrection(ctx, core.NewCorrection("m", "a@example.com", core.PriorityMedium, core.PriorityHigh, now)); err != nil {
		t.Fatalf("RecordCorrection() error: %v", err)
	}

	acc, err := l.AccuracyReport(ctx, "a@example.com", 7*24*time.Hour, now)
	if err != nil {
		t.Fatalf("AccuracyReport() error: %v", err)
	}
	if math.Abs(acc-0.9) > 1e-9 {
		t.Errorf("accuracy = %v, want 0.9", acc)
	}
}
