// Package batch drives the pipeline over many messages with progress
// reporting and per-item failure isolation.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/mikey/llm-email-triage/internal/core"
	"github.com/mikey/llm-email-triage/internal/triage"
	"go.uber.org/zap"
)

// ProgressFunc is invoked after every item with its index, the batch
// total, and the item's result or typed error.
type ProgressFunc func(index, total int, result *core.TriageResult, err error)

// Options configure the coordinator.
type Options struct {
	// Workers bounds batch parallelism. Duplicate identities within a
	// batch rely on the cache's coalescing to avoid duplicate work.
	Workers int
	// ItemTimeout bounds one item end to end.
	ItemTimeout time.Duration
}

// DefaultOptions returns the default batch tuning.
func DefaultOptions() Options {
	return Options{
		Workers:     3,
		ItemTimeout: 90 * time.Second,
	}
}

// Coordinator processes batches of emails.
type Coordinator struct {
	svc    *triage.Service
	logger *zap.Logger
	opts   Options
}

// NewCoordinator creates a coordinator over the pipeline service.
func NewCoordinator(svc *triage.Service, logger *zap.Logger, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = DefaultOptions().ItemTimeout
	}
	return &Coordinator{svc: svc, logger: logger, opts: opts}
}

// Process runs the pipeline over all emails. One item's failure never
// aborts the batch; it is recorded as a typed failure in that item's
// slot. Cancellation is cooperative: dispatch of new items stops, but
// items already in flight finish or time out on their own. The
// progress callback fires exactly once per item.
func (c *Coordinator) Process(ctx context.Context, emails []*core.Email, progress ProgressFunc) (*core.BatchResult, error) {
	start := time.Now()
	total := len(emails)

	result := &core.BatchResult{Items: make([]core.BatchItem, total)}
	for i := range result.Items {
		result.Items[i] = core.BatchItem{Index: i, Status: core.BatchItemPending}
	}
	if total == 0 {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	var progressMu sync.Mutex
	report := func(i int, res *core.TriageResult, err error) {
		if progress == nil {
			return
		}
		progressMu.Lock()
		defer progressMu.Unlock()
		progress(i, total, res, err)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := c.opts.Workers
	if workers > total {
		workers = total
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := c.processOne(ctx, emails[i])
				if err != nil {
					result.Items[i].Status = core.BatchItemFailed
					result.Items[i].Err = err
					c.logger.Warn("Batch item failed",
						zap.Int("index", i),
						zap.String("kind", string(core.KindOf(err))),
						zap.Error(err))
				} else {
					result.Items[i].Status = core.BatchItemDone
					result.Items[i].Result = res
				}
				report(i, res, err)
			}
		}()
	}

	// Dispatch until done or cancelled. Undispatched items are marked
	// as canceled typed failures so every slot is accounted for.
	dispatched := 0
dispatch:
	for i := range emails {
		select {
		case jobs <- i:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	for i := dispatched; i < total; i++ {
		messageID := ""
		if emails[i] != nil {
			messageID = emails[i].MessageID
		}
		err := core.NewError("batch.process", messageID, core.KindCanceled, ctx.Err())
		result.Items[i].Status = core.BatchItemFailed
		result.Items[i].Err = err
		report(i, nil, err)
	}

	for i := range result.Items {
		switch result.Items[i].Status {
		case core.BatchItemDone:
			result.Succeeded++
		case core.BatchItemFailed:
			result.Failed++
		}
	}
	result.Elapsed = time.Since(start)

	c.logger.Info("Batch complete",
		zap.Int("total", total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", result.Elapsed))
	return result, nil
}

func (c *Coordinator) processOne(ctx context.Context, email *core.Email) (*core.TriageResult, error) {
	itemCtx, cancel := context.WithTimeout(ctx, c.opts.ItemTimeout)
	defer cancel()
	return c.svc.Triage(itemCtx, email)
}
