package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikey/llm-email-triage/internal/batch"
	"github.com/mikey/llm-email-triage/internal/config"
	"github.com/mikey/llm-email-triage/internal/core"
	"github.com/mikey/llm-email-triage/internal/di"
	"github.com/mikey/llm-email-triage/internal/factory"
	"github.com/mikey/llm-email-triage/internal/metrics"
	"github.com/mikey/llm-email-triage/internal/triage"
	"go.uber.org/zap"
)

var inputFile = flag.String("input", "", "Input file with one JSON email per line (use stdin if not specified)")

// inputEmail is the JSONL wire format for one message.
type inputEmail struct {
	MessageID  string              `json:"message_id"`
	From       string              `json:"from"`
	To         []string            `json:"to"`
	Subject    string              `json:"subject"`
	Body       string              `json:"body"`
	Headers    map[string][]string `json:"headers,omitempty"`
	ReceivedAt time.Time           `json:"received_at,omitempty"`
}

// outputResult is the JSONL wire format for one triage outcome.
type outputResult struct {
	MessageID      string   `json:"message_id"`
	Priority       string   `json:"priority"`
	Confidence     float64  `json:"confidence"`
	BasePriority   string   `json:"base_priority"`
	BaseConfidence float64  `json:"base_confidence"`
	Source         string   `json:"source"`
	FromCache      bool     `json:"from_cache"`
	Summary        string   `json:"summary,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Sentiment      string   `json:"sentiment,omitempty"`
	ActionItems    []string `json:"action_items,omitempty"`
	Blocked        bool     `json:"blocked,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func main() {
	flag.Parse()

	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	svc *triage.Service,
	coordinator *batch.Coordinator,
	generator core.TextGenerator,
	cacheRepo core.CacheRepository,
	stores *factory.TrustStores,
	recorder *metrics.Recorder,
) error {
	defer logger.Sync()

	// Cancel on SIGINT/SIGTERM; in-flight items finish or time out on
	// their own.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received signal, stopping dispatch", zap.String("signal", sig.String()))
		cancel()
	}()

	// Seed explicit sender overrides from configuration.
	trustCfg := cfg.GetTrust()
	for _, addr := range trustCfg.VIPSenders {
		if err := svc.Ledger().SetVIP(ctx, addr, true); err != nil {
			logger.Error("Failed to seed VIP sender", zap.String("sender", addr), zap.Error(err))
		}
	}
	for _, addr := range trustCfg.BlockedSenders {
		if err := svc.Ledger().SetBlocked(ctx, addr, true); err != nil {
			logger.Error("Failed to seed blocked sender", zap.String("sender", addr), zap.Error(err))
		}
	}

	emails, err := readEmails(*inputFile)
	if err != nil {
		logger.Error("Failed to read input", zap.Error(err))
		return err
	}
	logger.Info("Starting batch", zap.Int("emails", len(emails)))

	out := json.NewEncoder(os.Stdout)
	result, err := coordinator.Process(ctx, emails, func(index, total int, res *core.TriageResult, itemErr error) {
		line := outputResult{MessageID: emails[index].MessageID}
		if itemErr != nil {
			line.Error = itemErr.Error()
		} else {
			line.Priority = res.Priority.String()
			line.Confidence = res.Confidence
			line.BasePriority = res.BasePriority.String()
			line.BaseConfidence = res.BaseConfidence
			line.Source = string(res.Source)
			line.FromCache = res.FromCache
			line.Blocked = res.Blocked
			if res.Record != nil {
				line.Summary = res.Record.Summary
				line.Tags = res.Record.Tags
				line.Sentiment = res.Record.Sentiment
				line.ActionItems = res.Record.ActionItems
			}
		}
		if err := out.Encode(line); err != nil {
			logger.Error("Failed to write result", zap.Error(err))
		}
	})
	if err != nil {
		logger.Error("Batch failed", zap.Error(err))
		return err
	}

	stats := svc.Stats()
	logger.Info("Batch complete",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", result.Elapsed),
		zap.Uint64("cache_hits", stats.CacheHits),
		zap.Uint64("cache_misses", stats.CacheMisses),
		zap.Uint64("inference_calls", stats.InferenceCalls),
		zap.Uint64("heuristic_fallbacks", stats.HeuristicFallbacks),
		zap.Uint64("blocked", stats.Blocked))

	// Close any resources that need closing
	if closer, ok := generator.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close generator", zap.Error(err))
		}
	}
	if stopper, ok := cacheRepo.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	if closer, ok := stores.Profiles.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close trust store", zap.Error(err))
		}
	}
	recorder.Stop()

	logger.Info("Shutdown complete")
	return nil
}

// readEmails reads one JSON email per line from the given file, or
// stdin when no file is given. Blank lines are skipped.
func readEmails(path string) ([]*core.Email, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var emails []*core.Email
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var in inputEmail
		if err := json.Unmarshal(line, &in); err != nil {
			return nil, fmt.Errorf("failed to parse input line %d: %w", len(emails)+1, err)
		}
		received := in.ReceivedAt
		if received.IsZero() {
			received = time.Now()
		}
		emails = append(emails, &core.Email{
			MessageID:  in.MessageID,
			From:       in.From,
			To:         in.To,
			Subject:    in.Subject,
			Body:       in.Body,
			Headers:    in.Headers,
			ReceivedAt: received,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	return emails, nil
}
