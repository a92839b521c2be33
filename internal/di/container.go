package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/llm-email-triage/internal/analyzer"
	"github.com/mikey/llm-email-triage/internal/batch"
	"github.com/mikey/llm-email-triage/internal/config"
	"github.com/mikey/llm-email-triage/internal/core"
	"github.com/mikey/llm-email-triage/internal/factory"
	"github.com/mikey/llm-email-triage/internal/heuristic"
	"github.com/mikey/llm-email-triage/internal/logging"
	"github.com/mikey/llm-email-triage/internal/metrics"
	"github.com/mikey/llm-email-triage/internal/resolver"
	"github.com/mikey/llm-email-triage/internal/sanitize"
	"github.com/mikey/llm-email-triage/internal/triage"
	"github.com/mikey/llm-email-triage/internal/trust"
)

// BuildContainer creates and configures a dependency injection container
func BuildContainer() (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(config.New); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	// Register metrics recorder
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *metrics.Recorder {
		return metrics.NewRecorder(cfg.GetInt("metrics.buffer_size"), logger)
	}); err != nil {
		return nil, err
	}
	if err := container.Provide(func(r *metrics.Recorder) core.MetricsSink {
		return r
	}); err != nil {
		return nil, err
	}

	// Register factories
	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewCacheFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewStoreFactory); err != nil {
		return nil, err
	}

	// Register text generator
	if err := container.Provide(func(f *factory.LLMFactory) (core.TextGenerator, error) {
		return f.CreateGenerator()
	}); err != nil {
		return nil, err
	}

	// Register analyzer
	if err := container.Provide(func(
		gen core.TextGenerator,
		sink core.MetricsSink,
		logger *zap.Logger,
		cfg *config.Config,
	) core.Analyzer {
		llm := cfg.GetLLM()
		return analyzer.New(gen, sink, logger, analyzer.Options{
			MaxTokens:    llm.MaxTokens,
			Temperature:  llm.Temperature,
			MaxRetries:   llm.MaxRetries,
			RetryBackoff: llm.RetryBackoff,
			CallTimeout:  llm.CallTimeout,
		})
	}); err != nil {
		return nil, err
	}

	// Register cache repository
	if err := container.Provide(func(f *factory.CacheFactory) (core.CacheRepository, error) {
		return f.CreateCacheRepository()
	}); err != nil {
		return nil, err
	}

	// Register trust stores
	if err := container.Provide(func(f *factory.StoreFactory) (*factory.TrustStores, error) {
		return f.CreateTrustStores()
	}); err != nil {
		return nil, err
	}

	// Register trust ledger
	if err := container.Provide(func(
		stores *factory.TrustStores,
		logger *zap.Logger,
		cfg *config.Config,
	) *trust.Ledger {
		t := cfg.GetTrust()
		return trust.NewLedger(stores.Profiles, stores.Corrections, logger, trust.Config{
			CorrectionDelta:  t.CorrectionDelta,
			ImportanceSeed:   t.ImportanceSeed,
			AdjustmentWindow: t.AdjustmentWindow,
		})
	}); err != nil {
		return nil, err
	}

	// Register priority resolver
	if err := container.Provide(func(cfg *config.Config) (*resolver.Resolver, error) {
		r := cfg.GetResolver()
		return resolver.New(resolver.Config{
			HighImportance:  r.HighImportance,
			LowImportance:   r.LowImportance,
			MinCorrections:  r.MinCorrections,
			ConfidenceNudge: r.ConfidenceNudge,
		})
	}); err != nil {
		return nil, err
	}

	// Register quick classifier
	if err := container.Provide(func() *heuristic.Classifier {
		return heuristic.New(heuristic.DefaultRules())
	}); err != nil {
		return nil, err
	}

	// Register sanitizer
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (core.Sanitizer, error) {
		return sanitize.New(
			cfg.GetStringSlice("security.patterns"),
			cfg.GetInt("pipeline.max_body_size"),
			logger,
		)
	}); err != nil {
		return nil, err
	}

	// Register triage service
	if err := container.Provide(func(
		an core.Analyzer,
		cacheRepo core.CacheRepository,
		ledger *trust.Ledger,
		res *resolver.Resolver,
		quick *heuristic.Classifier,
		san core.Sanitizer,
		sink core.MetricsSink,
		logger *zap.Logger,
		cfg *config.Config,
		cacheFactory *factory.CacheFactory,
	) (*triage.Service, error) {
		queueTimeout, err := cfg.GetDuration("pipeline.queue_timeout")
		if err != nil {
			return nil, err
		}
		return triage.NewService(an, cacheRepo, ledger, res, quick, san, sink, logger, triage.Options{
			CacheEnabled:     cacheFactory.IsCacheEnabled(),
			InferenceWorkers: cfg.GetInt("pipeline.inference_workers"),
			QueueTimeout:     queueTimeout,
		}), nil
	}); err != nil {
		return nil, err
	}

	// Register batch coordinator
	if err := container.Provide(func(
		svc *triage.Service,
		logger *zap.Logger,
		cfg *config.Config,
	) (*batch.Coordinator, error) {
		itemTimeout, err := cfg.GetDuration("batch.item_timeout")
		if err != nil {
			return nil, err
		}
		return batch.NewCoordinator(svc, logger, batch.Options{
			Workers:     cfg.GetInt("batch.workers"),
			ItemTimeout: itemTimeout,
		}), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}
