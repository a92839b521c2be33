package di

import (
	"flag"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/llm-email-triage/internal/adapters/store"
	"github.com/mikey/llm-email-triage/internal/analyzer"
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

// CLIFlags contains all command line flags for the CLI application
type CLIFlags struct {
	// LLM provider flags
	Provider    string
	MaxTokens   int
	Temperature float64
	MaxBodySize int

	// Ollama flags
	OllamaEndpoint string
	OllamaModel    string

	// Bedrock flags
	BedrockRegion  string
	BedrockModelID string

	// Gemini flags
	GeminiAPIKey    string
	GeminiModelName string

	// OpenAI flags
	OpenAIAPIKey    string
	OpenAIModelName string

	// Input flags
	InputFile  string
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	flags := &CLIFlags{}

	// LLM provider flags
	flag.StringVar(&flags.Provider, "provider", "ollama", "LLM provider (ollama, openai, bedrock, gemini)")
	flag.IntVar(&flags.MaxTokens, "max-tokens", 1000, "Maximum tokens for LLM response")
	flag.Float64Var(&flags.Temperature, "temperature", 0.1, "Temperature for LLM generation")
	flag.IntVar(&flags.MaxBodySize, "max-body-size", 4096, "Maximum email body size to send to LLM")

	// Ollama flags
	flag.StringVar(&flags.OllamaEndpoint, "ollama-endpoint", "http://localhost:11434", "Ollama API endpoint")
	flag.StringVar(&flags.OllamaModel, "ollama-model", "llama3", "Ollama model name")

	// Bedrock flags
	flag.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	flag.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-v2", "Bedrock model ID")

	// Gemini flags
	flag.StringVar(&flags.GeminiAPIKey, "gemini-api-key", "", "API key for Google Gemini")
	flag.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-pro", "Gemini model name")

	// OpenAI flags
	flag.StringVar(&flags.OpenAIAPIKey, "openai-api-key", "", "API key for OpenAI")
	flag.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4", "OpenAI model name")

	// Input flags
	flag.StringVar(&flags.InputFile, "file", "", "Input email file (use stdin if not specified)")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides command line flags)")

	flag.Parse()
	return flags
}

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.New()
			if err != nil {
				return nil, err
			}
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}

		// Create config from command line flags
		return createConfigFromFlags(flags), nil
	}); err != nil {
		return nil, err
	}

	// Register LLM factory
	if err := container.Provide(factory.NewLLMFactory); err != nil {
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
		logger *zap.Logger,
		cfg *config.Config,
	) core.Analyzer {
		llm := cfg.GetLLM()
		return analyzer.New(gen, metrics.Nop{}, logger, analyzer.Options{
			MaxTokens:    llm.MaxTokens,
			Temperature:  llm.Temperature,
			MaxRetries:   llm.MaxRetries,
			RetryBackoff: llm.RetryBackoff,
			CallTimeout:  llm.CallTimeout,
		})
	}); err != nil {
		return nil, err
	}

	// Register in-memory trust ledger
	if err := container.Provide(func(logger *zap.Logger, cfg *config.Config) *trust.Ledger {
		s := store.NewMemoryStore()
		t := cfg.GetTrust()
		return trust.NewLedger(s, s, logger, trust.Config{
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
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (core.Sanitizer, error) {
		return sanitize.New(nil, flags.MaxBodySize, logger)
	}); err != nil {
		return nil, err
	}

	// Register triage service with no cache
	if err := container.Provide(func(
		an core.Analyzer,
		ledger *trust.Ledger,
		res *resolver.Resolver,
		quick *heuristic.Classifier,
		san core.Sanitizer,
		logger *zap.Logger,
	) *triage.Service {
		return triage.NewService(
			an,
			nil, // No cache for CLI
			ledger,
			res,
			quick,
			san,
			metrics.Nop{},
			logger,
			triage.Options{CacheEnabled: false, InferenceWorkers: 1},
		)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	// Set some cli specific settings
	v.Set("cli.verbose", flags.Verbose)

	// Set LLM provider
	v.Set("llm.provider", flags.Provider)
	v.Set("llm.max_tokens", flags.MaxTokens)
	v.Set("llm.temperature", flags.Temperature)
	v.Set("pipeline.max_body_size", flags.MaxBodySize)

	// Set provider-specific configuration
	switch flags.Provider {
	case "ollama":
		v.Set("ollama.endpoint", flags.OllamaEndpoint)
		v.Set("ollama.model", flags.OllamaModel)
	case "bedrock":
		v.Set("bedrock.region", flags.BedrockRegion)
		v.Set("bedrock.model_id", flags.BedrockModelID)
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
		v.Set("gemini.model_name", flags.GeminiModelName)
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
		v.Set("openai.model_name", flags.OpenAIModelName)
	}

	return config.NewFromViper(v)
}
