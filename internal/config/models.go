package config

import "time"

// LLMConfig represents the shared configuration for the LLM provider
type LLMConfig struct {
	Provider     string
	MaxTokens    int
	Temperature  float32
	MaxRetries   int
	RetryBackoff time.Duration
	CallTimeout  time.Duration
}

// OllamaConfig represents the configuration for a local Ollama instance
type OllamaConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey    string
	ModelName string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region  string
	ModelID string
	TopP    float32
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey    string
	ModelName string
	TopP      float32
}

// TrustConfig represents the learning tunables for the sender ledger
type TrustConfig struct {
	CorrectionDelta  float64
	ImportanceSeed   float64
	AdjustmentWindow time.Duration
	VIPSenders       []string
	BlockedSenders   []string
}

// ResolverConfig represents the priority resolution tunables
type ResolverConfig struct {
	HighImportance  float64
	LowImportance   float64
	MinCorrections  int
	ConfidenceNudge float64
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	backoff, err := c.GetDuration("llm.retry_backoff")
	if err != nil {
		backoff = 500 * time.Millisecond
	}
	timeout, err := c.GetDuration("llm.call_timeout")
	if err != nil {
		timeout = 60 * time.Second
	}
	return LLMConfig{
		Provider:     c.GetString("llm.provider"),
		MaxTokens:    c.GetInt("llm.max_tokens"),
		Temperature:  float32(c.GetFloat64("llm.temperature")),
		MaxRetries:   c.GetInt("llm.max_retries"),
		RetryBackoff: backoff,
		CallTimeout:  timeout,
	}
}

// GetOllama returns the Ollama configuration
func (c *Config) GetOllama() OllamaConfig {
	timeout, err := c.GetDuration("ollama.timeout")
	if err != nil {
		timeout = 120 * time.Second
	}
	return OllamaConfig{
		Endpoint: c.GetString("ollama.endpoint"),
		Model:    c.GetString("ollama.model"),
		Timeout:  timeout,
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:    c.GetString("openai.api_key"),
		ModelName: c.GetString("openai.model_name"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:  c.GetString("bedrock.region"),
		ModelID: c.GetString("bedrock.model_id"),
		TopP:    float32(c.GetFloat64("bedrock.top_p")),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:    c.GetString("gemini.api_key"),
		ModelName: c.GetString("gemini.model_name"),
		TopP:      float32(c.GetFloat64("gemini.top_p")),
	}
}

// GetTrust returns the trust ledger configuration
func (c *Config) GetTrust() TrustConfig {
	window, err := c.GetDuration("trust.adjustment_window")
	if err != nil {
		window = 30 * 24 * time.Hour
	}
	return TrustConfig{
		CorrectionDelta:  c.GetFloat64("trust.correction_delta"),
		ImportanceSeed:   c.GetFloat64("trust.importance_seed"),
		AdjustmentWindow: window,
		VIPSenders:       c.GetStringSlice("trust.vip_senders"),
		BlockedSenders:   c.GetStringSlice("trust.blocked_senders"),
	}
}

// GetResolver returns the resolver configuration
func (c *Config) GetResolver() ResolverConfig {
	return ResolverConfig{
		HighImportance:  c.GetFloat64("resolver.high_importance"),
		LowImportance:   c.GetFloat64("resolver.low_importance"),
		MinCorrections:  c.GetInt("resolver.min_corrections"),
		ConfidenceNudge: c.GetFloat64("resolver.confidence_nudge"),
	}
}
