// Package openai implements core.TextGenerator using the OpenAI chat
// completion API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mikey/llm-email-triage/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Generator calls OpenAI chat completions.
type Generator struct {
	client    *openai.Client
	modelName string
	logger    *zap.Logger
}

// NewGenerator creates an OpenAI generator.
func NewGenerator(apiKey, modelName string, logger *zap.Logger) *Generator {
	return &Generator{
		client:    openai.NewClient(apiKey),
		modelName: modelName,
		logger:    logger,
	}
}

// ModelVersion identifies this generator in cache keys.
func (g *Generator) ModelVersion() string {
	return "openai/" + g.modelName
}

// Generate sends a prompt and returns the completion text with
// measured throughput.
func (g *Generator) Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.Generation, error) {
	req := openai.ChatCompletionRequest{
		Model: g.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are an email triage assistant. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, core.NewError("openai.generate", "", classifyError(err), err)
	}
	elapsed := time.Since(start)

	if len(resp.Choices) == 0 {
		return nil, core.NewError("openai.generate", "", core.KindMalformed,
			fmt.Errorf("empty response from OpenAI"))
	}

	gen := &core.Generation{Text: resp.Choices[0].Message.Content}
	if elapsed > 0 && resp.Usage.CompletionTokens > 0 {
		gen.TokensPerSec = float64(resp.Usage.CompletionTokens) / elapsed.Seconds()
	}
	return gen, nil
}

// classifyError maps API failures to the pipeline's error taxonomy.
func classifyError(err error) core.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.KindTransient
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return core.KindTransient
		case apiErr.HTTPStatusCode >= 500:
			return core.KindTransient
		default:
			return core.KindUnavailable
		}
	}
	return core.KindUnavailable
}
