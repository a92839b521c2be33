// Package gemini implements core.TextGenerator using Google Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Generator calls the Gemini generate API.
type Generator struct {
	client    *genai.Client
	modelName string
	topP      float32
	logger    *zap.Logger
}

// NewGenerator creates a Gemini generator.
func NewGenerator(ctx context.Context, apiKey, modelName string, topP float32, logger *zap.Logger) (*Generator, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Generator{client: client, modelName: modelName, topP: topP, logger: logger}, nil
}

// ModelVersion identifies this generator in cache keys.
func (g *Generator) ModelVersion() string {
	return "gemini/" + g.modelName
}

// Generate sends a prompt and returns the completion text with
// measured throughput.
func (g *Generator) Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.Generation, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(opts.Temperature)
	model.SetTopP(g.topP)
	model.SetMaxOutputTokens(int32(opts.MaxTokens))

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		kind := core.KindUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = core.KindTransient
		}
		return nil, core.NewError("gemini.generate", "", kind, err)
	}
	elapsed := time.Since(start)

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, core.NewError("gemini.generate", "", core.KindMalformed,
			fmt.Errorf("empty response from Gemini"))
	}

	gen := &core.Generation{Text: fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])}
	if resp.UsageMetadata != nil && elapsed > 0 {
		gen.TokensPerSec = float64(resp.UsageMetadata.CandidatesTokenCount) / elapsed.Seconds()
	}
	return gen, nil
}

// Close closes the underlying client.
func (g *Generator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
