// Package bedrock implements core.TextGenerator using Amazon Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

// Generator invokes a Bedrock model.
type Generator struct {
	client  *bedrockruntime.Client
	modelID string
	topP    float32
	logger  *zap.Logger
}

// NewGenerator creates a Bedrock generator.
func NewGenerator(client *bedrockruntime.Client, modelID string, topP float32, logger *zap.Logger) *Generator {
	return &Generator{client: client, modelID: modelID, topP: topP, logger: logger}
}

// ModelVersion identifies this generator in cache keys.
func (g *Generator) ModelVersion() string {
	return "bedrock/" + g.modelID
}

// Generate invokes the model with a payload shaped for its family and
// extracts the completion text.
func (g *Generator) Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.Generation, error) {
	var payload []byte
	var err error

	switch {
	case g.isAnthropicModel():
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":               prompt,
			"max_tokens_to_sample": opts.MaxTokens,
			"temperature":          opts.Temperature,
			"top_p":                g.topP,
		})
	case g.isAmazonTitanModel():
		payload, err = json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": opts.MaxTokens,
				"temperature":   opts.Temperature,
				"topP":          g.topP,
			},
		})
	default:
		payload, err = json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  opts.MaxTokens,
			"temperature": opts.Temperature,
			"top_p":       g.topP,
		})
	}
	if err != nil {
		return nil, core.NewError("bedrock.generate", "", core.KindInternal, err)
	}

	start := time.Now()
	resp, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     &g.modelID,
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, core.NewError("bedrock.generate", "", classifyError(err), err)
	}
	elapsed := time.Since(start)

	text, err := g.extractText(resp.Body)
	if err != nil {
		return nil, core.NewError("bedrock.generate", "", core.KindMalformed, err)
	}

	gen := &core.Generation{Text: text}
	if elapsed > 0 {
		// Bedrock does not report token counts on InvokeModel; estimate
		// from the response length at roughly four bytes per token.
		gen.TokensPerSec = float64(len(text)) / 4 / elapsed.Seconds()
	}
	return gen, nil
}

// extractText parses the response body per model family.
func (g *Generator) extractText(body []byte) (string, error) {
	switch {
	case g.isAnthropicModel():
		var claudeResp struct {
			Completion string `json:"completion"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		return claudeResp.Completion, nil
	case g.isAmazonTitanModel():
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(titanResp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return titanResp.Results[0].OutputText, nil
	default:
		var genericResp struct {
			Output   string `json:"output"`
			Text     string `json:"text"`
			Response string `json:"response"`
		}
		if err := json.Unmarshal(body, &genericResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
		}
		switch {
		case genericResp.Output != "":
			return genericResp.Output, nil
		case genericResp.Text != "":
			return genericResp.Text, nil
		case genericResp.Response != "":
			return genericResp.Response, nil
		default:
			return string(body), nil
		}
	}
}

func (g *Generator) isAnthropicModel() bool {
	return strings.HasPrefix(g.modelID, "anthropic.claude")
}

func (g *Generator) isAmazonTitanModel() bool {
	return strings.HasPrefix(g.modelID, "amazon.titan")
}

// classifyError maps SDK failures to the pipeline's error taxonomy.
func classifyError(err error) core.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.KindTransient
	}
	msg := err.Error()
	if strings.Contains(msg, "ThrottlingException") || strings.Contains(msg, "ServiceUnavailable") {
		return core.KindTransient
	}
	return core.KindUnavailable
}
