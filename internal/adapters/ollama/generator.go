// Package ollama implements core.TextGenerator against a local Ollama
// instance.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

// Generator calls Ollama's generate endpoint.
type Generator struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *zap.Logger
}

// NewGenerator creates a generator for the given endpoint and model.
func NewGenerator(endpoint, model string, timeout time.Duration, logger *zap.Logger) *Generator {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Generator{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// ModelVersion identifies this generator in cache keys.
func (g *Generator) ModelVersion() string {
	return "ollama/" + g.model
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options"`
}

type generateResponse struct {
	Response     string `json:"response"`
	EvalCount    int    `json:"eval_count"`
	EvalDuration int64  `json:"eval_duration"` // nanoseconds
}

// Generate sends a prompt to the local service. An unreachable service
// fails fast as Unavailable so the caller can fall back to the
// heuristic path; timeouts and server errors come back as Transient.
func (g *Generator) Generate(ctx context.Context, prompt string, opts core.GenerateOptions) (*core.Generation, error) {
	body, err := json.Marshal(generateRequest{
		Model:  g.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": opts.Temperature,
			"num_predict": opts.MaxTokens,
		},
	})
	if err != nil {
		return nil, core.NewError("ollama.generate", "", core.KindInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, core.NewError("ollama.generate", "", core.KindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, core.NewError("ollama.generate", "", classifyTransportError(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := core.KindTransient
		if resp.StatusCode == http.StatusNotFound {
			kind = core.KindUnavailable
		}
		return nil, core.NewError("ollama.generate", "", kind,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewError("ollama.generate", "", core.KindTransient, err)
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, core.NewError("ollama.generate", "", core.KindMalformed, err)
	}

	gen := &core.Generation{Text: out.Response}
	if out.EvalDuration > 0 {
		gen.TokensPerSec = float64(out.EvalCount) / (float64(out.EvalDuration) / float64(time.Second))
	}
	return gen, nil
}

// classifyTransportError separates "service is down" from "try again".
func classifyTransportError(err error) core.ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.KindTransient
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		// Connection refused means nothing is listening.
		return core.KindUnavailable
	}
	return core.KindUnavailable
}
