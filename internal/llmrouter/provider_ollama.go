package llmrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/infrastructure/httputil"
)

// OllamaProvider talks to a local Ollama daemon. It is the provider
// deployments register as Config.LocalFallback: when every remote provider
// is down, the router's last attempt lands here instead of failing the
// whole agent turn.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// OllamaConfig configures an OllamaProvider.
type OllamaConfig struct {
	// BaseURL defaults to the Ollama daemon's standard local address.
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// NewOllamaProvider builds a provider against a local Ollama daemon.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "llama2"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		// Local models on modest hardware run slower than hosted ones.
		timeout = 120 * time.Second
	}
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httputil.CopyHTTPClientWithTimeout(cfg.HTTPClient, timeout, false),
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaRequest struct {
	Model  string  `json:"model"`
	Prompt string  `json:"prompt"`
	Stream bool    `json:"stream"`
	Options struct {
		Temperature float64 `json:"temperature,omitempty"`
	} `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete flattens req.Messages into a single prompt (Ollama's /api/generate
// endpoint, unlike the hosted chat APIs, takes one prompt string rather than
// a role-tagged transcript) and calls the local daemon with streaming off so
// the whole reply comes back in one response body.
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	var prompt strings.Builder
	for _, m := range req.Messages {
		fmt.Fprintf(&prompt, "%s: %s\n", m.Role, m.Content)
	}

	body := ollamaRequest{Model: p.model, Prompt: prompt.String(), Stream: false}
	body.Options.Temperature = req.Temperature

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, kerrors.Internal("marshal llm request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, kerrors.Internal("build llm request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, kerrors.Timeout("ollama.complete")
		}
		return nil, kerrors.ExternalAPIError("ollama", err)
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadAllStrict(resp.Body, maxLLMResponseBytes)
	if err != nil {
		return nil, kerrors.ExternalAPIError("ollama", err)
	}
	if resp.StatusCode >= 400 {
		return nil, kerrors.ExternalAPIError("ollama", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, kerrors.ExternalAPIError("ollama", fmt.Errorf("decode response: %w", err))
	}

	return &Response{
		Content:      parsed.Response,
		FinishReason: "stop",
		Usage: Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}
