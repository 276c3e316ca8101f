package llmrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/infrastructure/httputil"
)

// AnthropicProvider speaks the Anthropic Messages API, which replies with a
// list of content blocks and a stop_reason rather than OpenAI's
// choices/finish_reason shape.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	BaseURL      string
	APIKey       string
	DefaultModel string
	MaxTokens    int
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// NewAnthropicProvider builds a provider against the Anthropic Messages API.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &AnthropicProvider{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: httputil.CopyHTTPClientWithTimeout(cfg.HTTPClient, timeout, false),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends req to the Messages API, pulling any leading "system" role
// message out into the top-level system field Anthropic expects.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	body := anthropicRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		if m.Role == "system" {
			if body.System != "" {
				body.System += "\n"
			}
			body.System += m.Content
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, kerrors.Internal("marshal llm request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, kerrors.Internal("build llm request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, kerrors.Timeout("anthropic.complete")
		}
		return nil, kerrors.ExternalAPIError("anthropic", err)
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadAllStrict(resp.Body, maxLLMResponseBytes)
	if err != nil {
		return nil, kerrors.ExternalAPIError("anthropic", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, kerrors.RateLimitExceeded(0, "provider")
	case resp.StatusCode == http.StatusRequestTimeout:
		return nil, kerrors.Timeout("anthropic.complete")
	case resp.StatusCode >= 400:
		return nil, kerrors.ExternalAPIError("anthropic", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, kerrors.ExternalAPIError("anthropic", fmt.Errorf("decode response: %w", err))
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Content:      text,
		FinishReason: parsed.StopReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}
