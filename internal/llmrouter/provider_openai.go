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

const maxLLMResponseBytes = 4 << 20 // 4MiB

// OpenAIProvider speaks the OpenAI chat-completions wire format. OpenRouter
// proxies the same API, so one client serves both — only the name,
// BaseURL and default model differ between the two Register calls a
// deployment makes.
type OpenAIProvider struct {
	name       string
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// Name is the provider name Router.Register keys on, e.g. "openai" or
	// "openrouter".
	Name string
	// BaseURL defaults to the OpenAI API when empty.
	BaseURL      string
	APIKey       string
	DefaultModel string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// NewOpenAIProvider builds a provider against the OpenAI chat-completions
// endpoint, or any OpenAI-compatible proxy (OpenRouter, a local vLLM
// gateway) when cfg.BaseURL is overridden.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		name:       name,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
		httpClient: httputil.CopyHTTPClientWithTimeout(cfg.HTTPClient, timeout, false),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name string `json:"name"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends req to the chat-completions endpoint and normalizes the
// first choice into a Response.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	body := chatCompletionRequest{
		Model:       p.model,
		Temperature: req.Temperature,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	for _, toolName := range req.Tools {
		body.Tools = append(body.Tools, chatTool{Type: "function", Function: toolFunction{Name: toolName}})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, kerrors.Internal("marshal llm request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, kerrors.Internal("build llm request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, kerrors.Timeout(p.name + ".complete")
		}
		return nil, kerrors.ExternalAPIError(p.name, err)
	}
	defer resp.Body.Close()

	respBody, err := httputil.ReadAllStrict(resp.Body, maxLLMResponseBytes)
	if err != nil {
		return nil, kerrors.ExternalAPIError(p.name, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, kerrors.RateLimitExceeded(0, "provider")
	case resp.StatusCode == http.StatusRequestTimeout:
		return nil, kerrors.Timeout(p.name + ".complete")
	case resp.StatusCode >= 400:
		return nil, kerrors.ExternalAPIError(p.name, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, kerrors.ExternalAPIError(p.name, fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, kerrors.ExternalAPIError(p.name, fmt.Errorf("no choices returned"))
	}

	choice := parsed.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			args = map[string]interface{}{}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{Name: tc.Function.Name, Args: args})
	}
	return out, nil
}
