// Package llmrouter routes agent-graph LLM calls to a named provider chosen
// by task type, retrying retryable failures with jittered backoff and
// falling back to a configured local provider when the primary is
// exhausted, the way infrastructure/fallback.Handler already does for the
// teacher's service-to-service calls.
package llmrouter

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/infrastructure/fallback"
	"github.com/kira-host/kira/infrastructure/logging"
	"github.com/kira-host/kira/infrastructure/ratelimit"
	"github.com/kira-host/kira/infrastructure/resilience"
)

// TaskType selects which provider a Completion request routes to.
type TaskType string

const (
	TaskPlanning    TaskType = "planning"
	TaskStructuring TaskType = "structuring"
	TaskDefault     TaskType = "default"
)

// staleResponseTTL bounds how long a last-good completion per task type
// stays eligible to serve in place of an error once every provider
// (primary and local fallback) has failed.
const staleResponseTTL = 5 * time.Minute

// ToolCall is one tool invocation an LLM response asked for.
type ToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized shape every provider returns, regardless of
// its wire format.
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
	Usage        Usage      `json:"usage"`
}

// Request is what the agent graph hands the router for one LLM call.
type Request struct {
	TaskType    TaskType
	Messages    []Message
	Tools       []string
	Temperature float64
}

// Message is one turn of conversation handed to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is one addressable LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Config wires providers to task types and bounds retry/fallback behavior.
type Config struct {
	PlanningProvider    string
	StructuringProvider string
	DefaultProvider     string
	EnableLocalFallback bool
	LocalFallback       Provider
	MaxRetries          int
	RateLimit           ratelimit.RateLimitConfig
	Logger              *logging.Logger
}

// Router dispatches completion requests to the provider configured for the
// request's task type, retrying retryable errors with backoff+jitter and
// falling back to a local provider when the primary stays down.
type Router struct {
	providers  map[string]Provider
	taskRoute  map[TaskType]string
	fallback   *fallback.Handler
	local      Provider
	useLocal   bool
	limiter    *ratelimit.RateLimiter
	maxRetries int
	log        *logging.Logger
}

// New constructs a Router. Providers must be registered with Register before
// Complete can route to them.
func New(cfg Config) *Router {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewFromEnv("llmrouter")
	}

	return &Router{
		providers: make(map[string]Provider),
		taskRoute: map[TaskType]string{
			TaskPlanning:    cfg.PlanningProvider,
			TaskStructuring: cfg.StructuringProvider,
			TaskDefault:     cfg.DefaultProvider,
		},
		fallback: fallback.NewHandler(fallback.Config{
			MaxAttempts: 2,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.2,
		}),
		local:      cfg.LocalFallback,
		useLocal:   cfg.EnableLocalFallback && cfg.LocalFallback != nil,
		limiter:    ratelimit.New(cfg.RateLimit),
		maxRetries: maxRetries,
		log:        log,
	}
}

// Register adds or replaces a named provider.
func (r *Router) Register(p Provider) {
	r.providers[p.Name()] = p
}

// HasProviderFor reports whether a provider is registered for the given
// task type (falling back to the default route, the same resolution
// Complete uses), without making any call. Used by doctor-style health
// checks that must stay read-only.
func (r *Router) HasProviderFor(t TaskType) bool {
	name := r.taskRoute[t]
	if name == "" {
		name = r.taskRoute[TaskDefault]
	}
	_, ok := r.providers[name]
	return ok
}

// Complete routes req to the provider configured for req.TaskType, retrying
// retryable errors (rate limit, timeout) with backoff+jitter up to
// MaxRetries, then — if a local fallback provider is configured — routing
// one further attempt to it. Non-retryable errors (invalid request, auth
// failure) surface immediately without consuming a retry.
func (r *Router) Complete(ctx context.Context, req Request) (*Response, error) {
	name := r.taskRoute[req.TaskType]
	if name == "" {
		name = r.taskRoute[TaskDefault]
	}
	provider, ok := r.providers[name]
	if !ok {
		return nil, kerrors.NotFound("llm_provider", name)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, kerrors.Timeout("llm_router.rate_limit_wait")
	}

	cacheKey := string(req.TaskType)
	traceID := logging.GetTraceID(ctx)
	start := time.Now()
	resp, err := r.callWithRetry(ctx, provider, req)
	if err == nil {
		r.log.LogRouterCall(traceID, name, string(req.TaskType), time.Since(start), nil)
		r.fallback.SetCache(cacheKey, resp, staleResponseTTL)
		return resp, nil
	}
	if !isRetryable(err) {
		return nil, err
	}
	if !r.useLocal {
		r.log.LogRouterCall(traceID, name, string(req.TaskType), time.Since(start), err)
		if cached, ok := r.fallback.GetCache(cacheKey); ok {
			r.log.WithTraceID(traceID).WithField("task_type", string(req.TaskType)).
				Warn("serving stale cached completion after provider failure")
			return cached.(*Response), nil
		}
		return nil, kerrors.ExternalAPIError(name, err)
	}

	// The primary already exhausted its retries; run it through
	// fallback.Handler purely to get its jittered inter-attempt delay before
	// the single configured local-provider attempt, without re-invoking the
	// (already-failed) primary a second time.
	result := r.fallback.Execute(ctx,
		func(context.Context) (interface{}, error) { return nil, err },
		func(ctx context.Context) (interface{}, error) { return r.local.Complete(ctx, req) },
	)
	r.log.LogRouterCall(traceID, r.local.Name(), string(req.TaskType), time.Since(start), result.Err)
	if result.Err != nil {
		if cached, ok := r.fallback.GetCache(cacheKey); ok {
			r.log.WithTraceID(traceID).WithField("task_type", string(req.TaskType)).
				Warn("serving stale cached completion after primary and local fallback failure")
			return cached.(*Response), nil
		}
		return nil, kerrors.ExternalAPIError(name, result.Err)
	}
	resp = result.Value.(*Response)
	r.fallback.SetCache(cacheKey, resp, staleResponseTTL)
	return resp, nil
}

// callWithRetry retries provider.Complete with backoff+jitter on retryable
// errors; a non-retryable error short-circuits via backoff.Permanent, which
// cenkalti/backoff unwraps back to the original error before returning.
func (r *Router) callWithRetry(ctx context.Context, provider Provider, req Request) (*Response, error) {
	var resp *Response
	err := resilience.Retry(ctx, resilience.RetryConfig{
		MaxAttempts:  r.maxRetries,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}, func() error {
		out, err := provider.Complete(ctx, req)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = out
		return nil
	})
	return resp, err
}

// isRetryable reports whether err represents a transient provider failure
// (rate limit, timeout, generic external-API hiccup) worth retrying, as
// opposed to a request the provider will reject every time.
func isRetryable(err error) bool {
	se := kerrors.GetServiceError(err)
	if se == nil {
		return false
	}
	switch se.Code {
	case kerrors.ErrCodeRateLimitExceeded, kerrors.ErrCodeTimeout, kerrors.ErrCodeExternalAPI:
		return true
	default:
		return false
	}
}
