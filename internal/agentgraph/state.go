// Package agentgraph runs the deterministic agent state machine: plan,
// validate, check policy, execute tools, optionally reflect and verify, then
// respond in natural language. Every transition is a pure function over
// *AgentState so the graph itself stays a thin driver loop.
package agentgraph

import (
	"time"

	"github.com/kira-host/kira/internal/config"
)

// Budget bounds one graph run and tracks consumption against that bound.
type Budget struct {
	MaxSteps       int     `json:"max_steps"`
	StepsUsed      int     `json:"steps_used"`
	MaxTokens      int     `json:"max_tokens"`
	TokensUsed     int     `json:"tokens_used"`
	MaxWallTime    float64 `json:"max_wall_time_seconds"`
	WallTimeUsed   float64 `json:"wall_time_used"`
}

// DefaultBudget matches spec defaults: 10 steps, 10000 tokens, 300s.
func DefaultBudget() Budget {
	return Budget{MaxSteps: 10, MaxTokens: 10000, MaxWallTime: 300}
}

// BudgetFromConfig builds a Budget from the resolved agent config.
func BudgetFromConfig(c config.AgentBudget) Budget {
	b := DefaultBudget()
	if c.MaxSteps > 0 {
		b.MaxSteps = c.MaxSteps
	}
	if c.MaxTokens > 0 {
		b.MaxTokens = c.MaxTokens
	}
	if c.MaxWallTimeSecond > 0 {
		b.MaxWallTime = float64(c.MaxWallTimeSecond)
	}
	return b
}

// IsExceeded is true when any single dimension has reached its limit.
func (b Budget) IsExceeded() bool {
	return b.StepsUsed >= b.MaxSteps || b.TokensUsed >= b.MaxTokens || b.WallTimeUsed >= b.MaxWallTime
}

// ContextFlags toggles optional graph behavior.
type ContextFlags struct {
	DryRun              bool `json:"dry_run"`
	RequireConfirmation bool `json:"require_confirmation"`
	EnableReflection    bool `json:"enable_reflection"`
	EnableVerification  bool `json:"enable_verification"`
	HaltOnError         bool `json:"halt_on_error"`
}

// DefaultFlags matches spec defaults: reflection and verification on,
// confirmation and dry-run off, halt on the first tool error.
func DefaultFlags() ContextFlags {
	return ContextFlags{EnableReflection: true, EnableVerification: true, HaltOnError: true}
}

// FlagsFromConfig builds ContextFlags from the resolved agent config.
func FlagsFromConfig(c config.AgentFlags) ContextFlags {
	return ContextFlags{
		DryRun:              c.DryRun,
		RequireConfirmation: c.RequireConfirmation,
		EnableReflection:    c.EnableReflection,
		EnableVerification:  c.EnableVerification,
		HaltOnError:         true,
	}
}

// Message is one turn in the conversation driving this run.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PlanStep is one tool invocation the plan node produced.
type PlanStep struct {
	Tool   string                 `json:"tool"`
	Args   map[string]interface{} `json:"args"`
	DryRun bool                   `json:"dry_run,omitempty"`
}

// ToolResult is one step's outcome, appended to AgentState.ToolResults in
// step order regardless of success or failure.
type ToolResult struct {
	Tool   string                 `json:"tool"`
	Status string                 `json:"status"` // "ok" or "error"
	Data   map[string]interface{} `json:"data,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Step   int                    `json:"step"`
}

const (
	StatusPending   = "pending"
	StatusPlanned   = "planned"
	StatusExecuting = "executing"
	StatusReflected = "reflected"
	StatusVerified  = "verified"
	StatusResponded = "responded"
	StatusError     = "error"
)

// AgentState is the full mutable record one graph run threads through every
// node. Node transitions are strictly sequential; nothing here is read or
// written concurrently.
type AgentState struct {
	TraceID     string       `json:"trace_id"`
	User        string       `json:"user"`
	SessionID   string       `json:"session_id"`
	Messages    []Message    `json:"messages"`
	Plan        []PlanStep   `json:"plan"`
	CurrentStep int          `json:"current_step"`
	Status      string       `json:"status"`
	Budget      Budget       `json:"budget"`
	Flags       ContextFlags `json:"flags"`
	ToolResults []ToolResult `json:"tool_results"`
	Error       *string      `json:"error,omitempty"`
	RetryCount  int          `json:"retry_count"`
	Response    string       `json:"response,omitempty"`

	startedAt time.Time // wall-clock start, set by Graph.Run; zero until then
}

// New constructs a pending AgentState for one user turn.
func New(traceID, user string, messages []Message, budget Budget, flags ContextFlags) *AgentState {
	return &AgentState{
		TraceID:     traceID,
		User:        user,
		Messages:    messages,
		Plan:        []PlanStep{},
		CurrentStep: 0,
		Status:      StatusPending,
		Budget:      budget,
		Flags:       flags,
		ToolResults: []ToolResult{},
	}
}

// fail sets Status to error and records msg, returning the state for
// chaining at a node's return statement.
func (s *AgentState) fail(msg string) *AgentState {
	s.Status = StatusError
	s.Error = &msg
	return s
}

// LastUserMessage returns the content of the most recent "user" message, or
// "" if none exists.
func (s *AgentState) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i].Content
		}
	}
	return ""
}
