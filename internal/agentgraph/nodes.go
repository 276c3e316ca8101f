package agentgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kira-host/kira/internal/llmrouter"
	"github.com/kira-host/kira/internal/policy"
	"github.com/kira-host/kira/internal/tools"
)

const maxRetriesPerTool = 2

// planResponse is the shape the planning LLM call is asked to return: a
// JSON object with a "plan" array of {tool, args, dry_run} steps.
type planResponse struct {
	Plan []PlanStep `json:"plan"`
}

// planNode asks the router for a plan (task_type=planning) given the user's
// latest message and the registered tool names, and installs the result
// onto state.Plan. LLM or parse failure moves state to StatusError.
func planNode(ctx context.Context, state *AgentState, router *llmrouter.Router) *AgentState {
	resp, err := router.Complete(ctx, llmrouter.Request{
		TaskType: llmrouter.TaskPlanning,
		Messages: toRouterMessages(state.Messages),
		Tools:    tools.Names(),
	})
	state.Budget.StepsUsed++
	if err != nil {
		return state.fail(fmt.Sprintf("plan: llm call failed: %v", err))
	}
	state.Budget.TokensUsed += resp.Usage.TotalTokens

	var parsed planResponse
	if jsonErr := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); jsonErr != nil {
		return state.fail(fmt.Sprintf("plan: could not parse plan from llm response: %v", jsonErr))
	}

	state.Plan = parsed.Plan
	state.Status = StatusPlanned
	return state
}

// validateArgsNode runs every planned step's args through the tool
// registry's declared schema before anything touches the policy enforcer or
// the host API.
func validateArgsNode(state *AgentState) *AgentState {
	for i, step := range state.Plan {
		validated, err := tools.ValidateToolArgs(step.Tool, step.Args)
		if err != nil {
			return state.fail(fmt.Sprintf("validate-args: step %d (%s): %v", i, step.Tool, err))
		}
		state.Plan[i].Args = validated
	}
	return state
}

// checkPolicyNode runs every planned step past the policy enforcer. A
// violation on any step aborts the whole run before execution starts, since
// later steps may depend on earlier ones having actually happened.
func checkPolicyNode(state *AgentState, enforcer *policy.Enforcer) *AgentState {
	confirmed := !state.Flags.RequireConfirmation
	for i, step := range state.Plan {
		if v := enforcer.Check(step.Tool, confirmed); v != nil {
			return state.fail(fmt.Sprintf("check-policy: step %d (%s): %s", i, step.Tool, v.Reason))
		}
	}
	state.Status = StatusExecuting
	return state
}

// executeToolNode runs state.Plan from state.CurrentStep to completion,
// appending one ToolResult per step. A step that keeps failing past
// maxRetriesPerTool is recorded as an error result; flags.HaltOnError then
// decides whether the loop aborts the whole run or simply moves on.
func executeToolNode(ctx context.Context, state *AgentState, dispatcher *Dispatcher) *AgentState {
	for state.CurrentStep < len(state.Plan) {
		if state.Budget.IsExceeded() {
			return state.fail("execute-tool: budget exceeded")
		}

		step := state.Plan[state.CurrentStep]
		dryRun := step.DryRun || state.Flags.DryRun

		data, err := dispatcher.Invoke(ctx, state.TraceID, step.Tool, step.Args, dryRun)
		state.Budget.StepsUsed++

		for err != nil && state.RetryCount < maxRetriesPerTool {
			state.RetryCount++
			data, err = dispatcher.Invoke(ctx, state.TraceID, step.Tool, step.Args, dryRun)
		}

		if err != nil {
			state.ToolResults = append(state.ToolResults, ToolResult{
				Tool: step.Tool, Status: "error", Error: err.Error(), Step: state.CurrentStep,
			})
			if state.Flags.HaltOnError {
				return state.fail(fmt.Sprintf("execute-tool: step %d (%s): %v", state.CurrentStep, step.Tool, err))
			}
			state.CurrentStep++
			state.RetryCount = 0
			continue
		}

		state.ToolResults = append(state.ToolResults, ToolResult{
			Tool: step.Tool, Status: "ok", Data: data, Step: state.CurrentStep,
		})
		state.CurrentStep++
		state.RetryCount = 0
	}
	return state
}

// reflectResponse is the shape the reflection LLM call is asked to return:
// any corrective steps to append to the plan.
type reflectResponse struct {
	AdditionalSteps []PlanStep `json:"additional_steps"`
}

// reflectNode lets the LLM inspect tool_results and append corrective steps
// to the plan when flags.enable_reflection is set and budget remains.
// Reflection failure is non-fatal: the run proceeds with the plan as-is.
func reflectNode(ctx context.Context, state *AgentState, router *llmrouter.Router) *AgentState {
	if !state.Flags.EnableReflection || state.Budget.IsExceeded() {
		state.Status = StatusReflected
		return state
	}

	resultsJSON, _ := json.Marshal(state.ToolResults)
	resp, err := router.Complete(ctx, llmrouter.Request{
		TaskType: llmrouter.TaskDefault,
		Messages: []llmrouter.Message{
			{Role: "system", Content: "Inspect the tool results and propose any additional corrective steps as JSON."},
			{Role: "user", Content: string(resultsJSON)},
		},
	})
	state.Budget.StepsUsed++
	if err != nil {
		state.Status = StatusReflected
		return state
	}
	state.Budget.TokensUsed += resp.Usage.TotalTokens

	var parsed reflectResponse
	if json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed) == nil {
		state.Plan = append(state.Plan, parsed.AdditionalSteps...)
	}
	state.Status = StatusReflected
	return state
}

// verifyNode is a structural check, not an LLM call: every "ok" tool result
// that names a created entity must carry an id. Failure moves the state to
// error rather than letting a silently-incomplete run report success.
func verifyNode(state *AgentState) *AgentState {
	if !state.Flags.EnableVerification {
		state.Status = StatusVerified
		return state
	}
	for _, r := range state.ToolResults {
		if r.Status != "ok" {
			continue
		}
		if dryRun, _ := r.Data["dry_run"].(bool); dryRun {
			continue
		}
		if r.Tool == tools.TaskCreate || r.Tool == tools.RollupDaily {
			if _, ok := r.Data["id"]; !ok {
				return state.fail(fmt.Sprintf("verify: step %d (%s) produced no entity id", r.Step, r.Tool))
			}
		}
	}
	state.Status = StatusVerified
	return state
}

// respondNode asks the LLM for a natural-language reply (task_type=default,
// temperature>=0.8) summarizing tool_results for the original request. LLM
// failure never aborts the run: a deterministic fallback is returned so the
// agent always has something conversational to say.
func respondNode(ctx context.Context, state *AgentState, router *llmrouter.Router) *AgentState {
	state.Status = "responding"

	userMsg := state.LastUserMessage()
	var prompt strings.Builder
	prompt.WriteString("User request: " + userMsg + "\n\n")
	if state.Error != nil {
		prompt.WriteString("ERROR: " + *state.Error + "\n\n")
	}
	prompt.WriteString("Tool results:\n")
	for _, r := range state.ToolResults {
		raw, _ := json.Marshal(r)
		prompt.Write(raw)
		prompt.WriteString("\n")
	}

	resp, err := router.Complete(ctx, llmrouter.Request{
		TaskType:    llmrouter.TaskDefault,
		Temperature: 0.9,
		Messages: []llmrouter.Message{
			{Role: "system", Content: "You are a friendly, conversational assistant. Reply in natural, warm language, never a scripted template."},
			{Role: "user", Content: prompt.String()},
		},
	})
	if err != nil {
		if state.Error != nil {
			state.Response = "Sorry, something went wrong and I couldn't finish that."
		} else {
			state.Response = "Done, that's completed."
		}
		state.Status = StatusResponded
		return state
	}
	state.Budget.TokensUsed += resp.Usage.TotalTokens
	state.Response = resp.Content
	state.Status = StatusResponded
	return state
}

func toRouterMessages(msgs []Message) []llmrouter.Message {
	out := make([]llmrouter.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llmrouter.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// extractJSON strips a ```json fenced block, if present, since planning
// providers commonly wrap structured output in markdown even when asked
// not to.
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}
