package agentgraph

import (
	"context"
	"strings"
	"time"

	"github.com/kira-host/kira/internal/llmrouter"
	"github.com/kira-host/kira/internal/memory"
	"github.com/kira-host/kira/internal/policy"
)

// Graph wires the router, policy enforcer and tool dispatcher a run needs
// and drives one AgentState through every node in order.
type Graph struct {
	router       *llmrouter.Router
	enforcer     *policy.Enforcer
	dispatcher   *Dispatcher
	conversation *memory.ConversationStore
	rag          *memory.RAGStore
}

// NewGraph constructs a Graph. router, enforcer and dispatcher must all be
// non-nil; a graph with no LLM, no policy or no dispatcher cannot run any
// node that needs one.
func NewGraph(router *llmrouter.Router, enforcer *policy.Enforcer, dispatcher *Dispatcher) *Graph {
	return &Graph{router: router, enforcer: enforcer, dispatcher: dispatcher}
}

// WithMemory attaches conversation history and RAG retrieval to the graph.
// Either argument may be nil, in which case that source of context is
// simply skipped — a graph built without WithMemory behaves exactly as
// before.
func (g *Graph) WithMemory(conversation *memory.ConversationStore, rag *memory.RAGStore) *Graph {
	g.conversation = conversation
	g.rag = rag
	return g
}

// Run drives state through plan, validate-args, check-policy, execute-tool,
// reflect, verify and respond in order, checking the budget at every node
// boundary. A node that sets Status to StatusError short-circuits the rest
// of the sequence, but Respond always runs so the caller always gets a
// reply, even for a run that errored out.
func (g *Graph) Run(ctx context.Context, state *AgentState) *AgentState {
	if state.startedAt.IsZero() {
		state.startedAt = time.Now()
	}
	g.loadContext(state)

	for _, node := range []func(context.Context, *AgentState) *AgentState{
		g.plan,
		g.validateArgs,
		g.checkPolicy,
		g.executeTool,
		g.reflect,
		g.verify,
	} {
		state.Budget.WallTimeUsed = time.Since(state.startedAt).Seconds()
		if state.Budget.IsExceeded() {
			state.fail("budget exceeded")
			break
		}
		node(ctx, state)
		state.Budget.WallTimeUsed = time.Since(state.startedAt).Seconds()
		if state.Status == StatusError {
			break
		}
	}
	result := respondNode(ctx, state, g.router)
	result.Budget.WallTimeUsed = time.Since(result.startedAt).Seconds()
	g.saveContext(result)
	return result
}

// loadContext prepends RAG-retrieved context and prior conversation history
// to state.Messages as system turns so the plan node sees them alongside the
// user's latest message. A graph built without WithMemory leaves Messages
// untouched.
func (g *Graph) loadContext(state *AgentState) {
	var prefix []Message

	if g.rag != nil {
		if hits := g.rag.Search(state.LastUserMessage(), 3); len(hits) > 0 {
			var b strings.Builder
			b.WriteString("Relevant context:\n")
			for _, hit := range hits {
				b.WriteString("- " + hit.Document.Content + "\n")
			}
			prefix = append(prefix, Message{Role: "system", Content: b.String()})
		}
	}

	if g.conversation != nil {
		for _, exchange := range g.conversation.History(state.TraceID) {
			prefix = append(prefix,
				Message{Role: "user", Content: exchange.UserMessage},
				Message{Role: "assistant", Content: exchange.AssistantResponse},
			)
		}
	}

	if len(prefix) > 0 {
		state.Messages = append(prefix, state.Messages...)
	}
}

// saveContext records this turn's (user message, response) exchange so a
// later run with the same trace ID sees it as history.
func (g *Graph) saveContext(state *AgentState) {
	if g.conversation == nil {
		return
	}
	g.conversation.Append(state.TraceID, state.LastUserMessage(), state.Response)
}

func (g *Graph) plan(ctx context.Context, state *AgentState) *AgentState {
	return planNode(ctx, state, g.router)
}

func (g *Graph) validateArgs(_ context.Context, state *AgentState) *AgentState {
	return validateArgsNode(state)
}

func (g *Graph) checkPolicy(_ context.Context, state *AgentState) *AgentState {
	return checkPolicyNode(state, g.enforcer)
}

func (g *Graph) executeTool(ctx context.Context, state *AgentState) *AgentState {
	return executeToolNode(ctx, state, g.dispatcher)
}

func (g *Graph) reflect(ctx context.Context, state *AgentState) *AgentState {
	return reflectNode(ctx, state, g.router)
}

func (g *Graph) verify(_ context.Context, state *AgentState) *AgentState {
	return verifyNode(state)
}
