// Package policy enforces the capability-based access control gating every
// tool call the agent graph attempts. A tool call is rejected when the
// caller lacks a required capability, when the tool is outside the
// allowlist, or when a destructive tool runs without explicit confirmation.
package policy

import (
	"github.com/kira-host/kira/internal/tools"
)

// Capability is a coarse-grained permission label.
type Capability string

const (
	CapRead   Capability = "read"
	CapCreate Capability = "create"
	CapUpdate Capability = "update"
	CapDelete Capability = "delete"
	CapExport Capability = "export"
)

// toolCapabilities maps each registered tool to the capability it requires.
var toolCapabilities = map[string]Capability{
	tools.TaskCreate:  CapCreate,
	tools.TaskUpdate:  CapUpdate,
	tools.TaskDelete:  CapDelete,
	tools.TaskGet:     CapRead,
	tools.TaskList:    CapRead,
	tools.RollupDaily: CapRead,
	tools.VaultExport: CapExport,
}

// destructiveTools must be explicitly confirmed regardless of capability.
var destructiveTools = map[string]bool{
	tools.TaskDelete:  true,
	tools.VaultExport: true,
}

// RequiredCapability returns the capability a tool requires, and whether
// the tool is known at all.
func RequiredCapability(tool string) (Capability, bool) {
	c, ok := toolCapabilities[tool]
	return c, ok
}

// IsDestructive reports whether a tool requires explicit confirmation.
func IsDestructive(tool string) bool {
	return destructiveTools[tool]
}

// Policy is the enforcer's configuration: which capabilities are available,
// an optional tool allowlist (nil means every known tool is allowed), and a
// per-request call budget.
type Policy struct {
	AllowedCapabilities map[Capability]bool
	AllowedTools        map[string]bool // nil = all known tools allowed
	MaxToolCallsPerReq  int
}

// Default matches the spec's stated defaults: read, create, update and
// export are available; delete is disabled; destructive tools always
// require confirmation regardless of capability grants.
func Default() Policy {
	return Policy{
		AllowedCapabilities: map[Capability]bool{
			CapRead:   true,
			CapCreate: true,
			CapUpdate: true,
			CapExport: true,
		},
		MaxToolCallsPerReq: 10,
	}
}

// Violation describes why a tool call was rejected.
type Violation struct {
	Tool       string
	Capability Capability
	Reason     string
}

func (v *Violation) Error() string {
	return "policy violation: " + v.Reason
}

// Enforcer holds one Policy and checks tool calls against it.
type Enforcer struct {
	policy Policy
}

// New constructs an Enforcer over the given policy.
func New(p Policy) *Enforcer {
	return &Enforcer{policy: p}
}

// Check validates one tool call. It returns nil when the call is permitted,
// or a *Violation describing the first failing rule: unknown tool, tool
// outside the allowlist, missing capability, or a destructive tool invoked
// without confirmation.
func (e *Enforcer) Check(tool string, confirmed bool) *Violation {
	cap, known := RequiredCapability(tool)
	if !known {
		return &Violation{Tool: tool, Reason: "tool is not registered"}
	}

	if e.policy.AllowedTools != nil && !e.policy.AllowedTools[tool] {
		return &Violation{Tool: tool, Capability: cap, Reason: "tool is not in the allowlist"}
	}

	if !e.policy.AllowedCapabilities[cap] {
		return &Violation{Tool: tool, Capability: cap, Reason: "required capability is not available"}
	}

	if IsDestructive(tool) && !confirmed {
		return &Violation{Tool: tool, Capability: cap, Reason: "destructive tool requires explicit confirmation"}
	}

	return nil
}

// WithCapability returns a copy of the policy with the given capability
// enabled, used by CLI flags / config to grant delete access explicitly.
func (p Policy) WithCapability(c Capability) Policy {
	out := p
	out.AllowedCapabilities = make(map[Capability]bool, len(p.AllowedCapabilities)+1)
	for k, v := range p.AllowedCapabilities {
		out.AllowedCapabilities[k] = v
	}
	out.AllowedCapabilities[c] = true
	return out
}
