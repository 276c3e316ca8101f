package policy

import (
	"github.com/kira-host/kira/internal/config"
)

// FromConfig translates a loaded config.PolicyConfig into the map-shaped
// Policy the Enforcer checks against. An empty AllowedCapabilities list
// means the config file didn't set one; Default()'s capability grants are
// used in that case. AllowedTools stays nil (all known tools allowed)
// under the same empty-means-unset rule.
func FromConfig(c config.PolicyConfig) Policy {
	p := Default()

	if len(c.AllowedCapabilities) > 0 {
		allowed := make(map[Capability]bool, len(c.AllowedCapabilities))
		for _, name := range c.AllowedCapabilities {
			allowed[Capability(name)] = true
		}
		p.AllowedCapabilities = allowed
	}

	if len(c.AllowedTools) > 0 {
		allowed := make(map[string]bool, len(c.AllowedTools))
		for _, name := range c.AllowedTools {
			allowed[name] = true
		}
		p.AllowedTools = allowed
	}

	if c.MaxToolCallsPerRequest > 0 {
		p.MaxToolCallsPerReq = c.MaxToolCallsPerRequest
	}

	return p
}
