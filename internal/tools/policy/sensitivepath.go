package policy

import (
	"github.com/haasonsaas/nexus/internal/sensitivepath"
)

// SetPathPolicy attaches a sensitive-path policy to the resolver so that
// Decide can gate path-bearing tool calls (read, write, edit, exec) on the
// repository's ignore files in addition to the tool-name allow/deny rules.
// Grounded on internal/tools/exec/manager.go's SetPolicy/DecisionSend gate,
// generalized here so every tool in the resolver benefits from one policy
// instance instead of each tool wiring sensitivepath individually.
func (r *Resolver) SetPathPolicy(p *sensitivepath.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pathPolicy = p
}

// DecidePath extends Decide with a sensitive-path check on path, a
// workspace-absolute path the tool call would discover, read, or send to
// the model. Tool-name denial is evaluated first since it is cheaper and
// independent of any particular path argument; the sensitive-path check
// only runs once the tool itself is otherwise allowed.
func (r *Resolver) DecidePath(policy *Policy, toolName, path string) Decision {
	decision := r.Decide(policy, toolName)
	if !decision.Allowed || path == "" {
		return decision
	}

	r.mu.RLock()
	sp := r.pathPolicy
	r.mu.RUnlock()
	if sp == nil {
		return decision
	}

	if sp.DecisionSend(path) == sensitivepath.Deny {
		return Decision{
			Allowed: false,
			Tool:    decision.Tool,
			Reason:  sp.FormatDeniedMessage(),
		}
	}
	return decision
}
