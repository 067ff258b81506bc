package auth

import (
	"fmt"

	"fabline/internal/config"
)

// Actions the role policy gates. Each maps to one engine command.
const (
	ActionProjectCreate   = "project.create"
	ActionBlueprintAttach = "blueprint.attach"
	ActionCostingAttach   = "costing.attach"
	ActionSubmit          = "project.submit"
	ActionApprove         = "project.approve"
	ActionRevise          = "project.revise"
	ActionFabricate       = "project.fabricate"
	ActionComplete        = "project.complete"
	ActionCancel          = "project.cancel"
	ActionPaymentUpdate   = "payment.update"
)

// ForbiddenError indicates the actor's role does not permit the action.
type ForbiddenError struct {
	Role   string
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("role %s may not perform %s", e.Role, e.Action)
}

// Policy evaluates role grants loaded from workspace config.
type Policy struct {
	Roles map[string]config.Role
}

func NewPolicy(cfg *config.Config) Policy {
	if cfg == nil {
		return Policy{}
	}
	return Policy{Roles: cfg.Roles}
}

// Allow returns nil when the role is granted the action. An empty role map
// means the policy is disabled and everything is allowed (local CLI use).
// An unknown role has no grants.
func (p Policy) Allow(role, action string) error {
	if len(p.Roles) == 0 {
		return nil
	}
	r, ok := p.Roles[role]
	if !ok {
		return ForbiddenError{Role: role, Action: action}
	}
	for _, a := range r.Actions {
		if a == "*" || a == action {
			return nil
		}
	}
	return ForbiddenError{Role: role, Action: action}
}

// RoleActions lists the granted actions for a role, for introspection
// endpoints. Nil when the role is unknown.
func (p Policy) RoleActions(role string) []string {
	r, ok := p.Roles[role]
	if !ok {
		return nil
	}
	out := make([]string, len(r.Actions))
	copy(out, r.Actions)
	return out
}
