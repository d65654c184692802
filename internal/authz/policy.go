package authz

import (
	dErrors "poscore/pkg/domain-errors"
)

// Engine is the capability policy engine. It is pure and in-memory: the
// matrix is fixed at construction, Ensure never blocks on I/O, so handlers
// can call it on every request without latency concerns.
type Engine struct {
	metrics *Metrics
}

// NewEngine creates a policy engine over the static role matrix.
func NewEngine(metrics *Metrics) *Engine {
	return &Engine{metrics: metrics}
}

// Allowed reports whether any of the roles carries the capability. It is
// the matrix lookup without metrics or error mapping; Ensure is the
// request-path entry point, Allowed serves read-side gating such as the
// viewer redaction pass.
func Allowed(roles []Role, cap Capability) bool {
	for _, r := range roles {
		if r == RoleSuperAdmin {
			return true
		}
	}
	allowed := matrix[cap]
	for _, have := range roles {
		for _, want := range allowed {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Ensure authorizes the execution context for the requested capability.
//
// Algorithm: super_admin always allows (fast path); otherwise the capability
// is allowed iff any of the caller's roles appears in its matrix row.
//
// Errors: CodeInvalidInput for a capability outside the closed enumeration,
// CodeMissingRole on deny. Deny is an expected outcome, not an exception:
// handlers map it to a 403 with the stable missing_role code and never
// partially execute the guarded mutation.
func (e *Engine) Ensure(ec ExecutionContext, cap Capability) error {
	if !cap.IsValid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown capability %q", cap)
	}
	if len(ec.Roles) == 0 {
		e.metrics.ObserveDeny(cap)
		return dErrors.Newf(dErrors.CodeMissingRole, "capability %s requires a role, caller has none", cap)
	}

	if Allowed(ec.Roles, cap) {
		e.metrics.ObserveAllow(cap)
		return nil
	}

	e.metrics.ObserveDeny(cap)
	return dErrors.Newf(dErrors.CodeMissingRole, "capability %s not granted to caller roles", cap)
}
