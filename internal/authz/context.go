package authz

import (
	"context"

	dErrors "poscore/pkg/domain-errors"
	"poscore/pkg/requestcontext"
)

// ExecutionContext is the request-scoped identity snapshot consumed by the
// policy engine and the audit producer. It is a plain value: the middleware
// that resolved it owns the request, nothing here is shared or mutable.
type ExecutionContext struct {
	TenantID string
	ActorID  string
	Roles    []Role
	TraceID  string
}

// HasRole reports whether the context carries the given role.
func (ec ExecutionContext) HasRole(role Role) bool {
	for _, r := range ec.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RoleStrings returns the roles as plain strings for envelope snapshots.
func (ec ExecutionContext) RoleStrings() []string {
	out := make([]string, len(ec.Roles))
	for i, r := range ec.Roles {
		out[i] = string(r)
	}
	return out
}

// FromContext materializes the ExecutionContext from request-scoped values
// set by the identity middleware.
//
// Errors: CodeForbidden when the tenant is unresolvable or the caller has no
// recognized roles. A missing tenant is a hard authorization failure on
// every mutation path, never a default.
func FromContext(ctx context.Context) (ExecutionContext, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID == "" {
		return ExecutionContext{}, dErrors.New(dErrors.CodeForbidden, "tenant not resolved for request")
	}
	roles := ParseRoles(requestcontext.Roles(ctx))
	if len(roles) == 0 {
		return ExecutionContext{}, dErrors.New(dErrors.CodeForbidden, "no recognized roles for request")
	}
	return ExecutionContext{
		TenantID: tenantID,
		ActorID:  requestcontext.ActorID(ctx),
		Roles:    roles,
		TraceID:  requestcontext.TraceID(ctx),
	}, nil
}
