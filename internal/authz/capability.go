// Package authz implements capability-based authorization for platform
// mutations. A closed set of fine-grained capabilities is mapped to roles by
// a static matrix loaded at process start; every privileged handler asks the
// policy engine before mutating.
package authz

import (
	dErrors "poscore/pkg/domain-errors"
	pstrings "poscore/pkg/platform/strings"
)

// Role identifies a coarse persona granted to an actor by the identity
// subsystem. The set is closed; unknown role strings are ignored by the
// policy engine rather than rejected, so stale tokens degrade to fewer
// permissions instead of hard failures.
type Role string

const (
	// RoleSuperAdmin is the platform operator role. It bypasses the matrix
	// and allows every capability.
	RoleSuperAdmin Role = "super_admin"

	RoleTenantAdmin  Role = "tenant_admin"
	RoleStoreManager Role = "store_manager"
	RoleCashier      Role = "cashier"
	RoleSupport      Role = "support"
	RoleAuditor      Role = "auditor"
)

// validRoles is the single source of truth for declared roles.
var validRoles = map[Role]bool{
	RoleSuperAdmin:   true,
	RoleTenantAdmin:  true,
	RoleStoreManager: true,
	RoleCashier:      true,
	RoleSupport:      true,
	RoleAuditor:      true,
}

// IsValid checks if the role is one of the declared enum values.
func (r Role) IsValid() bool {
	return validRoles[r]
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// ParseRoles converts raw role strings from a verified token into Roles.
// Input is normalized (trimmed, lowercased, deduplicated) before matching;
// values outside the closed set are dropped.
func ParseRoles(raw []string) []Role {
	cleaned := pstrings.DedupeAndTrimLower(raw)
	roles := make([]Role, 0, len(cleaned))
	for _, s := range cleaned {
		if r := Role(s); r.IsValid() {
			roles = append(roles, r)
		}
	}
	return roles
}

// Capability is a fine-grained permission checked before a mutation.
// Capabilities are independent of role labels: handlers name the capability
// they need, and the matrix decides which roles carry it.
//
// Invariant: adding a capability requires a matrix row before any handler
// references it; SelfCheck enforces this at startup.
type Capability string

const (
	CapabilityCatalogView     Capability = "catalog.view"
	CapabilityCatalogWrite    Capability = "catalog.write"
	CapabilityInventoryView   Capability = "inventory.view"
	CapabilityInventoryAdjust Capability = "inventory.adjust"
	CapabilityOrderCreate     Capability = "order.create"
	CapabilityOrderRefund     Capability = "order.refund"
	CapabilityPaymentProcess  Capability = "payment.process"
	CapabilityCustomerView    Capability = "customer.view"
	CapabilityCustomerWrite   Capability = "customer.write"
	CapabilityLoyaltyAdjust   Capability = "loyalty.adjust"
	CapabilityAuditView       Capability = "audit.view"
	CapabilityAuditAdmin      Capability = "audit.admin"
	CapabilityGDPRManage      Capability = "gdpr.manage"
)

// allCapabilities enumerates the closed capability set. SelfCheck compares
// this list against the matrix, so extending the enum without a matrix row
// fails startup instead of failing silently at runtime.
var allCapabilities = []Capability{
	CapabilityCatalogView,
	CapabilityCatalogWrite,
	CapabilityInventoryView,
	CapabilityInventoryAdjust,
	CapabilityOrderCreate,
	CapabilityOrderRefund,
	CapabilityPaymentProcess,
	CapabilityCustomerView,
	CapabilityCustomerWrite,
	CapabilityLoyaltyAdjust,
	CapabilityAuditView,
	CapabilityAuditAdmin,
	CapabilityGDPRManage,
}

// IsValid checks if the capability is a member of the closed enumeration.
func (c Capability) IsValid() bool {
	for _, known := range allCapabilities {
		if c == known {
			return true
		}
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability constructs a Capability from external input.
//
// Usage: call from handlers/adapters when parsing requests; internal call
// sites use the constants directly.
func ParseCapability(s string) (Capability, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "capability cannot be empty")
	}
	c := Capability(s)
	if !c.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown capability %q", s)
	}
	return c, nil
}

// matrix maps each capability to the roles allowed to exercise it.
// RoleSuperAdmin is intentionally absent: the engine short-circuits it
// before consulting the matrix.
var matrix = map[Capability][]Role{
	CapabilityCatalogView:     {RoleTenantAdmin, RoleStoreManager, RoleCashier, RoleSupport, RoleAuditor},
	CapabilityCatalogWrite:    {RoleTenantAdmin, RoleStoreManager},
	CapabilityInventoryView:   {RoleTenantAdmin, RoleStoreManager, RoleCashier, RoleSupport},
	CapabilityInventoryAdjust: {RoleTenantAdmin, RoleStoreManager},
	CapabilityOrderCreate:     {RoleTenantAdmin, RoleStoreManager, RoleCashier},
	CapabilityOrderRefund:     {RoleTenantAdmin, RoleStoreManager},
	CapabilityPaymentProcess:  {RoleTenantAdmin, RoleStoreManager, RoleCashier},
	CapabilityCustomerView:    {RoleTenantAdmin, RoleStoreManager, RoleCashier, RoleSupport},
	CapabilityCustomerWrite:   {RoleTenantAdmin, RoleStoreManager},
	CapabilityLoyaltyAdjust:   {RoleTenantAdmin, RoleStoreManager},
	CapabilityAuditView:       {RoleTenantAdmin, RoleAuditor},
	CapabilityAuditAdmin:      {RoleAuditor},
	CapabilityGDPRManage:      {RoleTenantAdmin},
}

// SelfCheck verifies the capability enumeration and the role matrix agree:
// every capability has a matrix row and every role in the matrix is a
// declared role. Both mains call this at startup and refuse to boot on
// violation, so a half-added capability can never reach production silently.
func SelfCheck() error {
	for _, cap := range allCapabilities {
		roles, ok := matrix[cap]
		if !ok {
			return dErrors.Newf(dErrors.CodeInternal, "capability %q has no role matrix entry", cap)
		}
		if len(roles) == 0 {
			return dErrors.Newf(dErrors.CodeInternal, "capability %q has an empty role set", cap)
		}
		for _, r := range roles {
			if !r.IsValid() {
				return dErrors.Newf(dErrors.CodeInternal, "capability %q references undeclared role %q", cap, r)
			}
		}
	}
	for cap := range matrix {
		if !cap.IsValid() {
			return dErrors.Newf(dErrors.CodeInternal, "matrix references unknown capability %q", cap)
		}
	}
	return nil
}
