package audit

import (
	dErrors "poscore/pkg/domain-errors"
)

// Action is the stable identifier of an audit event family. Action strings
// are part of the stored contract: dashboards and retention queries key on
// them, so never rename one. Add a new action instead.
type Action string

const (
	// Catalog
	ActionProductCreated Action = "catalog.product.created"
	ActionProductUpdated Action = "catalog.product.updated"
	ActionProductRetired Action = "catalog.product.retired"

	// Inventory
	ActionInventoryAdjusted    Action = "inventory.adjusted"
	ActionReservationExpired   Action = "inventory.reservation.expired"
	ActionStockCountSubmitted  Action = "inventory.stock_count.submitted"

	// Orders
	ActionOrderCreated  Action = "order.created"
	ActionOrderRefunded Action = "order.refunded"

	// Payments
	ActionPaymentCaptured Action = "payment.captured"
	ActionPaymentVoided   Action = "payment.voided"

	// Customers & loyalty
	ActionCustomerUpdated Action = "customer.updated"
	ActionCustomerDeleted Action = "customer.deleted"
	ActionLoyaltyAdjusted Action = "loyalty.points.adjusted"

	// GDPR
	ActionGDPRExportRequested Action = "gdpr.export.requested"
	ActionGDPRErasureApplied  Action = "gdpr.erasure.applied"

	// Platform
	ActionCapabilityDenied Action = "authz.capability.denied"
)

// actionSchemas is the schema registry: the current schema version and
// default severity per action family. Versions are monotonic per action;
// bump the version when an action's payload shape changes so the consumer
// and readers can branch on it.
var actionSchemas = map[Action]struct {
	version  int
	severity Severity
}{
	ActionProductCreated:      {1, SeverityInfo},
	ActionProductUpdated:      {1, SeverityInfo},
	ActionProductRetired:      {1, SeverityInfo},
	ActionInventoryAdjusted:   {2, SeverityInfo},
	ActionReservationExpired:  {1, SeverityWarn},
	ActionStockCountSubmitted: {1, SeverityInfo},
	ActionOrderCreated:        {1, SeverityInfo},
	ActionOrderRefunded:       {1, SeverityWarn},
	ActionPaymentCaptured:     {1, SeverityInfo},
	ActionPaymentVoided:       {1, SeveritySecurity},
	ActionCustomerUpdated:     {1, SeverityInfo},
	ActionCustomerDeleted:     {1, SeveritySecurity},
	ActionLoyaltyAdjusted:     {1, SeverityInfo},
	ActionGDPRExportRequested: {1, SeveritySecurity},
	ActionGDPRErasureApplied:  {1, SeverityCritical},
	ActionCapabilityDenied:    {1, SeveritySecurity},
}

// IsValid checks if the action is registered in the schema registry.
func (a Action) IsValid() bool {
	_, ok := actionSchemas[a]
	return ok
}

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// SchemaVersion returns the current schema version for the action family.
// Unknown actions report version 1 so foreign events remain storable.
func (a Action) SchemaVersion() int {
	if s, ok := actionSchemas[a]; ok {
		return s.version
	}
	return 1
}

// Severity returns the default severity for the action family. Unknown
// actions default to info.
func (a Action) Severity() Severity {
	if s, ok := actionSchemas[a]; ok {
		return s.severity
	}
	return SeverityInfo
}

// ParseAction constructs an Action from external input.
func ParseAction(s string) (Action, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "action cannot be empty")
	}
	a := Action(s)
	if !a.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown action %q", s)
	}
	return a, nil
}

// SchemaSelfCheck verifies the schema registry at startup: every action has
// a positive version and a declared severity. Called from both mains next
// to authz.SelfCheck.
func SchemaSelfCheck() error {
	for action, s := range actionSchemas {
		if s.version <= 0 {
			return dErrors.Newf(dErrors.CodeInternal, "action %q has non-positive schema version %d", action, s.version)
		}
		if !s.severity.IsValid() {
			return dErrors.Newf(dErrors.CodeInternal, "action %q has undeclared severity %q", action, s.severity)
		}
	}
	return nil
}
