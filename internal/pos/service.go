package pos

import (
	"log/slog"
)

// LoggingInventory is the placeholder inventory service: it accepts every
// adjustment and records it in the log. The real stock service plugs in
// behind the Inventory interface without touching the handler.
type LoggingInventory struct {
	logger *slog.Logger
}

func NewLoggingInventory(logger *slog.Logger) *LoggingInventory {
	return &LoggingInventory{logger: logger}
}

func (s *LoggingInventory) Adjust(tenantID, sku string, delta int) error {
	s.logger.Info("inventory adjusted",
		"tenant_id", tenantID,
		"sku", sku,
		"delta", delta,
	)
	return nil
}

// LoggingCustomers is the placeholder customer service.
type LoggingCustomers struct {
	logger *slog.Logger
}

func NewLoggingCustomers(logger *slog.Logger) *LoggingCustomers {
	return &LoggingCustomers{logger: logger}
}

func (s *LoggingCustomers) Update(tenantID, customerID string, fields map[string]any) error {
	s.logger.Info("customer updated",
		"tenant_id", tenantID,
		"customer_id", customerID,
		"field_count", len(fields),
	)
	return nil
}
