// Package audit defines the data contract of the audit pipeline: the
// envelope emitted by services, the schema registry versioning it, and the
// stored projection served by the query API. Keep it transport-agnostic so
// producers, the broker consumer, and stores share one vocabulary.
package audit

import (
	"time"

	"github.com/google/uuid"

	"poscore/internal/authz"
)

// Severity orders audit events by operational weight: info < warn <
// security < critical. The order matters for SIEM routing and alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeveritySecurity Severity = "security"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarn:     1,
	SeveritySecurity: 2,
	SeverityCritical: 3,
}

// IsValid checks if the severity is one of the declared enum values.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the severity's position in the ordering, info first.
func (s Severity) Rank() int {
	return severityRank[s]
}

// NormalizeSeverity maps external input onto the closed enum. Unknown
// strings become info rather than erroring, tolerating upstream drift.
func NormalizeSeverity(s string) Severity {
	sev := Severity(s)
	if sev.IsValid() {
		return sev
	}
	return SeverityInfo
}

// Envelope is the unit of record emitted after a privileged mutation. It is
// self-describing: event_id + action + schema_version identify the logical
// record, and the consumer treats re-delivery of an event_id as a no-op.
type Envelope struct {
	EventID       string         `json:"event_id"`
	SchemaVersion int            `json:"schema_version"`
	Action        Action         `json:"action"`
	Severity      Severity       `json:"severity"`
	TenantID      string         `json:"tenant_id"`
	ActorID       string         `json:"actor_id"`
	Roles         []string       `json:"roles"`
	TraceID       string         `json:"trace_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// NewEnvelope builds an envelope for the given action from the execution
// context that authorized the mutation. The roles slice is snapshotted at
// emission time; later role changes never rewrite history.
func NewEnvelope(ec authz.ExecutionContext, action Action, payload map[string]any) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		SchemaVersion: action.SchemaVersion(),
		Action:        action,
		Severity:      action.Severity(),
		TenantID:      ec.TenantID,
		ActorID:       ec.ActorID,
		Roles:         ec.RoleStrings(),
		TraceID:       ec.TraceID,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
}

// WithMeta attaches envelope-level context (e.g. source service name) and
// returns the envelope for chaining at emission sites.
func (e Envelope) WithMeta(meta map[string]any) Envelope {
	e.Meta = meta
	return e
}
