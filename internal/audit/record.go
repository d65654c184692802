package audit

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	dErrors "poscore/pkg/domain-errors"
)

// StoredRecord is the durable, queryable projection of an Envelope after
// ingestion-time redaction. Append-only from the consumer's perspective;
// only the retention purger deletes rows.
type StoredRecord struct {
	EventID       string
	SchemaVersion int
	Action        Action
	Severity      Severity
	TenantID      string
	ActorID       string
	Roles         []string
	TraceID       string
	OccurredAt    time.Time
	IngestedAt    time.Time
	Payload       map[string]any
	Meta          map[string]any
}

// ViewRecord is the response-time projection served by the query API after
// the viewer-aware redaction pass.
type ViewRecord struct {
	EventID       string         `json:"event_id"`
	SchemaVersion int            `json:"schema_version"`
	Action        Action         `json:"action"`
	Severity      Severity       `json:"severity"`
	TenantID      string         `json:"tenant_id"`
	ActorID       string         `json:"actor_id"`
	TraceID       string         `json:"trace_id"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// ListFilter narrows a tenant's audit query. TenantID is mandatory; the
// store layer rejects a filter without it rather than scanning cross-tenant.
type ListFilter struct {
	TenantID string
	ActorID  string
	Action   string
	Severity Severity
	EntityID string
	From     time.Time
	To       time.Time
	Limit    int
	Cursor   *Cursor
}

// Cursor is the stable pagination position: (occurred_at, event_id) so
// ordering stays deterministic even when events share a timestamp.
type Cursor struct {
	OccurredAt time.Time
	EventID    string
}

// Encode renders the cursor as an opaque token for the API surface.
func (c Cursor) Encode() string {
	raw := fmt.Sprintf("%s|%s", c.OccurredAt.UTC().Format(time.RFC3339Nano), c.EventID)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor token.
//
// Errors: CodeInvalidInput for anything that is not a token this package
// produced; a stale-but-well-formed cursor is fine and just yields an empty
// page.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, dErrors.New(dErrors.CodeInvalidInput, "malformed cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, dErrors.New(dErrors.CodeInvalidInput, "malformed cursor")
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, dErrors.New(dErrors.CodeInvalidInput, "malformed cursor timestamp")
	}
	return Cursor{OccurredAt: occurredAt, EventID: parts[1]}, nil
}

// Page is one window of query results plus the cursor for the next window.
// NextCursor is empty on the final page.
type Page struct {
	Records    []ViewRecord `json:"records"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// PurgeReport summarizes one retention purge run.
type PurgeReport struct {
	Candidates int64 `json:"candidates"`
	Deleted    int64 `json:"deleted"`
	DryRun     bool  `json:"dry_run"`
}
