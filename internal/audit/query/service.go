// Package query serves the tenant-scoped audit read API. The tenant filter
// always comes from the caller's execution context, never from request
// parameters, so one tenant can never page through another's trail.
package query

import (
	"context"
	"time"

	"poscore/internal/audit"
	"poscore/internal/audit/redact"
	"poscore/internal/authz"
)

const (
	// DefaultLimit applies when the caller does not ask for a page size.
	DefaultLimit = 50
	// MaxLimit caps the page size regardless of what the caller asks for.
	MaxLimit = 500
)

// Store is the read side of the audit store.
type Store interface {
	List(ctx context.Context, filter audit.ListFilter) ([]audit.StoredRecord, error)
}

// Request is a parsed, not yet authorized audit query.
type Request struct {
	ActorID         string
	Action          string
	Severity        string
	EntityID        string
	From            time.Time
	To              time.Time
	Limit           int
	Cursor          string
	IncludeRedacted bool
}

// Service authorizes and executes audit queries.
type Service struct {
	store    Store
	policy   *authz.Engine
	redactor *redact.Engine
	metrics  *Metrics
}

// NewService creates the query service.
func NewService(store Store, policy *authz.Engine, redactor *redact.Engine, metrics *Metrics) *Service {
	return &Service{
		store:    store,
		policy:   policy,
		redactor: redactor,
		metrics:  metrics,
	}
}

// List returns one page of the caller's tenant audit trail, newest first.
// Requires the audit.view capability. include_redacted only takes effect
// for callers holding audit.admin; everyone else gets the masked view.
func (s *Service) List(ctx context.Context, ec authz.ExecutionContext, req Request) (audit.Page, error) {
	if err := s.policy.Ensure(ec, authz.CapabilityAuditView); err != nil {
		return audit.Page{}, err
	}

	start := time.Now()
	s.metrics.IncQueries()

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	filter := audit.ListFilter{
		TenantID: ec.TenantID,
		ActorID:  req.ActorID,
		Action:   req.Action,
		EntityID: req.EntityID,
		From:     req.From,
		To:       req.To,
		// One extra row reveals whether a next page exists.
		Limit: limit + 1,
	}
	if req.Severity != "" {
		filter.Severity = audit.NormalizeSeverity(req.Severity)
	}
	if req.Cursor != "" {
		cursor, err := audit.DecodeCursor(req.Cursor)
		if err != nil {
			return audit.Page{}, err
		}
		filter.Cursor = &cursor
	}

	records, err := s.store.List(ctx, filter)
	if err != nil {
		return audit.Page{}, err
	}

	page := audit.Page{Records: make([]audit.ViewRecord, 0, limit)}
	if len(records) > limit {
		records = records[:limit]
		last := records[limit-1]
		page.NextCursor = audit.Cursor{OccurredAt: last.OccurredAt, EventID: last.EventID}.Encode()
	}
	for _, rec := range records {
		page.Records = append(page.Records, s.redactor.ForViewer(rec, ec.Roles, req.IncludeRedacted))
	}

	s.metrics.ObserveLatency(time.Since(start))
	return page, nil
}
