package query

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"poscore/internal/authz"
	dErrors "poscore/pkg/domain-errors"
	"poscore/pkg/platform/httputil"
	"poscore/pkg/requestcontext"
)

// Handler serves the audit read endpoint.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates the audit query handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the audit routes. The identity middleware must already
// be installed on r; the handler trusts the request context, not headers.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/events", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ec, err := authz.FromContext(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, err := parseRequest(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	page, err := h.service.List(ctx, ec, req)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "audit query failed",
				"request_id", requestcontext.RequestID(ctx),
				"tenant_id", ec.TenantID,
				"error", err,
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to query audit events"))
			return
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

func parseRequest(r *http.Request) (Request, error) {
	q := r.URL.Query()
	req := Request{
		ActorID:  q.Get("actor_id"),
		Action:   q.Get("action"),
		Severity: q.Get("severity"),
		EntityID: q.Get("entity_id"),
		Cursor:   q.Get("cursor"),
	}

	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Request{}, dErrors.New(dErrors.CodeInvalidInput, "invalid from timestamp, want RFC3339")
		}
		req.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Request{}, dErrors.New(dErrors.CodeInvalidInput, "invalid to timestamp, want RFC3339")
		}
		req.To = t
	}
	if !req.From.IsZero() && !req.To.IsZero() && req.To.Before(req.From) {
		return Request{}, dErrors.New(dErrors.CodeInvalidInput, "to must not precede from")
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Request{}, dErrors.New(dErrors.CodeInvalidInput, "invalid limit")
		}
		req.Limit = n
	}
	if raw := q.Get("include_redacted"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Request{}, dErrors.New(dErrors.CodeInvalidInput, "invalid include_redacted")
		}
		req.IncludeRedacted = v
	}
	return req, nil
}
