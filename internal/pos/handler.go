// Package pos mounts the point-of-sale mutation endpoints. Each handler
// follows the same contract: resolve the execution context, ensure the
// capability, apply the mutation, emit the audit envelope. A denied check
// itself emits a security-severity event before the 403 goes out.
package pos

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"poscore/internal/audit"
	"poscore/internal/authz"
	dErrors "poscore/pkg/domain-errors"
	"poscore/pkg/platform/httputil"
	"poscore/pkg/requestcontext"
)

// Emitter hands completed envelopes to the audit pipeline. Emission never
// fails from the handler's point of view; pipeline trouble surfaces as
// operator metrics, not business errors.
type Emitter interface {
	Emit(env audit.Envelope)
}

// Inventory applies stock adjustments. The domain write is owned by the
// inventory service; this package needs only its contract.
type Inventory interface {
	Adjust(tenantID, sku string, delta int) error
}

// Customers applies customer profile updates.
type Customers interface {
	Update(tenantID, customerID string, fields map[string]any) error
}

// Handler serves the POS mutation routes.
type Handler struct {
	policy    *authz.Engine
	emitter   Emitter
	inventory Inventory
	customers Customers
	logger    *slog.Logger
}

// NewHandler creates the POS handler.
func NewHandler(policy *authz.Engine, emitter Emitter, inventory Inventory, customers Customers, logger *slog.Logger) *Handler {
	return &Handler{
		policy:    policy,
		emitter:   emitter,
		inventory: inventory,
		customers: customers,
		logger:    logger,
	}
}

// Register mounts the POS routes. The identity middleware must already be
// installed on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/inventory/adjustments", h.handleAdjustInventory)
	r.Put("/customers/{customerID}", h.handleUpdateCustomer)
}

// ensure runs the capability check and, on denial, emits the denial event
// before reporting the error. The denial envelope rides the same pipeline
// as every other audit event.
func (h *Handler) ensure(ec authz.ExecutionContext, cap authz.Capability) error {
	err := h.policy.Ensure(ec, cap)
	if err == nil {
		return nil
	}
	if dErrors.Is(err, dErrors.CodeMissingRole) {
		h.emitter.Emit(audit.NewEnvelope(ec, audit.ActionCapabilityDenied, map[string]any{
			"capability": string(cap),
			"roles":      ec.RoleStrings(),
		}))
	}
	return err
}

type adjustInventoryRequest struct {
	SKU    string `json:"sku"`
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (h *Handler) handleAdjustInventory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ec, err := authz.FromContext(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req adjustInventoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.SKU == "" || req.Delta == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "sku and a non-zero delta are required"))
		return
	}

	if err := h.ensure(ec, authz.CapabilityInventoryAdjust); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.inventory.Adjust(ec.TenantID, req.SKU, req.Delta); err != nil {
		h.logger.ErrorContext(ctx, "inventory adjustment failed",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", ec.TenantID,
			"sku", req.SKU,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to adjust inventory"))
		return
	}

	h.emitter.Emit(audit.NewEnvelope(ec, audit.ActionInventoryAdjusted, map[string]any{
		"entity_id": req.SKU,
		"delta":     req.Delta,
		"reason":    req.Reason,
	}))

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"sku":   req.SKU,
		"delta": req.Delta,
	})
}

type updateCustomerRequest struct {
	Fields map[string]any `json:"fields"`
}

func (h *Handler) handleUpdateCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ec, err := authz.FromContext(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	customerID := chi.URLParam(r, "customerID")

	var req updateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if len(req.Fields) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "at least one field is required"))
		return
	}

	if err := h.ensure(ec, authz.CapabilityCustomerWrite); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.customers.Update(ec.TenantID, customerID, req.Fields); err != nil {
		h.logger.ErrorContext(ctx, "customer update failed",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", ec.TenantID,
			"customer_id", customerID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to update customer"))
		return
	}

	env := audit.NewEnvelope(ec, audit.ActionCustomerUpdated, map[string]any{
		"entity_id": customerID,
		"fields":    req.Fields,
	})
	h.emitter.Emit(env)

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"customer_id": customerID})
}
