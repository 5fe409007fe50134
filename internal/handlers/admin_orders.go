package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/medimart/api/internal/platform/auth"
	"github.com/medimart/api/internal/platform/httpx"
	"github.com/medimart/api/internal/services"
)

type transitionOrderRequest struct {
	Status string `json:"status" validate:"required,oneof=PENDING CONFIRMED PREPARING SHIPPING COMPLETED CANCELLED"`
	Note   string `json:"note" validate:"max=1000"`
	Reason string `json:"reason" validate:"max=500"`
}

type adminCancelRequest struct {
	Reason string `json:"reason" validate:"notblank,max=500"`
}

// AdminOrderHandlers exposes order management to staff and admins.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs staff order handlers.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers /admin/orders endpoints on the API router.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
		}
		r.Get("/admin/orders", h.listOrders)
		r.Get("/admin/orders/{orderID}", h.getOrder)
		r.Get("/admin/orders/{orderID}/history", h.listHistory)
		r.Post("/admin/orders/{orderID}:transition", h.transitionOrder)
		r.Post("/admin/orders/{orderID}:cancel", h.cancelOrder)
		r.Delete("/admin/orders/{orderID}", h.deleteOrder)
	})
}

func (h *AdminOrderHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.orders == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(w, r); !ok || !h.available(w, r) {
		return
	}

	filter, err := orderFilterFromRequest(r)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	filter.CustomerID = strings.TrimSpace(r.URL.Query().Get("customerId"))

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(page, true))
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(w, r); !ok || !h.available(w, r) {
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"), services.OrderReadOptions{})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := buildOrderPayload(order)
	payload.AllowedTransitions = allowedTransitions(order.Status)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": payload})
}

func (h *AdminOrderHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(w, r); !ok || !h.available(w, r) {
		return
	}

	entries, err := h.orders.ListHistory(ctx, chi.URLParam(r, "orderID"), services.OrderReadOptions{})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildHistory(entries))
}

func (h *AdminOrderHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok || !h.available(w, r) {
		return
	}

	var req transitionOrderRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req, validate); err != nil {
		httpx.WriteError(ctx, w, httpx.AsError(err))
		return
	}
	target, _ := parseOrderStatus(req.Status)

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: target,
		ActorID:      identity.ActorID(),
		Note:         req.Note,
		Reason:       req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := buildOrderPayload(order)
	payload.AllowedTransitions = allowedTransitions(order.Status)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": payload})
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok || !h.available(w, r) {
		return
	}

	var req adminCancelRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req, validate); err != nil {
		httpx.WriteError(ctx, w, httpx.AsError(err))
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.ActorID(),
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *AdminOrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok || !h.available(w, r) {
		return
	}

	err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.ActorID(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
