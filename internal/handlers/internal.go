package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medimart/api/internal/platform/auth"
	"github.com/medimart/api/internal/platform/httpx"
	"github.com/medimart/api/internal/services"
)

const maxExpireBatch = 500

type expireUnpaidRequest struct {
	OlderThan string `json:"olderThan" validate:"max=32"`
	Limit     int    `json:"limit" validate:"gte=0,lte=500"`
}

// InternalHandlers serves scheduler-triggered maintenance endpoints.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs internal maintenance handlers.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers /internal endpoints. Callers wrap the router with service authentication.
func (h *InternalHandlers) Routes(r chi.Router) {
	r.Post("/internal/orders:expire-unpaid", h.expireUnpaid)
}

func (h *InternalHandlers) expireUnpaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req expireUnpaidRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.AsError(err))
		return
	}

	var olderThan time.Duration
	if raw := strings.TrimSpace(req.OlderThan); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "olderThan must be a positive duration such as 30m", http.StatusBadRequest))
			return
		}
		olderThan = parsed
	}
	limit := req.Limit
	if limit <= 0 || limit > maxExpireBatch {
		limit = maxExpireBatch
	}

	actor := services.ActorSystem
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok && strings.TrimSpace(identity.Email) != "" {
		actor = identity.Email
	}

	result, err := h.orders.ExpireUnpaid(ctx, services.ExpireUnpaidCommand{
		OlderThan: olderThan,
		Limit:     limit,
		ActorID:   actor,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	cancelled := result.Cancelled
	if cancelled == nil {
		cancelled = []string{}
	}
	skipped := result.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"cancelled": cancelled,
		"skipped":   skipped,
	})
}
