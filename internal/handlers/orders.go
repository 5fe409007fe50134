package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/payments"
	"github.com/medimart/api/internal/platform/auth"
	"github.com/medimart/api/internal/platform/httpx"
	"github.com/medimart/api/internal/platform/pagination"
	"github.com/medimart/api/internal/platform/requestctx"
	"github.com/medimart/api/internal/services"
)

const maxCheckoutBodySize = 64 * 1024

type cartLineRequest struct {
	ProductID string `json:"productId" validate:"notblank,max=64"`
	Quantity  int64  `json:"quantity" validate:"gt=0,lte=1000"`
}

type receiverRequest struct {
	Name    string `json:"name" validate:"notblank,max=200"`
	Phone   string `json:"phone" validate:"notblank,max=32"`
	Address string `json:"address" validate:"notblank,max=500"`
}

type createOrderRequest struct {
	Receiver        receiverRequest   `json:"receiver"`
	PaymentMethod   string            `json:"paymentMethod" validate:"required,oneof=COD GATEWAY_A GATEWAY_B"`
	PromotionCode   string            `json:"promotionCode" validate:"max=64"`
	LoyaltyPoints   int64             `json:"loyaltyPoints" validate:"gte=0"`
	Lines           []cartLineRequest `json:"lines" validate:"required,min=1,max=100,dive"`
	Note            string            `json:"note" validate:"max=1000"`
	StrictPromotion *bool             `json:"strictPromotion"`
}

type previewOrderRequest struct {
	PaymentMethod   string            `json:"paymentMethod" validate:"required,oneof=COD GATEWAY_A GATEWAY_B"`
	PromotionCode   string            `json:"promotionCode" validate:"max=64"`
	LoyaltyPoints   int64             `json:"loyaltyPoints" validate:"gte=0"`
	Lines           []cartLineRequest `json:"lines" validate:"required,min=1,max=100,dive"`
	StrictPromotion *bool             `json:"strictPromotion"`
}

type validatePromotionRequest struct {
	Code     string          `json:"code" validate:"notblank,max=64"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type createPaymentRequest struct {
	BankCode string `json:"bankCode" validate:"max=20"`
	Locale   string `json:"locale" validate:"omitempty,oneof=vn en"`
}

// OrderHandlers serves the storefront /orders endpoints for signed-in customers.
type OrderHandlers struct {
	authn      *auth.Authenticator
	checkout   services.CheckoutService
	orders     services.OrderService
	promotions services.PromotionService
	payments   services.PaymentService
	pricing    *services.PricingEngine
	idempotent func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithPromotionValidation enables POST /orders/promotions:validate.
func WithPromotionValidation(promotions services.PromotionService, pricing *services.PricingEngine) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.promotions = promotions
		h.pricing = pricing
	}
}

// WithPaymentStart enables POST /orders/{orderID}/payments.
func WithPaymentStart(payments services.PaymentService) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.payments = payments
	}
}

// WithIdempotency guards order and payment creation with the supplied middleware.
func WithIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotent = mw
	}
}

// NewOrderHandlers constructs the storefront order handlers.
func NewOrderHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		checkout: checkout,
		orders:   orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints on the API router.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth(auth.RoleCustomer))
		}
		guarded := r
		if h.idempotent != nil {
			guarded = r.With(h.idempotent)
		}

		guarded.Post("/orders", h.createOrder)
		r.Post("/orders:preview", h.previewOrder)
		r.Post("/orders/promotions:validate", h.validatePromotion)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{orderID}", h.getOrder)
		r.Get("/orders/{orderID}/history", h.listHistory)
		r.Post("/orders/{orderID}:cancel", h.cancelOrder)
		guarded.Post("/orders/{orderID}/payments", h.createPayment)
	})
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req, validate); err != nil {
		httpx.WriteError(ctx, w, httpx.AsError(err))
		return
	}

	summary, err := h.checkout.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID: identity.CustomerID,
		Receiver: domain.ReceiverInfo{
			Name:    req.Receiver.Name,
			Phone:   req.Receiver.Phone,
			Address: req.Receiver.Address,
		},
		PaymentMethod:   domain.PaymentMethod(req.PaymentMethod),
		PromotionCode:   req.PromotionCode,
		LoyaltyPoints:   req.LoyaltyPoints,
		Lines:           toCartLines(req.Lines),
		Note:            req.Note,
		StrictPromotion: req.StrictPromotion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+summary.Order.ID)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"order":    buildOrderPayload(summary.Order),
		"warnings": buildWarnings(summary.Warnings),
	})
}

type previewItemPayload struct {
	ProductID string      `json:"productId"`
	UnitPrice json.Number `json:"unitPrice"`
	Quantity  int64       `json:"quantity"`
	LineTotal json.Number `json:"lineTotal"`
}

type previewPayload struct {
	Currency          string               `json:"currency"`
	Subtotal          json.Number          `json:"subtotal"`
	ShippingFee       json.Number          `json:"shippingFee"`
	PromotionDiscount json.Number          `json:"promotionDiscount"`
	PromotionID       string               `json:"promotionId,omitempty"`
	LoyaltyPoints     int64                `json:"loyaltyPoints"`
	LoyaltyDiscount   json.Number          `json:"loyaltyDiscount"`
	Total             json.Number          `json:"total"`
	Items             []previewItemPayload `json:"items"`
	Warnings          []warningPayload     `json:"warnings,omitempty"`
}

func (h *OrderHandlers) previewOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req previewOrderRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req, validate); err != nil {
		httpx.WriteError(ctx, w, httpx.AsError(err))
		return
	}

	preview, err := h.checkout.PreviewOrder(ctx, services.CreateOrderCommand{
		CustomerID:      identity.CustomerID,
		PaymentMethod:   domain.PaymentMethod(req.PaymentMethod),
		PromotionCode:   req.PromotionCode,
		LoyaltyPoints:   req.LoyaltyPoints,
		Lines:           toCartLines(req.Lines),
		StrictPromotion: req.StrictPromotion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	b := preview.Breakdown
	payload := previewPayload{
		Currency:          b.Currency,
		Subtotal:          money(b.Subtotal),
		ShippingFee:       money(b.ShippingFee),
		PromotionDiscount: money(b.PromotionDiscount),
		PromotionID:       derefString(preview.PromotionID),
		LoyaltyPoints:     b.LoyaltyPoints,
		LoyaltyDiscount:   money(b.LoyaltyDiscount),
		Total:             money(b.Total),
		Items:             make([]previewItemPayload, 0, len(b.Items)),
		Warnings:          buildWarnings(preview.Warnings),
	}
	for _, item := range b.Items {
		payload.Items = append(payload.Items, previewItemPayload{
			ProductID: item.ProductID,
			UnitPrice: money(item.EffectiveUnitPrice),
			Quantity:  item.Quantity,
			LineTotal: money(item.LineTotal),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *OrderHandlers) validatePromotion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.promotions == nil || h.pricing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("promotion_service_unavailable", "promotion service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req validatePromotionRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req, validate); err != nil {
		httpx.WriteError(ctx, w, httpx.AsError(err))
		return
	}

	result, err := h.promotions.ValidatePromotion(ctx, services.ValidatePromotionCommand{
		Code:        req.Code,
		CustomerID:  identity.CustomerID,
		Subtotal:    req.Subtotal,
		ShippingFee: h.pricing.ShippingFee(req.Subtotal),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := map[string]any{
		"valid": result.Valid,
		"code":  result.Code,
	}
	if result.Valid {
		payload["discount"] = money(result.Discount)
		payload["discountType"] = string(result.Promotion.DiscountType)
	} else {
		payload["rejectionCode"] = result.RejectionCode
		payload["reason"] = result.Reason
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	filter, err := orderFilterFromRequest(r)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	filter.CustomerID = identity.CustomerID

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderList(page, false))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"), services.OrderReadOptions{CustomerID: identity.CustomerID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) listHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	entries, err := h.orders.ListHistory(ctx, chi.URLParam(r, "orderID"), services.OrderReadOptions{CustomerID: identity.CustomerID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildHistory(entries))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req cancelOrderRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.AsError(err))
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		CustomerID: identity.CustomerID,
		ActorID:    identity.ActorID(),
		Reason:     req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createPaymentRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.AsError(err))
		return
	}
	locale := req.Locale
	if locale == "" {
		locale = payments.LocaleFromAcceptLanguage(r.Header.Get("Accept-Language"), "")
	}

	paymentURL, err := h.payments.CreatePaymentURL(ctx, services.CreatePaymentCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		CustomerID: identity.CustomerID,
		ClientIP:   clientIP(r),
		Locale:     locale,
		BankCode:   req.BankCode,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"gateway":   paymentURL.Gateway,
		"url":       paymentURL.URL,
		"txnRef":    paymentURL.TxnRef,
		"amount":    paymentURL.Amount,
		"expiresAt": formatTime(paymentURL.ExpiresAt),
	})
}

func orderFilterFromRequest(r *http.Request) (services.OrderListFilter, error) {
	query := r.URL.Query()
	params, err := pagination.Parse(query, pagination.Options{DefaultPageSize: 20})
	if err != nil {
		return services.OrderListFilter{}, err
	}
	statuses, err := parseOrderStatuses(query["status"])
	if err != nil {
		return services.OrderListFilter{}, err
	}
	paymentStatus, err := parsePaymentStatus(query.Get("paymentStatus"))
	if err != nil {
		return services.OrderListFilter{}, err
	}
	return services.OrderListFilter{
		Status:        statuses,
		PaymentStatus: paymentStatus,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}, nil
}

func toCartLines(lines []cartLineRequest) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, domain.CartLine{ProductID: strings.TrimSpace(line.ProductID), Quantity: line.Quantity})
	}
	return out
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// clientIP prefers the address resolved by the request logger middleware.
func clientIP(r *http.Request) string {
	if ip := requestctx.ClientIP(r.Context()); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
