package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/payments"
	"github.com/medimart/api/internal/platform/httpx"
	"github.com/medimart/api/internal/platform/pagination"
	"github.com/medimart/api/internal/repositories"
	"github.com/medimart/api/internal/services"
)

const retryAfterUnavailable = 2 * time.Second

// errorMapping translates a service sentinel into the JSON error envelope.
type errorMapping struct {
	target error
	code   string
	status int
}

// serviceErrors is evaluated in order, so specific sentinels precede broad ones.
var serviceErrors = []errorMapping{
	{services.ErrCheckoutInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrPricingInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrInventoryInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrPromotionInvalidCode, "invalid_promotion_code", http.StatusBadRequest},
	{services.ErrPromotionInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrCustomerInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrOrderInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrPaymentInvalidInput, "invalid_request", http.StatusBadRequest},
	{payments.ErrInvalidRequest, "invalid_request", http.StatusBadRequest},
	{payments.ErrInvalidSignature, "invalid_signature", http.StatusBadRequest},
	{payments.ErrMalformedCallback, "malformed_callback", http.StatusBadRequest},
	{services.ErrPaymentAmountMismatch, "amount_mismatch", http.StatusBadRequest},

	{services.ErrCustomerNotFound, "customer_not_found", http.StatusNotFound},
	{services.ErrProductNotFound, "product_not_found", http.StatusNotFound},
	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{services.ErrPaymentOrderNotFound, "order_not_found", http.StatusNotFound},
	{payments.ErrUnsupportedGateway, "gateway_not_found", http.StatusNotFound},

	{services.ErrInsufficientStock, "insufficient_stock", http.StatusConflict},
	{services.ErrOrderInvalidState, "order_invalid_state", http.StatusConflict},
	{services.ErrOrderConflict, "order_conflict", http.StatusConflict},
	{services.ErrPaymentOrderCancelled, "order_cancelled", http.StatusConflict},
	{services.ErrPaymentNotPayable, "order_not_payable", http.StatusConflict},

	{services.ErrPromotionRejected, "promotion_rejected", http.StatusUnprocessableEntity},
	{services.ErrInsufficientLoyaltyPoints, "insufficient_loyalty_points", http.StatusUnprocessableEntity},
	{services.ErrCheckoutPaymentMethodUnavailable, "payment_method_unavailable", http.StatusUnprocessableEntity},

	{services.ErrCheckoutOrderCodeExhausted, "order_code_unavailable", http.StatusServiceUnavailable},
	{pagination.ErrInvalidPageSize, "invalid_request", http.StatusBadRequest},
	{pagination.ErrInvalidPageToken, "invalid_request", http.StatusBadRequest},
}

// writeServiceError maps err onto the error envelope. Unknown errors become a 500
// without leaking their message.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var envelope httpx.Error
	if errors.As(err, &envelope) {
		httpx.WriteError(ctx, w, envelope)
		return
	}
	for _, m := range serviceErrors {
		if errors.Is(err, m.target) {
			envelope := httpx.NewError(m.code, err.Error(), m.status).WithDetails(errorDetails(err))
			if m.status == http.StatusServiceUnavailable {
				envelope = envelope.WithRetryAfter(retryAfterUnavailable)
			}
			httpx.WriteError(ctx, w, envelope)
			return
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable).WithRetryAfter(retryAfterUnavailable))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
}

func errorDetails(err error) map[string]any {
	var stock *services.InsufficientStockError
	if errors.As(err, &stock) {
		return map[string]any{"productId": stock.ProductID, "remaining": stock.Remaining, "requested": stock.Requested}
	}
	var transition *services.InvalidTransitionError
	if errors.As(err, &transition) {
		return map[string]any{"from": string(transition.From), "to": string(transition.To)}
	}
	var rejection *services.PromotionRejection
	if errors.As(err, &rejection) {
		return map[string]any{"rejectionCode": rejection.Code, "reason": rejection.Reason}
	}
	return nil
}

// decodeOptionalJSON decodes the body when one was sent. An absent body leaves dst untouched.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return httpx.DecodeJSON(r, httpx.DefaultBodyLimit, dst, validate)
}

var validate = httpx.NewValidator()

// money renders a whole-unit amount as a JSON number.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseOrderStatuses(values []string) ([]domain.OrderStatus, error) {
	var out []domain.OrderStatus
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status, ok := parseOrderStatus(part)
			if !ok {
				return nil, httpx.NewError("invalid_request", "unknown order status "+part, http.StatusBadRequest)
			}
			out = append(out, status)
		}
	}
	return out, nil
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	status := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusPreparing,
		domain.OrderStatusShipping, domain.OrderStatusCompleted, domain.OrderStatusCancelled:
		return status, true
	default:
		return "", false
	}
}

func parsePaymentStatus(raw string) (*domain.PaymentStatus, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return nil, nil
	}
	status := domain.PaymentStatus(raw)
	if status != domain.PaymentStatusPaid && status != domain.PaymentStatusUnpaid {
		return nil, httpx.NewError("invalid_request", "unknown payment status "+raw, http.StatusBadRequest)
	}
	return &status, nil
}

type receiverPayload struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type orderLinePayload struct {
	ID          string      `json:"id"`
	ProductID   string      `json:"productId"`
	ProductName string      `json:"productName"`
	ImageURL    string      `json:"imageUrl,omitempty"`
	UnitPrice   json.Number `json:"unitPrice"`
	Quantity    int64       `json:"quantity"`
	LineTotal   json.Number `json:"lineTotal"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	Code               string             `json:"code"`
	CustomerID         string             `json:"customerId"`
	Status             string             `json:"status"`
	PaymentMethod      string             `json:"paymentMethod"`
	PaymentStatus      string             `json:"paymentStatus"`
	Receiver           receiverPayload    `json:"receiver"`
	Subtotal           json.Number        `json:"subtotal"`
	ShippingFee        json.Number        `json:"shippingFee"`
	Discount           json.Number        `json:"discount"`
	LoyaltyPointsUsed  int64              `json:"loyaltyPointsUsed"`
	LoyaltyDiscount    json.Number        `json:"loyaltyDiscount"`
	Total              json.Number        `json:"total"`
	PromotionID        string             `json:"promotionId,omitempty"`
	Note               string             `json:"note,omitempty"`
	CancelReason       string             `json:"cancelReason,omitempty"`
	GatewayTxnID       string             `json:"gatewayTxnId,omitempty"`
	ConfirmedBy        string             `json:"confirmedBy,omitempty"`
	ConfirmedAt        string             `json:"confirmedAt,omitempty"`
	PreparedAt         string             `json:"preparedAt,omitempty"`
	ShippedAt          string             `json:"shippedAt,omitempty"`
	CompletedAt        string             `json:"completedAt,omitempty"`
	CancelledAt        string             `json:"cancelledAt,omitempty"`
	PaidAt             string             `json:"paidAt,omitempty"`
	CreatedAt          string             `json:"createdAt"`
	UpdatedAt          string             `json:"updatedAt"`
	Lines              []orderLinePayload `json:"lines"`
	AllowedTransitions []string           `json:"allowedTransitions,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		Code:              order.Code,
		CustomerID:        order.CustomerID,
		Status:            string(order.Status),
		PaymentMethod:     string(order.PaymentMethod),
		PaymentStatus:     string(order.PaymentStatus),
		Receiver:          receiverPayload{Name: order.Receiver.Name, Phone: order.Receiver.Phone, Address: order.Receiver.Address},
		Subtotal:          money(order.Subtotal),
		ShippingFee:       money(order.ShippingFee),
		Discount:          money(order.Discount),
		LoyaltyPointsUsed: order.LoyaltyPointsUsed,
		LoyaltyDiscount:   money(order.LoyaltyDiscount),
		Total:             money(order.Total),
		PromotionID:       derefString(order.PromotionID),
		Note:              order.Note,
		CancelReason:      derefString(order.CancelReason),
		GatewayTxnID:      derefString(order.GatewayTxnID),
		ConfirmedBy:       derefString(order.ConfirmedBy),
		ConfirmedAt:       formatTimePtr(order.ConfirmedAt),
		PreparedAt:        formatTimePtr(order.PreparedAt),
		ShippedAt:         formatTimePtr(order.ShippedAt),
		CompletedAt:       formatTimePtr(order.CompletedAt),
		CancelledAt:       formatTimePtr(order.CancelledAt),
		PaidAt:            formatTimePtr(order.PaidAt),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		Lines:             make([]orderLinePayload, 0, len(order.Lines)),
	}
	for _, line := range order.Lines {
		payload.Lines = append(payload.Lines, orderLinePayload{
			ID:          line.ID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			ImageURL:    line.ImageURL,
			UnitPrice:   money(line.UnitPrice),
			Quantity:    line.Quantity,
			LineTotal:   money(line.LineTotal),
		})
	}
	return payload
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func buildOrderList(page domain.CursorPage[services.Order], withTransitions bool) orderListResponse {
	resp := orderListResponse{
		Items:         make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload := buildOrderPayload(order)
		if withTransitions {
			payload.AllowedTransitions = allowedTransitions(order.Status)
		}
		resp.Items = append(resp.Items, payload)
	}
	return resp
}

func allowedTransitions(status domain.OrderStatus) []string {
	next := services.AllowedTransitions(status)
	out := make([]string, 0, len(next))
	for _, s := range next {
		out = append(out, string(s))
	}
	return out
}

type historyEntryPayload struct {
	ID         string `json:"id"`
	FromStatus string `json:"fromStatus,omitempty"`
	ToStatus   string `json:"toStatus"`
	Actor      string `json:"actor"`
	Note       string `json:"note,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

func buildHistory(entries []services.OrderHistoryEntry) map[string]any {
	items := make([]historyEntryPayload, 0, len(entries))
	for _, entry := range entries {
		items = append(items, historyEntryPayload{
			ID:         entry.ID,
			FromStatus: string(entry.FromStatus),
			ToStatus:   string(entry.ToStatus),
			Actor:      entry.Actor,
			Note:       entry.Note,
			CreatedAt:  formatTime(entry.CreatedAt),
		})
	}
	return map[string]any{"items": items}
}

type warningPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func buildWarnings(warnings []services.CheckoutWarning) []warningPayload {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]warningPayload, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, warningPayload{Code: w.Code, Message: w.Message})
	}
	return out
}
