package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/payments"
	"github.com/medimart/api/internal/platform/httpx"
	"github.com/medimart/api/internal/platform/requestctx"
	"github.com/medimart/api/internal/services"
)

// IPN response codes understood by the gateways.
const (
	ipnConfirmed        = "00"
	ipnOrderNotFound    = "01"
	ipnAlreadyConfirmed = "02"
	ipnInvalidAmount    = "04"
	ipnInvalidSignature = "97"
	ipnUnknownError     = "99"
)

// PaymentCallbackHandlers receives browser returns and server-to-server notifications
// from the payment gateways. The gateway signature authenticates both.
type PaymentCallbackHandlers struct {
	payments services.PaymentService
}

// NewPaymentCallbackHandlers constructs gateway callback handlers.
func NewPaymentCallbackHandlers(payments services.PaymentService) *PaymentCallbackHandlers {
	return &PaymentCallbackHandlers{payments: payments}
}

// Routes registers the callback endpoints on the API router.
func (h *PaymentCallbackHandlers) Routes(r chi.Router) {
	r.Get("/payments/{gateway}/return", h.handleReturn)
	r.Get("/payments/{gateway}/ipn", h.handleIPN)
}

type paymentReturnPayload struct {
	Outcome       string `json:"outcome"`
	Success       bool   `json:"success"`
	OrderID       string `json:"orderId"`
	OrderCode     string `json:"orderCode"`
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"`
	ResponseCode  string `json:"responseCode"`
	Message       string `json:"message"`
}

func (h *PaymentCallbackHandlers) handleReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	result, err := h.payments.HandleCallback(ctx, services.PaymentCallbackCommand{
		Gateway: chi.URLParam(r, "gateway"),
		Params:  r.URL.Query(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, paymentReturnPayload{
		Outcome:       string(result.Outcome),
		Success:       result.Order.PaymentStatus == domain.PaymentStatusPaid,
		OrderID:       result.Order.ID,
		OrderCode:     result.Order.Code,
		Status:        string(result.Order.Status),
		PaymentStatus: string(result.Order.PaymentStatus),
		ResponseCode:  result.Callback.ResponseCode,
		Message:       payments.ResponseMessage(result.Callback.ResponseCode),
	})
}

type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// handleIPN always answers 200; the gateway reads the outcome from RspCode.
func (h *PaymentCallbackHandlers) handleIPN(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		httpx.WriteJSON(w, http.StatusOK, ipnResponse{RspCode: ipnUnknownError, Message: "Unknown error"})
		return
	}

	gateway := chi.URLParam(r, "gateway")
	result, err := h.payments.HandleCallback(r.Context(), services.PaymentCallbackCommand{
		Gateway: gateway,
		Params:  r.URL.Query(),
	})
	if errors.Is(err, services.ErrPaymentOrderCancelled) {
		// payment captured for a cancelled order needs a manual refund
		requestctx.Logger(r.Context()).Error("payments.ipn_paid_after_cancel",
			zap.String("gateway", gateway),
			zap.String("txn_ref", r.URL.Query().Get(payments.ParamTxnRef)),
			zap.String("transaction_no", r.URL.Query().Get(payments.ParamTransactionNo)),
			zap.Bool("refund_required", true),
		)
	}
	httpx.WriteJSON(w, http.StatusOK, ipnResponseFor(result, err))
}

func ipnResponseFor(result services.PaymentCallbackResult, err error) ipnResponse {
	switch {
	case err == nil && result.Outcome == services.PaymentOutcomeAlreadyProcessed:
		return ipnResponse{RspCode: ipnAlreadyConfirmed, Message: "Order already confirmed"}
	case err == nil:
		return ipnResponse{RspCode: ipnConfirmed, Message: "Confirm Success"}
	case errors.Is(err, services.ErrPaymentOrderCancelled):
		return ipnResponse{RspCode: ipnAlreadyConfirmed, Message: "Order cancelled, refund required"}
	case errors.Is(err, services.ErrPaymentOrderNotFound):
		return ipnResponse{RspCode: ipnOrderNotFound, Message: "Order not found"}
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		return ipnResponse{RspCode: ipnInvalidAmount, Message: "Invalid amount"}
	case errors.Is(err, payments.ErrInvalidSignature):
		return ipnResponse{RspCode: ipnInvalidSignature, Message: "Invalid signature"}
	default:
		return ipnResponse{RspCode: ipnUnknownError, Message: "Unknown error"}
	}
}
