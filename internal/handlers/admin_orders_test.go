package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/auth"
	"github.com/medimart/api/internal/services"
)

func staffRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := auth.WithIdentity(req.Context(), &auth.Identity{UID: "uid_9", Email: "pharmacist@medimart.vn", Roles: []string{auth.RoleStaff}})
	return req.WithContext(ctx)
}

func newAdminRouter(orders services.OrderService) http.Handler {
	return NewRouter(WithAdminRoutes(NewAdminOrderHandlers(nil, orders).Routes))
}

func TestAdminOrderHandlersListOrders(t *testing.T) {
	orders := &stubOrderService{page: domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}}}
	router := newAdminRouter(orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodGet, "/api/v1/admin/orders?customerId=cus_7&status=SHIPPING", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.filter.CustomerID != "cus_7" {
		t.Fatalf("expected customer filter cus_7, got %q", orders.filter.CustomerID)
	}
	if len(orders.filter.Status) != 1 || orders.filter.Status[0] != domain.OrderStatusShipping {
		t.Fatalf("unexpected status filter %v", orders.filter.Status)
	}
	items := decodeBody(t, rr)["items"].([]any)
	transitions := items[0].(map[string]any)["allowedTransitions"].([]any)
	if len(transitions) != 2 {
		t.Fatalf("expected pending order to offer two transitions, got %v", transitions)
	}
}

func TestAdminOrderHandlersGetOrderIsUnscoped(t *testing.T) {
	orders := &stubOrderService{order: sampleOrder()}
	router := newAdminRouter(orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodGet, "/api/v1/admin/orders/ord_1", ""))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.readOpts.CustomerID != "" {
		t.Fatalf("staff reads must not be scoped to a customer, got %q", orders.readOpts.CustomerID)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	if _, ok := order["allowedTransitions"]; !ok {
		t.Fatalf("expected allowed transitions in staff view")
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodGet, "/api/v1/admin/orders/ord_1/history", ""))
	if rr.Code != http.StatusOK || orders.readID != "ord_1" {
		t.Fatalf("expected history for ord_1, got %d %q", rr.Code, orders.readID)
	}
}

func TestAdminOrderHandlersTransition(t *testing.T) {
	confirmed := sampleOrder()
	confirmed.Status = domain.OrderStatusConfirmed
	orders := &stubOrderService{order: confirmed}
	router := newAdminRouter(orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/api/v1/admin/orders/ord_1:transition", `{"status":"CONFIRMED","note":"stock checked"}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cmd := orders.transition
	if cmd.OrderID != "ord_1" || cmd.TargetStatus != domain.OrderStatusConfirmed || cmd.Note != "stock checked" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.ActorID != "staff:uid_9" {
		t.Fatalf("expected staff actor, got %q", cmd.ActorID)
	}
	order := decodeBody(t, rr)["order"].(map[string]any)
	if order["status"] != "CONFIRMED" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestAdminOrderHandlersTransitionErrors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{
			name:   "unknown status",
			body:   `{"status":"LOST"}`,
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "illegal transition",
			body:   `{"status":"COMPLETED"}`,
			err:    &services.InvalidTransitionError{From: domain.OrderStatusPending, To: domain.OrderStatusCompleted},
			status: http.StatusConflict,
			code:   "order_invalid_state",
		},
		{
			name:   "concurrent update",
			body:   `{"status":"PREPARING"}`,
			err:    fmt.Errorf("%w: ord_1 changed", services.ErrOrderConflict),
			status: http.StatusConflict,
			code:   "order_conflict",
		},
		{
			name:   "missing cancel reason",
			body:   `{"status":"CANCELLED"}`,
			err:    fmt.Errorf("%w: reason is required", services.ErrOrderInvalidInput),
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newAdminRouter(&stubOrderService{err: tc.err})

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, staffRequest(http.MethodPost, "/api/v1/admin/orders/ord_1:transition", tc.body))

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if got := decodeBody(t, rr)["error"]; got != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, got)
			}
		})
	}
}

func TestAdminOrderHandlersCancelRequiresReason(t *testing.T) {
	orders := &stubOrderService{order: sampleOrder()}
	router := newAdminRouter(orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/api/v1/admin/orders/ord_1:cancel", `{"reason":"  "}`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodPost, "/api/v1/admin/orders/ord_1:cancel", `{"reason":"out of stock"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.cancel.CustomerID != "" || orders.cancel.Reason != "out of stock" || orders.cancel.ActorID != "staff:uid_9" {
		t.Fatalf("unexpected cancel command %+v", orders.cancel)
	}
}

func TestAdminOrderHandlersDelete(t *testing.T) {
	orders := &stubOrderService{}
	router := newAdminRouter(orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodDelete, "/api/v1/admin/orders/ord_1", ""))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.deleted.OrderID != "ord_1" || orders.deleted.ActorID != "staff:uid_9" {
		t.Fatalf("unexpected delete command %+v", orders.deleted)
	}

	orders.err = fmt.Errorf("%w: order is not cancelled", services.ErrOrderInvalidState)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, staffRequest(http.MethodDelete, "/api/v1/admin/orders/ord_1", ""))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
