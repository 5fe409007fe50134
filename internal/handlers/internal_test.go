package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/medimart/api/internal/platform/auth"
	"github.com/medimart/api/internal/services"
)

func newInternalRouter(orders services.OrderService) http.Handler {
	return NewRouter(WithInternalRoutes(NewInternalHandlers(orders).Routes))
}

func TestInternalHandlersExpireUnpaidDefaults(t *testing.T) {
	orders := &stubOrderService{expired: services.ExpireUnpaidResult{Cancelled: []string{"ord_1"}}}
	router := newInternalRouter(orders)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/orders:expire-unpaid", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.expire.OlderThan != 0 || orders.expire.Limit != maxExpireBatch || orders.expire.ActorID != services.ActorSystem {
		t.Fatalf("unexpected command %+v", orders.expire)
	}
	resp := decodeBody(t, rr)
	if len(resp["cancelled"].([]any)) != 1 || len(resp["skipped"].([]any)) != 0 {
		t.Fatalf("unexpected payload %v", resp)
	}
}

func TestInternalHandlersExpireUnpaidWithOptions(t *testing.T) {
	orders := &stubOrderService{}
	router := newInternalRouter(orders)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/orders:expire-unpaid", strings.NewReader(`{"olderThan":"45m","limit":20}`))
	req = req.WithContext(auth.WithServiceIdentity(req.Context(), &auth.ServiceIdentity{Subject: "1234", Email: "scheduler@medimart.iam.gserviceaccount.com"}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.expire.OlderThan != 45*time.Minute || orders.expire.Limit != 20 {
		t.Fatalf("unexpected command %+v", orders.expire)
	}
	if orders.expire.ActorID != "scheduler@medimart.iam.gserviceaccount.com" {
		t.Fatalf("expected service account actor, got %q", orders.expire.ActorID)
	}
}

func TestInternalHandlersExpireUnpaidRejectsBadDuration(t *testing.T) {
	for _, body := range []string{`{"olderThan":"soon"}`, `{"olderThan":"-5m"}`, `{"limit":5000}`} {
		orders := &stubOrderService{}
		router := newInternalRouter(orders)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/internal/orders:expire-unpaid", strings.NewReader(body)))

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rr.Code)
		}
		if orders.expire.ActorID != "" {
			t.Fatalf("%s: service must not run", body)
		}
	}
}
