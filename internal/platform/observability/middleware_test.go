package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/medimart/api/internal/platform/requestctx"
)

func TestRequestLoggerResolvesClientIP(t *testing.T) {
	cases := []struct {
		name      string
		remote    string
		forwarded string
		want      string
	}{
		{"remote addr", "198.51.100.4:5123", "", "198.51.100.4"},
		{"forwarded first hop", "10.0.0.1:443", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"garbage forwarded header", "198.51.100.4:5123", "not-an-ip", "198.51.100.4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			handler := RequestLoggerMiddleware("medimart")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = requestctx.ClientIP(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			req.RemoteAddr = tc.remote
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged on the fallback logger")
	}
}

func TestRequestLoggerLogsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/orders", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	if completed[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected 4xx to log at warn, got %s", completed[0].Level)
	}
	if status, ok := completed[0].ContextMap()["status"].(int64); !ok || status != http.StatusConflict {
		t.Fatalf("expected status 409, got %v", completed[0].ContextMap()["status"])
	}
}

func TestRequestLoggerRecordsResolvedRouteAndOrder(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)), RequestLoggerMiddleware("medimart"))
	router.Get("/payments/{gateway}/return", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/payments/gateway_a/return?vnp_TxnRef=DH1&vnp_SecureHash=deadbeef", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	fields := completed[0].ContextMap()
	if fields["route"] != "/payments/{gateway}/return" {
		t.Fatalf("expected resolved route pattern, got %v", fields["route"])
	}
	if fields["gateway"] != "gateway_a" {
		t.Fatalf("expected gateway field, got %v", fields["gateway"])
	}
	query, _ := fields["query"].(string)
	if query == "" || strings.Contains(query, "deadbeef") {
		t.Fatalf("expected redacted query, got %q", query)
	}
}

func TestCloudTraceHeaderRoundTrip(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}
	if got := formatCloudTraceHeader(sc); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected formatted header %q", got)
	}
	for _, bad := range []string{"", "short/1", "105445aa7843bc8bf206b12000100000/0;o=1", "105445aa7843bc8bf206b12000100000/zz"} {
		if _, ok := parseCloudTraceContext(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
