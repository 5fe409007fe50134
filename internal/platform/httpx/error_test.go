package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NewError("insufficient_stock", "not enough stock for prd_vitc", http.StatusConflict).
		WithDetails(map[string]any{"productId": "prd_vitc", "remaining": 1, "status": "ignored"}).
		WithRequestID("req-1")

	WriteError(context.Background(), rec, err)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if decodeErr := json.Unmarshal(rec.Body.Bytes(), &body); decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	if body["error"] != "insufficient_stock" || body["productId"] != "prd_vitc" || body["request_id"] != "req-1" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["status"] != float64(http.StatusConflict) {
		t.Fatalf("details must not override status, got %v", body["status"])
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Fatalf("unexpected Retry-After header")
	}
}

func TestWriteErrorRetryAfterRoundsUp(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("service_unavailable", "storage temporarily unavailable", http.StatusServiceUnavailable).WithRetryAfter(1500*time.Millisecond))

	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
}

func TestNewErrorCleansInput(t *testing.T) {
	err := NewError("bad\ncode", "line one\r\nline two", 0)
	if err.Code != "bad code" {
		t.Fatalf("unexpected code %q", err.Code)
	}
	if err.Message != "line one  line two" {
		t.Fatalf("unexpected message %q", err.Message)
	}
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected default 500, got %d", err.Status)
	}
}

func TestAsErrorUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("decode: %w", NewError("invalid_request", "request body is required", http.StatusBadRequest))
	if got := AsError(wrapped); got.Status != http.StatusBadRequest || got.Code != "invalid_request" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if got := AsError(errors.New("boom")); got.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 for foreign errors, got %d", got.Status)
	}
}
