package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/medimart/api/internal/platform/requestctx"
)

// Error is the JSON error envelope {"error","message","status"} returned by every endpoint.
// Details are merged into the top level of the body.
type Error struct {
	Code       string
	Message    string
	Status     int
	RequestID  string
	TraceID    string
	Details    map[string]any
	RetryAfter time.Duration
}

// NewError builds an envelope. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clean(code, 80),
		Message: clean(message, 512),
		Status:  status,
	}
}

func (e Error) Error() string {
	return e.Message
}

// AsError returns the envelope carried by err, or a generic 500.
func AsError(err error) Error {
	var typed Error
	if errors.As(err, &typed) {
		return typed
	}
	return NewError("internal_error", "internal server error", http.StatusInternalServerError)
}

func (e Error) WithRequestID(id string) Error {
	e.RequestID = clean(id, 80)
	return e
}

func (e Error) WithTraceID(id string) Error {
	e.TraceID = clean(id, 64)
	return e
}

// WithDetails attaches extra top-level fields such as the failing product id.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WithRetryAfter asks the client to retry after d. It is emitted as a Retry-After header
// in whole seconds, rounded up.
func (e Error) WithRetryAfter(d time.Duration) Error {
	if d > 0 {
		e.RetryAfter = d
	}
	return e
}

// WriteError writes err with request and trace ids filled from ctx when unset.
// Detail keys never override the envelope's own fields.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := make(map[string]any, len(err.Details)+5)
	for k, v := range err.Details {
		payload[k] = v
	}
	payload["error"] = err.Code
	payload["message"] = err.Message
	payload["status"] = status
	if id := firstNonEmpty(err.RequestID, clean(middleware.GetReqID(ctx), 80)); id != "" {
		payload["request_id"] = id
	}
	if id := firstNonEmpty(err.TraceID, clean(requestctx.TraceID(ctx), 64)); id != "" {
		payload["trace_id"] = id
	}

	if err.RetryAfter > 0 {
		seconds := int64((err.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}
	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// clean flattens control characters to spaces and truncates to limit runes.
func clean(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value))
	if runes := []rune(value); len(runes) > limit {
		value = string(runes[:limit])
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
