package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medimart/api/internal/platform/auth"
	"github.com/medimart/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	methods    map[string]struct{}
	clock      clockFunc
	logger     Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed responses stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the HTTP methods guarded by the middleware.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			cfg.methods = set
		}
	}
}

// WithLogger injects a logger for persistence failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware makes order creation and payment start replayable by key. A key is scoped to
// the requesting customer and the operation (method plus route pattern), so one client key
// reused for checkout and for the follow-up payment does not collide.
//
// Responses below 500 are stored and replayed verbatim, including business rejections such
// as insufficient stock. Server failures release the key so the client may retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return &guard{cfg: cfg, store: store, next: next}
	}
}

type guard struct {
	cfg   middlewareConfig
	store Store
	next  http.Handler
}

// attempt is one guarded request: the client key and where it is stored.
type attempt struct {
	clientKey   string
	requester   string
	storageKey  string
	fingerprint string
}

func (g *guard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := g.cfg.methods[r.Method]; !ok {
		g.next.ServeHTTP(w, r)
		return
	}

	key := strings.TrimSpace(r.Header.Get(g.cfg.headerName))
	switch {
	case key == "":
		respondError(w, r, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	case !validKey(key):
		respondError(w, r, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key must be 1-255 printable ASCII characters")
		return
	}

	body, err := readAndReplayBody(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	requester := requesterOf(r.Context())
	at := attempt{
		clientKey:   key,
		requester:   requester,
		storageKey:  operationOf(r) + "|" + requester + "|" + key,
		fingerprint: requestFingerprint(r, body),
	}

	reservation, err := g.store.Reserve(r.Context(), at.storageKey, at.fingerprint, g.cfg.clock().UTC(), g.cfg.ttl)
	if err != nil {
		g.storeFailure(w, r, err)
		return
	}
	switch reservation.State {
	case ReservationStateCompleted:
		writeStoredResponse(w, reservation.Record)
	case ReservationStatePending:
		respondError(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
	case ReservationStateNew:
		g.run(w, r, at)
	default:
		respondError(w, r, http.StatusInternalServerError, "idempotency_unknown_state", "unexpected idempotency state")
	}
}

func (g *guard) run(w http.ResponseWriter, r *http.Request, at attempt) {
	recorder := newResponseRecorder(w)
	g.next.ServeHTTP(recorder, r)

	// The handler may have been cancelled by the client; persistence must still happen.
	ctx := context.WithoutCancel(r.Context())

	if recorder.Status() >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, at.storageKey, at.fingerprint); err != nil {
			g.logf("idempotency: release key %s for %s after status %d: %v", at.clientKey, at.requester, recorder.Status(), err)
		}
		g.flush(recorder, at)
		return
	}

	response := Response{
		Status:  recorder.Status(),
		Headers: recorder.HeaderSnapshot(),
		Body:    recorder.Body(),
	}
	if err := g.store.SaveResponse(ctx, at.storageKey, at.fingerprint, response, g.cfg.clock().UTC(), g.cfg.ttl); err != nil {
		g.logf("idempotency: persist response for key %s (%s): %v", at.clientKey, at.requester, err)
		if releaseErr := g.store.Release(ctx, at.storageKey, at.fingerprint); releaseErr != nil {
			g.logf("idempotency: release key %s after save failure: %v", at.clientKey, releaseErr)
		}
		respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	g.flush(recorder, at)
}

func (g *guard) flush(recorder *responseRecorder, at attempt) {
	if err := recorder.Commit(); err != nil {
		g.logf("idempotency: flush response for key %s: %v", at.clientKey, err)
	}
}

func (g *guard) storeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		respondError(w, r, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	}
	g.logf("idempotency: store error: %v", err)
	respondError(w, r, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
}

func (g *guard) logf(format string, args ...any) {
	if g.cfg.logger != nil {
		g.cfg.logger.Printf(format, args...)
	}
}

func validKey(key string) bool {
	if len(key) > maxKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return false
		}
	}
	return true
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// operationOf prefers the chi route pattern so "/orders/{orderID}/payments" is one operation
// for every order id; the order id itself is part of the fingerprint via the path.
func operationOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return r.Method + " " + pattern
		}
	}
	return r.Method + " " + r.URL.Path
}

func requestFingerprint(r *http.Request, body []byte) string {
	var b strings.Builder
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('|')
	b.WriteString(r.Header.Get("Content-Type"))
	b.WriteByte('|')
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

// requesterOf names the principal a key belongs to. Customers are scoped by their
// customer record, staff by uid, and schedulers by service account.
func requesterOf(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		if identity.IsStaff() {
			return identity.ActorID()
		}
		if id := strings.TrimSpace(identity.CustomerID); id != "" {
			return "customer:" + id
		}
		return "customer:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil {
		if svc.Email != "" {
			return "service:" + svc.Email
		}
		if svc.Subject != "" {
			return "service:" + svc.Subject
		}
	}
	return "anonymous"
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	dst := w.Header()
	for key := range dst {
		dst.Del(key)
	}
	for key, values := range headersFromRecord(record.ResponseHeaders) {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
	dst.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

// responseRecorder buffers the handler's response until it has been persisted.
type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.status != 0 {
		return
	}
	if status <= 0 {
		status = http.StatusOK
	}
	r.status = status
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return bytes.Clone(r.body.Bytes())
}

func (r *responseRecorder) HeaderSnapshot() http.Header {
	return r.header.Clone()
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for key := range dst {
		dst.Del(key)
	}
	for key, values := range r.header {
		dst[key] = append([]string(nil), values...)
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
