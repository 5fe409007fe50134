package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/medimart/api/internal/platform/httpx"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

const defaultJWKSValidity = 15 * time.Minute

// JWKSCache fetches the issuer's signing keys and keeps them until the
// Cache-Control max-age lapses or an unknown kid is seen.
type JWKSCache struct {
	url    string
	client *http.Client
	now    func() time.Time

	mu     sync.Mutex
	keys   map[string]jose.JSONWebKey
	expiry time.Time
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// WithJWKSHTTPClient overrides the HTTP client used to fetch JWKS documents.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSClock injects a custom time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache constructs a JWKS cache for url.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	c := &JWKSCache{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Key resolves the public key for kid, refreshing at most once per call.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale := len(c.keys) == 0 || !c.now().Before(c.expiry)
	if !stale {
		if jwk, ok := c.keys[kid]; ok {
			return jwk.Key, nil
		}
	}
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	if jwk, ok := c.keys[kid]; ok {
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	c.keys = keys
	c.expiry = c.now().Add(maxAge(resp.Header.Get("Cache-Control")))
	return nil
}

func maxAge(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultJWKSValidity
}

// ServiceIdentity is the verified caller of an internal endpoint, such as Cloud Scheduler.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceIdentityContextKey struct{}

// WithServiceIdentity attaches the verified service identity to the request context.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityContextKey{}, identity)
}

// ServiceIdentityFromContext retrieves the identity stored by RequireOIDC.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityContextKey{}).(*ServiceIdentity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// OIDCPolicy lists what a token must carry to reach internal endpoints.
// An empty Emails list accepts any service account the issuer signed for Audience.
type OIDCPolicy struct {
	Audience string
	Issuers  []string
	Emails   []string
}

// OIDCValidator verifies Google-signed OIDC tokens.
type OIDCValidator struct {
	keys          *JWKSCache
	logger        Logger
	verifications metric.Int64Counter
}

// NewOIDCValidator constructs an OIDCValidator backed by keys.
func NewOIDCValidator(keys *JWKSCache, logger Logger) (*OIDCValidator, error) {
	if keys == nil {
		return nil, errors.New("auth: jwks cache is required")
	}
	counter, err := otel.GetMeterProvider().Meter("github.com/medimart/api/internal/platform/auth").Int64Counter(
		"auth.oidc.verifications",
		metric.WithDescription("OIDC verification attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: register oidc metric: %w", err)
	}
	return &OIDCValidator{keys: keys, logger: logger, verifications: counter}, nil
}

// RequireOIDC rejects requests whose bearer token does not satisfy policy.
func (v *OIDCValidator) RequireOIDC(policy OIDCPolicy) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(policy.Audience)
	issuers := stringSet(policy.Issuers)
	emails := stringSet(policy.Emails)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			reject := func(status int, reason, message string, err error) {
				v.record(ctx, reason)
				if err != nil && v.logger != nil {
					v.logger.Printf("auth: oidc %s: %v", reason, err)
				}
				httpx.WriteError(ctx, w, httpx.NewError("invalid_token", message, status))
			}

			if audience == "" {
				reject(http.StatusServiceUnavailable, "audience_not_configured", "oidc audience not configured", nil)
				return
			}
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				reject(http.StatusUnauthorized, "token_missing", "oidc token missing", nil)
				return
			}

			claims := jwt.MapClaims{}
			_, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
				kid, _ := token.Header["kid"].(string)
				if kid == "" {
					return nil, errors.New("token missing kid header")
				}
				return v.keys.Key(ctx, kid)
			})
			if err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					reject(http.StatusServiceUnavailable, "jwks_unavailable", "oidc verification unavailable", err)
					return
				}
				reject(http.StatusUnauthorized, "token_invalid", "oidc token verification failed", err)
				return
			}

			issuer, _ := claims["iss"].(string)
			if len(issuers) > 0 {
				if _, ok := issuers[issuer]; !ok {
					reject(http.StatusUnauthorized, "issuer_mismatch", "oidc issuer mismatch", fmt.Errorf("issuer %q", issuer))
					return
				}
			}
			if !claims.VerifyAudience(audience, true) {
				reject(http.StatusUnauthorized, "audience_mismatch", "oidc audience mismatch", nil)
				return
			}
			email, _ := claims["email"].(string)
			if len(emails) > 0 {
				if _, ok := emails[strings.ToLower(email)]; !ok {
					reject(http.StatusForbidden, "caller_not_allowed", "caller is not allowed", fmt.Errorf("email %q", email))
					return
				}
			}

			subject, _ := claims["sub"].(string)
			v.record(ctx, "ok")
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, &ServiceIdentity{
				Subject: subject,
				Email:   email,
				Issuer:  issuer,
			})))
		})
	}
}

func (v *OIDCValidator) record(ctx context.Context, outcome string) {
	v.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func stringSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, value := range values {
		if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
			out[value] = struct{}{}
		}
	}
	return out
}
