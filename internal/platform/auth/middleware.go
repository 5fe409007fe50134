package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/medimart/api/internal/platform/httpx"
)

const (
	defaultRoleClaim     = "role"
	defaultCustomerClaim = "customer_id"
	defaultVerifyTimeout = 5 * time.Second
)

// ErrTokenExpired signals that the provided Firebase ID token has expired.
var ErrTokenExpired = errors.New("auth: firebase id token expired")

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens into request identities.
type Authenticator struct {
	verifier      TokenVerifier
	roleClaim     string
	customerClaim string
	fallbackRole  string
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithRoleClaim overrides the custom claim used for role extraction.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithCustomerClaim overrides the claim naming the customer record of the principal.
func WithCustomerClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.customerClaim = claim
		}
	}
}

// NewAuthenticator constructs an Authenticator. Tokens without a role claim are customers.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:      verifier,
		roleClaim:     defaultRoleClaim,
		customerClaim: defaultCustomerClaim,
		fallbackRole:  RoleCustomer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth verifies the bearer token and, when roles are given, requires one of them.
// A missing or bad token is 401; a valid token without the role is 403.
func (a *Authenticator) RequireFirebaseAuth(allowedRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if a == nil || a.verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
				return
			}

			token, err := a.verifier.VerifyIDToken(ctx, tokenStr)
			if err != nil {
				code, message := "invalid_token", "firebase id token invalid"
				if errors.Is(err, ErrTokenExpired) || firebaseauth.IsIDTokenExpired(err) {
					code, message = "token_expired", "firebase id token expired"
				}
				httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusUnauthorized))
				return
			}

			identity := a.identityFromToken(token)
			if len(allowedRoles) > 0 && !identity.HasAnyRole(allowedRoles...) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have required role", http.StatusForbidden))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:        token.UID,
		CustomerID: claimAsString(token.Claims, a.customerClaim),
		Email:      claimAsString(token.Claims, "email"),
		Roles:      rolesFromClaim(token.Claims[a.roleClaim]),
	}
	if identity.CustomerID == "" {
		identity.CustomerID = token.UID
	}
	if len(identity.Roles) == 0 {
		identity.Roles = []string{a.fallbackRole}
	}
	return identity
}

func rolesFromClaim(raw any) []string {
	var candidates []string
	switch v := raw.(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for role, enabled := range v {
			if on, ok := enabled.(bool); ok && on {
				candidates = append(candidates, role)
			}
		}
	}

	out := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		role := normaliseRole(candidate)
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func claimAsString(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func extractBearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
