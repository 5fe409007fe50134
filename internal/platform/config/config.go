package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultDatabaseDriver      = "postgres"
	defaultDatabaseMaxOpen     = 20
	defaultDatabaseMaxIdle     = 5
	defaultDatabaseConnMaxLife = 30 * time.Minute
	defaultDatabaseTxTimeout   = 15 * time.Second
	defaultDatabaseTxAttempts  = 3
	defaultOrderStatusTopic    = "order-status-changed"
	defaultCurrency            = "VND"
	defaultFreeShipping        = "500000"
	defaultShippingFee         = "30000"
	defaultLoyaltyPointValue   = "1000"
	defaultOrderCodePrefix     = "DH"
	defaultOrderCodeDigits     = 6
	defaultOrderCodeAttempts   = 5
	defaultPromotionPolicy     = PromotionPolicyBestEffort
	defaultUnpaidOrderTTL      = 30 * time.Minute
	defaultTierSilver          = "5000000"
	defaultTierGold            = "20000000"
	defaultTierPlatinum        = "50000000"
	defaultGatewayVersion      = "2.1.0"
	defaultGatewayCommand      = "pay"
	defaultGatewayLocale       = "vn"
	defaultGatewayExpiry       = 15 * time.Minute
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyPrefix   = "idem"
)

// Promotion application policies for checkout.
const (
	PromotionPolicyBestEffort = "best_effort"
	PromotionPolicyStrict     = "strict"
)

// Payment gateway configuration keys.
const (
	GatewayA = "gateway_a"
	GatewayB = "gateway_b"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	PubSub      PubSubConfig
	Pricing     PricingConfig
	Checkout    CheckoutConfig
	Tiers       TierConfig
	Payments    PaymentsConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// DatabaseConfig stores relational store parameters.
type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
	TxAttempts      int
	AutoMigrate     bool
}

// RedisConfig configures the idempotency store connection. An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PubSubConfig names the notification topics.
type PubSubConfig struct {
	ProjectID        string
	OrderStatusTopic string
}

// PricingConfig holds the shipping and loyalty conversion rules.
type PricingConfig struct {
	Currency              string
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
	LoyaltyPointValue     decimal.Decimal
}

// CheckoutConfig controls order creation behaviour.
type CheckoutConfig struct {
	OrderCodePrefix string
	OrderCodeDigits int
	MaxCodeAttempts int
	PromotionPolicy string
	UnpaidOrderTTL  time.Duration
}

// TierConfig lists the cumulative spend needed for each customer tier.
type TierConfig struct {
	Silver   decimal.Decimal
	Gold     decimal.Decimal
	Platinum decimal.Decimal
}

// PaymentsConfig holds per-gateway merchant settings keyed by GatewayA/GatewayB.
type PaymentsConfig struct {
	Gateways map[string]GatewayConfig
}

// GatewayConfig describes one signed-redirect payment gateway merchant account.
type GatewayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Version    string
	Command    string
	Locale     string
	Expiry     time.Duration
}

// Enabled reports whether the gateway has enough configuration to sign requests.
func (g GatewayConfig) Enabled() bool {
	return g.TmnCode != "" && g.HashSecret != "" && g.PayURL != ""
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
	// ServiceAccounts restricts callers by token email. Empty accepts any.
	ServiceAccounts []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header    string
	TTL       time.Duration
	KeyPrefix string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory, e.g.
// "Database.DSN" or "Payments.Gateways[gateway_a].HashSecret".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnvValues))
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string
	money := func(key, fallback string) decimal.Decimal {
		value, err := decimalWithDefault(lookup, key, fallback)
		if err != nil {
			invalid = append(invalid, key)
		}
		return value
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(stringWithDefault(lookup, "API_DATABASE_DRIVER", defaultDatabaseDriver)),
			DSN:             stringWithDefault(lookup, "API_DATABASE_DSN", ""),
			MaxOpenConns:    intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultDatabaseMaxOpen),
			MaxIdleConns:    intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultDatabaseMaxIdle),
			ConnMaxLifetime: durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultDatabaseConnMaxLife),
			TxTimeout:       durationWithDefault(lookup, "API_DATABASE_TX_TIMEOUT", defaultDatabaseTxTimeout),
			TxAttempts:      intWithDefault(lookup, "API_DATABASE_TX_ATTEMPTS", defaultDatabaseTxAttempts),
			AutoMigrate:     boolWithDefault(lookup, "API_DATABASE_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderStatusTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_STATUS_TOPIC", defaultOrderStatusTopic),
		},
		Pricing: PricingConfig{
			Currency:              strings.ToUpper(stringWithDefault(lookup, "API_PRICING_CURRENCY", defaultCurrency)),
			FreeShippingThreshold: money("API_PRICING_FREE_SHIPPING_THRESHOLD", defaultFreeShipping),
			FlatShippingFee:       money("API_PRICING_SHIPPING_FEE", defaultShippingFee),
			LoyaltyPointValue:     money("API_PRICING_LOYALTY_POINT_VALUE", defaultLoyaltyPointValue),
		},
		Checkout: CheckoutConfig{
			OrderCodePrefix: strings.ToUpper(stringWithDefault(lookup, "API_CHECKOUT_ORDER_CODE_PREFIX", defaultOrderCodePrefix)),
			OrderCodeDigits: intWithDefault(lookup, "API_CHECKOUT_ORDER_CODE_DIGITS", defaultOrderCodeDigits),
			MaxCodeAttempts: intWithDefault(lookup, "API_CHECKOUT_ORDER_CODE_ATTEMPTS", defaultOrderCodeAttempts),
			PromotionPolicy: strings.ToLower(stringWithDefault(lookup, "API_CHECKOUT_PROMOTION_POLICY", defaultPromotionPolicy)),
			UnpaidOrderTTL:  durationWithDefault(lookup, "API_CHECKOUT_UNPAID_ORDER_TTL", defaultUnpaidOrderTTL),
		},
		Tiers: TierConfig{
			Silver:   money("API_TIER_SILVER_SPEND", defaultTierSilver),
			Gold:     money("API_TIER_GOLD_SPEND", defaultTierGold),
			Platinum: money("API_TIER_PLATINUM_SPEND", defaultTierPlatinum),
		},
		Payments: PaymentsConfig{
			Gateways: map[string]GatewayConfig{
				GatewayA: gatewayConfig(lookup, "API_GATEWAY_A"),
				GatewayB: gatewayConfig(lookup, "API_GATEWAY_B"),
			},
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:         stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:        stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:         csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
				ServiceAccounts: csvWithDefault(lookup, "API_SECURITY_OIDC_SERVICE_ACCOUNTS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:    stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:       durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			KeyPrefix: stringWithDefault(lookup, "API_IDEMPOTENCY_KEY_PREFIX", defaultIdempotencyPrefix),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.DSN", &cfg.Database.DSN},
		{"Redis.Password", &cfg.Redis.Password},
	}
	gatewayKeys := make([]string, 0, len(cfg.Payments.Gateways))
	for key := range cfg.Payments.Gateways {
		gatewayKeys = append(gatewayKeys, key)
	}
	sort.Strings(gatewayKeys)
	for _, key := range gatewayKeys {
		gateway := cfg.Payments.Gateways[key]
		resolved, err := resolveSecret(ctx, gateway.HashSecret, options.secret)
		if err != nil {
			return Config{}, err
		}
		gateway.HashSecret = resolved
		cfg.Payments.Gateways[key] = gateway
		resolvedSecrets[fmt.Sprintf("Payments.Gateways[%s].HashSecret", key)] = strings.TrimSpace(resolved)
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func gatewayConfig(lookup func(string) (string, bool), prefix string) GatewayConfig {
	return GatewayConfig{
		TmnCode:    stringWithDefault(lookup, prefix+"_TMN_CODE", ""),
		HashSecret: stringWithDefault(lookup, prefix+"_HASH_SECRET", ""),
		PayURL:     stringWithDefault(lookup, prefix+"_PAY_URL", ""),
		ReturnURL:  stringWithDefault(lookup, prefix+"_RETURN_URL", ""),
		Version:    stringWithDefault(lookup, prefix+"_VERSION", defaultGatewayVersion),
		Command:    stringWithDefault(lookup, prefix+"_COMMAND", defaultGatewayCommand),
		Locale:     stringWithDefault(lookup, prefix+"_LOCALE", defaultGatewayLocale),
		Expiry:     durationWithDefault(lookup, prefix+"_EXPIRY", defaultGatewayExpiry),
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		missing = append(missing, "Database.Driver")
	}
	if cfg.Database.DSN == "" {
		missing = append(missing, "Database.DSN")
	}
	if cfg.Database.TxAttempts <= 0 {
		missing = append(missing, "Database.TxAttempts")
	}
	if cfg.Pricing.FreeShippingThreshold.IsNegative() {
		missing = append(missing, "Pricing.FreeShippingThreshold")
	}
	if cfg.Pricing.FlatShippingFee.IsNegative() {
		missing = append(missing, "Pricing.FlatShippingFee")
	}
	if !cfg.Pricing.LoyaltyPointValue.IsPositive() {
		missing = append(missing, "Pricing.LoyaltyPointValue")
	}
	if cfg.Checkout.OrderCodePrefix == "" {
		missing = append(missing, "Checkout.OrderCodePrefix")
	}
	if cfg.Checkout.OrderCodeDigits < 4 || cfg.Checkout.OrderCodeDigits > 12 {
		missing = append(missing, "Checkout.OrderCodeDigits")
	}
	if cfg.Checkout.MaxCodeAttempts <= 0 {
		missing = append(missing, "Checkout.MaxCodeAttempts")
	}
	switch cfg.Checkout.PromotionPolicy {
	case PromotionPolicyBestEffort, PromotionPolicyStrict:
	default:
		missing = append(missing, "Checkout.PromotionPolicy")
	}
	if !(cfg.Tiers.Silver.LessThan(cfg.Tiers.Gold) && cfg.Tiers.Gold.LessThan(cfg.Tiers.Platinum)) {
		missing = append(missing, "Tiers")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if strings.TrimSpace(resolved[trimmed]) != "" {
			continue
		}
		missing = append(missing, missingSecret{name: trimmed, redacted: redactSecretName(trimmed)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func decimalWithDefault(lookup func(string) (string, bool), key, fallback string) (decimal.Decimal, error) {
	raw := fallback
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		raw = strings.TrimSpace(value)
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.RequireFromString(fallback), err
	}
	return value, nil
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
