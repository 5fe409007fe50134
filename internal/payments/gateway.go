package payments

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	domain "github.com/medimart/api/internal/domain"
	"github.com/medimart/api/internal/platform/config"
)

// Wire parameter names of the signed-redirect protocol.
const (
	ParamVersion           = "vnp_Version"
	ParamCommand           = "vnp_Command"
	ParamTmnCode           = "vnp_TmnCode"
	ParamAmount            = "vnp_Amount"
	ParamCurrCode          = "vnp_CurrCode"
	ParamTxnRef            = "vnp_TxnRef"
	ParamOrderInfo         = "vnp_OrderInfo"
	ParamOrderType         = "vnp_OrderType"
	ParamLocale            = "vnp_Locale"
	ParamReturnURL         = "vnp_ReturnUrl"
	ParamIPAddr            = "vnp_IpAddr"
	ParamCreateDate        = "vnp_CreateDate"
	ParamExpireDate        = "vnp_ExpireDate"
	ParamBankCode          = "vnp_BankCode"
	ParamResponseCode      = "vnp_ResponseCode"
	ParamTransactionStatus = "vnp_TransactionStatus"
	ParamTransactionNo     = "vnp_TransactionNo"
	ParamPayDate           = "vnp_PayDate"
	ParamSecureHash        = "vnp_SecureHash"
	ParamSecureHashType    = "vnp_SecureHashType"

	ResponseCodeSuccess = "00"

	wireTimeLayout   = "20060102150405"
	defaultOrderType = "other"
)

var (
	// ErrInvalidSignature marks callbacks whose hash does not match the payload.
	ErrInvalidSignature = errors.New("payments: invalid signature")
	// ErrMalformedCallback marks signed callbacks missing required fields.
	ErrMalformedCallback = errors.New("payments: malformed callback")
	// ErrInvalidRequest marks outbound requests that cannot be signed.
	ErrInvalidRequest = errors.New("payments: invalid payment request")
	// ErrUnsupportedGateway is returned when no gateway is registered for a name or method.
	ErrUnsupportedGateway = errors.New("payments: unsupported gateway")
)

// gatewayZone is the wall clock the gateway expects in create and expire dates (GMT+7).
var gatewayZone = time.FixedZone("ICT", 7*60*60)

// PaymentRequest carries the order data placed in the redirect URL.
type PaymentRequest struct {
	TxnRef    string
	Amount    decimal.Decimal
	Currency  string
	OrderInfo string
	ClientIP  string
	Locale    string
	BankCode  string
}

// PaymentURL is the signed redirect handed to the customer's browser.
type PaymentURL struct {
	Gateway   string
	URL       string
	TxnRef    string
	Amount    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Callback is a verified return or IPN payload.
type Callback struct {
	Gateway           string
	TxnRef            string
	TransactionNo     string
	Amount            int64
	ResponseCode      string
	TransactionStatus string
	BankCode          string
	PayDate           *time.Time
}

// Succeeded reports whether the gateway settled the payment.
func (c Callback) Succeeded() bool {
	if c.ResponseCode != ResponseCodeSuccess {
		return false
	}
	return c.TransactionStatus == "" || c.TransactionStatus == ResponseCodeSuccess
}

// Gateway signs outbound payment requests and verifies callbacks for one merchant account.
type Gateway struct {
	name   string
	method domain.PaymentMethod
	cfg    config.GatewayConfig
	now    func() time.Time
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithClock overrides the clock used for create and expire dates.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGateway validates cfg and constructs a gateway serving method.
func NewGateway(name string, method domain.PaymentMethod, cfg config.GatewayConfig, opts ...GatewayOption) (*Gateway, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("payments: gateway name is required")
	}
	if !method.IsGateway() {
		return nil, fmt.Errorf("payments: %s is not a gateway payment method", method)
	}
	if !cfg.Enabled() {
		return nil, fmt.Errorf("payments: gateway %s requires tmn code, hash secret and pay url", name)
	}
	if _, err := url.Parse(cfg.PayURL); err != nil {
		return nil, fmt.Errorf("payments: gateway %s pay url: %w", name, err)
	}
	g := &Gateway{
		name:   name,
		method: method,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// Name returns the registry key of the gateway.
func (g *Gateway) Name() string { return g.name }

// Method returns the payment method settled through the gateway.
func (g *Gateway) Method() domain.PaymentMethod { return g.method }

// BuildPaymentURL assembles and signs the redirect URL for req.
func (g *Gateway) BuildPaymentURL(req PaymentRequest) (PaymentURL, error) {
	txnRef := strings.TrimSpace(req.TxnRef)
	if txnRef == "" {
		return PaymentURL{}, fmt.Errorf("%w: transaction reference is required", ErrInvalidRequest)
	}
	amount, err := MinorUnits(req.Amount)
	if err != nil {
		return PaymentURL{}, err
	}
	if amount <= 0 {
		return PaymentURL{}, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.ClientIP) == "" {
		return PaymentURL{}, fmt.Errorf("%w: client ip is required", ErrInvalidRequest)
	}

	created := g.now().In(gatewayZone)
	expires := created.Add(g.cfg.Expiry)

	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = g.cfg.Locale
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "VND"
	}
	info := strings.TrimSpace(req.OrderInfo)
	if info == "" {
		info = "Thanh toan don hang " + txnRef
	}

	params := url.Values{}
	params.Set(ParamVersion, g.cfg.Version)
	params.Set(ParamCommand, g.cfg.Command)
	params.Set(ParamTmnCode, g.cfg.TmnCode)
	params.Set(ParamAmount, strconv.FormatInt(amount, 10))
	params.Set(ParamCurrCode, currency)
	params.Set(ParamTxnRef, txnRef)
	params.Set(ParamOrderInfo, info)
	params.Set(ParamOrderType, defaultOrderType)
	params.Set(ParamLocale, locale)
	params.Set(ParamReturnURL, g.cfg.ReturnURL)
	params.Set(ParamIPAddr, strings.TrimSpace(req.ClientIP))
	params.Set(ParamCreateDate, created.Format(wireTimeLayout))
	params.Set(ParamExpireDate, expires.Format(wireTimeLayout))
	if bank := strings.TrimSpace(req.BankCode); bank != "" {
		params.Set(ParamBankCode, bank)
	}

	canonical := CanonicalString(params)
	signed := canonical + "&" + ParamSecureHash + "=" + Sign(g.cfg.HashSecret, canonical)

	separator := "?"
	if strings.Contains(g.cfg.PayURL, "?") {
		separator = "&"
	}
	return PaymentURL{
		Gateway:   g.name,
		URL:       g.cfg.PayURL + separator + signed,
		TxnRef:    txnRef,
		Amount:    amount,
		CreatedAt: created.UTC(),
		ExpiresAt: expires.UTC(),
	}, nil
}

// VerifyCallback checks the signature of params and extracts the settlement fields.
// Nothing in params is trusted until the signature matches.
func (g *Gateway) VerifyCallback(params url.Values) (Callback, error) {
	signed := url.Values{}
	for key, values := range params {
		if strings.HasPrefix(key, "vnp_") && len(values) > 0 {
			signed[key] = values[:1]
		}
	}
	if !VerifySignature(g.cfg.HashSecret, signed) {
		return Callback{}, ErrInvalidSignature
	}
	if tmn := signed.Get(ParamTmnCode); tmn != "" && tmn != g.cfg.TmnCode {
		return Callback{}, fmt.Errorf("%w: merchant %s does not match", ErrInvalidSignature, tmn)
	}

	cb := Callback{
		Gateway:           g.name,
		TxnRef:            strings.TrimSpace(signed.Get(ParamTxnRef)),
		TransactionNo:     strings.TrimSpace(signed.Get(ParamTransactionNo)),
		ResponseCode:      strings.TrimSpace(signed.Get(ParamResponseCode)),
		TransactionStatus: strings.TrimSpace(signed.Get(ParamTransactionStatus)),
		BankCode:          strings.TrimSpace(signed.Get(ParamBankCode)),
	}
	if cb.TxnRef == "" || cb.ResponseCode == "" {
		return Callback{}, fmt.Errorf("%w: transaction reference and response code are required", ErrMalformedCallback)
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(signed.Get(ParamAmount)), 10, 64)
	if err != nil {
		return Callback{}, fmt.Errorf("%w: amount: %v", ErrMalformedCallback, err)
	}
	cb.Amount = amount
	if raw := strings.TrimSpace(signed.Get(ParamPayDate)); raw != "" {
		if payDate, err := time.ParseInLocation(wireTimeLayout, raw, gatewayZone); err == nil {
			utc := payDate.UTC()
			cb.PayDate = &utc
		}
	}
	return cb, nil
}

// MinorUnits converts a money amount to the gateway's integer representation (x100).
func MinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: amount must not be negative", ErrInvalidRequest)
	}
	scaled := amount.Shift(2)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has more than two decimal places", ErrInvalidRequest, amount)
	}
	return scaled.IntPart(), nil
}

var localeMatcher = language.NewMatcher([]language.Tag{language.Vietnamese, language.English})

// LocaleFromAcceptLanguage maps an Accept-Language header to the gateway's
// locale values ("vn" or "en"). An empty or unparseable header yields fallback.
func LocaleFromAcceptLanguage(header, fallback string) string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	tag, _, _ := localeMatcher.Match(tags...)
	if base, _ := tag.Base(); base.String() == "vi" {
		return "vn"
	}
	return "en"
}

var responseMessages = map[string]string{
	"00": "transaction successful",
	"07": "transaction deducted but flagged as suspicious",
	"09": "card or account is not registered for internet banking",
	"10": "card or account authentication failed more than three times",
	"11": "payment window expired",
	"12": "card or account is locked",
	"13": "incorrect one-time password",
	"24": "customer cancelled the transaction",
	"51": "insufficient account balance",
	"65": "daily transaction limit exceeded",
	"75": "issuing bank is under maintenance",
	"79": "payment password entered incorrectly too many times",
	"99": "unknown gateway error",
}

// ResponseMessage describes a gateway response code for cancellation reasons and logs.
func ResponseMessage(code string) string {
	if msg, ok := responseMessages[code]; ok {
		return msg
	}
	return "gateway response " + code
}
