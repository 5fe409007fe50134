package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/medimart/api/internal/platform/config"
)

// Order codes are dated in the storefront's local calendar (GMT+7).
var orderCodeZone = time.FixedZone("ICT", 7*60*60)

// OrderCodeGenerator produces human readable order codes: prefix, yyyyMMdd, random digits.
// Uniqueness is enforced by the orders table; callers retry on collision.
type OrderCodeGenerator struct {
	prefix string
	digits int
	max    *big.Int
	random io.Reader
}

// NewOrderCodeGenerator builds a generator from checkout configuration.
func NewOrderCodeGenerator(cfg config.CheckoutConfig) (*OrderCodeGenerator, error) {
	prefix := strings.ToUpper(strings.TrimSpace(cfg.OrderCodePrefix))
	if prefix == "" {
		return nil, errors.New("order code generator: prefix is required")
	}
	if cfg.OrderCodeDigits < 4 || cfg.OrderCodeDigits > 12 {
		return nil, fmt.Errorf("order code generator: suffix width %d out of range", cfg.OrderCodeDigits)
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.OrderCodeDigits)), nil)
	return &OrderCodeGenerator{
		prefix: prefix,
		digits: cfg.OrderCodeDigits,
		max:    max,
		random: rand.Reader,
	}, nil
}

// Next returns a fresh code for an order placed at now.
func (g *OrderCodeGenerator) Next(now time.Time) (string, error) {
	n, err := rand.Int(g.random, g.max)
	if err != nil {
		return "", fmt.Errorf("order code generator: %w", err)
	}
	return fmt.Sprintf("%s%s%0*d", g.prefix, now.In(orderCodeZone).Format("20060102"), g.digits, n.Int64()), nil
}
