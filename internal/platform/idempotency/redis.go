package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "medimart:idempotency:"

// RedisClient is the subset of *redis.Client used by RedisStore.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

var _ RedisClient = (*redis.Client)(nil)

// RedisStore keeps records as JSON values whose Redis TTL matches the record expiry.
// SET NX decides the first writer, so concurrent requests with one key run the handler once.
type RedisStore struct {
	client RedisClient
	prefix string
}

// RedisOption customises a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces keys, for example per environment.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore wraps client. It returns an error when client is nil.
func NewRedisStore(client RedisClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + recordID(key)
}

// Reserve implements Store.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	rkey := s.redisKey(key)
	record := pendingRecord(key, fingerprint, now, ttl)
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}

	// A record can expire between SETNX and GET, so try twice before giving up.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.client.SetNX(ctx, rkey, payload, ttl).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}
		existing, found, err := s.load(ctx, rkey)
		if err != nil {
			return Reservation{}, err
		}
		if found {
			return reservationFor(existing, fingerprint)
		}
	}
	return Reservation{}, errors.New("idempotency: reservation raced with expiry")
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	rkey := s.redisKey(key)

	existing, found, err := s.load(ctx, rkey)
	if err != nil {
		return err
	}
	if found && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	payload, err := json.Marshal(completeRecord(existing, key, fingerprint, resp, now, ttl))
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	if err := s.client.Set(ctx, rkey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis evicts records when their TTL lapses.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) load(ctx context.Context, rkey string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, rkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, true, nil
}
