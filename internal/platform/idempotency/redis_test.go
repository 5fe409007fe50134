package idempotency

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func encodeValue(value any) string {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		panic("unexpected redis value type")
	}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = encodeValue(value)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = encodeValue(value)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			delete(f.ttls, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func TestRedisStoreReserveLifecycle(t *testing.T) {
	client := newFakeRedis()
	store, err := NewRedisStore(client, WithKeyPrefix("test:"))
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	ctx := context.Background()

	first, err := store.Reserve(ctx, "key-1|cus_an", "fp-1", fixedTime, time.Hour)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if first.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v", first.State)
	}
	rkey := "test:" + recordID("key-1|cus_an")
	if client.ttls[rkey] != time.Hour {
		t.Fatalf("expected ttl of 1h, got %s", client.ttls[rkey])
	}

	pending, err := store.Reserve(ctx, "key-1|cus_an", "fp-1", fixedTime, time.Hour)
	if err != nil {
		t.Fatalf("Reserve pending: %v", err)
	}
	if pending.State != ReservationStatePending {
		t.Fatalf("expected pending, got %v", pending.State)
	}

	if _, err := store.Reserve(ctx, "key-1|cus_an", "fp-other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}

	resp := Response{Status: http.StatusCreated, Headers: http.Header{"Content-Type": {"application/json"}, "Date": {"now"}}, Body: []byte(`{"code":"DH1"}`)}
	if err := store.SaveResponse(ctx, "key-1|cus_an", "fp-1", resp, fixedTime.Add(time.Second), time.Hour); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}

	completed, err := store.Reserve(ctx, "key-1|cus_an", "fp-1", fixedTime.Add(2*time.Second), time.Hour)
	if err != nil {
		t.Fatalf("Reserve completed: %v", err)
	}
	if completed.State != ReservationStateCompleted {
		t.Fatalf("expected completed, got %v", completed.State)
	}
	if completed.Record.ResponseStatus != http.StatusCreated || string(completed.Record.ResponseBody) != `{"code":"DH1"}` {
		t.Fatalf("unexpected stored record %+v", completed.Record)
	}
	if _, ok := completed.Record.ResponseHeaders["Date"]; ok {
		t.Fatalf("hop headers must not be stored")
	}
	if !completed.Record.CreatedAt.Equal(fixedTime) {
		t.Fatalf("expected creation time to be kept, got %s", completed.Record.CreatedAt)
	}
}

func TestRedisStoreReleaseAllowsRetry(t *testing.T) {
	client := newFakeRedis()
	store, _ := NewRedisStore(client)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "key-2", "fp", fixedTime, 0); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := store.Release(ctx, "key-2", "fp"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := store.Reserve(ctx, "key-2", "fp", fixedTime, 0)
	if err != nil {
		t.Fatalf("Reserve after release: %v", err)
	}
	if again.State != ReservationStateNew {
		t.Fatalf("expected new reservation after release, got %v", again.State)
	}
	if ttl := client.ttls[defaultRedisPrefix+recordID("key-2")]; ttl != DefaultTTL {
		t.Fatalf("expected default ttl, got %s", ttl)
	}
}

func TestRedisStorePropagatesClientErrors(t *testing.T) {
	client := newFakeRedis()
	store, _ := NewRedisStore(client)
	ctx := context.Background()

	if _, err := store.Reserve(ctx, "key-3", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	client.getErr = errors.New("connection reset")
	if _, err := store.Reserve(ctx, "key-3", "fp", fixedTime, time.Hour); err == nil {
		t.Fatal("expected load failure to surface")
	}
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	if _, err := NewRedisStore(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
