package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreLifecycle(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "k|user-1", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v %v", res, err)
	}
	res, err = store.Reserve(ctx, "k|user-1", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v %v", res, err)
	}
	if _, err := store.Reserve(ctx, "k|user-1", "other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	headers := http.Header{"Content-Type": {"application/json"}, "Content-Length": {"2"}}
	if err := store.SaveResponse(ctx, "k|user-1", "fp", Response{Status: 201, Headers: headers, Body: []byte("{}")}, fixedTime, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = store.Reserve(ctx, "k|user-1", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed, got %+v %v", res, err)
	}
	if res.Record.ResponseStatus != 201 || string(res.Record.ResponseBody) != "{}" {
		t.Fatalf("unexpected record %+v", res.Record)
	}
	if _, ok := res.Record.ResponseHeaders["Content-Length"]; ok {
		t.Fatalf("expected hop headers to be dropped")
	}

	mr.FastForward(2 * time.Hour)
	res, err = store.Reserve(ctx, "k|user-1", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reservable, got %+v %v", res, err)
	}

	if err := store.Release(ctx, "k|user-1", "fp"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mr.Exists(redisKeyPrefix + storageKey("k|user-1")) {
		t.Fatalf("expected key removed")
	}
}
