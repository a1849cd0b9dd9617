package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// RedisStore keeps records in Redis with the record TTL as key expiry.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Reserve implements Store. SETNX makes the reservation atomic across instances.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	record := Record{Key: key, Fingerprint: fingerprint, Status: StatusPending, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, err
	}
	redisKey := redisKeyPrefix + storageKey(key)
	created, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if created {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	existing, err := s.load(ctx, redisKey)
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Reserve(ctx, key, fingerprint, now, ttl)
	}
	if err != nil {
		return Reservation{}, err
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: existing}, nil
	}
	return Reservation{State: ReservationStatePending, Record: existing}, nil
}

// SaveResponse implements Store.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	redisKey := redisKeyPrefix + storageKey(key)
	existing, err := s.load(ctx, redisKey)
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if err == nil && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	payload, err := json.Marshal(completedRecord(key, fingerprint, existing.CreatedAt, resp, now, ttl))
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, redisKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release implements Store.
func (s *RedisStore) Release(ctx context.Context, key, _ string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+storageKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, redisKey string) (Record, error) {
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return record, nil
}
