package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dingdong-ecommerce/api/internal/platform/auth"
)

const noncePrefix = "webhook_nonce:"

// NonceStore records webhook nonces so a signed request is accepted once
// across every instance.
type NonceStore struct {
	client goredis.UniversalClient
	now    func() time.Time
}

// NewNonceStore wraps client. A nil clock uses time.Now.
func NewNonceStore(client goredis.UniversalClient, clock func() time.Time) *NonceStore {
	if clock == nil {
		clock = time.Now
	}
	return &NonceStore{client: client, now: clock}
}

// UseNonce implements auth.NonceStore.
func (s *NonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	ttl := expiry.Sub(s.now())
	if ttl <= 0 {
		ttl = time.Second
	}
	ok, err := s.client.SetNX(ctx, noncePrefix+scope+":"+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("nonce store: %w", err)
	}
	return ok, nil
}

var _ auth.NonceStore = (*NonceStore)(nil)
