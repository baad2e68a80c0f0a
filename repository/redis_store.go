package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("lock is held by another request")

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// KeyValueStore covers the short-lived Redis state of the checkout flow.
type KeyValueStore interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	GetIdempotent(ctx context.Context, scope, key string) ([]byte, bool, error)
	SaveIdempotent(ctx context.Context, scope, key string, body []byte, ttl time.Duration) error
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	UnmarkOnce(ctx context.Context, key string) error
}

type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func LockKey(name string) string { return "lock:" + name }

func IdempotencyKey(scope, key string) string { return "idempotency:" + scope + ":" + key }

// AcquireLock sets key with a random token. It fails with ErrLockHeld when
// another holder owns it. The returned release is safe to call once the
// lock expired.
func (s *RedisStore) AcquireLock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	ok, err := s.client.SetNX(ctx, LockKey(key), token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		_ = releaseScript.Run(context.Background(), s.client, []string{LockKey(key)}, token).Err()
	}, nil
}

func (s *RedisStore) GetIdempotent(ctx context.Context, scope, key string) ([]byte, bool, error) {
	body, err := s.client.Get(ctx, IdempotencyKey(scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

func (s *RedisStore) SaveIdempotent(ctx context.Context, scope, key string, body []byte, ttl time.Duration) error {
	return s.client.Set(ctx, IdempotencyKey(scope, key), body, ttl).Err()
}

// MarkOnce reports whether key was newly set; false means it was seen before.
func (s *RedisStore) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, "1", ttl).Result()
}

// UnmarkOnce forgets a key set by MarkOnce, so a failed side effect can be retried.
func (s *RedisStore) UnmarkOnce(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
