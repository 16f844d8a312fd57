package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by a Locker when another holder owns the key.
var ErrLockHeld = errors.New("lock held")

// Locker provides cross-replica mutual exclusion per key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

var releasePaymentLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisPaymentLocker implements Locker with SET NX PX and a token-checked release.
type RedisPaymentLocker struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPaymentLocker(client redis.UniversalClient, prefix string) *RedisPaymentLocker {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "settlement:lock"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisPaymentLocker{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (r *RedisPaymentLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if r == nil || r.client == nil {
		return func() {}, nil
	}
	if ttl < time.Second {
		ttl = time.Second
	}

	redisKey := fmt.Sprintf("%s:%s", r.prefix, strings.TrimSpace(key))
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = releasePaymentLockScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err()
	}, nil
}

// keyedMutex serialises work per payment id inside this process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
