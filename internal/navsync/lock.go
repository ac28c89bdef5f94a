package navsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it still holds our token
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock is a single-key lease taken with SET NX PX. A held lease is
// renewed every ttl/3 so a cycle longer than ttl keeps it; a holder that dies
// stops renewing and the lease expires after ttl.
type RedisLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisLock creates a lock on key that expires after ttl if never released
func NewRedisLock(rdb *redis.Client, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{rdb: rdb, key: key, ttl: ttl}
}

// TryLock attempts to take the lease without waiting. The lease is renewed
// until release is called or ctx is done.
func (l *RedisLock) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.renew(ctx, token, stop)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
		})
	}
	return release, true, nil
}

// renew extends the lease every ttl/3 until stop is closed, ctx is done or
// the lease is found to belong to someone else.
func (l *RedisLock) renew(ctx context.Context, token string, stop <-chan struct{}) {
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, interval)
			n, err := renewScript.Run(rctx, l.rdb, []string{l.key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}
