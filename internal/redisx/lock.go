package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// submit guard per booking session: staybook:submit:{session_id}
	KeySubmit = "staybook:submit:%s"

	// one payment attempt per reservation: staybook:settle:{reservation_id}
	KeySettle = "staybook:settle:%s"
)

var (
	TTLSubmit = 2 * time.Minute
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})
}

// Locker hands out short-lived SET NX locks. Release only deletes the key if this
// holder still owns it.
type Locker struct {
	rdb      redis.Cmdable
	newToken func() string
}

func NewLocker(rdb redis.Cmdable) *Locker {
	return &Locker{rdb: rdb, newToken: uuid.NewString}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := l.newToken()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.rdb.Eval(rctx, releaseScript, []string{key}, token).Err()
	}
	return release, true, nil
}
