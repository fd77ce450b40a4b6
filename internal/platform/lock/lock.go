// Package lock provides short-lived mutual exclusion keyed by string, used
// to keep concurrent booking attempts for one slot off the database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotOwner is returned by Unlock when the key is held under another token.
var ErrNotOwner = errors.New("lock not owned by this client")

// Locker acquires and releases named locks.
type Locker interface {
	// TryLock attempts to take key for ttl without blocking. On success it
	// returns the token that must be presented to Unlock.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// releaseScript deletes the key only while it still holds the caller's token,
// so an expired lock re-acquired by someone else is never released.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
if redis.call("EXISTS", KEYS[1]) == 1 then
	return -1
end
return 0
`)

// RedisLocker implements Locker with SET NX PX on a single Redis node.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker returns a locker storing keys under prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.prefix + key}, token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	if n < 0 {
		return ErrNotOwner
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// NopLocker always grants the lock. It is used when no Redis is configured,
// leaving slot exclusion to the database constraint alone.
type NopLocker struct{}

func (NopLocker) TryLock(context.Context, string, time.Duration) (string, bool, error) {
	return "nop", true, nil
}

func (NopLocker) Unlock(context.Context, string, string) error { return nil }

// SlotKey builds the lock key of one bookable slot.
func SlotKey(kind, providerID, date, hhmm string) string {
	return "slot:" + kind + ":" + providerID + ":" + date + ":" + hhmm
}
