// Package redis shares the canvas lock between replicas through Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// tryLockScript takes the key if it is free, refreshes it if owner already
// holds it, and otherwise reports the current holder.
var tryLockScript = backend.NewScript(`
local current = redis.call("GET", KEYS[1])
if current == false then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return {1, ARGV[1]}
end
if current == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return {1, current}
end
return {0, current}
`)

var unlockScript = backend.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements ports.CanvasLocker using Redis.
type Locker struct {
	client *backend.Client
	prefix string
}

// Option configures the Locker.
type Option func(*Locker)

// WithPrefix sets the key prefix for locks.
func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// New creates a Locker connected to address.
func New(address, password string, db int, opts ...Option) *Locker {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Locker from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Locker {
	l := &Locker{
		client: client,
		prefix: "easel:lock:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locker) key(canvasID string) string {
	return l.prefix + canvasID
}

// TryLock takes the canvas lock for owner without blocking.
func (l *Locker) TryLock(ctx context.Context, canvasID, owner string, ttl time.Duration) (bool, string, error) {
	if ttl <= 0 {
		return false, "", fmt.Errorf("lock ttl must be positive")
	}
	res, err := tryLockScript.Run(ctx, l.client, []string{l.key(canvasID)}, owner, ttl.Milliseconds()).Slice()
	if err != nil {
		return false, "", fmt.Errorf("redis error acquiring lock: %w", err)
	}
	if len(res) != 2 {
		return false, "", fmt.Errorf("unexpected lock reply: %v", res)
	}
	granted, _ := res[0].(int64)
	holder, _ := res[1].(string)
	return granted == 1, holder, nil
}

// Unlock releases the canvas lock if owner still holds it.
func (l *Locker) Unlock(ctx context.Context, canvasID, owner string) error {
	if err := unlockScript.Run(ctx, l.client, []string{l.key(canvasID)}, owner).Err(); err != nil {
		return fmt.Errorf("redis error releasing lock: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}
