package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Locker takes short-lived exclusive claims on keys. Workers use it so one
// schedule is dispatched by one replica, and the deadline check uses it to
// alert at most once per goal per day.
type Locker struct {
	client *Client
	prefix string
	logger *zap.Logger
}

// NewLocker creates a Locker whose keys live under prefix.
func NewLocker(client *Client, prefix string, logger *zap.Logger) *Locker {
	return &Locker{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (l *Locker) key(name string) string {
	return fmt.Sprintf("%s:%s", l.prefix, name)
}

// Acquire claims name for ttl. It returns false when someone else holds it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.rdb.SetNX(ctx, l.key(name), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		l.logger.Debug("lock held elsewhere", zap.String("key", l.key(name)))
	}
	return ok, nil
}

// Release gives up a claim before its ttl expires.
func (l *Locker) Release(ctx context.Context, name string) error {
	if err := l.client.rdb.Del(ctx, l.key(name)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
