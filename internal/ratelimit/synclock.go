package ratelimit

import (
	"context"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paymirror/internal/config"
)

const keySyncLock = "paymirror:sync:historical"

// SyncLocker serializes historical sync runs across instances. Without Redis
// (or with the lock disabled) every Acquire succeeds, which is fine for a
// single instance because the sync itself is idempotent.
type SyncLocker struct {
	locker *Locker
	ttl    time.Duration
}

func NewSyncLocker(cfg config.Config) *SyncLocker {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" || cfg.RateLimit.SyncLockDisabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	ttl := cfg.RateLimit.SyncLockTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &SyncLocker{
		locker: NewLocker(client),
		ttl:    ttl,
	}
}

// Acquire returns a release token and whether the lock was obtained.
func (s *SyncLocker) Acquire(ctx context.Context) (string, bool, error) {
	if s == nil || s.locker == nil {
		return "", true, nil
	}
	return s.locker.TryLock(ctx, keySyncLock, s.ttl)
}

func (s *SyncLocker) Release(ctx context.Context, token string) error {
	if s == nil || s.locker == nil || token == "" {
		return nil
	}
	return s.locker.Release(ctx, keySyncLock, token)
}
