package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paymirror/internal/config"
)

const keyWebhookIngest = "paymirror:webhook:ingest:%s"

// WebhookLimiter throttles webhook deliveries per source address. A nil
// limiter allows everything, so deployments without Redis run unthrottled.
type WebhookLimiter struct {
	enabled bool

	bucket *TokenBucket

	rate  float64
	burst int
}

func NewWebhookLimiter(cfg config.Config) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit requires a redis addr")
	}
	if limitCfg.WebhookRate <= 0 || limitCfg.WebhookBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &WebhookLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.WebhookRate,
		burst:   limitCfg.WebhookBurst,
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *WebhookLimiter) Allow(ctx context.Context, sourceIP string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	ip := strings.TrimSpace(sourceIP)
	if ip == "" {
		ip = "unknown"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookIngest, ip), l.rate, l.burst)
}
