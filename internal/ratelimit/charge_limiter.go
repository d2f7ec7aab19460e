package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rafaelgcostaa/adslibrary/internal/config"
)

const keyChargeAccount = "credits:charge:%s"

// ChargeLimiter caps how fast a single account may spend. A nil limiter
// allows everything.
type ChargeLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewChargeLimiter(cfg config.Config, client *redis.Client) *ChargeLimiter {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return nil
	}
	if limitCfg.RefillPerSecond <= 0 || limitCfg.Capacity <= 0 {
		return nil
	}
	return &ChargeLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.RefillPerSecond,
		burst:  limitCfg.Capacity,
	}
}

func (l *ChargeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *ChargeLimiter) Allow(ctx context.Context, accountID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyChargeAccount, canonicalAccountID(accountID)), l.rate, l.burst)
}

// canonicalAccountID maps every spelling of an account UUID to one bucket.
func canonicalAccountID(accountID string) string {
	accountID = strings.TrimSpace(accountID)
	if parsed, err := uuid.Parse(accountID); err == nil {
		return parsed.String()
	}
	return strings.ToLower(accountID)
}
