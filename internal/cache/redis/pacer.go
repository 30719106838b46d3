package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pacer implements domain.Pacer across processes. Each key maps to a Redis
// entry claimed with SET NX PX; whichever process claims it owns the next
// call slot, everyone else polls until a slot frees up. Two bot replicas
// sharing one set of venue API keys therefore cannot exceed the venue's
// request spacing between them.
type Pacer struct {
	rdb      *redis.Client
	interval time.Duration
	poll     time.Duration
	prefix   string
}

// NewPacer creates a Pacer enforcing interval between calls per key.
func NewPacer(client *Client, interval time.Duration) *Pacer {
	poll := interval / 10
	if poll < 5*time.Millisecond {
		poll = 5 * time.Millisecond
	}
	return &Pacer{
		rdb:      client.Underlying(),
		interval: interval,
		poll:     poll,
		prefix:   "arbot:pace:",
	}
}

// Wait blocks until a call slot for key is claimed or ctx is done.
func (p *Pacer) Wait(ctx context.Context, key string) error {
	if p.interval <= 0 {
		return nil
	}

	redisKey := p.prefix + key
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		ok, err := p.rdb.SetNX(ctx, redisKey, "1", p.interval).Result()
		if err != nil {
			return fmt.Errorf("redis: pace %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
