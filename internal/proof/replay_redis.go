package proof

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var claimDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "postage_proof_replay_check_duration_ms",
	Help:    "Latency of proof replay checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const replayKeyPrefix = "postage:proof:jti:"

// RedisReplayCache shares seen proof ids between instances.
type RedisReplayCache struct {
	client *redis.Client
}

func NewRedisReplayCache(client *redis.Client) *RedisReplayCache {
	return &RedisReplayCache{client: client}
}

// Claim uses SET NX so exactly one instance accepts a given id.
func (c *RedisReplayCache) Claim(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() {
		claimDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if ttl <= 0 {
		ttl = time.Second
	}
	return c.client.SetNX(ctx, replayKeyPrefix+jti, "1", ttl).Result()
}
