package redis

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/teleconsult-api/pkg/circuitbreaker"
	"github.com/jwalitptl/teleconsult-api/pkg/logger"
	"github.com/jwalitptl/teleconsult-api/pkg/metrics"
)

// unreachable points at a port nothing listens on, so every command fails
// fast with connection refused.
func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
}

func TestNewRedisBroker_BadURL(t *testing.T) {
	_, err := NewRedisBroker(context.Background(), Config{URL: "http://nope"}, logger.Nop(), metrics.New("test"))
	assert.Error(t, err)
}

func TestNewRedisBroker_Unreachable(t *testing.T) {
	_, err := NewRedisBroker(context.Background(), Config{URL: "redis://127.0.0.1:1/0", MaxRetries: -1}, logger.Nop(), metrics.New("test"))
	assert.Error(t, err)
}

func TestPublish_BreakerOpensOnFailures(t *testing.T) {
	m := metrics.New("test")
	b := newBroker(unreachable(), Config{BreakerThreshold: 2, BreakerTimeout: time.Minute}, logger.Nop(), m)
	defer b.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := b.Publish(ctx, "teleconsult.booking.created", []byte(`{}`))
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}

	err := b.Publish(ctx, "teleconsult.booking.created", []byte(`{}`))
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RedisOperations.WithLabelValues("publish", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RedisOperations.WithLabelValues("publish", "rejected")))
}
