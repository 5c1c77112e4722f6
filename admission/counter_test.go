package admission

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestMemoryCounterSweep(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	counter := NewMemoryCounter()
	counter.Now = c.Now

	_, _, err := counter.Hit(ctx, "a", time.Second)
	assert.NoError(err)
	_, _, err = counter.Hit(ctx, "b", 3*time.Second)
	assert.NoError(err)

	assert.Equal(0, counter.Sweep())
	c.now = c.now.Add(2 * time.Second)
	assert.Equal(1, counter.Sweep())

	count, _, err := counter.Hit(ctx, "b", 3*time.Second)
	if assert.NoError(err) {
		assert.Equal(int64(2), count)
	}
}

func TestRedisCounter(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	counter := &RedisCounter{Client: client, Prefix: "admission:"}
	for i := int64(1); i <= 3; i++ {
		count, resetAt, err := counter.Hit(ctx, "10.0.0.1", 10*time.Second)
		if !assert.NoError(err) {
			return
		}
		assert.Equal(i, count)
		assert.WithinDuration(time.Now().Add(10*time.Second), resetAt, time.Second)
	}
	assert.True(mr.Exists("admission:10.0.0.1"))

	mr.FastForward(10 * time.Second)
	count, _, err := counter.Hit(ctx, "10.0.0.1", 10*time.Second)
	if assert.NoError(err) {
		assert.Equal(int64(1), count)
	}
}

func TestRedisCounterRepairsMissingExpiry(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	assert.NoError(mr.Set("k", "5"))
	counter := &RedisCounter{Client: client}
	count, _, err := counter.Hit(ctx, "k", time.Second)
	if assert.NoError(err) {
		assert.Equal(int64(6), count)
	}
	assert.Equal(time.Second, mr.TTL("k"))
}
