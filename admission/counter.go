package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Counter counts hits of a key within fixed windows. A window opens with the
// first hit of a key and closes exactly window later.
type Counter interface {
	// Hit increments the counter of key and returns its value in the current
	// window together with the time the window closes.
	Hit(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

type MemoryCounter struct {
	Now func() time.Time

	windows map[string]*memoryWindow
	mutex   sync.Mutex
}

var _ Counter = (*MemoryCounter)(nil)

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*memoryWindow)}
}

func (c *MemoryCounter) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *MemoryCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	w, ok := c.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		c.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Sweep drops closed windows and returns how many were dropped.
func (c *MemoryCounter) Sweep() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	dropped := 0
	for key, w := range c.windows {
		if !now.Before(w.resetAt) {
			delete(c.windows, key)
			dropped++
		}
	}
	return dropped
}

// RunJanitor sweeps closed windows every interval until ctx is done.
func (c *MemoryCounter) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := c.Sweep(); dropped > 0 {
				logrus.WithField("dropped", dropped).Debugln("Swept admission windows.")
			}
		}
	}
}

// RedisCounter keeps windows in redis so they are shared by every process
// using the same server.
type RedisCounter struct {
	Client redis.UniversalClient
	Prefix string
}

var _ Counter = (*RedisCounter)(nil)

func (c *RedisCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	key = c.Prefix + key
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("incr: %w", err)
	}
	if count == 1 {
		if err := c.Client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("pexpire: %w", err)
		}
	}

	ttl, err := c.Client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("pttl: %w", err)
	}
	if ttl < 0 {
		// counter left without expiry, e.g. the process died between INCR and PEXPIRE
		if err := c.Client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("pexpire: %w", err)
		}
		ttl = window
	}
	return count, time.Now().Add(ttl), nil
}
