package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

func TestFixedWindowCeiling(t *testing.T) {
	const limit = 5
	l := NewFixedWindow(map[domain.ChannelType]int{domain.ChannelMarketing: limit})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < limit; i++ {
		require.NoError(t, l.Acquire(ctx, domain.ChannelMarketing))
	}
	firstHalf := time.Since(start)
	assert.Less(t, firstHalf, 500*time.Millisecond)

	for i := 0; i < limit; i++ {
		require.NoError(t, l.Acquire(ctx, domain.ChannelMarketing))
	}
	assert.GreaterOrEqual(t, time.Since(start), time.Second-10*time.Millisecond)
}

func TestFixedWindowConcurrentNeverExceedsCap(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewFixedWindow(map[domain.ChannelType]int{domain.ChannelUtility: 100})
	l.now = func() time.Time { return now }

	var granted int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				ok, _, err := l.TryAcquire(domain.ChannelUtility)
				if err == nil && ok {
					atomic.AddInt64(&granted, 1)
				}
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 100, granted)
}

func TestFixedWindowIndependentChannels(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := NewFixedWindow(map[domain.ChannelType]int{domain.ChannelMarketing: 1, domain.ChannelUtility: 2})
	l.now = func() time.Time { return now }

	ok, _, _ := l.TryAcquire(domain.ChannelMarketing)
	assert.True(t, ok)
	ok, wait, _ := l.TryAcquire(domain.ChannelMarketing)
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	ok, _, _ = l.TryAcquire(domain.ChannelUtility)
	assert.True(t, ok)

	now = now.Add(time.Second)
	ok, _, _ = l.TryAcquire(domain.ChannelMarketing)
	assert.True(t, ok, "window resets once a full second has elapsed")
}

func TestFixedWindowUnknownChannel(t *testing.T) {
	l := NewFixedWindow(map[domain.ChannelType]int{domain.ChannelMarketing: 1})
	err := l.Acquire(context.Background(), "sms")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestFixedWindowAcquireHonoursDeadline(t *testing.T) {
	l := NewFixedWindow(map[domain.ChannelType]int{domain.ChannelMarketing: 1})
	require.NoError(t, l.Acquire(context.Background(), domain.ChannelMarketing))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, domain.ChannelMarketing)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCapsFromConfig(t *testing.T) {
	caps := CapsFromConfig(map[string]int{"marketing": 50, "utility": 100})
	assert.Equal(t, 50, caps[domain.ChannelMarketing])
	assert.Equal(t, 100, caps[domain.ChannelUtility])
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisFixedWindow(t *testing.T) {
	client := setupRedis(t)
	now := time.UnixMilli(1700000000250)
	l := NewRedisFixedWindow(client, map[domain.ChannelType]int{domain.ChannelMarketing: 3})
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.TryAcquire(ctx, domain.ChannelMarketing)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, wait, err := l.TryAcquire(ctx, domain.ChannelMarketing)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 750*time.Millisecond, wait)

	now = now.Add(750 * time.Millisecond)
	ok, _, err = l.TryAcquire(ctx, domain.ChannelMarketing)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisFixedWindowSharedAcrossInstances(t *testing.T) {
	client := setupRedis(t)
	now := time.UnixMilli(1700000000000)
	caps := map[domain.ChannelType]int{domain.ChannelUtility: 4}
	a := NewRedisFixedWindow(client, caps)
	b := NewRedisFixedWindow(client, caps)
	a.now = func() time.Time { return now }
	b.now = a.now
	ctx := context.Background()

	granted := 0
	for i := 0; i < 4; i++ {
		for _, l := range []*RedisFixedWindow{a, b} {
			ok, _, err := l.TryAcquire(ctx, domain.ChannelUtility)
			require.NoError(t, err)
			if ok {
				granted++
			}
		}
	}
	assert.Equal(t, 4, granted)
}

func TestRedisFixedWindowUnknownChannel(t *testing.T) {
	l := NewRedisFixedWindow(setupRedis(t), map[domain.ChannelType]int{})
	_, _, err := l.TryAcquire(context.Background(), domain.ChannelMarketing)
	assert.ErrorIs(t, err, ErrUnknownChannel)
}
