package idempotency

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
)

func testStores(t *testing.T) (map[string]Store, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := NewMemoryStore().WithClock(func() time.Time { return now })
	return map[string]Store{
		"memory": mem,
		"redis":  NewRedisStoreWithClient(client, "test:"),
	}, mr, &now
}

func TestClaimIsExclusiveUntilRelease(t *testing.T) {
	stores, _, _ := testStores(t)
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := s.Claim(ctx, "decision:abc", time.Hour)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.Claim(ctx, "decision:abc", time.Hour)
			require.NoError(t, err)
			assert.False(t, ok, "second claim must lose")

			require.NoError(t, s.Release(ctx, "decision:abc"))
			ok, err = s.Claim(ctx, "decision:abc", time.Hour)
			require.NoError(t, err)
			assert.True(t, ok, "claim after release succeeds")
		})
	}
}

func TestClaimExpires(t *testing.T) {
	stores, mr, now := testStores(t)
	ctx := context.Background()

	ok, _ := stores["memory"].Claim(ctx, "k", time.Minute)
	require.True(t, ok)
	*now = now.Add(time.Minute)
	ok, _ = stores["memory"].Claim(ctx, "k", time.Minute)
	assert.True(t, ok, "expired memory claim is replaced")

	ok, _ = stores["redis"].Claim(ctx, "k", time.Minute)
	require.True(t, ok)
	mr.FastForward(time.Minute + time.Second)
	ok, _ = stores["redis"].Claim(ctx, "k", time.Minute)
	assert.True(t, ok, "expired redis claim is replaced")
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	stores, _, _ := testStores(t)
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 32; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if ok, err := s.Claim(context.Background(), "race", time.Hour); err == nil && ok {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestMemorySweep(t *testing.T) {
	now := time.Unix(1000, 0)
	s := NewMemoryStore().WithClock(func() time.Time { return now })
	_, _ = s.Claim(context.Background(), "a", time.Second)
	_, _ = s.Claim(context.Background(), "b", time.Hour)
	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, s.Sweep())
}
