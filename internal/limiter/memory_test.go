package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/clinic-credit/internal/clock"
)

func TestMemory_FiveThenRefuse_ThenSlides(t *testing.T) {
	start := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewMockClock(start)
	l := NewMemory(DefaultLimit, DefaultWindow, clk)
	ctx := context.Background()
	uid := uuid.Must(uuid.NewV4())

	for i := 0; i < 5; i++ {
		ok, _, err := l.Allow(ctx, uid)
		require.NoError(t, err)
		require.True(t, ok, "attempt %d", i+1)
		clk.Add(10 * time.Second)
	}
	// now = start+50s
	ok, retry, err := l.Allow(ctx, uid)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 10*time.Second, retry)

	clk.Add(9 * time.Second)
	ok, _, _ = l.Allow(ctx, uid)
	require.False(t, ok)

	// earliest entry (start) leaves the window at start+60s
	clk.Set(start.Add(60 * time.Second))
	ok, _, err = l.Allow(ctx, uid)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, _ = l.Allow(ctx, uid)
	require.False(t, ok)
}

func TestMemory_UsersIndependent(t *testing.T) {
	clk := clock.NewMockClock(time.Now())
	l := NewMemory(1, time.Minute, clk)
	ctx := context.Background()
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	ok, _, _ := l.Allow(ctx, a)
	require.True(t, ok)
	ok, _, _ = l.Allow(ctx, a)
	require.False(t, ok)
	ok, _, _ = l.Allow(ctx, b)
	require.True(t, ok)
}

func TestMemory_ConcurrentSameUser_ExactlyLimit(t *testing.T) {
	l := NewMemory(DefaultLimit, DefaultWindow, clock.NewMockClock(time.Now()))
	uid := uuid.Must(uuid.NewV4())

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := l.Allow(context.Background(), uid); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(DefaultLimit), allowed.Load())
}

func TestMemory_Sweep(t *testing.T) {
	clk := clock.NewMockClock(time.Now())
	l := NewMemory(5, time.Minute, clk)
	_, _, _ = l.Allow(context.Background(), uuid.Must(uuid.NewV4()))
	_, _, _ = l.Allow(context.Background(), uuid.Must(uuid.NewV4()))

	require.Equal(t, 0, l.Sweep())
	clk.Add(time.Minute)
	require.Equal(t, 2, l.Sweep())
}
