package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWait(t *testing.T) {
	l := New(Config{RatePerSecond: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://archive.is/submit/"))

	// 10 RPS with burst 1: the second token arrives after ~100ms.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://archive.is/submit/"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterDifferentHosts(t *testing.T) {
	l := New(Config{RatePerSecond: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://archive.is/submit/"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://web.archive.org/save/x"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "second host blocked unexpectedly")
}

func TestLimiterCanceled(t *testing.T) {
	l := New(Config{RatePerSecond: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://archive.is"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://archive.is"))
}

func TestLimiterUnlimited(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://archive.is"))
	}
}
