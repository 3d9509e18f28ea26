package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := newBackoffPolicy()
	for attempt := 0; attempt < 8; attempt++ {
		d := p.delay(attempt)
		require.Positive(t, d)
		require.LessOrEqual(t, d, p.maxDelay)
	}

	// First retry waits at least half the base delay (jitter fills the
	// other half).
	require.GreaterOrEqual(t, p.delay(0), p.baseDelay/2)
	// Late attempts are pinned near the cap.
	require.GreaterOrEqual(t, p.delay(10), p.maxDelay/2)
}

func TestBackoffSleepHonorsCancellation(t *testing.T) {
	t.Parallel()

	p := backoffPolicy{baseDelay: time.Minute, maxDelay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := p.sleep(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}

func TestBackoffSleepCompletes(t *testing.T) {
	t.Parallel()

	p := backoffPolicy{baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}
	require.NoError(t, p.sleep(context.Background(), 0))
}
