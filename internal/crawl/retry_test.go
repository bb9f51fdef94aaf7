package crawl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy()

	require.False(t, policy.ShouldRetry(nil, 0))
	require.True(t, policy.ShouldRetry(errors.New("transient"), 0))
	require.False(t, policy.ShouldRetry(errors.New("transient"), policy.maxAttempts))
	require.False(t, policy.ShouldRetry(context.Canceled, 0))
	require.False(t, policy.ShouldRetry(context.DeadlineExceeded, 0))

	// Refused connections and timeouts are both transient transport errors.
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
	require.True(t, policy.ShouldRetry(refused, 0))
	require.True(t, policy.ShouldRetry(&net.DNSError{IsTimeout: true}, 0))
	require.True(t, policy.ShouldRetry(fmt.Errorf("fetch: %w", refused), 1))
}

func TestExponentialRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()
	policy := NewExponentialRetryPolicy()

	for attempt := 0; attempt < 10; attempt++ {
		backoff := policy.Backoff(attempt)
		require.GreaterOrEqual(t, backoff, time.Duration(0))
		require.LessOrEqual(t, backoff, policy.maxDelay)
	}
}

func TestRandomPacerStaysInsideWindow(t *testing.T) {
	t.Parallel()
	pacer := NewRandomPacer(time.Millisecond, 5*time.Millisecond)

	start := time.Now()
	pacer.Pause(context.Background())
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, time.Millisecond)
}

func TestRandomPacerInterruptible(t *testing.T) {
	t.Parallel()
	pacer := NewRandomPacer(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	pacer.Pause(ctx)
	require.Less(t, time.Since(start), time.Second)
}
