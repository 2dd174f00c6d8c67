package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(limit, window, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAcquireWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		admission, err := l.Acquire("s1")
		require.NoError(t, err)
		assert.Equal(t, 3, admission.Limit)
		assert.Equal(t, 3-(i+1), admission.Remaining)
	}
}

func TestAcquireOverLimit(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	_, err := l.Acquire("s1")
	require.NoError(t, err)
	_, err = l.Acquire("s1")
	require.NoError(t, err)

	_, err = l.Acquire("s1")
	require.Error(t, err)

	var limitErr *Error
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 2, limitErr.Count)
	assert.Equal(t, 2, limitErr.Limit)
	assert.Greater(t, limitErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, limitErr.RetryAfter, time.Minute)
}

func TestWindowSlides(t *testing.T) {
	l, now := newTestLimiter(1, time.Minute)

	_, err := l.Acquire("s1")
	require.NoError(t, err)
	_, err = l.Acquire("s1")
	require.Error(t, err)

	*now = now.Add(61 * time.Second)
	_, err = l.Acquire("s1")
	assert.NoError(t, err)
}

func TestSessionsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	_, err := l.Acquire("s1")
	require.NoError(t, err)
	_, err = l.Acquire("s2")
	assert.NoError(t, err)
}

func TestRetryAfterMatchesOldestEntry(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)

	_, err := l.Acquire("s1")
	require.NoError(t, err)
	*now = now.Add(20 * time.Second)
	_, err = l.Acquire("s1")
	require.NoError(t, err)

	*now = now.Add(10 * time.Second)
	_, err = l.Acquire("s1")
	var limitErr *Error
	require.ErrorAs(t, err, &limitErr)
	// Oldest entry is 30s old in a 60s window.
	assert.Equal(t, 30*time.Second, limitErr.RetryAfter)
}

func TestStats(t *testing.T) {
	l, _ := newTestLimiter(5, time.Minute)

	stats := l.Stats("s1")
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, 5, stats.Remaining)
	assert.True(t, stats.ResetAt.IsZero())

	_, err := l.Acquire("s1")
	require.NoError(t, err)

	stats = l.Stats("s1")
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 4, stats.Remaining)
	assert.False(t, stats.ResetAt.IsZero())
}

func TestClear(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	_, err := l.Acquire("s1")
	require.NoError(t, err)
	l.Clear("s1")

	_, err = l.Acquire("s1")
	assert.NoError(t, err)
}

func TestCleanupDropsEmptyWindows(t *testing.T) {
	l, now := newTestLimiter(5, time.Minute)

	_, err := l.Acquire("s1")
	require.NoError(t, err)
	_, err = l.Acquire("s2")
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	removed := l.Cleanup()
	assert.Equal(t, 2, removed)
	assert.Empty(t, l.windows)
}

func TestWaitSpacesConsecutiveCalls(t *testing.T) {
	l := New(10, time.Minute, 50*time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Wait(context.Background(), "s1"))
	require.NoError(t, l.Wait(context.Background(), "s1"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestWaitDisabledWhenNoInterval(t *testing.T) {
	l := New(10, time.Minute, 0)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background(), "s1"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
