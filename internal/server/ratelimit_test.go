package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClockedLimiter(cfg RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(cfg)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimitConfig_Enabled(t *testing.T) {
	assert.False(t, RateLimitConfig{}.Enabled())
	assert.True(t, RateLimitConfig{RequestsPerMinute: 1}.Enabled())
	assert.True(t, RateLimitConfig{MaxDataPerDay: 1}.Enabled())
}

func TestRateLimiter_NoLimits(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{})

	require.NoError(t, rl.CheckRateLimit("user1", 100))
	usage := rl.GetUsage("user1")
	assert.Equal(t, 1, usage.RequestsToday)
	assert.Equal(t, int64(100), usage.DataToday)
	assert.Equal(t, UserUsage{}, rl.GetUsage("nobody"))
}

func TestRateLimiter_RequestsPerMinute(t *testing.T) {
	rl, clock := newClockedLimiter(RateLimitConfig{RequestsPerMinute: 2})

	require.NoError(t, rl.CheckRateLimit("user1", 0))
	clock.advance(20 * time.Second)
	require.NoError(t, rl.CheckRateLimit("user1", 0))

	err := rl.CheckRateLimit("user1", 0)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "minute", rateErr.Type)
	assert.Equal(t, 2, rateErr.Limit)
	assert.Equal(t, 40*time.Second, rateErr.RetryAfter)

	// Other clients are unaffected.
	require.NoError(t, rl.CheckRateLimit("user2", 0))

	// Requests inside the window keep failing; the window does not slide.
	clock.advance(30 * time.Second)
	require.Error(t, rl.CheckRateLimit("user1", 0))
	clock.advance(10 * time.Second)
	require.NoError(t, rl.CheckRateLimit("user1", 0))
}

func TestRateLimiter_RequestsPerHour(t *testing.T) {
	rl, clock := newClockedLimiter(RateLimitConfig{RequestsPerHour: 3})

	for range 3 {
		require.NoError(t, rl.CheckRateLimit("user1", 0))
		clock.advance(2 * time.Minute)
	}
	err := rl.CheckRateLimit("user1", 0)
	var rateErr *RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "hour", rateErr.Type)
	assert.Equal(t, 54*time.Minute, rateErr.RetryAfter)

	clock.advance(time.Hour)
	assert.NoError(t, rl.CheckRateLimit("user1", 0))
}

func TestRateLimiter_DailyQuotas(t *testing.T) {
	t.Run("requests", func(t *testing.T) {
		rl, clock := newClockedLimiter(RateLimitConfig{MaxRequestsPerDay: 2})
		require.NoError(t, rl.CheckRateLimit("user1", 0))
		require.NoError(t, rl.CheckRateLimit("user1", 0))

		err := rl.CheckRateLimit("user1", 0)
		var quotaErr *QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, "requests", quotaErr.Type)
		assert.Equal(t, int64(2), quotaErr.Limit)
		assert.Equal(t, int64(2), quotaErr.Used)
		assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), quotaErr.Resets)

		clock.advance(14 * time.Hour)
		assert.NoError(t, rl.CheckRateLimit("user1", 0))
	})

	t.Run("data", func(t *testing.T) {
		rl, _ := newClockedLimiter(RateLimitConfig{MaxDataPerDay: 1000})
		require.NoError(t, rl.CheckRateLimit("user1", 600))

		err := rl.CheckRateLimit("user1", 500)
		var quotaErr *QuotaExceededError
		require.ErrorAs(t, err, &quotaErr)
		assert.Equal(t, "data", quotaErr.Type)
		assert.Equal(t, int64(600), quotaErr.Used)

		// A rejected request is not counted.
		assert.Equal(t, 1, rl.GetUsage("user1").RequestsToday)
		assert.NoError(t, rl.CheckRateLimit("user1", 400))
	})
}

func TestRateLimiter_DayResetAcrossYears(t *testing.T) {
	rl, clock := newClockedLimiter(RateLimitConfig{MaxRequestsPerDay: 1})
	require.NoError(t, rl.CheckRateLimit("user1", 0))

	// Same day and month one year later.
	clock.advance(365 * 24 * time.Hour)
	assert.NoError(t, rl.CheckRateLimit("user1", 0))
}

func TestRateLimiter_Prune(t *testing.T) {
	rl, clock := newClockedLimiter(RateLimitConfig{RequestsPerMinute: 10})
	require.NoError(t, rl.CheckRateLimit("old", 0))

	clock.advance(5 * time.Hour)
	assert.Equal(t, 0, rl.Prune(time.Hour), "old client still counts towards today")

	clock.advance(10 * time.Hour)
	require.NoError(t, rl.CheckRateLimit("recent", 0))
	assert.Equal(t, 1, rl.Prune(time.Hour))
	assert.Equal(t, 0, rl.GetUsage("old").RequestsToday)
	assert.Equal(t, 1, rl.GetUsage("recent").RequestsToday)
}

func TestRateLimitErrors_Messages(t *testing.T) {
	err := error(&RateLimitError{Type: "minute", Limit: 5, RetryAfter: time.Second})
	assert.Contains(t, err.Error(), "rate limit exceeded for minute")

	err = &QuotaExceededError{Type: "data", Limit: 10, Used: 9, Resets: time.Unix(0, 0).UTC()}
	assert.Contains(t, err.Error(), "quota exceeded for data (used: 9, limit: 10")
	assert.False(t, errors.Is(err, &RateLimitError{}))
}

func TestServer_RunMaintenance(t *testing.T) {
	t.Run("disabled limiter returns at once", func(t *testing.T) {
		s, _ := newTestServer(t, nil)
		done := make(chan struct{})
		go func() {
			s.RunMaintenance(context.Background(), time.Millisecond)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("RunMaintenance did not return")
		}
	})

	t.Run("stops with context", func(t *testing.T) {
		s, _ := newTestServer(t, func(c *Config) { c.RateLimit.RequestsPerMinute = 10 })
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			s.RunMaintenance(ctx, time.Millisecond)
			close(done)
		}()
		time.Sleep(5 * time.Millisecond)
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("RunMaintenance ignored cancellation")
		}
	})
}
