package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeakyBucketNeverOverflowsUnderAdmissionCheck(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewLeakyBucket(100, 1000, now) // 100 units/sec, 1000 capacity

	for i := 0; i < 50; i++ {
		if !b.WouldOverflow(37, now) {
			b.Submit(37, now)
		}
		assert.LessOrEqual(t, b.Usage(now), 1000.0)
		now = now.Add(10 * time.Millisecond)
	}
}

func TestLeakyBucketDrainsOverTime(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewLeakyBucket(100, 1000, now)
	b.Submit(100, now)
	assert.Equal(t, 100.0, b.Usage(now))

	later := now.Add(time.Second)
	assert.Equal(t, 0.0, b.Usage(later), "drains to 0 after enough time at the drain rate")
}

func TestLeakyBucketClampsAtZero(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewLeakyBucket(100, 1000, now)
	b.Submit(10, now)
	later := now.Add(10 * time.Hour)
	assert.Equal(t, 0.0, b.Usage(later))
}

func TestCalculateTimeToSubmitZeroIffSubmittable(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewLeakyBucket(10, 100, now)
	assert.Equal(t, time.Duration(0), b.CalculateTimeToSubmit(now))

	b.Submit(100, now)
	wait := b.CalculateTimeToSubmit(now)
	assert.Greater(t, wait, time.Duration(0))

	assert.True(t, b.WouldOverflow(1, now))
	assert.False(t, b.WouldOverflow(1, now.Add(wait)))
}

func TestCalculateCapacityTimeWindowInverse(t *testing.T) {
	rate := 50.0
	window := 4 * time.Second
	cap := CalculateCapacity(rate, window)
	require.InDelta(t, 200.0, cap, 1e-9)

	back := CalculateTimeWindow(rate, cap)
	assert.InDelta(t, window.Seconds(), back.Seconds(), 1e-6)
}

func TestCalculateTimeWindowZeroRateSaturates(t *testing.T) {
	assert.Equal(t, MaxTimeInterval, CalculateTimeWindow(0, 100))
}

func TestReservationDoesNotPersistUntilSubmitted(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewLeakyBucket(10, 100, now)
	r := b.Reserve(50)
	assert.Equal(t, 0.0, b.CurrentUsage(), "reserve alone has no bucket-state effect")

	b.CancelReserved(r)
	assert.Equal(t, 0.0, b.CurrentUsage())

	b.SubmitReserved(b.Reserve(30), now)
	assert.Equal(t, 30.0, b.CurrentUsage())
}
