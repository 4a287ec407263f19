package ratelimit

import "time"

// RateLimiter gates throughput against two independent leaky buckets: a
// sustained (long-window, low-rate) bucket and a peak (short-window,
// high-rate) bucket. A submission is allowed only when both buckets allow
// it, and the time until the next submission is the maximum of the two
// sub-bucket waits, since both must clear.
type RateLimiter struct {
	sustained *LeakyBucket
	peak      *LeakyBucket
}

// NewRateLimiter builds a limiter from explicit rate/capacity pairs for
// each bucket.
func NewRateLimiter(sustainedRate, sustainedCapacity, peakRate, peakCapacity float64, now time.Time) *RateLimiter {
	return &RateLimiter{
		sustained: NewLeakyBucket(sustainedRate, sustainedCapacity, now),
		peak:      NewLeakyBucket(peakRate, peakCapacity, now),
	}
}

// NewRateLimiterWindows builds a limiter from rate/time-window pairs,
// converting each window to a capacity via CalculateCapacity.
func NewRateLimiterWindows(sustainedRate float64, sustainedWindow time.Duration, peakRate float64, peakWindow time.Duration, now time.Time) *RateLimiter {
	return NewRateLimiter(
		sustainedRate, CalculateCapacity(sustainedRate, sustainedWindow),
		peakRate, CalculateCapacity(peakRate, peakWindow),
		now,
	)
}

// WouldOverflow reports whether submitting units at now would overflow
// either bucket.
func (r *RateLimiter) WouldOverflow(units float64, now time.Time) bool {
	return r.sustained.WouldOverflow(units, now) || r.peak.WouldOverflow(units, now)
}

// Submit records units against both buckets. Callers must have already
// checked WouldOverflow; Submit does not itself refuse.
func (r *RateLimiter) Submit(units float64, now time.Time) {
	r.sustained.Submit(units, now)
	r.peak.Submit(units, now)
}

// CalculateTimeToSubmit returns the longer of the two buckets' waits,
// since admission requires both to clear simultaneously.
func (r *RateLimiter) CalculateTimeToSubmit(now time.Time) time.Duration {
	ts := r.sustained.CalculateTimeToSubmit(now)
	tp := r.peak.CalculateTimeToSubmit(now)
	if ts > tp {
		return ts
	}
	return tp
}

// Sustained and Peak expose the underlying buckets for observability and
// reconfiguration (e.g. socket options that change rate limits in place).
func (r *RateLimiter) Sustained() *LeakyBucket { return r.sustained }
func (r *RateLimiter) Peak() *LeakyBucket      { return r.peak }
