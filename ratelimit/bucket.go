package ratelimit

import (
	"math"
	"time"
)

// MaxTimeInterval is the saturating clamp applied to any time-arithmetic
// overflow produced by this package.
const MaxTimeInterval = time.Duration(math.MaxInt64)

// LeakyBucket is a continuously-draining token bucket: usage accrues on
// Submit and drains at a constant rate over time. It is not safe for
// concurrent use; callers serialize access (typically via the owning
// socket's strand).
type LeakyBucket struct {
	drainRate  float64 // units per second
	capacity   float64
	usage      float64
	lastUpdate time.Time
}

// NewLeakyBucket constructs a bucket with the given drain rate (units/sec)
// and capacity (units), empty and anchored at now.
func NewLeakyBucket(drainRate, capacity float64, now time.Time) *LeakyBucket {
	return &LeakyBucket{drainRate: drainRate, capacity: capacity, lastUpdate: now}
}

// CalculateCapacity and CalculateTimeWindow are inverses where
// representable: capacity = rate * window.
func CalculateCapacity(rate float64, window time.Duration) float64 {
	return rate * window.Seconds()
}

func CalculateTimeWindow(rate, capacity float64) time.Duration {
	if rate <= 0 {
		return MaxTimeInterval
	}
	return durationFromSeconds(capacity / rate)
}

func durationFromSeconds(s float64) time.Duration {
	if s < 0 {
		s = 0
	}
	if s*float64(time.Second) > float64(math.MaxInt64) {
		return MaxTimeInterval
	}
	return time.Duration(s * float64(time.Second))
}

// updateTime drains the bucket by (now - lastUpdate) * drainRate, clamping
// at 0, and advances lastUpdate to now. It is idempotent when called twice
// at the same now.
func (b *LeakyBucket) updateTime(now time.Time) {
	if now.Before(b.lastUpdate) {
		return
	}
	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.usage -= elapsed * b.drainRate
	if b.usage < 0 {
		b.usage = 0
	}
	b.lastUpdate = now
}

// CurrentUsage returns the usage as of the last update call; callers that
// need the current value should call WouldOverflow(0, now) first to force
// a drain, or use Usage(now).
func (b *LeakyBucket) CurrentUsage() float64 { return b.usage }

// Usage reports usage after draining to now.
func (b *LeakyBucket) Usage(now time.Time) float64 {
	b.updateTime(now)
	return b.usage
}

// WouldOverflow reports whether submitting units at now would exceed
// capacity, after draining to now.
func (b *LeakyBucket) WouldOverflow(units float64, now time.Time) bool {
	b.updateTime(now)
	return b.usage+units > b.capacity
}

// Submit drains to now and adds units to usage. It does not check for
// overflow; callers check WouldOverflow first.
func (b *LeakyBucket) Submit(units float64, now time.Time) {
	b.updateTime(now)
	b.usage += units
}

// Reserve records optimistic intent without persisting it to usage; pair
// with SubmitReserved (to commit) or CancelReserved (to discard). Reserve
// itself has no bucket-state effect beyond returning the token; it exists
// so callers can compute admission before deciding to commit.
type Reservation struct {
	units float64
}

func (b *LeakyBucket) Reserve(units float64) Reservation {
	return Reservation{units: units}
}

func (b *LeakyBucket) SubmitReserved(r Reservation, now time.Time) {
	b.Submit(r.units, now)
}

func (b *LeakyBucket) CancelReserved(Reservation) {
	// no bucket state to unwind; reservations are not persisted until
	// SubmitReserved, per the spec's "not persisted to usage until
	// submitReserved" contract.
}

// CalculateTimeToSubmit returns the earliest future time (relative to now)
// at which one more unit is submittable; 0 if already submittable.
func (b *LeakyBucket) CalculateTimeToSubmit(now time.Time) time.Duration {
	b.updateTime(now)
	if b.usage+1 <= b.capacity {
		return 0
	}
	overflow := b.usage + 1 - b.capacity
	if b.drainRate <= 0 {
		return MaxTimeInterval
	}
	return durationFromSeconds(overflow / b.drainRate)
}
