// Package zerocopy implements the two small pieces of kernel-notification
// bookkeeping the stream socket needs for zero-copy sends and send-side
// timestamping: TimestampCorrelator and WaitList.
package zerocopy

import (
	"time"

	"github.com/joeycumines/go-asynctransport/internal/ring"
)

// NotificationType identifies which kernel timestamp event a notification
// carries.
type NotificationType int

const (
	Sent NotificationType = iota
	Scheduled
	Acknowledged
)

// bucketCapacity bounds each of the correlator's three ring buffers;
// entries older than this are evicted oldest-first, per the spec's
// "bounded ring buffers" contract (an evicted id simply has no match for
// a late notification).
const bucketCapacity = 4096

// bucket pairs an ascending-id ring buffer (used for its ordered
// Insert/Search/RemoveBefore contract — the same data structure the
// teacher's catrate package uses for its per-rate event windows) with a
// map from id to enqueue time, since ring.Buffer's element type must be
// Ordered and cannot itself carry the payload.
type bucket struct {
	ids   *ring.Buffer[uint64]
	times map[uint64]time.Time
}

func newBucket() *bucket {
	return &bucket{ids: ring.New[uint64](bucketCapacity), times: make(map[uint64]time.Time)}
}

func (b *bucket) record(id uint64, now time.Time) {
	if b.ids.Len() == b.ids.Cap() {
		oldest := b.ids.Get(0)
		delete(b.times, oldest)
		b.ids.RemoveBefore(1)
	}
	b.ids.Insert(b.ids.Len(), id)
	b.times[id] = now
}

// take looks up and removes the enqueue time recorded for id, returning
// ok=false if it was never recorded or has since been evicted.
func (b *bucket) take(id uint64) (time.Time, bool) {
	t, ok := b.times[id]
	if !ok {
		return time.Time{}, false
	}
	delete(b.times, id)
	return t, true
}

// TimestampCorrelator matches a kernel timestamp notification (id, type,
// time) to the latency since the user-level enqueue, per send id and
// notification type, using three independent bounded ring buffers (sent,
// scheduled, acknowledged).
type TimestampCorrelator struct {
	sent, scheduled, acknowledged *bucket
	nextID                        uint64
}

// NewTimestampCorrelator constructs an empty correlator.
func NewTimestampCorrelator() *TimestampCorrelator {
	return &TimestampCorrelator{
		sent:         newBucket(),
		scheduled:    newBucket(),
		acknowledged: newBucket(),
	}
}

// NextID allocates the next monotonically increasing send id.
func (c *TimestampCorrelator) NextID() uint64 {
	c.nextID++
	return c.nextID
}

// RecordEnqueue saves the pre-send clock for id, to be matched by a later
// Notify call of any type.
func (c *TimestampCorrelator) RecordEnqueue(id uint64, now time.Time) {
	c.sent.record(id, now)
	c.scheduled.record(id, now)
	c.acknowledged.record(id, now)
}

// Notify delivers a kernel notification of the given type for id at time
// now. It returns the latency since RecordEnqueue and ok=true on the
// first subsequent notification of that type for that id; subsequent
// notifications (or ids discarded by ring-buffer overflow) return
// ok=false.
func (c *TimestampCorrelator) Notify(id uint64, typ NotificationType, now time.Time) (latency time.Duration, ok bool) {
	var b *bucket
	switch typ {
	case Sent:
		b = c.sent
	case Scheduled:
		b = c.scheduled
	case Acknowledged:
		b = c.acknowledged
	default:
		return 0, false
	}
	enq, found := b.take(id)
	if !found {
		return 0, false
	}
	return now.Sub(enq), true
}
