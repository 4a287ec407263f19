package chronology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnounceFiresInNonDecreasingDeadlineOrder(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	var order []int

	mk := func(id int, d time.Duration) *Timer {
		var tm *Timer
		tm = c.CreateTimer(Options{OneShot: true}, func(kind EventKind, _ time.Time) {
			if kind == Deadline {
				order = append(order, id)
			}
		})
		tm.Schedule(now.Add(d), 0)
		return tm
	}
	mk(3, 30*time.Millisecond)
	mk(1, 10*time.Millisecond)
	mk(2, 20*time.Millisecond)

	c.Announce(now.Add(time.Hour), false)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestAnnounceTieBreakByInsertionOrder(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	var order []int
	mkAt := func(id int, d time.Time) {
		c.CreateTimer(Options{OneShot: true}, func(kind EventKind, _ time.Time) {
			if kind == Deadline {
				order = append(order, id)
			}
		}).Schedule(d, 0)
	}
	deadline := now.Add(time.Second)
	mkAt(1, deadline)
	mkAt(2, deadline)
	mkAt(3, deadline)

	c.Announce(deadline, false)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestAnnounceDrainsDeferredFunctions(t *testing.T) {
	c := New()
	var ran []int
	c.Defer(func() { ran = append(ran, 1) })
	c.Defer(func() { ran = append(ran, 2) })
	c.Announce(time.Unix(0, 0), false)
	assert.Equal(t, []int{1, 2}, ran)
	assert.Equal(t, 0, c.NumDeferred())
}

func TestAnnounceSingleDefersRecursivelyScheduledDueTimers(t *testing.T) {
	// A timer callback that schedules another already-due timer: with
	// single=true the newly scheduled timer is left in the heap and fires
	// on the next Announce call.
	c := New()
	now := time.Unix(0, 0)
	var fired int
	first := c.CreateTimer(Options{OneShot: true}, func(kind EventKind, n time.Time) {
		if kind != Deadline {
			return
		}
		fired++
		c.CreateTimer(Options{OneShot: true}, func(kind EventKind, _ time.Time) {
			if kind == Deadline {
				fired++
			}
		}).Schedule(n, 0)
	})
	first.Schedule(now, 0)

	c.Announce(now, true)
	assert.Equal(t, 1, fired, "single=true: the recursively scheduled due timer waits for the next call")

	c.Announce(now, true)
	assert.Equal(t, 2, fired)
}

func TestAnnounceSingleDefersRecursivelyScheduledDeferredFunctions(t *testing.T) {
	// single governs whether the outer loop re-checks for new deferred
	// functions appended by functions that already ran this call.
	c := New()
	var ran []int
	c.Defer(func() {
		ran = append(ran, 1)
		c.Defer(func() { ran = append(ran, 2) })
	})

	c.Announce(time.Unix(0, 0), true)
	assert.Equal(t, []int{1}, ran, "single=true: the recursively deferred function waits for the next call")

	c.Announce(time.Unix(0, 0), true)
	assert.Equal(t, []int{1, 2}, ran)
}

func TestAnnounceNonSingleDrainsRecursivelyDeferredFunctions(t *testing.T) {
	c := New()
	var ran []int
	c.Defer(func() {
		ran = append(ran, 1)
		c.Defer(func() { ran = append(ran, 2) })
	})

	c.Announce(time.Unix(0, 0), false)
	assert.Equal(t, []int{1, 2}, ran, "single=false loops until no new deferred work appears")
}

func TestTimeoutIntervalEmptyAndPopulated(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	_, ok := c.TimeoutInterval(now)
	assert.False(t, ok)

	tm := c.CreateTimer(Options{}, func(EventKind, time.Time) {})
	tm.Schedule(now.Add(250*time.Millisecond), 0)

	d, ok := c.TimeoutInterval(now)
	require.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)

	ms, ok := c.TimeoutInMilliseconds(now.Add(10 * time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, 240, ms)
}

func TestNumRegisteredScheduledDeferred(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	tm := c.CreateTimer(Options{}, func(EventKind, time.Time) {})
	assert.Equal(t, 1, c.NumRegistered())
	assert.Equal(t, 0, c.NumScheduled())

	tm.Schedule(now.Add(time.Second), 0)
	assert.Equal(t, 1, c.NumScheduled())

	c.Defer(func() {})
	assert.Equal(t, 1, c.NumDeferred())
	assert.True(t, c.HasAnyScheduledOrDeferred())

	tm.Close(now)
	assert.Equal(t, 0, c.NumRegistered())
}

func TestCloseAllDeliversClosedToEveryTimer(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	var closedCount int
	for i := 0; i < 3; i++ {
		c.CreateTimer(Options{}, func(kind EventKind, _ time.Time) {
			if kind == ClosedEvent {
				closedCount++
			}
		}).Schedule(now.Add(time.Minute), 0)
	}
	c.CloseAll(now)
	assert.Equal(t, 3, closedCount)
	assert.Equal(t, 0, c.NumRegistered())
}
