package asocket

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joeycumines/go-asynctransport/iobuf"
)

// For a strictly monotonic sequence of queue sizes crossing both
// thresholds in each direction, each threshold fires exactly once per
// crossing.
func TestWatermarkTrackerFiresOncePerCrossing(t *testing.T) {
	w := newWatermarkTracker(100, 1000)

	var lows, highs int
	feed := func(sizes ...int) {
		for _, size := range sizes {
			low, high := w.update(size)
			if low {
				lows++
			}
			if high {
				highs++
			}
		}
	}

	// Climb through both thresholds.
	feed(0, 50, 150, 500, 1000, 1500)
	assert.Equal(t, 0, lows)
	assert.Equal(t, 1, highs)

	// Hovering above high fires nothing further.
	feed(2000, 1200, 1000)
	assert.Equal(t, 1, highs)

	// Drain back below low: exactly one low announcement.
	feed(800, 200, 100, 50, 0)
	assert.Equal(t, 1, lows)
	assert.Equal(t, 1, highs)

	// A second full round trip fires each exactly once more.
	feed(500, 1000, 500, 100)
	assert.Equal(t, 2, lows)
	assert.Equal(t, 2, highs)
}

func TestWatermarkTrackerZeroHighNeverFires(t *testing.T) {
	w := newWatermarkTracker(0, 0)
	for _, size := range []int{0, 10, 1 << 20, 0} {
		_, high := w.update(size)
		assert.False(t, high)
	}
}

func TestWatermarkTrackerInitialSizeAboveHighDoesNotFire(t *testing.T) {
	// The first observation establishes the baseline; only a subsequent
	// upward crossing announces.
	w := newWatermarkTracker(10, 100)
	_, high := w.update(500)
	assert.False(t, high)
	w.update(50)
	_, high = w.update(500)
	assert.True(t, high)
}

func TestSanitizeWatermarksClampsLowBelowHigh(t *testing.T) {
	low, high := sanitizeWatermarks(2048, 1024)
	assert.Equal(t, 1023, low)
	assert.Equal(t, 1024, high)

	low, high = sanitizeWatermarks(-5, 0)
	assert.Equal(t, 0, low)
	assert.Equal(t, 0, high, "an unset high watermark stays disabled")

	low, high = sanitizeWatermarks(100, 1000)
	assert.Equal(t, 100, low)
	assert.Equal(t, 1000, high)
}

func TestSliceConstBuffersSplitsStraddlingBuffer(t *testing.T) {
	bufs := []iobuf.ConstBuffer{
		{Bytes: []byte("abc")},
		{Bytes: []byte("defg")},
		{Bytes: []byte("hi")},
	}

	out := sliceConstBuffers(bufs, 0)
	assert.Len(t, out, 3)

	out = sliceConstBuffers(bufs, 3)
	assert.Len(t, out, 2)
	assert.Equal(t, []byte("defg"), out[0].Bytes)

	out = sliceConstBuffers(bufs, 5)
	assert.Len(t, out, 2)
	assert.Equal(t, []byte("fg"), out[0].Bytes)
	assert.Equal(t, []byte("hi"), out[1].Bytes)

	assert.Nil(t, sliceConstBuffers(bufs, 9))
}

func TestFlattenConstBuffers(t *testing.T) {
	bufs := []iobuf.ConstBuffer{{Bytes: []byte("ab")}, {Bytes: nil}, {Bytes: []byte("cd")}}
	assert.Equal(t, []byte("abcd"), flattenConstBuffers(bufs))
	assert.Empty(t, flattenConstBuffers(nil))
}
