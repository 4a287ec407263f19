package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPanicsOnNonPowerOfTwo(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](3) })
	assert.NotPanics(t, func() { New[int](4) })
}

func TestInsertAppendAndGetInOrder(t *testing.T) {
	b := New[int](8)
	for i, v := range []int{10, 20, 30} {
		b.Insert(i, v)
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{10, 20, 30}, b.Slice())
	for i, want := range []int{10, 20, 30} {
		assert.Equal(t, want, b.Get(i))
	}
}

func TestInsertAtFrontAndMiddle(t *testing.T) {
	b := New[int](8)
	b.Insert(0, 2)
	b.Insert(0, 1)
	b.Insert(2, 4)
	b.Insert(2, 3)
	assert.Equal(t, []int{1, 2, 3, 4}, b.Slice())
}

func TestRemoveBeforeDropsLeadingElements(t *testing.T) {
	b := New[int](8)
	for i, v := range []int{1, 2, 3, 4} {
		b.Insert(i, v)
	}
	b.RemoveBefore(2)
	assert.Equal(t, []int{3, 4}, b.Slice())
	assert.Equal(t, 2, b.Len())
}

func TestSearchFindsLowerBound(t *testing.T) {
	b := New[int](8)
	for i, v := range []int{1, 3, 5, 7, 9} {
		b.Insert(i, v)
	}
	assert.Equal(t, 0, b.Search(1))
	assert.Equal(t, 2, b.Search(5))
	assert.Equal(t, 3, b.Search(6))
	assert.Equal(t, 5, b.Search(10), "past the end returns Len()")
}

func TestInsertGrowsWhenFull(t *testing.T) {
	b := New[int](4)
	for i, v := range []int{1, 2, 3, 4} {
		b.Insert(i, v)
	}
	require.Equal(t, 4, b.Cap())
	b.Insert(2, 99)
	assert.Equal(t, 8, b.Cap())
	assert.Equal(t, []int{1, 2, 99, 3, 4}, b.Slice())
}

func TestInsertAfterWrapAround(t *testing.T) {
	b := New[int](4)
	for i, v := range []int{1, 2, 3} {
		b.Insert(i, v)
	}
	b.RemoveBefore(2) // drops 1, 2; now holds [3] with r,w advanced into the buffer
	b.Insert(1, 5)    // append after the remaining element, wrapping around
	b.Insert(2, 6)
	assert.Equal(t, []int{3, 5, 6}, b.Slice())
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 4, b.Cap(), "still within original capacity, no growth needed")
}

func TestGetOutOfRangePanics(t *testing.T) {
	b := New[int](4)
	b.Insert(0, 1)
	assert.Panics(t, func() { b.Get(-1) })
	assert.Panics(t, func() { b.Get(1) })
}

func TestLenAndCapOnEmptyBuffer(t *testing.T) {
	b := New[int](16)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 16, b.Cap())
	assert.Empty(t, b.Slice())
}
