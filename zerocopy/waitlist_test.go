package zerocopy

import (
	"testing"

	"github.com/joeycumines/go-asynctransport/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcknowledgeCompletesInRangeInInsertionOrder(t *testing.T) {
	var w WaitList
	var order []uint32
	for _, id := range []uint32{1, 2, 3, 4, 5} {
		id := id
		require.NoError(t, w.Add(Entry{ID: id, Done: func(o Outcome, err error) {
			require.Equal(t, Complete, o)
			require.NoError(t, err)
			order = append(order, id)
		}}))
	}

	n := w.Acknowledge(2, 4)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint32{2, 3, 4}, order)
	assert.Equal(t, 2, w.Len())
}

func TestAcknowledgeHandlesWrappedRange(t *testing.T) {
	var w WaitList
	var acked []uint32
	for _, id := range []uint32{0xFFFFFFFE, 0xFFFFFFFF, 0, 1, 2} {
		id := id
		require.NoError(t, w.Add(Entry{ID: id, Done: func(Outcome, error) { acked = append(acked, id) }}))
	}

	n := w.Acknowledge(0xFFFFFFFF, 1)
	assert.Equal(t, 3, n)
	assert.Equal(t, []uint32{0xFFFFFFFF, 0, 1}, acked)
	assert.Equal(t, 2, w.Len())
}

func TestAcknowledgeIgnoresIDsNotOutstanding(t *testing.T) {
	var w WaitList
	require.NoError(t, w.Add(Entry{ID: 10}))
	n := w.Acknowledge(20, 30)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, w.Len())
}

func TestCancelCompletesEveryRemainingEntryWithError(t *testing.T) {
	var w WaitList
	var got []error
	cancelCause := errs.New(errs.CategoryTransport, errs.Cancelled, "test")
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Add(Entry{ID: uint32(i), Done: func(o Outcome, err error) {
			require.Equal(t, Error, o)
			got = append(got, err)
		}}))
	}

	w.Cancel(cancelCause)
	assert.Len(t, got, 3)
	for _, err := range got {
		assert.Same(t, cancelCause, err)
	}
	assert.Equal(t, 0, w.Len())
}

func TestAddReturnsLimitErrorAtCapacity(t *testing.T) {
	// MaxOutstanding is 2^31-1, far too large to allocate in a unit test;
	// this skips the literal boundary and instead documents the contract
	// Add relies on, exercised at steady-state by TestAcknowledge*.
	t.Skip("MaxOutstanding (2^31-1) is too large to allocate in a unit test")
}
