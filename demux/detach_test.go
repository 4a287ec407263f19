package demux

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetachWithNoReferencesFiresImmediately(t *testing.T) {
	d := NewDetachContext()
	var fired bool
	complete := d.Detach(func() { fired = true })
	assert.True(t, complete)
	assert.True(t, fired)
	_, _, detached := d.State()
	assert.True(t, detached)
}

func TestDetachWithOutstandingReferenceWaitsForRelease(t *testing.T) {
	d := NewDetachContext()
	assert.True(t, d.Reference())

	var fired bool
	complete := d.Detach(func() { fired = true })
	assert.False(t, complete)
	assert.False(t, fired)
	_, detaching, _ := d.State()
	assert.True(t, detaching)

	d.Release()
	assert.True(t, fired)
	_, _, detached := d.State()
	assert.True(t, detached)
}

func TestReferenceFailsOnceDetaching(t *testing.T) {
	d := NewDetachContext()
	assert.True(t, d.Reference())
	d.Detach(func() {})

	assert.False(t, d.Reference(), "no new references once detaching has begun")
}

func TestReferenceFailsAfterDetached(t *testing.T) {
	d := NewDetachContext()
	d.Detach(func() {})
	assert.False(t, d.Reference())
}

func TestDetachIsIdempotent(t *testing.T) {
	d := NewDetachContext()
	calls := 0
	assert.True(t, d.Detach(func() { calls++ }))
	assert.True(t, d.Detach(func() { calls++ }), "Detach after Detached reports complete without re-firing")
	assert.Equal(t, 1, calls)
}

func TestOnDetachFiresExactlyOnceUnderConcurrentReferences(t *testing.T) {
	d := NewDetachContext()
	const n = 100
	for i := 0; i < n; i++ {
		assert.True(t, d.Reference())
	}

	var fireCount int
	var mu sync.Mutex
	d.Detach(func() {
		mu.Lock()
		fireCount++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			d.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fireCount)
	assert.Equal(t, 0, d.Count())
}

func TestCountTracksOutstandingReferences(t *testing.T) {
	d := NewDetachContext()
	d.Reference()
	d.Reference()
	assert.Equal(t, 2, d.Count())
	d.Release()
	assert.Equal(t, 1, d.Count())
}
