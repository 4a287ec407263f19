package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-asynctransport/chronology"
	"github.com/joeycumines/go-asynctransport/demux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDemux is a no-op Demultiplexer for exercising Interface's worker
// lifecycle and placement logic without touching a real OS poller.
type fakeDemux struct {
	mu     sync.Mutex
	closed bool
}

func (f *fakeDemux) Attach(int, demux.Interest, demux.TriggerMode, bool, demux.Socket) (*demux.RegistryEntry, error) {
	return nil, nil
}
func (f *fakeDemux) AttachEvents(int, demux.Interest, demux.TriggerMode, bool, demux.EventSet) (*demux.RegistryEntry, error) {
	return nil, nil
}
func (f *fakeDemux) Detach(*demux.RegistryEntry, func())            {}
func (f *fakeDemux) Arm(*demux.RegistryEntry, demux.Interest) error { return nil }
func (f *fakeDemux) Drive(deadline time.Duration) error {
	d := deadline
	if d < 0 || d > 5*time.Millisecond {
		d = 5 * time.Millisecond
	}
	time.Sleep(d)
	return nil
}
func (f *fakeDemux) Wakeup() error { return nil }
func (f *fakeDemux) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func newTestInterface(t *testing.T, numWorkers int) *Interface {
	t.Helper()
	in, err := New(Config{
		NumWorkers:       numWorkers,
		NewDemultiplexer: func() (demux.Demultiplexer, error) { return &fakeDemux{}, nil },
		MaxConnections:   1024,
	})
	require.NoError(t, err)
	require.NoError(t, in.Start())
	t.Cleanup(func() { require.NoError(t, in.Shutdown()) })
	return in
}

func TestSelectRoundRobinCyclesWorkers(t *testing.T) {
	in := newTestInterface(t, 3)
	var ids []uint64
	for i := 0; i < 6; i++ {
		w, err := in.Select(RoundRobin, 0)
		require.NoError(t, err)
		ids = append(ids, w.ID())
	}
	assert.Equal(t, ids[0:3], ids[3:6], "round robin repeats the same cycle")
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEqual(t, ids[1], ids[2])
}

func TestSelectThreadIndexAndHandle(t *testing.T) {
	in := newTestInterface(t, 2)
	w0, err := in.Select(ThreadIndex, 0)
	require.NoError(t, err)
	w1, err := in.Select(ThreadIndex, 1)
	require.NoError(t, err)
	assert.NotEqual(t, w0.ID(), w1.ID())

	_, err = in.Select(ThreadIndex, 5)
	assert.Error(t, err)

	byHandle, err := in.Select(ThreadHandle, w0.ID())
	require.NoError(t, err)
	assert.Equal(t, w0.ID(), byHandle.ID())

	_, err = in.Select(ThreadHandle, 9999)
	assert.Error(t, err)
}

func TestSelectLeastBusyPicksLowestLoadScore(t *testing.T) {
	in := newTestInterface(t, 3)
	workers := in.Workers()
	require.Len(t, workers, 3)
	// Load up the first two workers so the third is least busy.
	workers[0].IncSockets()
	workers[0].IncSockets()
	workers[1].IncSockets()

	w, err := in.Select(LeastBusy, 0)
	require.NoError(t, err)
	assert.Equal(t, workers[2].ID(), w.ID())
}

func TestSelectOnEmptyPoolErrors(t *testing.T) {
	in, err := New(Config{NewDemultiplexer: func() (demux.Demultiplexer, error) { return &fakeDemux{}, nil }})
	require.NoError(t, err)
	_, err = in.Select(RoundRobin, 0)
	assert.Error(t, err, "Select before Start has no workers to route to")
}

func TestLoadScoreWeightsSocketsAndTimers(t *testing.T) {
	w := newWorker(1, &fakeDemux{})
	w.IncSockets()
	w.IncSockets()
	w.Chronology().CreateTimer(chronology.Options{}, func(chronology.EventKind, time.Time) {}).
		Schedule(time.Now().Add(time.Minute), 0)
	assert.Equal(t, 2*1.0+1*0.1, w.loadScore(1.0, 0.1))
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 5, clampInt(1, 5, 10))
	assert.Equal(t, 10, clampInt(20, 5, 10))
	assert.Equal(t, 7, clampInt(7, 5, 10))
}

func TestApplySystemDefaultsLeavesExplicitValuesAlone(t *testing.T) {
	cfg := Config{MaxConnections: 42, DefaultListenerBacklog: 7, DefaultBlobSegmentSize: 99}
	applySystemDefaults(&cfg)
	assert.Equal(t, 42, cfg.MaxConnections)
	assert.Equal(t, 7, cfg.DefaultListenerBacklog)
	assert.Equal(t, 99, cfg.DefaultBlobSegmentSize)
}

func TestApplySystemDefaultsFillsUnsetFields(t *testing.T) {
	var cfg Config
	applySystemDefaults(&cfg)
	assert.Greater(t, cfg.MaxConnections, 0)
	assert.Greater(t, cfg.DefaultListenerBacklog, 0)
	assert.Equal(t, 16*1024, cfg.DefaultBlobSegmentSize)
}
