// Package engine implements the worker pool described by §4.9: N workers,
// each owning a reactor/proactor, chronology and strand, with socket
// placement by policy, optional dynamic load balancing, and optional
// thread scaling between a minimum and maximum worker count.
package engine

import (
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-asynctransport/chronology"
	"github.com/joeycumines/go-asynctransport/demux"
	"github.com/joeycumines/go-asynctransport/strand"
)

// Worker is one reactor/proactor + chronology + strand triple, run from a
// single dedicated goroutine. It implements asocket.Worker (Strand,
// Chronology, Demux) without importing asocket, the same way asocket's
// own Worker interface avoids importing engine.
type Worker struct {
	id         uint64
	dmx        demux.Demultiplexer
	chronology *chronology.Chronology
	strand     *strand.Strand

	numSockets atomic.Int64

	stopC chan struct{}
	doneC chan struct{}
}

// newWorker constructs a Worker driven by dmx, not yet started.
func newWorker(id uint64, dmx demux.Demultiplexer) *Worker {
	w := &Worker{
		id:         id,
		dmx:        dmx,
		chronology: chronology.New(),
		stopC:      make(chan struct{}),
		doneC:      make(chan struct{}),
	}
	// The strand's executor runs scheduled drains inline, on whichever
	// goroutine lost the race to enqueue first (strand.Strand already
	// guarantees mutual exclusion via its running CAS, so this needs no
	// handoff to w.run's goroutine); it then wakes the poller so a run
	// loop blocked in Drive notices the resulting queue/interest changes
	// without waiting out whatever deadline it last computed.
	w.strand = strand.New(strand.ExecutorFunc(func(fn func()) {
		fn()
		_ = w.dmx.Wakeup()
	}))
	return w
}

func (w *Worker) Strand() *strand.Strand             { return w.strand }
func (w *Worker) Chronology() *chronology.Chronology { return w.chronology }
func (w *Worker) Demux() demux.Demultiplexer         { return w.dmx }

// ID is the worker's stable identity within its owning Interface, usable
// as a ThreadHandle placement target.
func (w *Worker) ID() uint64 { return w.id }

// IncSockets/DecSockets track how many sockets are currently routed to
// this worker, feeding the LeastBusy load score. Callers that place a
// socket onto a worker (typically via Interface.Select) are responsible
// for calling IncSockets once and DecSockets exactly once, when the
// socket is later torn down; engine has no visibility into asocket socket
// lifetimes itself.
func (w *Worker) IncSockets() { w.numSockets.Add(1) }
func (w *Worker) DecSockets() { w.numSockets.Add(-1) }

// NumSockets is the worker's current socket count, as tracked via
// IncSockets/DecSockets.
func (w *Worker) NumSockets() int64 { return w.numSockets.Load() }

// NumPendingTimers is the worker's current scheduled-timer count.
func (w *Worker) NumPendingTimers() int { return w.chronology.NumScheduled() }

// loadScore computes alpha*numSockets + beta*numPendingTimers, the metric
// LeastBusy placement and the load balancer both use.
func (w *Worker) loadScore(alpha, beta float64) float64 {
	return alpha*float64(w.numSockets.Load()) + beta*float64(w.NumPendingTimers())
}

// run is the worker's dedicated goroutine: alternate blocking on the
// demultiplexer (dispatching ready sockets inline as it does) with
// announcing due timers and deferred functions, until stop is requested.
func (w *Worker) run() {
	defer close(w.doneC)
	for {
		select {
		case <-w.stopC:
			return
		default:
		}

		now := time.Now()
		deadline := -time.Nanosecond
		if d, ok := w.chronology.TimeoutInterval(now); ok {
			deadline = d
		}
		_ = w.dmx.Drive(deadline)

		select {
		case <-w.stopC:
			return
		default:
		}

		w.chronology.Announce(time.Now(), false)
	}
}

// stop requests the worker's run loop to exit and wakes it if it is
// currently blocked in Drive; it does not wait for the loop to finish.
func (w *Worker) stop() {
	select {
	case <-w.stopC:
	default:
		close(w.stopC)
	}
	_ = w.dmx.Wakeup()
}

// linger blocks until the worker's run loop has returned.
func (w *Worker) linger() {
	<-w.doneC
}

// close tears down the worker's chronology and demultiplexer. Call only
// after linger has returned.
func (w *Worker) close() error {
	w.chronology.CloseAll(time.Now())
	return w.dmx.Close()
}
