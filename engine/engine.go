package engine

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-asynctransport/demux"
	"github.com/joeycumines/go-asynctransport/errs"
	"github.com/joeycumines/go-asynctransport/logiface"

	"go.uber.org/automaxprocs/maxprocs"
)

// PlacementPolicy selects which worker a new socket is routed to, per
// §4.9.
type PlacementPolicy int

const (
	// LeastBusy picks the worker with the lowest load score, computed as
	// alpha*numSockets + beta*numPendingTimers.
	LeastBusy PlacementPolicy = iota
	// RoundRobin rotates through workers in order.
	RoundRobin
	// ThreadHandle selects the worker whose ID matches the Select call's
	// handle argument.
	ThreadHandle
	// ThreadIndex selects the worker at the Select call's index argument.
	ThreadIndex
)

// Config configures an Interface. Zero-value fields are defaulted by
// New, mirroring the teacher's convention of a Config struct with an
// explicit "fill in the blanks" constructor rather than a config
// framework.
type Config struct {
	// NumWorkers is the initial worker count. Zero defaults to
	// runtime.GOMAXPROCS(0) (itself corrected by automaxprocs for cgroup
	// CPU quotas, per the DOMAIN STACK wiring).
	NumWorkers int
	// MinThreads/MaxThreads bound thread scaling. Both zero disables
	// scaling (the pool stays fixed at NumWorkers).
	MinThreads int
	MaxThreads int
	// ScalingEnabled turns on the background thread-scaling loop.
	ScalingEnabled bool
	// ScaleUpLoadThreshold/ScaleDownLoadThreshold are average-load
	// thresholds (see LoadAlpha/LoadBeta) the scaling loop compares
	// against on each ScalingInterval tick.
	ScaleUpLoadThreshold   float64
	ScaleDownLoadThreshold float64
	ScalingInterval        time.Duration

	// LoadBalanceEnabled turns on the background imbalance-detection
	// loop. Because engine does not own socket lifetimes (asocket does),
	// it cannot migrate sockets itself; when the gap between the busiest
	// and idlest worker's load exceeds HysteresisThreshold, it invokes
	// RebalanceHook (if set) with the two workers involved, leaving the
	// actual migration (Detach from source, re-Attach to target) to the
	// caller, which alone knows how to quiesce and move its socket state.
	LoadBalanceEnabled  bool
	HysteresisThreshold float64
	LoadBalanceInterval time.Duration
	RebalanceHook       func(busiest, idlest *Worker)

	// LoadAlpha/LoadBeta weight a worker's socket count and pending
	// timer count into its load score. Both zero default to 1.0/0.1.
	LoadAlpha float64
	LoadBeta  float64

	// MaxConnections, DefaultListenerBacklog and DefaultBlobSegmentSize
	// are sizing defaults applications may leave at zero, in which case
	// they're derived from system memory via memory.TotalMemory() (see
	// config.go); set explicitly here to override that.
	MaxConnections         int
	DefaultListenerBacklog int
	DefaultBlobSegmentSize int

	// NewDemultiplexer constructs the per-worker Demultiplexer. Defaults
	// to demux.NewReadiness; the seam package plugin's reactor/proactor
	// factory registry plugs in here.
	NewDemultiplexer func() (demux.Demultiplexer, error)

	// Logger is optional; a nil Logger disables logging, matching
	// logiface's own nil-safe convention.
	Logger *logiface.Logger[logiface.Event]
}

// Interface owns a pool of workers and routes newly created sockets to
// one of them by PlacementPolicy, per §4.9.
type Interface struct {
	cfg Config

	mu      sync.Mutex
	workers []*Worker
	nextID  uint64
	rrNext  atomic.Uint64

	wg          sync.WaitGroup
	scaleStop   chan struct{}
	balanceStop chan struct{}
}

// New constructs an Interface, applying Config defaults, but does not
// start any workers; call Start for that.
func New(cfg Config) (*Interface, error) {
	cfg = withDefaults(cfg)
	return &Interface{cfg: cfg}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.NumWorkers <= 0 {
		// automaxprocs adjusts GOMAXPROCS for the cgroup CPU quota as a
		// side effect; ignore its undo func and any error (falls back to
		// whatever GOMAXPROCS already was, e.g. under a platform without
		// cgroups).
		_, _ = maxprocs.Set()
		cfg.NumWorkers = runtime.GOMAXPROCS(0)
		if cfg.NumWorkers < 1 {
			cfg.NumWorkers = 1
		}
	}
	if cfg.MinThreads <= 0 {
		cfg.MinThreads = cfg.NumWorkers
	}
	if cfg.MaxThreads < cfg.MinThreads {
		cfg.MaxThreads = cfg.MinThreads
	}
	if cfg.ScalingInterval <= 0 {
		cfg.ScalingInterval = time.Second
	}
	if cfg.LoadBalanceInterval <= 0 {
		cfg.LoadBalanceInterval = time.Second
	}
	if cfg.LoadAlpha == 0 {
		cfg.LoadAlpha = 1.0
	}
	if cfg.LoadBeta == 0 {
		cfg.LoadBeta = 0.1
	}
	if cfg.NewDemultiplexer == nil {
		cfg.NewDemultiplexer = func() (demux.Demultiplexer, error) { return demux.NewReadiness() }
	}
	applySystemDefaults(&cfg)
	return cfg
}

// Start spawns NumWorkers workers, each on its own goroutine, plus the
// thread-scaling and load-balancing loops if enabled.
func (in *Interface) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.workers) != 0 {
		return errs.New(errs.CategoryGeneric, errs.Invalid, "engine.start")
	}
	for i := 0; i < in.cfg.NumWorkers; i++ {
		if _, err := in.spawnWorkerLocked(); err != nil {
			for _, w := range in.workers {
				w.stop()
				w.linger()
				_ = w.close()
			}
			in.workers = nil
			return err
		}
	}
	if in.cfg.ScalingEnabled && in.cfg.MaxThreads > in.cfg.MinThreads {
		in.scaleStop = make(chan struct{})
		in.wg.Add(1)
		go in.scaleLoop()
	}
	if in.cfg.LoadBalanceEnabled {
		in.balanceStop = make(chan struct{})
		in.wg.Add(1)
		go in.balanceLoop()
	}
	return nil
}

func (in *Interface) spawnWorkerLocked() (*Worker, error) {
	dmx, err := in.cfg.NewDemultiplexer()
	if err != nil {
		return nil, errs.Wrap(errs.CategorySystem, errs.Unreachable, "engine.spawn", err)
	}
	in.nextID++
	w := newWorker(in.nextID, dmx)
	in.workers = append(in.workers, w)
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		w.run()
	}()
	if l := in.cfg.Logger; l != nil {
		l.Debug().Log("engine: worker started")
	}
	return w, nil
}

// Stop requests every worker and background loop to exit; it does not
// block for them to finish (see Linger).
func (in *Interface) Stop() {
	in.mu.Lock()
	workers := append([]*Worker(nil), in.workers...)
	scaleStop, balanceStop := in.scaleStop, in.balanceStop
	in.mu.Unlock()

	if scaleStop != nil {
		closeOnce(scaleStop)
	}
	if balanceStop != nil {
		closeOnce(balanceStop)
	}
	for _, w := range workers {
		w.stop()
	}
}

// Shutdown is Stop followed by Linger then closing every worker's
// demultiplexer and chronology; it blocks until fully torn down.
func (in *Interface) Shutdown() error {
	in.Stop()
	in.Linger()
	in.mu.Lock()
	workers := in.workers
	in.workers = nil
	in.mu.Unlock()
	var first error
	for _, w := range workers {
		if err := w.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Linger blocks until every worker goroutine and background loop
// launched by Start has returned.
func (in *Interface) Linger() {
	in.wg.Wait()
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Select routes a new socket to a worker according to policy. arg is the
// worker index for ThreadIndex, or the worker ID (Worker.ID) for
// ThreadHandle; it is ignored by LeastBusy and RoundRobin. The returned
// Worker's IncSockets is called once on the caller's behalf; the caller
// must call DecSockets when the socket it places there is torn down.
func (in *Interface) Select(policy PlacementPolicy, arg uint64) (*Worker, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.workers) == 0 {
		return nil, errs.New(errs.CategoryGeneric, errs.Invalid, "engine.select")
	}
	var w *Worker
	switch policy {
	case RoundRobin:
		idx := in.rrNext.Add(1) - 1
		w = in.workers[int(idx%uint64(len(in.workers)))]
	case ThreadIndex:
		if arg >= uint64(len(in.workers)) {
			return nil, errs.New(errs.CategoryGeneric, errs.Invalid, "engine.select.index")
		}
		w = in.workers[arg]
	case ThreadHandle:
		for _, c := range in.workers {
			if c.ID() == arg {
				w = c
				break
			}
		}
		if w == nil {
			return nil, errs.New(errs.CategoryGeneric, errs.Invalid, "engine.select.handle")
		}
	default: // LeastBusy
		w = in.workers[0]
		best := w.loadScore(in.cfg.LoadAlpha, in.cfg.LoadBeta)
		for _, c := range in.workers[1:] {
			if s := c.loadScore(in.cfg.LoadAlpha, in.cfg.LoadBeta); s < best {
				w, best = c, s
			}
		}
	}
	w.IncSockets()
	return w, nil
}

// MaxConnections is the configured (or system-memory-derived default)
// connection ceiling, for callers sizing their own ListenerOptions.
func (in *Interface) MaxConnections() int { return in.cfg.MaxConnections }

// DefaultListenerBacklog is the configured (or derived) default accept
// backlog, for callers sizing their own ListenerOptions.
func (in *Interface) DefaultListenerBacklog() int { return in.cfg.DefaultListenerBacklog }

// DefaultBlobSegmentSize is the configured (or derived) default blob
// segment size, for callers sizing iobuf.Blob pools.
func (in *Interface) DefaultBlobSegmentSize() int { return in.cfg.DefaultBlobSegmentSize }

// Workers returns a snapshot of the currently running workers.
func (in *Interface) Workers() []*Worker {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]*Worker(nil), in.workers...)
}

// scaleLoop adds workers up to MaxThreads when average load exceeds
// ScaleUpLoadThreshold, and removes idle workers back down to MinThreads
// when average load drops below ScaleDownLoadThreshold, per §4.9's
// thread-scaling description.
func (in *Interface) scaleLoop() {
	defer in.wg.Done()
	ticker := time.NewTicker(in.cfg.ScalingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-in.scaleStop:
			return
		case <-ticker.C:
		}
		in.scaleTick()
	}
}

func (in *Interface) scaleTick() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.workers) == 0 {
		return
	}
	avg := in.averageLoadLocked()
	if avg > in.cfg.ScaleUpLoadThreshold && len(in.workers) < in.cfg.MaxThreads {
		if _, err := in.spawnWorkerLocked(); err == nil {
			if l := in.cfg.Logger; l != nil {
				l.Info().Int("workers", len(in.workers)).Log("engine: scaled up")
			}
		}
		return
	}
	if avg < in.cfg.ScaleDownLoadThreshold && len(in.workers) > in.cfg.MinThreads {
		for i, w := range in.workers {
			if w.NumSockets() == 0 {
				w.stop()
				in.workers = append(in.workers[:i], in.workers[i+1:]...)
				in.wg.Add(1)
				go func() {
					defer in.wg.Done()
					w.linger()
					_ = w.close()
				}()
				if l := in.cfg.Logger; l != nil {
					l.Info().Int("workers", len(in.workers)).Log("engine: scaled down")
				}
				break
			}
		}
	}
}

func (in *Interface) averageLoadLocked() float64 {
	var total float64
	for _, w := range in.workers {
		total += w.loadScore(in.cfg.LoadAlpha, in.cfg.LoadBeta)
	}
	return total / float64(len(in.workers))
}

// balanceLoop periodically checks for load imbalance beyond
// HysteresisThreshold and, when found, invokes RebalanceHook; see
// Config.RebalanceHook for why engine stops short of migrating sockets
// itself.
func (in *Interface) balanceLoop() {
	defer in.wg.Done()
	ticker := time.NewTicker(in.cfg.LoadBalanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-in.balanceStop:
			return
		case <-ticker.C:
		}
		in.balanceTick()
	}
}

func (in *Interface) balanceTick() {
	in.mu.Lock()
	if len(in.workers) < 2 || in.cfg.RebalanceHook == nil {
		in.mu.Unlock()
		return
	}
	busiest, idlest := in.workers[0], in.workers[0]
	busiestScore := busiest.loadScore(in.cfg.LoadAlpha, in.cfg.LoadBeta)
	idlestScore := busiestScore
	for _, w := range in.workers[1:] {
		s := w.loadScore(in.cfg.LoadAlpha, in.cfg.LoadBeta)
		if s > busiestScore {
			busiest, busiestScore = w, s
		}
		if s < idlestScore {
			idlest, idlestScore = w, s
		}
	}
	gap := busiestScore - idlestScore
	hook := in.cfg.RebalanceHook
	in.mu.Unlock()
	if gap > in.cfg.HysteresisThreshold && busiest != idlest {
		hook(busiest, idlest)
	}
}
