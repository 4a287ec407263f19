package demux

// Completion is the proactor-flavoured Demultiplexer. The spec places the
// concrete completion backends (I/O completion ports, io_uring) out of
// scope — "the concrete OS syscall wrappers... specified only by the
// contracts the core consumes from them" (§1) — so this implementation
// supplies the contract (Attach/Detach/Arm/Drive, §4.5) over the same
// readiness poller used by Readiness, which is how this module's Windows
// backend already behaves (its FastPoller is IOCP-driven internally; see
// reactor/poller_windows.go). A real completion backend plugs in at the
// same seam: anything satisfying Demultiplexer is accepted by engine's
// reactor/proactor factory registry (see package plugin), so swapping in
// an io_uring- or IOCP-native implementation never touches the socket
// layer above it.
//
// What Completion adds over bare Readiness is operation-shaped submission:
// rather than asocket performing its own non-blocking syscall retry loop
// on every readable/writable notification, SubmitOnReadable/
// SubmitOnWritable run the syscall exactly once, inline, the moment the
// handle is ready, and deliver a single result — mirroring how a true
// completion port would hand back a finished operation rather than mere
// readiness.
type Completion struct {
	*Readiness
}

// NewCompletion constructs a Completion demultiplexer.
func NewCompletion() (*Completion, error) {
	r, err := NewReadiness()
	if err != nil {
		return nil, err
	}
	return &Completion{Readiness: r}, nil
}

// Result is the outcome of a single submitted operation.
type Result struct {
	N   int
	Err error
}

// Op describes one pending completion-style operation: perform, called
// exactly once when the handle signals readiness in the requested
// direction, executes the actual syscall and returns its result.
type Op struct {
	Perform func() Result
}

// SubmitOnReadable arms entry for a single readable notification and,
// when it fires, disarms that direction, runs op.Perform once and delivers
// the Result via done. A folded error is delivered via done instead,
// without running op.Perform.
func (c *Completion) SubmitOnReadable(entry *RegistryEntry, op Op, done func(Result)) {
	c.runOnce(entry, WantReadable, op, done)
}

// SubmitOnWritable is SubmitOnReadable's write-direction counterpart.
func (c *Completion) SubmitOnWritable(entry *RegistryEntry, op Op, done func(Result)) {
	c.runOnce(entry, WantWritable, op, done)
}

func (c *Completion) runOnce(entry *RegistryEntry, dir Interest, op Op, done func(Result)) {
	entry.Sock = completionSock{dir: dir, op: op, done: done, c: c, entry: entry}
	_ = c.Arm(entry, entry.Interest|dir|WantError)
}

type completionSock struct {
	dir   Interest
	op    Op
	done  func(Result)
	c     *Completion
	entry *RegistryEntry
}

func (s completionSock) OnEvent(readable, writable bool, err error) {
	if err != nil {
		s.done(Result{Err: err})
		return
	}
	if (s.dir == WantReadable && readable) || (s.dir == WantWritable && writable) {
		_ = s.c.Arm(s.entry, s.entry.Interest&^s.dir)
		s.done(s.op.Perform())
	}
}
