package zerocopy

import "github.com/joeycumines/go-asynctransport/errs"

// MaxOutstanding caps the number of in-flight zero-copy sends, per the
// spec's own recommendation for the ambiguous id-wrap-around-beyond-2^31
// open question (SPEC_FULL.md §6.2): callers should cap outstanding
// zero-copy sends below 2^31.
const MaxOutstanding = 1<<31 - 1

// Outcome is delivered to a WaitList entry's callback.
type Outcome int

const (
	Complete Outcome = iota
	Error
)

// Entry is one pending zero-copy send: the kernel-assigned id, an opaque
// send context the caller round-trips, and the completion callback.
type Entry struct {
	ID      uint32
	Context any
	Done    func(Outcome, error)
}

// WaitList is the FIFO of pending zero-copy sends described by the spec:
// entries are appended as sends are issued (ids assigned by the kernel,
// observed to increase monotonically for a given socket) and completed in
// one of two ways — Acknowledge, when the kernel reports an id range as
// sent, or Cancel, when the socket is torn down with sends still
// outstanding.
type WaitList struct {
	entries []Entry
}

// Add appends a new pending entry, returning errs.Limit if doing so would
// exceed MaxOutstanding.
func (w *WaitList) Add(e Entry) error {
	if len(w.entries) >= MaxOutstanding {
		return errs.New(errs.CategoryTransport, errs.Limit, "zerocopy.add")
	}
	w.entries = append(w.entries, e)
	return nil
}

// Len reports the number of outstanding entries.
func (w *WaitList) Len() int { return len(w.entries) }

// Acknowledge completes every entry whose id falls within the closed
// range [from, to] (inclusive, wrapping at 2^32), in insertion order,
// with Complete. It returns the number of entries completed, which must
// equal (to-from+1) mod 2^32 when every id in the range was actually
// outstanding (per the spec's testable property); ids outside the
// outstanding set are simply not present and contribute nothing.
func (w *WaitList) Acknowledge(from, to uint32) int {
	inRange := func(id uint32) bool {
		if from <= to {
			return id >= from && id <= to
		}
		// Wrapped range.
		return id >= from || id <= to
	}
	kept := w.entries[:0]
	n := 0
	for _, e := range w.entries {
		if inRange(e.ID) {
			n++
			if e.Done != nil {
				e.Done(Complete, nil)
			}
			continue
		}
		kept = append(kept, e)
	}
	w.entries = kept
	return n
}

// Cancel completes every remaining entry with Error/Cancelled, in
// insertion order, and empties the list. Used when the owning socket is
// torn down with zero-copy sends still unacknowledged.
func (w *WaitList) Cancel(cancelled error) {
	entries := w.entries
	w.entries = nil
	for _, e := range entries {
		if e.Done != nil {
			e.Done(Error, cancelled)
		}
	}
}
