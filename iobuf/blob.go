package iobuf

// Blob is a sequence of fixed-size buffers (segments) with a logical length
// bounded by the total capacity. It backs the stream socket's read queue,
// growing by whole segments as network data arrives.
type Blob struct {
	segmentSize int
	segments    [][]byte
	length      int
}

// NewBlob creates an empty blob with the given fixed segment size.
func NewBlob(segmentSize int) *Blob {
	if segmentSize <= 0 {
		panic("iobuf: blob: segmentSize must be positive")
	}
	return &Blob{segmentSize: segmentSize}
}

func (b *Blob) Length() int   { return b.length }
func (b *Blob) Capacity() int { return len(b.segments) * b.segmentSize }

// lastDataSegmentIndex returns the index of the "last data buffer" per the
// spec: floor(length/segmentSize).
func (b *Blob) lastDataSegmentIndex() int {
	return b.length / b.segmentSize
}

// growTo ensures capacity is at least n bytes, appending new segments.
func (b *Blob) growTo(n int) {
	for b.Capacity() < n {
		b.segments = append(b.segments, make([]byte, b.segmentSize))
	}
}

// CapacityBuffers returns MutableBuffer views over the unused region,
// suitable for a vectored receive. The "last data buffer" is included
// partially (from its write offset to its end); all following segments are
// full "capacity buffers". A new segment is appended on demand so callers
// always get at least one buffer of room.
func (b *Blob) CapacityBuffers(maxTotal int) []MutableBuffer {
	if maxTotal <= 0 {
		maxTotal = b.segmentSize
	}
	idx := b.lastDataSegmentIndex()
	offset := b.length % b.segmentSize
	if idx >= len(b.segments) {
		b.segments = append(b.segments, make([]byte, b.segmentSize))
	}
	var out []MutableBuffer
	remaining := maxTotal
	for remaining > 0 {
		if idx >= len(b.segments) {
			b.segments = append(b.segments, make([]byte, b.segmentSize))
		}
		seg := b.segments[idx][offset:]
		if len(seg) > remaining {
			seg = seg[:remaining]
		}
		if len(seg) == 0 {
			break
		}
		out = append(out, MutableBuffer{Bytes: seg})
		remaining -= len(seg)
		idx++
		offset = 0
	}
	return out
}

// Commit advances the logical length after a fill of n bytes written into
// the buffers most recently returned by CapacityBuffers.
func (b *Blob) Commit(n int) {
	b.length += n
}

// DataBuffers returns ConstBuffer views over [0, length).
func (b *Blob) DataBuffers() []ConstBuffer {
	var out []ConstBuffer
	remaining := b.length
	for i := 0; remaining > 0 && i < len(b.segments); i++ {
		n := b.segmentSize
		if n > remaining {
			n = remaining
		}
		out = append(out, ConstBuffer{Bytes: b.segments[i][:n]})
		remaining -= n
	}
	return out
}

// Consume removes n bytes from the front of the blob, shifting remaining
// segments down. Segments fully consumed are reused via a simple rotate,
// avoiding an allocation per receive.
func (b *Blob) Consume(n int) {
	if n <= 0 {
		return
	}
	if n > b.length {
		n = b.length
	}
	fullSegments := n / b.segmentSize
	if fullSegments > 0 {
		reclaimed := b.segments[:fullSegments]
		b.segments = append(b.segments[fullSegments:], reclaimed...)
	}
	rem := n % b.segmentSize
	if rem > 0 && len(b.segments) > 0 {
		// Shift the remaining data left by rem bytes across segment
		// boundaries: each segment takes the tail of itself plus the head
		// of its successor.
		dataLen := b.length - fullSegments*b.segmentSize
		last := (dataLen + b.segmentSize - 1) / b.segmentSize
		for i := 0; i < last; i++ {
			copy(b.segments[i], b.segments[i][rem:])
			if i+1 < last {
				copy(b.segments[i][b.segmentSize-rem:], b.segments[i+1][:rem])
			}
		}
	}
	b.length -= n
}

// Peek copies up to len(dst) bytes starting at offset into dst, returning
// the number of bytes copied, without mutating the blob.
func (b *Blob) Peek(offset int, dst []byte) int {
	if offset >= b.length {
		return 0
	}
	avail := b.length - offset
	if len(dst) > avail {
		dst = dst[:avail]
	}
	copied := 0
	segIdx := offset / b.segmentSize
	segOff := offset % b.segmentSize
	for copied < len(dst) && segIdx < len(b.segments) {
		n := copy(dst[copied:], b.segments[segIdx][segOff:b.segmentSize])
		copied += n
		segIdx++
		segOff = 0
	}
	return copied
}
