// Package iobuf implements the scatter/gather buffer types and the Data sum
// type that the socket layer uses to describe I/O payloads without copying
// them until a syscall actually requires a contiguous view.
package iobuf

import (
	"io"
	"os"
)

// ConstBuffer is a read-only (pointer, length) view, used for send paths.
type ConstBuffer struct {
	Bytes []byte
}

// MutableBuffer is a writable (pointer, length) view, used for receive
// paths; Len reports the usable capacity, not bytes already filled.
type MutableBuffer struct {
	Bytes []byte
}

func (b ConstBuffer) Len() int   { return len(b.Bytes) }
func (b MutableBuffer) Len() int { return len(b.Bytes) }

// Kind discriminates the variant held by a Data value.
type Kind int

const (
	KindNone Kind = iota
	KindConstBuffer
	KindMutableBuffer
	KindConstBufferArray
	KindMutableBufferArray
	KindBlob
	KindSharedBlob
	KindString
	KindFile
)

// FileRegion names a slice of an open file, used for sendfile-style zero
// copy transmission.
type FileRegion struct {
	File   *os.File
	Offset int64
	Length int64
}

// Data is a sum type over every payload representation the socket layer
// accepts. Exactly one field is meaningful, selected by Kind.
type Data struct {
	kind Kind

	constBuf   ConstBuffer
	mutableBuf MutableBuffer
	constArr   []ConstBuffer
	mutableArr []MutableBuffer
	blob       *Blob
	sharedBlob *SharedBlob
	str        string
	file       FileRegion
}

func (d Data) Kind() Kind { return d.kind }

func FromConstBuffer(b ConstBuffer) Data     { return Data{kind: KindConstBuffer, constBuf: b} }
func FromBytes(b []byte) Data                { return FromConstBuffer(ConstBuffer{Bytes: b}) }
func FromMutableBuffer(b MutableBuffer) Data { return Data{kind: KindMutableBuffer, mutableBuf: b} }
func FromConstBufferArray(b []ConstBuffer) Data {
	return Data{kind: KindConstBufferArray, constArr: b}
}
func FromMutableBufferArray(b []MutableBuffer) Data {
	return Data{kind: KindMutableBufferArray, mutableArr: b}
}
func FromBlob(b *Blob) Data             { return Data{kind: KindBlob, blob: b} }
func FromSharedBlob(b *SharedBlob) Data { return Data{kind: KindSharedBlob, sharedBlob: b} }
func FromString(s string) Data          { return Data{kind: KindString, str: s} }
func FromFile(f FileRegion) Data        { return Data{kind: KindFile, file: f} }

// Size is the sum of all referenced regions.
func (d Data) Size() int {
	switch d.kind {
	case KindConstBuffer:
		return d.constBuf.Len()
	case KindMutableBuffer:
		return d.mutableBuf.Len()
	case KindConstBufferArray:
		n := 0
		for _, b := range d.constArr {
			n += b.Len()
		}
		return n
	case KindMutableBufferArray:
		n := 0
		for _, b := range d.mutableArr {
			n += b.Len()
		}
		return n
	case KindBlob:
		return d.blob.Length()
	case KindSharedBlob:
		return d.sharedBlob.Length()
	case KindString:
		return len(d.str)
	case KindFile:
		return int(d.file.Length)
	default:
		return 0
	}
}

// Capacity is the sum of capacities where meaningful (buffers and blobs);
// for immutable kinds it equals Size.
func (d Data) Capacity() int {
	switch d.kind {
	case KindBlob:
		return d.blob.Capacity()
	case KindSharedBlob:
		return d.sharedBlob.Capacity()
	default:
		return d.Size()
	}
}

// ConstBuffers materializes the payload as a slice of ConstBuffer, suitable
// for a vectored (writev-style) syscall. Kinds that hold mutable memory are
// viewed read-only.
func (d Data) ConstBuffers() []ConstBuffer {
	switch d.kind {
	case KindConstBuffer:
		return []ConstBuffer{d.constBuf}
	case KindMutableBuffer:
		return []ConstBuffer{{Bytes: d.mutableBuf.Bytes}}
	case KindConstBufferArray:
		return d.constArr
	case KindMutableBufferArray:
		out := make([]ConstBuffer, len(d.mutableArr))
		for i, b := range d.mutableArr {
			out[i] = ConstBuffer{Bytes: b.Bytes}
		}
		return out
	case KindBlob:
		return d.blob.DataBuffers()
	case KindSharedBlob:
		return d.sharedBlob.blob.DataBuffers()
	case KindString:
		return []ConstBuffer{{Bytes: []byte(d.str)}}
	default:
		return nil
	}
}

// WriteTo implements io.WriterTo. A KindFile payload is copied from its
// file region with io.Copy; every other kind writes its ConstBuffers in
// order.
func (d Data) WriteTo(w io.Writer) (int64, error) {
	if d.kind == KindFile {
		sr := io.NewSectionReader(d.file.File, d.file.Offset, d.file.Length)
		return io.Copy(w, sr)
	}
	var n int64
	for _, b := range d.ConstBuffers() {
		m, err := w.Write(b.Bytes)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// SharedBlob is a reference-counted Blob, allowing a single capture buffer
// to be shared between a pending zero-copy send and the application.
type SharedBlob struct {
	blob *Blob
	refs int32
}

func NewSharedBlob(b *Blob) *SharedBlob { return &SharedBlob{blob: b, refs: 1} }
func (s *SharedBlob) Length() int       { return s.blob.Length() }
func (s *SharedBlob) Capacity() int     { return s.blob.Capacity() }
func (s *SharedBlob) Ref() *SharedBlob  { s.refs++; return s }
func (s *SharedBlob) Unref() {
	s.refs--
}
