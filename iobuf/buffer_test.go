package iobuf

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytesSizeAndConstBuffers(t *testing.T) {
	d := FromBytes([]byte("hello"))
	assert.Equal(t, KindConstBuffer, d.Kind())
	assert.Equal(t, 5, d.Size())
	assert.Equal(t, 5, d.Capacity())
	assert.Equal(t, []byte("hello"), d.ConstBuffers()[0].Bytes)
}

func TestFromMutableBufferIsViewedReadOnlyByConstBuffers(t *testing.T) {
	b := MutableBuffer{Bytes: []byte("xyz")}
	d := FromMutableBuffer(b)
	assert.Equal(t, 3, d.Size())
	assert.Equal(t, []byte("xyz"), d.ConstBuffers()[0].Bytes)
}

func TestFromConstBufferArraySumsSizes(t *testing.T) {
	d := FromConstBufferArray([]ConstBuffer{{Bytes: []byte("ab")}, {Bytes: []byte("cde")}})
	assert.Equal(t, 5, d.Size())
	assert.Len(t, d.ConstBuffers(), 2)
}

func TestFromMutableBufferArrayConvertsToConstBuffers(t *testing.T) {
	d := FromMutableBufferArray([]MutableBuffer{{Bytes: []byte("ab")}, {Bytes: []byte("c")}})
	assert.Equal(t, 3, d.Size())
	bufs := d.ConstBuffers()
	require.Len(t, bufs, 2)
	assert.Equal(t, []byte("ab"), bufs[0].Bytes)
	assert.Equal(t, []byte("c"), bufs[1].Bytes)
}

func TestFromStringSizeAndBytes(t *testing.T) {
	d := FromString("payload")
	assert.Equal(t, 7, d.Size())
	assert.Equal(t, []byte("payload"), d.ConstBuffers()[0].Bytes)
}

func TestFromBlobDelegatesSizeAndCapacity(t *testing.T) {
	b := NewBlob(4)
	b.Commit(0)
	b.CapacityBuffers(4)
	copy(b.segments[0], []byte("data"))
	b.Commit(4)
	d := FromBlob(b)
	assert.Equal(t, KindBlob, d.Kind())
	assert.Equal(t, 4, d.Size())
	assert.Equal(t, 4, d.Capacity())
	assert.Equal(t, []byte("data"), d.ConstBuffers()[0].Bytes)
}

func TestFromSharedBlobDelegatesThroughRef(t *testing.T) {
	b := NewBlob(8)
	b.CapacityBuffers(8)
	copy(b.segments[0], []byte("sharedok"))
	b.Commit(8)
	sb := NewSharedBlob(b)
	d := FromSharedBlob(sb)
	assert.Equal(t, 8, d.Size())
	assert.Equal(t, []byte("sharedok"), d.ConstBuffers()[0].Bytes)

	sb.Ref()
	assert.Equal(t, int32(2), sb.refs)
	sb.Unref()
	assert.Equal(t, int32(1), sb.refs)
}

func TestUndefinedDataHasZeroSizeAndNoBuffers(t *testing.T) {
	var d Data
	assert.Equal(t, KindNone, d.Kind())
	assert.Equal(t, 0, d.Size())
	assert.Nil(t, d.ConstBuffers())
}

func TestFromFileSizeIsRegionLength(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "iobuf-file-*")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString("0123456789")
	require.NoError(t, err)

	region := FileRegion{File: f, Offset: 2, Length: 5}
	d := FromFile(region)
	assert.Equal(t, 5, d.Size())

	var buf bytes.Buffer
	n, err := d.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, "23456", buf.String())
}

func TestWriteToConstBufferPath(t *testing.T) {
	d := FromConstBufferArray([]ConstBuffer{{Bytes: []byte("ab")}, {Bytes: []byte("cd")}})
	var buf bytes.Buffer
	n, err := d.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "abcd", buf.String())
}
