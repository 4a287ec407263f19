package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIs(t *testing.T) {
	e := New(CategoryTransport, ConnectionReset, "stream.fill")
	assert.True(t, Is(e, ConnectionReset))
	assert.False(t, Is(e, EOF))
}

func TestErrorWrapUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := Wrap(CategorySystem, Unreachable, "demux.drive", cause)
	require.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "boom")
	assert.Contains(t, e.Error(), "demux.drive")
}

func TestErrorIsThroughWrappedStandardError(t *testing.T) {
	inner := New(CategoryTransport, Cancelled, "stream.send.deadline")
	outer := fmt.Errorf("context: %w", inner)
	assert.True(t, Is(outer, Cancelled))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(CategorySystem, WouldBlock, "send")))
	assert.True(t, Retryable(New(CategorySystem, Interrupted, "send")))
	assert.False(t, Retryable(New(CategoryTransport, ConnectionReset, "send")))
	assert.False(t, Retryable(nil))
}

func TestFatal(t *testing.T) {
	assert.False(t, Fatal(nil))
	assert.False(t, Fatal(New(CategorySystem, WouldBlock, "send")))
	assert.False(t, Fatal(New(CategoryGeneric, Invalid, "send")))
	assert.False(t, Fatal(New(CategoryTransport, Cancelled, "send")))
	assert.True(t, Fatal(New(CategoryTransport, ConnectionReset, "send")))
	assert.True(t, Fatal(New(CategoryTransport, EOF, "fill")))
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "unknown", Kind(9999).String())
	assert.Equal(t, "ok", OK.String())
}

func TestNilErrorString(t *testing.T) {
	var e *Error
	assert.Equal(t, "<nil>", e.Error())
	assert.Nil(t, e.Unwrap())
}

func TestWithCode(t *testing.T) {
	e := WithCode(ConnectionRefused, "connect", 111, nil)
	assert.Equal(t, CategorySystem, e.Category)
	assert.Equal(t, 111, e.Code)
	assert.Contains(t, e.Error(), "errno 111")
}
