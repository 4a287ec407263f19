package flowctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenStateTransitionsByOperation(t *testing.T) {
	var m OpenStateMachine
	assert.True(t, m.CanBind())
	assert.True(t, m.CanConnect())
	assert.False(t, m.CanSend())
	assert.False(t, m.CanReceive())

	assert.True(t, m.CompareAndSwap(Default, Connecting))
	assert.False(t, m.CanBind())
	assert.False(t, m.CanSend())

	assert.True(t, m.CompareAndSwap(Connecting, Connected))
	assert.True(t, m.CanSend())
	assert.True(t, m.CanReceive())

	m.ForceClosed()
	assert.Equal(t, Closed, m.Load())
	assert.False(t, m.CanSend())
	assert.True(t, m.CanReceive(), "receive remains permitted from Closed to drain shutdown")
}

func TestOpenStateMonotoneTowardClosed(t *testing.T) {
	var m OpenStateMachine
	m.ForceClosed()
	assert.False(t, m.CompareAndSwap(Closed, Default), "Closed is terminal")
}

func TestOpenStateRetryPath(t *testing.T) {
	var m OpenStateMachine
	m.Store(Connecting)
	assert.True(t, m.CompareAndSwap(Connecting, Default))
	assert.True(t, m.CanConnect())
}

func TestOpenStateString(t *testing.T) {
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "unknown", OpenState(99).String())
}
