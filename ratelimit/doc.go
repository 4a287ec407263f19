// Package ratelimit implements the leaky-bucket primitive and the dual-rate
// (sustained + peak) rate limiter that stream, listener and datagram
// sockets consult before draining a queue.
package ratelimit
