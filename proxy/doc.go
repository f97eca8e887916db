// Package proxy moves document-layer calls across a thread or process
// boundary so callers never block on the engine's single thread.
//
// The wire unit is a Message{Type, ID, Payload} in both directions. A
// Client pairs each outbound request with a pending record keyed by a
// fresh ID; a single receive goroutine funnels SUCCESS, ERROR and PROGRESS
// replies back to waiters. Timeouts are per call class, a transport fault
// rejects everything in flight, and shutdown is a destroy handshake with a
// grace period before forced termination.
package proxy
