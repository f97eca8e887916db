package resource

import (
	"sync"

	"go.uber.org/zap"
)

// Strict controls how Release handles an underflow (a release without a
// matching retain). When true it panics, which is what tests want; when
// false it saturates at zero and logs a warning, which is what production
// wants. Double-release is a caller bug either way.
var Strict = false

// Ledger is the borrow counter owned by exactly one lender resource. Only
// the lender constructs it; borrowers go through Retain and Release and
// never touch the count directly.
//
// The deferred release function runs exactly once, at the moment both
// conditions hold: the lender has been closed (CloseLender ran) and the
// count is zero. If borrowers are still outstanding when the lender closes,
// the final Release performs the native release on the lender's behalf.
type Ledger struct {
	mu       sync.Mutex
	kind     string
	borrows  int
	closed   bool
	released bool
	free     func()
}

// NewLedger creates a ledger for the named lender. free is the deferred
// native-handle release; it is called at most once.
func NewLedger(kind string, free func()) *Ledger {
	return &Ledger{kind: kind, free: free}
}

// Retain increments the borrow count. The caller must already hold a live
// reference to the lender.
func (l *Ledger) Retain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.borrows++
}

// Release decrements the borrow count. Safe to call from a borrower's
// explicit close, its finalizer fallback, or its construction error path,
// exactly once per matching Retain. If the lender was already closed and
// this was the last borrow, the deferred native release runs now.
func (l *Ledger) Release() {
	l.mu.Lock()
	if l.borrows == 0 {
		l.mu.Unlock()
		if Strict {
			panic("resource: release without matching retain on " + l.kind)
		}
		Logger().Warn("borrow ledger underflow",
			zap.String("kind", l.kind))
		return
	}
	l.borrows--
	free := l.takeFreeLocked()
	l.mu.Unlock()

	if free != nil {
		free()
	}
}

// CloseLender marks the lender as explicitly closed. If no borrows remain
// the deferred release runs immediately; otherwise it is deferred until the
// last Release.
func (l *Ledger) CloseLender() {
	l.mu.Lock()
	l.closed = true
	free := l.takeFreeLocked()
	l.mu.Unlock()

	if free != nil {
		free()
	}
}

// Borrows returns the current outstanding borrow count.
func (l *Ledger) Borrows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.borrows
}

// Released reports whether the deferred native release has run.
func (l *Ledger) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// takeFreeLocked claims the one-shot release function if both release
// conditions hold. Caller holds l.mu.
func (l *Ledger) takeFreeLocked() func() {
	if !l.closed || l.borrows != 0 || l.released {
		return nil
	}
	l.released = true
	free := l.free
	l.free = nil
	return free
}
