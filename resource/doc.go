// Package resource implements the native-resource lifecycle model shared by
// every object that owns or borrows PDFium engine memory.
//
// # Disposal Kernel
//
// Every resource embeds a State: an idempotent Close, a typed
// use-after-dispose error, and a finalizer fallback for owners that are
// garbage collected without an explicit Close. The fallback is a diagnostic
// backstop, not the primary release path - callers are expected to Close.
//
//	s := resource.NewState("page", errors.CodePageClosed)
//	resource.Bind(s, page, func() error { return eng.ClosePage(h) })
//	...
//	if err := s.Live(); err != nil { return err } // use-after-dispose guard
//	s.Close()                                     // idempotent
//
// # Borrow Ledger
//
// A Ledger lets dependent views extend the effective lifetime of a lender's
// native handle beyond the lender's own Close. The lender owns the counter;
// borrowers call Retain at construction and Release exactly once at their
// own teardown. The deferred release function runs when the lender has been
// closed AND the count has reached zero, whichever happens last.
//
// # Handle Table
//
// Table maps dense uint32 handles to live values with free-list reuse. The
// proxy worker uses it to resolve wire object IDs to host-side resources.
package resource
