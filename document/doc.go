// Package document is the resource layer over the PDFium engine binding.
//
// Callers open a Document, derive Pages from it, and derive views (fonts,
// annotations, progressive renders) from pages. Every object is a handle
// into engine-owned memory with an explicit, idempotent Close and a
// finalizer safety net; views take a borrow on their page through the
// page's ledger, so a page closed before its views defers the native
// release until the last view is gone.
//
// The layer enforces Limits before asking the engine for expensive work:
// document size at Open, render dimensions at render start, text length at
// extraction.
package document
