// Package pdfiumhost is a Go host layer for the PDFium rendering engine.
//
// PDFium hands out raw handles into engine-owned memory and frees nothing
// on its own; this module wraps those handles in resources with explicit,
// idempotent disposal, deferred release across dependent views, and a
// cross-thread proxy for callers that must not block on the engine's
// single thread.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	pdfium-host/
//	├── engine/      PDFium bindings: wazero-based WASM backend and a
//	│                purego dlopen backend behind one Engine interface
//	├── document/    Resource layer: Document, Page, Font, Annotation,
//	│                one-shot and progressive rendering, limits
//	├── resource/    Disposal kernel (State), borrow ledger (Ledger),
//	│                handle table (Table)
//	├── proxy/       Cross-thread client/worker protocol over a Transport
//	├── errors/      Structured errors with stable numeric codes
//	└── cmd/render/  CLI that renders a page to PNG or BMP
//
// # Quick Start
//
// Open a document and render its first page:
//
//	eng, err := engine.NewWASMEngine(ctx, pdfiumWasm, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	doc, err := document.Open(eng, pdfBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer doc.Close()
//
//	page, err := doc.Page(0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer page.Close()
//
//	img, err := page.Render(document.RenderOptions{Scale: 2})
//
// # Lifetimes
//
// Every resource has an explicit Close and a finalizer safety net. Views
// derived from a page (fonts, annotations, progressive renders) borrow the
// page's native memory: closing the page first defers the native release
// until the last view is gone, so no order of disposal can double-free or
// leave a view dangling.
//
// # Thread Safety
//
// An Engine is single-threaded: in-process callers block on it, and all
// calls must come from one goroutine at a time. The proxy package moves
// calls onto a dedicated worker so other goroutines only ever touch the
// client.
package pdfiumhost
