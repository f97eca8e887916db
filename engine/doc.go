// Package engine binds the foreign PDFium engine behind a narrow Go
// interface.
//
// Two backends implement Engine:
//
//   - WASMEngine runs a PDFium build compiled to WebAssembly inside a
//     wazero runtime. Handles are guest pointers and scratch buffers live
//     in guest linear memory.
//   - NativeEngine dlopens a PDFium shared library with purego and maps
//     raw pointers to dense handles in a private table.
//
// The interface carries only the surface the resource layer consumes; the
// hundreds of remaining FPDF_* accessors are deliberately not wrapped.
// Status codes for progressive rendering mirror FPDF_RENDER_*: the engine
// distinguishes "needs more work" from "done" from "failed" and this layer
// passes that through untranslated.
package engine
