// Package errors provides structured errors for the PDFium host layer.
//
// Errors are categorized along two axes: a Phase (where the failure
// happened: open, render, teardown, transport...) and a Kind (what went
// wrong: disposed, timeout, wrong_state...). Most errors also carry a
// stable numeric Code; codes travel across the proxy wire and are the
// contract between client and worker, so they are append-only.
//
// Use errors.Is with a target built from the same Kind (and optionally
// Code) to classify:
//
//	if errors.Is(err, &errors.Error{Kind: errors.KindTimeout}) {
//	    // retry or give up
//	}
package errors
