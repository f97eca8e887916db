//go:build darwin || linux || freebsd

package main

import "github.com/quillpdf/pdfium-host/engine"

func newNativeEngine(path string) (engine.Engine, error) {
	return engine.NewNativeEngine(path, nil)
}
