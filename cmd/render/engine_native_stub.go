//go:build !(darwin || linux || freebsd)

package main

import (
	"fmt"

	"github.com/quillpdf/pdfium-host/engine"
)

func newNativeEngine(path string) (engine.Engine, error) {
	return nil, fmt.Errorf("native engine backend is not available on this platform")
}
