package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/bmp"
	"golang.org/x/term"

	"github.com/quillpdf/pdfium-host/document"
	"github.com/quillpdf/pdfium-host/engine"
)

func main() {
	var (
		pdfFile     = flag.String("pdf", "", "Path to PDF file")
		pageIdx     = flag.Int("page", 0, "Zero-based page index")
		scale       = flag.Float64("scale", 1.0, "Render scale (1.0 = 72 dpi)")
		outFile     = flag.String("out", "page.png", "Output image path")
		format      = flag.String("format", "png", "Output format: png or bmp")
		backend     = flag.String("engine", "wasm", "Engine backend: wasm or native")
		wasmFile    = flag.String("wasm", "pdfium.wasm", "Path to the PDFium wasm build (wasm backend)")
		libFile     = flag.String("lib", "libpdfium.so", "Path to the PDFium shared library (native backend)")
		password    = flag.String("password", "", "Document password")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *pdfFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: render -pdf <file.pdf> [-page N] [-scale F] [-out page.png] [-format png|bmp]")
		fmt.Fprintln(os.Stderr, "       render -pdf <file.pdf> -i  (interactive mode)")
		os.Exit(1)
	}
	if *format != "png" && *format != "bmp" {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", *format)
		os.Exit(1)
	}

	err := run(*pdfFile, *outFile, *format, *backend, *wasmFile, *libFile, *password,
		*pageIdx, *scale, *interactive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(pdfFile, outFile, format, backend, wasmFile, libFile, password string,
	pageIdx int, scale float64, interactive bool) error {
	ctx := context.Background()

	eng, err := newEngine(ctx, backend, wasmFile, libFile)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)

	data, err := os.ReadFile(pdfFile)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}

	doc, err := document.Open(eng, data, document.WithPassword(password))
	if err != nil {
		return err
	}
	defer doc.Close()

	count, err := doc.PageCount()
	if err != nil {
		return err
	}
	if pageIdx < 0 || pageIdx >= count {
		return fmt.Errorf("page %d out of range, document has %d pages", pageIdx, count)
	}

	page, err := doc.Page(pageIdx)
	if err != nil {
		return err
	}
	defer page.Close()

	opts := document.RenderOptions{Scale: scale}

	if interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(pdfFile, outFile, format, page, opts)
	}

	img, err := page.Render(opts)
	if err != nil {
		return err
	}
	if err := writeImage(outFile, format, img); err != nil {
		return err
	}
	fmt.Printf("Rendered page %d of %s to %s (%dx%d)\n",
		pageIdx, pdfFile, outFile, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}

func newEngine(ctx context.Context, backend, wasmFile, libFile string) (engine.Engine, error) {
	switch backend {
	case "wasm":
		wasmBytes, err := os.ReadFile(wasmFile)
		if err != nil {
			return nil, fmt.Errorf("read wasm build: %w", err)
		}
		return engine.NewWASMEngine(ctx, wasmBytes, nil)
	case "native":
		return newNativeEngine(libFile)
	default:
		return nil, fmt.Errorf("unknown engine backend %q", backend)
	}
}

func writeImage(path, format string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	if format == "bmp" {
		return bmp.Encode(f, img)
	}
	return png.Encode(f, img)
}
