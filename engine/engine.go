package engine

import (
	"context"
	"errors"
)

// Handle is an opaque reference to an object living inside the PDFium
// engine (document, page, text page, annotation, bitmap, progressive
// render). Zero means "no object". Handles are meaningless without the
// engine instance that issued them and must never be compared across
// engine instances.
type Handle uint32

// RenderStatus is the engine's progressive render status.
// Values match FPDF_RENDER_*.
type RenderStatus int

const (
	RenderReady         RenderStatus = 0
	RenderToBeContinued RenderStatus = 1
	RenderDone          RenderStatus = 2
	RenderFailed        RenderStatus = 3
)

func (s RenderStatus) String() string {
	switch s {
	case RenderReady:
		return "ready"
	case RenderToBeContinued:
		return "to_be_continued"
	case RenderDone:
		return "done"
	case RenderFailed:
		return "failed"
	}
	return "unknown"
}

// Page render flags, matching FPDF_* render flags.
const (
	RenderFlagAnnotations = 0x01
	RenderFlagLCDText     = 0x02
	RenderFlagGrayscale   = 0x08
	RenderFlagPrinting    = 0x800
)

// Save flags, matching FPDF_SAVE_*.
const (
	SaveIncremental   = 1
	SaveNoIncremental = 2
	SaveRemoveSecure  = 3
)

// FPDF_GetLastError values.
const (
	ErrCodeSuccess   = 0
	ErrCodeUnknown   = 1
	ErrCodeFile      = 2
	ErrCodeFormat    = 3
	ErrCodePassword  = 4
	ErrCodeSecurity  = 5
	ErrCodePageError = 6
)

// ErrUnsupported is returned for operations a backend cannot provide
// (e.g. save callbacks on the WASM backend).
var ErrUnsupported = errors.New("engine: operation not supported by this backend")

// FontInfo describes the font of a single character in a text page.
type FontInfo struct {
	Name       string
	Flags      int
	Size       float64
	Weight     int
	RenderMode int
}

// Rect is a rectangle in page space (PDF points, origin bottom-left).
type Rect struct {
	Left   float32
	Top    float32
	Right  float32
	Bottom float32
}

// Color is an RGBA color with 0-255 components.
type Color struct {
	R uint32
	G uint32
	B uint32
	A uint32
}

// Engine is the foreign-engine binding consumed by the resource layer.
//
// Every method blocks the calling thread; the engine has no concurrency of
// its own. Close/destroy calls on handles this layer has already closed are
// never issued twice - the resource layer's disposal kernel guarantees it.
type Engine interface {
	// Document
	LoadDocument(data []byte, password string) (Handle, error)
	CloseDocument(doc Handle) error
	PageCount(doc Handle) (int, error)
	MetaText(doc Handle, tag string) (string, error)
	Permissions(doc Handle) (uint32, error)
	SaveDocument(doc Handle, flags uint32) ([]byte, error)
	PageLabel(doc Handle, index int) (string, error)

	// Page
	LoadPage(doc Handle, index int) (Handle, error)
	ClosePage(page Handle) error
	PageSize(page Handle) (width, height float64, err error)
	PageRotation(page Handle) (int, error)
	SetPageRotation(page Handle, rotation int) error

	// Text
	LoadTextPage(page Handle) (Handle, error)
	CloseTextPage(text Handle) error
	CountChars(text Handle) (int, error)
	Text(text Handle) (string, error)
	BoundedText(text Handle, left, top, right, bottom float64) (string, error)
	CharFontInfo(text Handle, index int) (FontInfo, error)

	// Annotations
	AnnotationCount(page Handle) (int, error)
	OpenAnnotation(page Handle, index int) (Handle, error)
	CloseAnnotation(annot Handle) error
	AnnotationSubtype(annot Handle) (int, error)
	AnnotationRect(annot Handle) (Rect, error)
	AnnotationColor(annot Handle) (Color, bool, error)

	// Bitmaps and rendering
	CreateBitmap(width, height int) (Handle, error)
	FillBitmap(bmp Handle, left, top, width, height int, color uint32) error
	BitmapBuffer(bmp Handle) ([]byte, error)
	BitmapStride(bmp Handle) (int, error)
	DestroyBitmap(bmp Handle) error
	RenderPage(bmp, page Handle, x, y, width, height, rotation, flags int) error

	// Progressive rendering. Start may complete synchronously (RenderDone)
	// or report RenderToBeContinued, in which case Continue advances one
	// slice at a time. CloseProgressive must be called in every case.
	StartProgressive(bmp, page Handle, x, y, width, height, rotation, flags int) (Handle, RenderStatus, error)
	ContinueProgressive(op Handle) (RenderStatus, error)
	CloseProgressive(op Handle) error

	// LastError returns the engine's FPDF_GetLastError value.
	LastError() uint32

	// Close tears down the engine itself. All documents must already be
	// closed.
	Close(ctx context.Context) error
}
