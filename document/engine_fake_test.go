package document

import (
	"context"
	"fmt"
	"sync"

	"github.com/quillpdf/pdfium-host/engine"
)

// fakeEngine records every close/destroy call so tests can assert the
// exact release order and count the ledger design promises.
type fakeEngine struct {
	mu         sync.Mutex
	nextHandle engine.Handle
	events     []string

	docClosed   map[engine.Handle]int
	pageClosed  map[engine.Handle]int
	textClosed  map[engine.Handle]int
	annotClosed map[engine.Handle]int
	bmpGone     map[engine.Handle]int
	opClosed    map[engine.Handle]int

	// progressiveScript supplies the status for StartProgressive and each
	// ContinueProgressive in turn; when exhausted, RenderDone.
	progressiveScript []engine.RenderStatus
	scriptPos         int

	pageText  string
	pageW     float64
	pageH     float64
	failLoad  bool
	failStart bool

	bitmapW map[engine.Handle]int
	bitmapH map[engine.Handle]int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		docClosed:   map[engine.Handle]int{},
		pageClosed:  map[engine.Handle]int{},
		textClosed:  map[engine.Handle]int{},
		annotClosed: map[engine.Handle]int{},
		bmpGone:     map[engine.Handle]int{},
		opClosed:    map[engine.Handle]int{},
		bitmapW:     map[engine.Handle]int{},
		bitmapH:     map[engine.Handle]int{},
		pageText:    "hello",
		pageW:       612,
		pageH:       792,
	}
}

func (f *fakeEngine) handle() engine.Handle {
	f.nextHandle++
	return f.nextHandle
}

func (f *fakeEngine) record(ev string) {
	f.events = append(f.events, ev)
}

func (f *fakeEngine) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeEngine) LoadDocument(data []byte, password string) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad {
		return 0, fmt.Errorf("engine error 3")
	}
	return f.handle(), nil
}

func (f *fakeEngine) CloseDocument(doc engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docClosed[doc]++
	f.record("close_document")
	return nil
}

func (f *fakeEngine) PageCount(doc engine.Handle) (int, error) { return 3, nil }

func (f *fakeEngine) MetaText(doc engine.Handle, tag string) (string, error) {
	if tag == "Title" {
		return "Fixture Document", nil
	}
	return "", nil
}

func (f *fakeEngine) Permissions(doc engine.Handle) (uint32, error) { return 0xFFFFFFFC, nil }

func (f *fakeEngine) SaveDocument(doc engine.Handle, flags uint32) ([]byte, error) {
	return []byte("%PDF-1.7 saved"), nil
}

func (f *fakeEngine) PageLabel(doc engine.Handle, index int) (string, error) {
	return fmt.Sprintf("p%d", index+1), nil
}

func (f *fakeEngine) LoadPage(doc engine.Handle, index int) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoad {
		return 0, fmt.Errorf("engine error 6")
	}
	return f.handle(), nil
}

func (f *fakeEngine) ClosePage(page engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageClosed[page]++
	f.record("close_page")
	return nil
}

func (f *fakeEngine) PageSize(page engine.Handle) (float64, float64, error) {
	return f.pageW, f.pageH, nil
}

func (f *fakeEngine) PageRotation(page engine.Handle) (int, error)      { return 0, nil }
func (f *fakeEngine) SetPageRotation(page engine.Handle, rot int) error { return nil }

func (f *fakeEngine) LoadTextPage(page engine.Handle) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle(), nil
}

func (f *fakeEngine) CloseTextPage(text engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.textClosed[text]++
	f.record("close_text_page")
	return nil
}

func (f *fakeEngine) CountChars(text engine.Handle) (int, error) {
	return len(f.pageText), nil
}

func (f *fakeEngine) Text(text engine.Handle) (string, error) {
	return f.pageText, nil
}

func (f *fakeEngine) BoundedText(text engine.Handle, l, t, r, b float64) (string, error) {
	return f.pageText, nil
}

func (f *fakeEngine) CharFontInfo(text engine.Handle, index int) (engine.FontInfo, error) {
	return engine.FontInfo{Name: "Helvetica", Size: 12, Weight: 400}, nil
}

func (f *fakeEngine) AnnotationCount(page engine.Handle) (int, error) { return 1, nil }

func (f *fakeEngine) OpenAnnotation(page engine.Handle, index int) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handle(), nil
}

func (f *fakeEngine) CloseAnnotation(annot engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.annotClosed[annot]++
	f.record("close_annotation")
	return nil
}

func (f *fakeEngine) AnnotationSubtype(annot engine.Handle) (int, error) { return 1, nil }

func (f *fakeEngine) AnnotationRect(annot engine.Handle) (engine.Rect, error) {
	return engine.Rect{Left: 10, Top: 20, Right: 30, Bottom: 5}, nil
}

func (f *fakeEngine) AnnotationColor(annot engine.Handle) (engine.Color, bool, error) {
	return engine.Color{R: 255, A: 255}, true, nil
}

func (f *fakeEngine) CreateBitmap(width, height int) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.handle()
	f.bitmapW[h] = width
	f.bitmapH[h] = height
	return h, nil
}

func (f *fakeEngine) FillBitmap(bmp engine.Handle, l, t, w, h int, color uint32) error {
	return nil
}

func (f *fakeEngine) BitmapBuffer(bmp engine.Handle) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, h := f.bitmapW[bmp], f.bitmapH[bmp]
	buf := make([]byte, w*4*h)
	// A recognizable BGRA pattern: solid red, opaque.
	for i := 0; i < len(buf); i += 4 {
		buf[i+2] = 0xFF // R in BGRA slot 2
		buf[i+3] = 0xFF
	}
	return buf, nil
}

func (f *fakeEngine) BitmapStride(bmp engine.Handle) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bitmapW[bmp] * 4, nil
}

func (f *fakeEngine) DestroyBitmap(bmp engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bmpGone[bmp]++
	f.record("destroy_bitmap")
	return nil
}

func (f *fakeEngine) RenderPage(bmp, page engine.Handle, x, y, w, h, rot, flags int) error {
	return nil
}

func (f *fakeEngine) nextStatus() engine.RenderStatus {
	if f.scriptPos < len(f.progressiveScript) {
		s := f.progressiveScript[f.scriptPos]
		f.scriptPos++
		return s
	}
	return engine.RenderDone
}

func (f *fakeEngine) StartProgressive(bmp, page engine.Handle, x, y, w, h, rot, flags int) (engine.Handle, engine.RenderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart {
		return 0, engine.RenderFailed, fmt.Errorf("engine error 1")
	}
	return f.handle(), f.nextStatus(), nil
}

func (f *fakeEngine) ContinueProgressive(op engine.Handle) (engine.RenderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextStatus(), nil
}

func (f *fakeEngine) CloseProgressive(op engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opClosed[op]++
	f.record("close_progressive")
	return nil
}

func (f *fakeEngine) LastError() uint32 { return 0 }

func (f *fakeEngine) Close(ctx context.Context) error { return nil }

var _ engine.Engine = (*fakeEngine)(nil)
