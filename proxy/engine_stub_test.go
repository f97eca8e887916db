package proxy

import (
	"context"
	"sync"

	"github.com/quillpdf/pdfium-host/engine"
)

// stubEngine is the minimal engine behind worker tests. Progressive
// statuses come from a script, like the render paths the real engines
// take.
type stubEngine struct {
	mu         sync.Mutex
	nextHandle engine.Handle

	script    []engine.RenderStatus
	scriptPos int

	bitmapW map[engine.Handle]int
	bitmapH map[engine.Handle]int

	docsClosed  int
	pagesClosed int
}

func newStubEngine() *stubEngine {
	return &stubEngine{
		bitmapW: map[engine.Handle]int{},
		bitmapH: map[engine.Handle]int{},
	}
}

func (s *stubEngine) handle() engine.Handle {
	s.nextHandle++
	return s.nextHandle
}

func (s *stubEngine) nextStatus() engine.RenderStatus {
	if s.scriptPos < len(s.script) {
		st := s.script[s.scriptPos]
		s.scriptPos++
		return st
	}
	return engine.RenderDone
}

func (s *stubEngine) LoadDocument(data []byte, password string) (engine.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle(), nil
}

func (s *stubEngine) CloseDocument(doc engine.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docsClosed++
	return nil
}

func (s *stubEngine) PageCount(doc engine.Handle) (int, error) { return 7, nil }

func (s *stubEngine) MetaText(doc engine.Handle, tag string) (string, error) {
	if tag == "Producer" {
		return "stub", nil
	}
	return "", nil
}

func (s *stubEngine) Permissions(doc engine.Handle) (uint32, error) { return 0, nil }

func (s *stubEngine) SaveDocument(doc engine.Handle, flags uint32) ([]byte, error) {
	return nil, engine.ErrUnsupported
}

func (s *stubEngine) PageLabel(doc engine.Handle, index int) (string, error) { return "", nil }

func (s *stubEngine) LoadPage(doc engine.Handle, index int) (engine.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle(), nil
}

func (s *stubEngine) ClosePage(page engine.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pagesClosed++
	return nil
}

func (s *stubEngine) PageSize(page engine.Handle) (float64, float64, error) {
	return 595, 842, nil
}

func (s *stubEngine) PageRotation(page engine.Handle) (int, error)      { return 0, nil }
func (s *stubEngine) SetPageRotation(page engine.Handle, rot int) error { return nil }

func (s *stubEngine) LoadTextPage(page engine.Handle) (engine.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle(), nil
}

func (s *stubEngine) CloseTextPage(text engine.Handle) error { return nil }

func (s *stubEngine) CountChars(text engine.Handle) (int, error) { return 9, nil }

func (s *stubEngine) Text(text engine.Handle) (string, error) { return "stub text", nil }

func (s *stubEngine) BoundedText(text engine.Handle, l, t, r, b float64) (string, error) {
	return "", nil
}

func (s *stubEngine) CharFontInfo(text engine.Handle, index int) (engine.FontInfo, error) {
	return engine.FontInfo{}, nil
}

func (s *stubEngine) AnnotationCount(page engine.Handle) (int, error) { return 0, nil }

func (s *stubEngine) OpenAnnotation(page engine.Handle, index int) (engine.Handle, error) {
	return 0, engine.ErrUnsupported
}

func (s *stubEngine) CloseAnnotation(annot engine.Handle) error { return nil }

func (s *stubEngine) AnnotationSubtype(annot engine.Handle) (int, error) { return 0, nil }

func (s *stubEngine) AnnotationRect(annot engine.Handle) (engine.Rect, error) {
	return engine.Rect{}, nil
}

func (s *stubEngine) AnnotationColor(annot engine.Handle) (engine.Color, bool, error) {
	return engine.Color{}, false, nil
}

func (s *stubEngine) CreateBitmap(width, height int) (engine.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handle()
	s.bitmapW[h] = width
	s.bitmapH[h] = height
	return h, nil
}

func (s *stubEngine) FillBitmap(bmp engine.Handle, l, t, w, h int, color uint32) error {
	return nil
}

func (s *stubEngine) BitmapBuffer(bmp engine.Handle) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return make([]byte, s.bitmapW[bmp]*4*s.bitmapH[bmp]), nil
}

func (s *stubEngine) BitmapStride(bmp engine.Handle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bitmapW[bmp] * 4, nil
}

func (s *stubEngine) DestroyBitmap(bmp engine.Handle) error { return nil }

func (s *stubEngine) RenderPage(bmp, page engine.Handle, x, y, w, h, rot, flags int) error {
	return nil
}

func (s *stubEngine) StartProgressive(bmp, page engine.Handle, x, y, w, h, rot, flags int) (engine.Handle, engine.RenderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle(), s.nextStatus(), nil
}

func (s *stubEngine) ContinueProgressive(op engine.Handle) (engine.RenderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStatus(), nil
}

func (s *stubEngine) CloseProgressive(op engine.Handle) error { return nil }

func (s *stubEngine) LastError() uint32 { return 0 }

func (s *stubEngine) Close(ctx context.Context) error { return nil }

var _ engine.Engine = (*stubEngine)(nil)
