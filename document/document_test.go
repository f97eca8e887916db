package document

import (
	stderrors "errors"
	"testing"

	"github.com/quillpdf/pdfium-host/errors"
)

func TestOpenAndClose(t *testing.T) {
	eng := newFakeEngine()
	doc, err := Open(eng, []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	n, err := doc.PageCount()
	if err != nil {
		t.Fatalf("PageCount failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 pages, got %d", n)
	}

	if err := doc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := eng.docClosed[1]; got != 1 {
		t.Errorf("expected 1 native close, got %d", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	eng := newFakeEngine()
	doc, err := Open(eng, []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := doc.Close(); err != nil {
			t.Fatalf("Close call %d failed: %v", i+1, err)
		}
	}
	if got := eng.docClosed[1]; got != 1 {
		t.Errorf("expected exactly 1 native close after 3 Close calls, got %d", got)
	}
}

func TestUseAfterClose(t *testing.T) {
	eng := newFakeEngine()
	doc, err := Open(eng, []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := doc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	_, err = doc.PageCount()
	if err == nil {
		t.Fatal("expected error from PageCount after Close")
	}
	var herr *errors.Error
	if !stderrors.As(err, &herr) {
		t.Fatalf("expected structured error, got %T", err)
	}
	if herr.Kind != errors.KindDisposed {
		t.Errorf("expected kind %q, got %q", errors.KindDisposed, herr.Kind)
	}
	if herr.Code != errors.CodeDocumentClosed {
		t.Errorf("expected code %d, got %d", errors.CodeDocumentClosed, herr.Code)
	}
	if herr.Resource != "document" {
		t.Errorf("expected resource %q, got %q", "document", herr.Resource)
	}
}

func TestOpenRejectsOversizedDocument(t *testing.T) {
	eng := newFakeEngine()
	_, err := Open(eng, make([]byte, 64), WithLimits(Limits{MaxDocumentBytes: 32}))
	if err == nil {
		t.Fatal("expected limit error")
	}
	var herr *errors.Error
	if !stderrors.As(err, &herr) || herr.Kind != errors.KindLimit {
		t.Fatalf("expected limit error, got %v", err)
	}
}

func TestOpenEngineFailure(t *testing.T) {
	eng := newFakeEngine()
	eng.failLoad = true
	_, err := Open(eng, []byte("not a pdf"))
	if err == nil {
		t.Fatal("expected engine error")
	}
	var herr *errors.Error
	if !stderrors.As(err, &herr) {
		t.Fatalf("expected structured error, got %T", err)
	}
	if herr.Kind != errors.KindEngine || herr.Phase != errors.PhaseOpen {
		t.Errorf("expected engine failure in open phase, got %v", herr)
	}
}

func TestMetadata(t *testing.T) {
	eng := newFakeEngine()
	doc, err := Open(eng, []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer doc.Close()

	m, err := doc.Metadata()
	if err != nil {
		t.Fatalf("Metadata failed: %v", err)
	}
	if m.Title != "Fixture Document" {
		t.Errorf("expected title %q, got %q", "Fixture Document", m.Title)
	}
	if m.Author != "" {
		t.Errorf("expected empty author, got %q", m.Author)
	}
}

func TestSave(t *testing.T) {
	eng := newFakeEngine()
	doc, err := Open(eng, []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer doc.Close()

	out, err := doc.Save(0)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if len(out) == 0 {
		t.Error("expected saved bytes")
	}
}
