package document

import (
	stderrors "errors"
	"testing"

	"github.com/quillpdf/pdfium-host/engine"
	"github.com/quillpdf/pdfium-host/errors"
)

func TestProgressiveRenderCompletes(t *testing.T) {
	eng, doc := openFixture(t)
	eng.progressiveScript = []engine.RenderStatus{
		engine.RenderToBeContinued, // first slice, inside Start
		engine.RenderToBeContinued,
		engine.RenderDone,
	}
	defer doc.Close()

	page, err := doc.Page(0)
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}
	defer page.Close()

	r, err := page.StartProgressiveRender(RenderOptions{Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("StartProgressiveRender failed: %v", err)
	}
	if got := r.Status(); got != StatusContinuable {
		t.Fatalf("expected continuable after start, got %v", got)
	}
	if got := page.Borrows(); got != 1 {
		t.Fatalf("expected 1 borrow while rendering, got %d", got)
	}
	if got := r.Progress(); got != 0 {
		t.Errorf("expected progress 0 while continuable, got %g", got)
	}

	st, err := r.Continue()
	if err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	if st != StatusContinuable {
		t.Fatalf("expected continuable, got %v", st)
	}

	st, err = r.Continue()
	if err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	if st != StatusDone {
		t.Fatalf("expected done, got %v", st)
	}
	if got := r.Progress(); got != 1 {
		t.Errorf("expected progress 1 when done, got %g", got)
	}

	img, err := r.Result()
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 10 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := page.Borrows(); got != 0 {
		t.Errorf("expected borrow returned after close, got %d", got)
	}
	if len(eng.opClosed) != 1 || len(eng.bmpGone) != 1 {
		t.Errorf("expected render context and bitmap freed: ops %v bitmaps %v", eng.opClosed, eng.bmpGone)
	}
}

func TestProgressiveTerminalContinueIsNoop(t *testing.T) {
	eng, doc := openFixture(t)
	eng.progressiveScript = []engine.RenderStatus{engine.RenderDone}
	defer doc.Close()

	page, err := doc.Page(0)
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}
	defer page.Close()

	r, err := page.StartProgressiveRender(RenderOptions{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("StartProgressiveRender failed: %v", err)
	}
	defer r.Close()

	if got := r.Status(); got != StatusDone {
		t.Fatalf("expected done after single-slice start, got %v", got)
	}

	continues := eng.scriptPos
	for i := 0; i < 3; i++ {
		st, err := r.Continue()
		if err != nil {
			t.Fatalf("terminal Continue returned error: %v", err)
		}
		if st != StatusDone {
			t.Fatalf("terminal Continue changed status to %v", st)
		}
	}
	if eng.scriptPos != continues {
		t.Error("terminal Continue reached the engine")
	}
}

func TestProgressiveResultBeforeDone(t *testing.T) {
	eng, doc := openFixture(t)
	eng.progressiveScript = []engine.RenderStatus{engine.RenderToBeContinued}
	defer doc.Close()

	page, err := doc.Page(0)
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}
	defer page.Close()

	r, err := page.StartProgressiveRender(RenderOptions{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("StartProgressiveRender failed: %v", err)
	}
	defer r.Close()

	_, err = r.Result()
	var herr *errors.Error
	if !stderrors.As(err, &herr) || herr.Kind != errors.KindWrongState {
		t.Fatalf("expected wrong-state error, got %v", err)
	}
}

// Abandoning a continuable render restores the page's borrow count and
// frees the render context and bitmap.
func TestProgressiveCloseMidRender(t *testing.T) {
	eng, doc := openFixture(t)
	eng.progressiveScript = []engine.RenderStatus{
		engine.RenderToBeContinued,
		engine.RenderToBeContinued,
	}
	defer doc.Close()

	page, err := doc.Page(0)
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}

	r, err := page.StartProgressiveRender(RenderOptions{Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("StartProgressiveRender failed: %v", err)
	}
	if _, err := r.Continue(); err != nil {
		t.Fatalf("Continue failed: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if got := page.Borrows(); got != 0 {
		t.Errorf("expected 0 borrows after abandoning render, got %d", got)
	}
	if len(eng.opClosed) != 1 || len(eng.bmpGone) != 1 {
		t.Errorf("expected single context close and bitmap free: %v %v", eng.opClosed, eng.bmpGone)
	}

	// Terminal no-op rule only applies to terminal states; a closed
	// continuable render reports disposal.
	_, err = r.Continue()
	var herr *errors.Error
	if !stderrors.As(err, &herr) || herr.Code != errors.CodeProgressiveClosed {
		t.Errorf("expected progressive-closed error, got %v", err)
	}

	if err := page.Close(); err != nil {
		t.Fatalf("page Close failed: %v", err)
	}
	if got := eng.pageClosed[page.native.handle]; got != 1 {
		t.Errorf("expected 1 native page close, got %d", got)
	}
}

// A failed first slice releases everything immediately; the object lives
// on only to report the Failed status.
func TestProgressiveFailureOnStartReleasesResources(t *testing.T) {
	eng, doc := openFixture(t)
	eng.progressiveScript = []engine.RenderStatus{engine.RenderFailed}
	defer doc.Close()

	page, err := doc.Page(0)
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}
	defer page.Close()

	r, err := page.StartProgressiveRender(RenderOptions{Width: 4, Height: 4})
	if err != nil {
		t.Fatalf("StartProgressiveRender failed: %v", err)
	}
	if got := r.Status(); got != StatusFailed {
		t.Fatalf("expected failed, got %v", got)
	}
	if got := page.Borrows(); got != 0 {
		t.Errorf("expected borrow returned on failure, got %d", got)
	}
	if len(eng.bmpGone) != 1 {
		t.Errorf("expected bitmap freed on failure, got %v", eng.bmpGone)
	}

	st, err := r.Continue()
	if err != nil || st != StatusFailed {
		t.Errorf("terminal Continue after failure: %v, %v", st, err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close after failure-cleanup failed: %v", err)
	}
}

func TestProgressiveRejectsOversizedTarget(t *testing.T) {
	eng := newFakeEngine()
	doc, err := Open(eng, []byte("%PDF-1.7"), WithLimits(Limits{MaxRenderDimension: 100}))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer doc.Close()

	page, err := doc.Page(0)
	if err != nil {
		t.Fatalf("Page failed: %v", err)
	}
	defer page.Close()

	_, err = page.StartProgressiveRender(RenderOptions{Width: 200, Height: 50})
	var herr *errors.Error
	if !stderrors.As(err, &herr) || herr.Kind != errors.KindLimit {
		t.Fatalf("expected limit error, got %v", err)
	}
	if got := page.Borrows(); got != 0 {
		t.Errorf("rejected start leaked a borrow: %d", got)
	}
}
