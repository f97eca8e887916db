package resource

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/quillpdf/pdfium-host/errors"
)

type fakeResource struct {
	state *State
}

func newFakeResource(teardown func() error) *fakeResource {
	r := &fakeResource{state: NewState("fake", errors.CodePageClosed)}
	Bind(r.state, r, teardown)
	return r
}

func TestState_CloseRunsTeardownOnce(t *testing.T) {
	calls := 0
	r := newFakeResource(func() error {
		calls++
		return nil
	})

	if err := r.state.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := r.state.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("teardown ran %d times, want 1", calls)
	}
}

func TestState_LiveAfterClose(t *testing.T) {
	r := newFakeResource(nil)

	if err := r.state.Live(); err != nil {
		t.Fatalf("expected live before close, got %v", err)
	}

	r.state.Close()

	err := r.state.Live()
	if err == nil {
		t.Fatal("expected disposed error after close")
	}
	if !stderrors.Is(err, &errors.Error{Kind: errors.KindDisposed, Code: errors.CodePageClosed}) {
		t.Fatalf("expected typed disposed error, got %v", err)
	}
	if !r.state.Disposed() {
		t.Fatal("Disposed() should report true")
	}
}

func TestState_CloseSurfacesTeardownError(t *testing.T) {
	boom := fmt.Errorf("close page failed")
	r := newFakeResource(func() error { return boom })

	if err := r.state.Close(); !stderrors.Is(err, boom) {
		t.Fatalf("expected teardown error, got %v", err)
	}
	// Error already surfaced; a repeat close stays silent.
	if err := r.state.Close(); err != nil {
		t.Fatalf("repeat close should be nil, got %v", err)
	}
}

func TestState_FinalizeAfterCloseIsNoop(t *testing.T) {
	calls := 0
	r := newFakeResource(func() error {
		calls++
		return nil
	})

	r.state.Close()
	r.state.finalize()

	if calls != 1 {
		t.Fatalf("teardown ran %d times, want 1", calls)
	}
}

func TestState_FinalizeRunsTeardownWhenNeverClosed(t *testing.T) {
	calls := 0
	r := newFakeResource(func() error {
		calls++
		return nil
	})

	r.state.finalize()
	if calls != 1 {
		t.Fatalf("teardown ran %d times, want 1", calls)
	}

	// A late explicit close after the fallback fired must not re-run.
	r.state.Close()
	if calls != 1 {
		t.Fatalf("teardown ran %d times after close, want 1", calls)
	}
}

func TestState_KindForDiagnostics(t *testing.T) {
	s := NewState("annotation", errors.CodeAnnotationClosed)
	if s.Kind() != "annotation" {
		t.Fatalf("got kind %q", s.Kind())
	}
}
