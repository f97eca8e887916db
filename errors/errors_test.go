package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestError_Format(t *testing.T) {
	err := New(PhaseRender, KindEngine).
		Code(CodeEngineFailure).
		Op("render_page").
		Detail("engine returned failure status").
		Build()

	msg := err.Error()
	for _, want := range []string{"[render]", "engine_failure", "code 402", "render_page", "engine returned failure status"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("channel closed")
	err := Transport("send failed", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
	if err.Unwrap() != cause {
		t.Fatal("Unwrap did not return the cause")
	}
}

func TestError_IsMatchesKind(t *testing.T) {
	err := Timeout("get_page_count", 50*time.Millisecond)

	if !stderrors.Is(err, &Error{Kind: KindTimeout}) {
		t.Fatal("expected kind match")
	}
	if stderrors.Is(err, &Error{Kind: KindTransport}) {
		t.Fatal("unexpected kind match")
	}
}

func TestError_IsMatchesCode(t *testing.T) {
	err := Disposed("page", CodePageClosed)

	if !stderrors.Is(err, &Error{Kind: KindDisposed, Code: CodePageClosed}) {
		t.Fatal("expected code match")
	}
	if stderrors.Is(err, &Error{Kind: KindDisposed, Code: CodeDocumentClosed}) {
		t.Fatal("code should distinguish resource kinds")
	}
}

func TestDisposed_CarriesResourceAndCode(t *testing.T) {
	err := Disposed("document", CodeDocumentClosed)

	if err.Resource != "document" {
		t.Fatalf("expected resource name, got %q", err.Resource)
	}
	if err.Code != CodeDocumentClosed {
		t.Fatalf("expected code %d, got %d", CodeDocumentClosed, err.Code)
	}
	if !strings.Contains(err.Error(), "document") {
		t.Fatal("message should name the resource kind")
	}
}

func TestTimeout_NamesOperationAndElapsed(t *testing.T) {
	err := Timeout("render_page", 50*time.Millisecond)

	msg := err.Error()
	if !strings.Contains(msg, "render_page") {
		t.Fatalf("expected operation name in %q", msg)
	}
	if !strings.Contains(msg, "50ms") {
		t.Fatalf("expected elapsed duration in %q", msg)
	}
}

func TestKnownCode(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeTimeout, true},
		{CodeDocumentClosed, true},
		{CodeWorker, true},
		{CodeNone, false},
		{Code(9999), false},
		{Code(-1), false},
	}

	for _, tt := range tests {
		if got := KnownCode(tt.code); got != tt.want {
			t.Errorf("KnownCode(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestWrongState_NamesCurrentState(t *testing.T) {
	err := WrongState("result", "continuable")

	if !strings.Contains(err.Error(), "continuable") {
		t.Fatalf("expected current state in %q", err.Error())
	}
	if err.Code != CodeWrongState {
		t.Fatalf("unexpected code %d", err.Code)
	}
}
