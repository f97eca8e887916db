package resource

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/quillpdf/pdfium-host/errors"
)

// State is the disposal kernel embedded by every resource-owning object.
// Close is idempotent; after the first Close every operation guarded by
// Live fails with a typed disposed error carrying the resource kind name
// and the code registered at construction.
type State struct {
	mu       sync.Mutex
	kind     string
	code     errors.Code
	disposed bool
	teardown func() error
	cleanup  runtime.Cleanup
}

// NewState creates a disposal state for a resource of the given kind.
// The code is raised on any use after Close.
func NewState(kind string, code errors.Code) *State {
	return &State{kind: kind, code: code}
}

// Bind installs the teardown logic and registers a finalizer fallback on
// owner. The teardown closure must capture engine bindings and raw handles
// only, never the owner itself, or the fallback can never fire.
//
// The fallback runs the same teardown as Close and is a guaranteed no-op if
// the owner was already explicitly closed.
func Bind[T any](s *State, owner *T, teardown func() error) {
	s.mu.Lock()
	s.teardown = teardown
	s.mu.Unlock()

	s.cleanup = runtime.AddCleanup(owner, func(st *State) {
		st.finalize()
	}, s)
}

// Kind returns the human-readable resource kind name.
func (s *State) Kind() string {
	return s.kind
}

// Live returns nil while the resource is usable and the typed disposed
// error after Close.
func (s *State) Live() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return errors.Disposed(s.kind, s.code)
	}
	return nil
}

// Disposed reports whether Close has run.
func (s *State) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Close runs the bound teardown exactly once and deregisters the finalizer
// fallback. Subsequent calls are no-ops that return nil.
func (s *State) Close() error {
	td, first := s.take()
	if !first {
		return nil
	}
	s.cleanup.Stop()
	if td == nil {
		return nil
	}
	return td()
}

// finalize is the non-deterministic fallback path. It runs the same
// teardown as Close but cannot stop the cleanup that invoked it, and it
// cannot return an error to anyone, so failures are logged instead.
func (s *State) finalize() {
	td, first := s.take()
	if !first {
		return
	}
	log := Logger()
	log.Warn("resource finalized without explicit close",
		zap.String("kind", s.kind))
	if td == nil {
		return
	}
	if err := td(); err != nil {
		log.Error("finalizer teardown failed",
			zap.String("kind", s.kind),
			zap.Error(err))
	}
}

// take claims the one-shot teardown. The second return is false if the
// resource was already disposed.
func (s *State) take() (func() error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, false
	}
	s.disposed = true
	td := s.teardown
	s.teardown = nil
	return td, true
}
