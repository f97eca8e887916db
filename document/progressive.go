package document

import (
	"image"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/quillpdf/pdfium-host/engine"
	"github.com/quillpdf/pdfium-host/errors"
	"github.com/quillpdf/pdfium-host/resource"
)

// Status is the progressive render state machine's state.
type Status int

const (
	StatusReady Status = iota
	StatusContinuable
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusContinuable:
		return "continuable"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status accepts no further Continue calls.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

func statusFromEngine(rs engine.RenderStatus) Status {
	switch rs {
	case engine.RenderToBeContinued:
		return StatusContinuable
	case engine.RenderDone:
		return StatusDone
	case engine.RenderFailed:
		return StatusFailed
	}
	return StatusReady
}

// ProgressiveRender is a caller-driven, resumable render. It holds a borrow
// on its source page until it is closed, so abandoning it early cannot
// leave the page's native memory freed underneath the engine's renderer.
type ProgressiveRender struct {
	eng    engine.Engine
	state  *resource.State
	native *progressiveNative

	mu     sync.Mutex
	status Status

	pageWidth  float64 // source page size in points
	pageHeight float64
	width      int // render target in pixels
	height     int
}

// progressiveNative is the teardown target; it must not reference the
// ProgressiveRender itself. Teardown order: return the borrow, free the
// output bitmap, close the engine's render context.
type progressiveNative struct {
	eng     engine.Engine
	op      engine.Handle
	bmp     engine.Handle
	release func()
	log     *zap.Logger
}

func (n *progressiveNative) teardown() error {
	var errs error
	n.release()
	if err := n.eng.DestroyBitmap(n.bmp); err != nil {
		errs = multierr.Append(errs, errors.Engine(errors.PhaseTeardown, "destroy_bitmap", err))
	}
	if err := n.eng.CloseProgressive(n.op); err != nil {
		errs = multierr.Append(errs, errors.Engine(errors.PhaseTeardown, "close_progressive", err))
	}
	return errs
}

// StartProgressiveRender begins an incremental render of the page. The
// first slice runs inside this call; the returned status is Continuable
// when more work remains, Done when the slice finished everything, and
// Failed when the engine reported a failure (in which case all resources
// allocated so far have already been released and only the status survives).
func (p *Page) StartProgressiveRender(opts RenderOptions) (*ProgressiveRender, error) {
	if err := p.state.Live(); err != nil {
		return nil, err
	}
	w, h, err := p.target(opts)
	if err != nil {
		return nil, err
	}
	pw, ph, err := p.Size()
	if err != nil {
		return nil, err
	}

	bmp, err := p.eng.CreateBitmap(w, h)
	if err != nil {
		return nil, errors.Engine(errors.PhaseRender, "create_bitmap", err)
	}
	if err := p.eng.FillBitmap(bmp, 0, 0, w, h, backgroundWhite); err != nil {
		if derr := p.eng.DestroyBitmap(bmp); derr != nil {
			p.doc.log.Error("destroy bitmap failed", zap.Error(derr))
		}
		return nil, errors.Engine(errors.PhaseRender, "fill_bitmap", err)
	}

	release := p.native.ledger.Release
	p.native.ledger.Retain()

	op, rs, err := p.eng.StartProgressive(bmp, p.native.handle, 0, 0, w, h, opts.Rotation, opts.Flags)
	if err != nil {
		release()
		if derr := p.eng.DestroyBitmap(bmp); derr != nil {
			p.doc.log.Error("destroy bitmap failed", zap.Error(derr))
		}
		return nil, errors.Engine(errors.PhaseRender, "start_progressive", err)
	}

	native := &progressiveNative{
		eng:     p.eng,
		op:      op,
		bmp:     bmp,
		release: release,
		log:     p.doc.log,
	}
	r := &ProgressiveRender{
		eng:        p.eng,
		state:      resource.NewState("progressive_render", errors.CodeProgressiveClosed),
		native:     native,
		status:     statusFromEngine(rs),
		pageWidth:  pw,
		pageHeight: ph,
		width:      w,
		height:     h,
	}
	resource.Bind(r.state, r, native.teardown)

	// Engine-level failure on the first slice: release everything now.
	// The object survives in the Failed state so callers looping on
	// status need no extra branch.
	if r.status == StatusFailed {
		if err := r.state.Close(); err != nil {
			p.doc.log.Error("progressive render cleanup failed", zap.Error(err))
		}
	}

	return r, nil
}

// Status returns the current state. Valid even after Close.
func (r *ProgressiveRender) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Size returns the render target dimensions in pixels.
func (r *ProgressiveRender) Size() (width, height int) {
	return r.width, r.height
}

// PageSize returns the source page dimensions in points.
func (r *ProgressiveRender) PageSize() (width, height float64) {
	return r.pageWidth, r.pageHeight
}

// Progress estimates completion in [0,1]: 0 while continuable, 1 in a
// terminal state. The engine reports no finer granularity.
func (r *ProgressiveRender) Progress() float64 {
	if r.Status().Terminal() {
		return 1
	}
	return 0
}

// Continue advances the render by exactly one engine slice. In a terminal
// state it is a no-op returning the current status, never an error, so
// callers can loop on the status without an extra branch.
func (r *ProgressiveRender) Continue() (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return r.status, nil
	}
	if err := r.state.Live(); err != nil {
		return r.status, err
	}

	rs, err := r.eng.ContinueProgressive(r.native.op)
	if err != nil {
		r.status = StatusFailed
		return r.status, errors.Engine(errors.PhaseRender, "continue_progressive", err)
	}
	r.status = statusFromEngine(rs)
	return r.status, nil
}

// Result copies the finished render out as an RGBA image. It is only
// meaningful once the status is Done; any other state is a wrong-state
// error naming the current status.
func (r *ProgressiveRender) Result() (*image.RGBA, error) {
	if err := r.state.Live(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	status := r.status
	r.mu.Unlock()
	if status != StatusDone {
		return nil, errors.WrongState("result", status.String())
	}

	return readBitmap(r.eng, r.native.bmp, r.width, r.height)
}

// Close abandons the render regardless of status: the page borrow is
// returned, the output bitmap freed and the engine render context closed.
// Idempotent.
func (r *ProgressiveRender) Close() error {
	return r.state.Close()
}
