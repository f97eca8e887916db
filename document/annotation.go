package document

import (
	"go.uber.org/multierr"

	"github.com/quillpdf/pdfium-host/engine"
	"github.com/quillpdf/pdfium-host/errors"
	"github.com/quillpdf/pdfium-host/resource"
)

// Annotation is a view with a distinct engine handle that is only valid
// while its page's native memory exists. Teardown order matters: the
// annotation handle is closed with the engine first, and only then is the
// page asked to consider freeing its memory.
type Annotation struct {
	eng    engine.Engine
	state  *resource.State
	handle engine.Handle
	index  int
}

// Annotation opens the annotation at index on the page.
func (p *Page) Annotation(index int) (*Annotation, error) {
	if err := p.state.Live(); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, errors.InvalidInput(errors.PhasePage, "negative annotation index")
	}

	release := p.native.ledger.Release
	p.native.ledger.Retain()

	handle, err := p.eng.OpenAnnotation(p.native.handle, index)
	if err != nil {
		release()
		return nil, errors.Engine(errors.PhasePage, "open_annotation", err)
	}

	a := &Annotation{
		eng:    p.eng,
		state:  resource.NewState("annotation", errors.CodeAnnotationClosed),
		handle: handle,
		index:  index,
	}

	eng := p.eng
	resource.Bind(a.state, a, func() error {
		var errs error
		if err := eng.CloseAnnotation(handle); err != nil {
			errs = multierr.Append(errs, errors.Engine(errors.PhaseTeardown, "close_annotation", err))
		}
		release()
		return errs
	})

	return a, nil
}

// Close closes the annotation handle and returns the borrow. Idempotent.
func (a *Annotation) Close() error {
	return a.state.Close()
}

// Index returns the annotation's index on its page.
func (a *Annotation) Index() int {
	return a.index
}

// Subtype returns the annotation subtype (FPDF_ANNOT_* value).
func (a *Annotation) Subtype() (int, error) {
	if err := a.state.Live(); err != nil {
		return 0, err
	}
	return a.eng.AnnotationSubtype(a.handle)
}

// Rect returns the annotation's bounding rectangle in page space.
func (a *Annotation) Rect() (engine.Rect, error) {
	if err := a.state.Live(); err != nil {
		return engine.Rect{}, err
	}
	return a.eng.AnnotationRect(a.handle)
}

// Color returns the annotation's color, and whether one is set.
func (a *Annotation) Color() (engine.Color, bool, error) {
	if err := a.state.Live(); err != nil {
		return engine.Color{}, false, err
	}
	return a.eng.AnnotationColor(a.handle)
}
